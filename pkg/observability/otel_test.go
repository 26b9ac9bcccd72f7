package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitOTel_Disabled(t *testing.T) {
	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, NewNopLogger())

	require.NoError(t, err)
	assert.Nil(t, providers)
	assert.NoError(t, providers.Shutdown(context.Background()))
}

func TestInitOTel_RequiresEndpoint(t *testing.T) {
	_, err := InitOTel(context.Background(), OTelConfig{Enabled: true}, NewNopLogger())
	assert.Error(t, err)
}

func TestUpdateLoggerWithTraceContext(t *testing.T) {
	logger := NewNopLogger()

	assert.Same(t, logger, UpdateLoggerWithTraceContext(context.Background(), logger))

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	assert.NotSame(t, logger, UpdateLoggerWithTraceContext(ctx, logger))
}

func TestOTelInstruments_NoProvider(t *testing.T) {
	inst, err := NewOTelInstruments()
	require.NoError(t, err)

	inst.RecordAppend(context.Background(), "CREATE")
	inst.RecordQuery(context.Background(), "search", time.Now())

	var nilInst *OTelInstruments
	nilInst.RecordAppend(context.Background(), "CREATE")
}
