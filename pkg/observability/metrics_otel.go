package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelInstruments are the OpenTelemetry counterparts of the Prometheus
// collectors, exported through the OTLP meter provider when enabled.
type OTelInstruments struct {
	entriesAppended metric.Int64Counter
	queryDuration   metric.Float64Histogram
}

// NewOTelInstruments creates instruments on the global meter provider.
// With no provider installed they are no-ops.
func NewOTelInstruments() (*OTelInstruments, error) {
	meter := otel.Meter(InstrumentationName)

	appended, err := meter.Int64Counter(
		"changelog.entries.appended",
		metric.WithDescription("Audit entries appended"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create entries counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		"changelog.query.duration",
		metric.WithDescription("Audit and analytics query duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	return &OTelInstruments{entriesAppended: appended, queryDuration: duration}, nil
}

// RecordAppend counts one appended entry of the given operation
func (i *OTelInstruments) RecordAppend(ctx context.Context, operation string) {
	if i == nil {
		return
	}
	i.entriesAppended.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordQuery records how long a named query took
func (i *OTelInstruments) RecordQuery(ctx context.Context, query string, start time.Time) {
	if i == nil {
		return
	}
	i.queryDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("query", query)))
}
