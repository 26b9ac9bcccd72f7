package analytics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dominik5397/Team-Task-Manager/pkg/audit"
)

func TestHealthCheck(t *testing.T) {
	t.Run("healthy with data", func(t *testing.T) {
		f := newFixture(t)
		f.seedTeam(t)

		report := f.engine.HealthCheck(context.Background())
		require.True(t, report.Healthy())
		assert.True(t, report.DataAvailable)
		assert.Equal(t, int64(4), report.TotalTasks)
		assert.Equal(t, int64(3), report.TotalUsers)
		assert.Equal(t, int64(6), report.TotalEntries)
		assert.Equal(t, testNow, report.Timestamp)
		assert.Empty(t, report.Error)
	})

	t.Run("healthy without data", func(t *testing.T) {
		f := newFixture(t)

		report := f.engine.HealthCheck(context.Background())
		assert.True(t, report.Healthy())
		assert.False(t, report.DataAvailable)
	})

	t.Run("unhealthy", func(t *testing.T) {
		engine := NewEngine(audit.NewService(audit.NewMemoryStore()), failingCounts{err: errors.New("db down")})

		report := engine.HealthCheck(context.Background())
		assert.False(t, report.Healthy())
		assert.Equal(t, StatusUnhealthy, report.Status)
		assert.Equal(t, "db down", report.Error)
	})
}
