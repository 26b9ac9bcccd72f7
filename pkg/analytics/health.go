package analytics

import (
	"context"
	"time"

	"github.com/Dominik5397/Team-Task-Manager/pkg/audit"
)

// Health status values
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthReport is the result of running the basic analytics queries once
type HealthReport struct {
	Status          string    `json:"status"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	DataAvailable   bool      `json:"data_available"`
	TotalTasks      int64     `json:"total_tasks"`
	TotalUsers      int64     `json:"total_users"`
	TotalEntries    int64     `json:"total_entries"`
	Timestamp       time.Time `json:"timestamp"`
	Error           string    `json:"error,omitempty"`
}

// Healthy reports whether every probe query succeeded
func (r *HealthReport) Healthy() bool {
	return r.Status == StatusHealthy
}

// HealthCheck runs the task, user and change log counts and times them.
// Failures are reported in the result rather than returned.
func (e *Engine) HealthCheck(ctx context.Context) *HealthReport {
	start := time.Now()
	report := &HealthReport{Status: StatusHealthy, Timestamp: e.now()}

	err := e.probe(ctx, report)

	report.ExecutionTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		report.Status = StatusUnhealthy
		report.Error = err.Error()
		e.logger.WithError(err).Warn("Analytics health check failed")
	}
	return report
}

func (e *Engine) probe(ctx context.Context, report *HealthReport) (err error) {
	ctx, end := e.begin(ctx, "health_check")
	defer func() { end(err) }()

	tasks, err := e.counts.Tasks(ctx, e.today())
	if err != nil {
		return err
	}
	users, err := e.counts.Users(ctx)
	if err != nil {
		return err
	}
	entries, err := e.service.Store().Count(ctx, audit.Filter{})
	if err != nil {
		return err
	}

	report.TotalTasks = tasks.Total
	report.TotalUsers = users.Total
	report.TotalEntries = entries
	report.DataAvailable = tasks.Total > 0 || entries > 0
	return nil
}
