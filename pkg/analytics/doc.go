// Package analytics derives system-wide task analytics from the change log
// and live task counts.
//
// # Overview
//
// The Engine combines two sources:
//
//   - the audit.Service, for everything that happened (progress, trends, activity)
//   - a Counts implementation, for what exists now (totals, breakdowns, users)
//
// SQLCounts reads the tasks and users tables directly. SnapshotCounts keeps the
// same numbers in memory from the snapshots the change log records, for
// deployments without a task database.
//
// # Usage Example
//
//	counts := analytics.NewSnapshotCounts()
//	service := audit.NewService(store, audit.WithSnapshotObserver(counts))
//	engine := analytics.NewEngine(service, counts)
//
//	summary, err := engine.TaskSummary(ctx)
//	fmt.Printf("%d tasks, %.2f%% done\n", summary.TotalTasks, summary.CompletionRate)
//
// # Forecast
//
// CompletionForecast assumes a fixed share of active tasks is completed each
// day (DefaultDailyCompletionRate). The estimate is deliberately naive and is
// always labelled with ForecastConfidence.
//
// # Related Packages
//
//   - pkg/audit: the change log
//   - pkg/retention: purging old entries
package analytics
