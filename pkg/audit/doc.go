// Package audit records an append-only change log for tasks.
//
// # Overview
//
// Every mutation of a task produces one or more entries: creation and
// deletion produce a single lifecycle entry, updates produce one entry per
// changed field. Entries are never modified after they are written; only the
// retention job removes them, in bulk, by age.
//
// # Usage Example
//
// Record the changes of an update:
//
//	svc := audit.NewService(store, audit.WithStatsCache(cache))
//	entries, err := svc.LogTaskChanges(ctx, before, after, actor)
//
// Hold the task's lock across the persistence change itself:
//
//	entries, err := svc.TrackMutation(ctx, taskID, actor, func(ctx context.Context) (*task.Snapshot, *task.Snapshot, error) {
//		before, _ := repo.Load(ctx, taskID)
//		after, err := repo.Save(ctx, update)
//		return before, after, err
//	})
//
// Query history, newest first:
//
//	entries, err := svc.History(ctx, taskID)
//	recent, err := svc.RecentHistory(ctx, taskID, 10)
//
// # Stores
//
// MemoryStore keeps entries in process and is used in tests and single-node
// setups. DBStore persists to the task_change_log table in PostgreSQL.
//
// # Export
//
// Export serializes entries as JSON, NDJSON or CSV. Absent optional values
// are omitted unless ExportOptions.IncludeNulls is set.
package audit
