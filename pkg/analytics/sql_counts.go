package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Dominik5397/Team-Task-Manager/pkg/observability"
	"github.com/Dominik5397/Team-Task-Manager/pkg/task"
)

// SQLCounts reads live counts from the tasks and users tables.
//
// Expected columns:
//
//	tasks(id, title, status, priority, due_date, assigned_to)
//	users(id, username)
//
// status and priority hold the enum names (TODO, IN_PROGRESS, DONE; LOW,
// MEDIUM, HIGH) and due_date a calendar date. The queries are plain SQL and
// run on PostgreSQL and SQLite.
type SQLCounts struct {
	db *sql.DB
}

// NewSQLCounts creates counts backed by db
func NewSQLCounts(db *sql.DB) *SQLCounts {
	return &SQLCounts{db: db}
}

func (c *SQLCounts) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return observability.Tracer().Start(ctx, "analytics.SQLCounts."+op,
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Tasks returns task totals and breakdowns
func (c *SQLCounts) Tasks(ctx context.Context, today time.Time) (_ *TaskCounts, err error) {
	ctx, span := c.startSpan(ctx, "Tasks")
	defer func() { endSpan(span, err) }()

	counts := &TaskCounts{
		ByStatus:   make(map[task.Status]int64),
		ByPriority: make(map[task.Priority]int64),
	}

	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'DONE' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status <> 'DONE' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN due_date < $1 AND status <> 'DONE' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN assigned_to IS NULL THEN 1 ELSE 0 END), 0)
		FROM tasks
	`
	err = c.db.QueryRowContext(ctx, query, task.FormatDate(today)).Scan(
		&counts.Total,
		&counts.Completed,
		&counts.Active,
		&counts.Overdue,
		&counts.Unassigned,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks WHERE status IS NOT NULL GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks by status: %w", err)
	}
	err = scanGroups(rows, func(key string, n int64) { counts.ByStatus[task.Status(key)] = n })
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks by status: %w", err)
	}

	rows, err = c.db.QueryContext(ctx, `SELECT priority, COUNT(*) FROM tasks WHERE priority IS NOT NULL GROUP BY priority`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks by priority: %w", err)
	}
	err = scanGroups(rows, func(key string, n int64) { counts.ByPriority[task.Priority(key)] = n })
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks by priority: %w", err)
	}

	span.SetAttributes(attribute.Int64("tasks.total", counts.Total))
	return counts, nil
}

// Users returns user totals and per-user task counts
func (c *SQLCounts) Users(ctx context.Context) (_ *UserCounts, err error) {
	ctx, span := c.startSpan(ctx, "Users")
	defer func() { endSpan(span, err) }()

	counts := &UserCounts{}

	query := `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(DISTINCT u.id) FROM users u JOIN tasks t ON t.assigned_to = u.id)
	`
	if err = c.db.QueryRowContext(ctx, query).Scan(&counts.Total, &counts.WithTasks); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	counts.TasksPerUser, err = c.perUser(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks per user: %w", err)
	}
	counts.CompletedPerUser, err = c.perUser(ctx, "WHERE t.status = 'DONE'")
	if err != nil {
		return nil, fmt.Errorf("failed to count completed tasks per user: %w", err)
	}
	return counts, nil
}

func (c *SQLCounts) perUser(ctx context.Context, where string) ([]UserTaskCount, error) {
	query := `
		SELECT u.id, u.username, COUNT(t.id)
		FROM tasks t
		JOIN users u ON u.id = t.assigned_to
		` + where + `
		GROUP BY u.id, u.username
		ORDER BY COUNT(t.id) DESC, u.id
	`
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []UserTaskCount{}
	for rows.Next() {
		var uc UserTaskCount
		if err := rows.Scan(&uc.UserID, &uc.Username, &uc.Tasks); err != nil {
			return nil, err
		}
		out = append(out, uc)
	}
	return out, rows.Err()
}

// StatusPriority cross-tabulates tasks by status and priority
func (c *SQLCounts) StatusPriority(ctx context.Context) (_ map[string]int64, err error) {
	ctx, span := c.startSpan(ctx, "StatusPriority")
	defer func() { endSpan(span, err) }()

	rows, err := c.db.QueryContext(ctx, `
		SELECT status, priority, COUNT(*)
		FROM tasks
		WHERE status IS NOT NULL AND priority IS NOT NULL
		GROUP BY status, priority
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to cross-tabulate tasks: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			status, priority string
			n                int64
		)
		if err = rows.Scan(&status, &priority, &n); err != nil {
			return nil, fmt.Errorf("failed to scan task distribution: %w", err)
		}
		out[StatusPriorityKey(task.Status(status), task.Priority(priority))] = n
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// TaskTitles resolves the titles of ids
func (c *SQLCounts) TaskTitles(ctx context.Context, ids []int64) (_ map[int64]string, err error) {
	out := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	ctx, span := c.startSpan(ctx, "TaskTitles")
	defer func() { endSpan(span, err) }()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	rows, err := c.db.QueryContext(ctx,
		"SELECT id, title FROM tasks WHERE id IN ("+strings.Join(placeholders, ", ")+")", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load task titles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    int64
			title string
		)
		if err = rows.Scan(&id, &title); err != nil {
			return nil, fmt.Errorf("failed to scan task title: %w", err)
		}
		out[id] = title
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanGroups(rows *sql.Rows, fn func(key string, n int64)) error {
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		fn(key, n)
	}
	return rows.Err()
}
