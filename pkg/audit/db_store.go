package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Dominik5397/Team-Task-Manager/pkg/observability"
)

const entryColumns = `id, task_id, field_name, old_value, new_value, operation,
	actor_id, actor_name, occurred_at, note, source_address, agent_string`

// DBStore implements Store on PostgreSQL
type DBStore struct {
	db      *sql.DB
	now     Clock
	metrics *observability.Metrics
}

// NewDBStore creates a PostgreSQL backed store and ensures its table exists
func NewDBStore(db *sql.DB) (*DBStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	store := &DBStore{db: db, now: systemClock}

	if err := store.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure task_change_log table: %w", err)
	}

	return store, nil
}

// WithMetrics records query durations and faults on m
func (s *DBStore) WithMetrics(m *observability.Metrics) *DBStore {
	s.metrics = m
	return s
}

// WithClock replaces the clock used to stamp entries
func (s *DBStore) WithClock(clock Clock) *DBStore {
	s.now = clock
	return s
}

func (s *DBStore) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS task_change_log (
		id BIGSERIAL PRIMARY KEY,
		task_id BIGINT NOT NULL,
		field_name VARCHAR(100),
		old_value TEXT,
		new_value TEXT,
		operation VARCHAR(50) NOT NULL,
		actor_id BIGINT,
		actor_name VARCHAR(255),
		occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
		note TEXT,
		source_address TEXT,
		agent_string TEXT
	);

	ALTER TABLE task_change_log ALTER COLUMN source_address TYPE TEXT;

	CREATE INDEX IF NOT EXISTS idx_task_change_log_task ON task_change_log(task_id, occurred_at DESC);
	CREATE INDEX IF NOT EXISTS idx_task_change_log_actor ON task_change_log(actor_id, occurred_at DESC);
	CREATE INDEX IF NOT EXISTS idx_task_change_log_operation ON task_change_log(operation, occurred_at DESC);
	CREATE INDEX IF NOT EXISTS idx_task_change_log_occurred_at ON task_change_log(occurred_at DESC);
	`

	_, err := s.db.Exec(query)
	return err
}

func (s *DBStore) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return observability.Tracer().Start(ctx, "audit.DBStore."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.system", "postgresql")),
	)
}

func (s *DBStore) finish(span trace.Span, op string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	s.metrics.ObserveStoreQuery(op, "postgres", start, err)
}

// Append inserts entry and assigns its ID
func (s *DBStore) Append(ctx context.Context, entry *Entry) (_ *Entry, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "Append")
	defer func() { s.finish(span, "append", start, err) }()

	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = s.now()
	}

	query := `
		INSERT INTO task_change_log (
			task_id, field_name, old_value, new_value, operation,
			actor_id, actor_name, occurred_at, note, source_address, agent_string
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	err = s.db.QueryRowContext(ctx, query,
		entry.TaskID, nullString(entry.FieldName), entry.OldValue, entry.NewValue, string(entry.Operation),
		entry.ActorID, nullString(entry.ActorName), entry.OccurredAt, entry.Note,
		nullString(entry.SourceAddress), nullString(entry.AgentString),
	).Scan(&entry.ID)
	if err != nil {
		return nil, storageError("append", fmt.Errorf("failed to insert change log entry: %w", err))
	}

	span.SetAttributes(attribute.Int64("task.id", entry.TaskID))
	return entry, nil
}

// Get retrieves a single entry by ID
func (s *DBStore) Get(ctx context.Context, id int64) (_ *Entry, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "Get")
	defer func() { s.finish(span, "get", start, err) }()

	row := s.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM task_change_log WHERE id = $1", id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("get", fmt.Errorf("failed to get change log entry: %w", err))
	}
	return entry, nil
}

// Search returns matching entries newest first
func (s *DBStore) Search(ctx context.Context, filter Filter) (_ []*Entry, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "Search")
	defer func() { s.finish(span, "search", start, err) }()

	where, args, argCount := buildWhere(filter)
	query := "SELECT " + entryColumns + " FROM task_change_log" + where +
		" ORDER BY occurred_at DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError("search", fmt.Errorf("failed to search change log: %w", err))
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, storageError("search", fmt.Errorf("failed to scan change log entry: %w", err))
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, storageError("search", fmt.Errorf("error iterating change log: %w", err))
	}

	span.SetAttributes(attribute.Int("result.count", len(entries)))
	return entries, nil
}

// Count returns the number of matching entries
func (s *DBStore) Count(ctx context.Context, filter Filter) (_ int64, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "Count")
	defer func() { s.finish(span, "count", start, err) }()

	where, args, _ := buildWhere(filter)

	var count int64
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM task_change_log"+where, args...).Scan(&count)
	if err != nil {
		return 0, storageError("count", fmt.Errorf("failed to count change log entries: %w", err))
	}
	return count, nil
}

// CountsByOperation groups matching entries by operation
func (s *DBStore) CountsByOperation(ctx context.Context, filter Filter) (_ map[OperationKind]int64, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "CountsByOperation")
	defer func() { s.finish(span, "counts_by_operation", start, err) }()

	where, args, _ := buildWhere(filter)

	rows, err := s.db.QueryContext(ctx, "SELECT operation, COUNT(*) FROM task_change_log"+where+" GROUP BY operation", args...)
	if err != nil {
		return nil, storageError("counts by operation", fmt.Errorf("failed to group change log by operation: %w", err))
	}
	defer rows.Close()

	counts := make(map[OperationKind]int64)
	for rows.Next() {
		var op string
		var count int64
		if err := rows.Scan(&op, &count); err != nil {
			return nil, storageError("counts by operation", err)
		}
		counts[OperationKind(op)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, storageError("counts by operation", err)
	}
	return counts, nil
}

// TopActors ranks actors by number of changes
func (s *DBStore) TopActors(ctx context.Context, limit int) (_ []ActorCount, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "TopActors")
	defer func() { s.finish(span, "top_actors", start, err) }()

	query := `
		SELECT actor_id, COALESCE(MAX(actor_name), ''), COUNT(*)
		FROM task_change_log
		WHERE actor_id IS NOT NULL
		GROUP BY actor_id
		ORDER BY COUNT(*) DESC, actor_id ASC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError("top actors", fmt.Errorf("failed to rank actors: %w", err))
	}
	defer rows.Close()

	result := make([]ActorCount, 0)
	for rows.Next() {
		var ac ActorCount
		if err := rows.Scan(&ac.ActorID, &ac.ActorName, &ac.Changes); err != nil {
			return nil, storageError("top actors", err)
		}
		result = append(result, ac)
	}

	if err := rows.Err(); err != nil {
		return nil, storageError("top actors", err)
	}
	return result, nil
}

// DeleteBefore removes entries older than cutoff
func (s *DBStore) DeleteBefore(ctx context.Context, cutoff time.Time) (_ int64, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "DeleteBefore")
	defer func() { s.finish(span, "delete", start, err) }()

	result, err := s.db.ExecContext(ctx, "DELETE FROM task_change_log WHERE occurred_at < $1", cutoff)
	if err != nil {
		return 0, storageError("delete", fmt.Errorf("failed to delete old change log entries: %w", err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, storageError("delete", err)
	}

	span.SetAttributes(attribute.Int64("rows.deleted", rowsAffected))
	return rowsAffected, nil
}

// buildWhere renders filter as a WHERE clause with positional arguments.
// It returns the next free argument index.
func buildWhere(filter Filter) (string, []any, int) {
	clause := " WHERE 1=1"
	args := []any{}
	argCount := 1

	if filter.TaskID != nil {
		clause += fmt.Sprintf(" AND task_id = $%d", argCount)
		args = append(args, *filter.TaskID)
		argCount++
	}

	if filter.ActorID != nil {
		clause += fmt.Sprintf(" AND actor_id = $%d", argCount)
		args = append(args, *filter.ActorID)
		argCount++
	}

	if filter.FieldName != "" {
		clause += fmt.Sprintf(" AND field_name = $%d", argCount)
		args = append(args, filter.FieldName)
		argCount++
	}

	if len(filter.Operations) == 1 {
		clause += fmt.Sprintf(" AND operation = $%d", argCount)
		args = append(args, string(filter.Operations[0]))
		argCount++
	} else if len(filter.Operations) > 1 {
		ops := make([]string, len(filter.Operations))
		for i, op := range filter.Operations {
			ops[i] = string(op)
		}
		clause += fmt.Sprintf(" AND operation = ANY($%d)", argCount)
		args = append(args, pq.Array(ops))
		argCount++
	}

	if filter.From != nil {
		clause += fmt.Sprintf(" AND occurred_at >= $%d", argCount)
		args = append(args, *filter.From)
		argCount++
	}

	if filter.To != nil {
		clause += fmt.Sprintf(" AND occurred_at <= $%d", argCount)
		args = append(args, *filter.To)
		argCount++
	}

	if filter.Before != nil {
		clause += fmt.Sprintf(" AND occurred_at < $%d", argCount)
		args = append(args, *filter.Before)
		argCount++
	}

	if filter.NoteContains != "" {
		clause += fmt.Sprintf(" AND note ILIKE $%d", argCount)
		args = append(args, "%"+escapeLike(filter.NoteContains)+"%")
		argCount++
	}

	return clause, args, argCount
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var entry Entry
	var operation string
	var field, actorName, source, agent sql.NullString

	err := row.Scan(
		&entry.ID, &entry.TaskID, &field, &entry.OldValue, &entry.NewValue, &operation,
		&entry.ActorID, &actorName, &entry.OccurredAt, &entry.Note, &source, &agent,
	)
	if err != nil {
		return nil, err
	}

	entry.Operation = OperationKind(operation)
	entry.FieldName = field.String
	entry.ActorName = actorName.String
	entry.SourceAddress = source.String
	entry.AgentString = agent.String
	entry.OccurredAt = entry.OccurredAt.UTC()
	return &entry, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
