package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Dominik5397/Team-Task-Manager/pkg/observability"
	"github.com/Dominik5397/Team-Task-Manager/pkg/task"
)

// Change describes a single field or lifecycle change logged directly,
// without diffing two snapshots.
type Change struct {
	TaskID    int64
	FieldName string
	OldValue  *string
	NewValue  *string
	Operation OperationKind
	Actor     *task.User
	Note      *string
}

// Service records task mutations and answers history and stats queries.
//
// Mutations of the same task are serialized: the diff and the appends of one
// mutation complete before the next mutation of that task is diffed, so the
// trail never interleaves two before/after sequences. Different tasks proceed
// in parallel.
type Service struct {
	store       Store
	locks       *taskLocks
	cache       StatsCache
	epoch       atomic.Uint64
	// cacheMu orders cache writes against invalidation: appends and resets
	// take it exclusively, stats takes it shared to check the epoch and Set
	cacheMu     sync.RWMutex
	now         Clock
	logger      *observability.Logger
	metrics     *observability.Metrics
	instruments *observability.OTelInstruments
	observer    SnapshotObserver
}

// SnapshotObserver learns about every recorded mutation once its entries are
// stored. It is called with the task lock held, in commit order.
type SnapshotObserver interface {
	ObserveSnapshot(before, after *task.Snapshot)
}

// ActorObserver is optionally implemented by a SnapshotObserver that also
// wants every user who records a change
type ActorObserver interface {
	ObserveActor(actor task.User)
}

// Option configures a Service
type Option func(*Service)

// WithStatsCache memoizes stats in c
func WithStatsCache(c StatsCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithLogger sets the service logger
func WithLogger(l *observability.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics enables Prometheus counters
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithInstruments enables OpenTelemetry counters
func WithInstruments(i *observability.OTelInstruments) Option {
	return func(s *Service) { s.instruments = i }
}

// WithSnapshotObserver forwards recorded snapshots to o
func WithSnapshotObserver(o SnapshotObserver) Option {
	return func(s *Service) { s.observer = o }
}

// WithServiceClock replaces the clock used for timestamps and stats windows
func WithServiceClock(c Clock) Option {
	return func(s *Service) { s.now = c }
}

// NewService creates a Service over store
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		locks:  newTaskLocks(),
		now:    systemClock,
		logger: observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying store
func (s *Service) Store() Store {
	return s.store
}

// Now returns the current time of the service clock
func (s *Service) Now() time.Time {
	return s.now()
}

// ResetStats drops every cached aggregate. Bulk deletes call it since they
// touch subjects the service cannot enumerate cheaply.
func (s *Service) ResetStats(ctx context.Context) error {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.epoch.Add(1)
	if s.cache == nil {
		return nil
	}
	return s.cache.Clear(ctx)
}

// LogChange records one change directly. A Delete also removes the task from
// the snapshot observer; a Create carries no snapshot, so observers only learn
// about tasks created through LogTaskChanges or TrackMutation.
func (s *Service) LogChange(ctx context.Context, change Change) (*Entry, error) {
	if change.TaskID <= 0 {
		return nil, NewValidationError("taskId", "must be positive")
	}
	if !change.Operation.IsValid() {
		return nil, NewValidationError("operation", fmt.Sprintf("unknown operation %q", change.Operation))
	}

	entry := newEntry(change.TaskID, change.FieldName, change.Operation, change.OldValue, change.NewValue, change.Actor)
	entry.Note = change.Note

	unlock := s.locks.lock(change.TaskID)
	defer unlock()

	if err := s.appendAll(ctx, []*Entry{entry}); err != nil {
		return nil, err
	}
	if change.Operation == OperationDelete {
		s.observe(&task.Snapshot{ID: change.TaskID}, nil, change.Actor)
	} else {
		s.observe(nil, nil, change.Actor)
	}
	return entry, nil
}

// LogTaskChanges diffs before against after and records the result.
// A nil before records the creation of after.
func (s *Service) LogTaskChanges(ctx context.Context, before, after *task.Snapshot, actor *task.User) ([]*Entry, error) {
	if after == nil {
		return nil, NewValidationError("snapshot", "new snapshot is required")
	}
	if before != nil && before.ID != after.ID {
		return nil, NewValidationError("snapshot", "snapshots belong to different tasks")
	}

	unlock := s.locks.lock(after.ID)
	defer unlock()

	entries := Diff(before, after, actor)
	if err := s.appendAll(ctx, entries); err != nil {
		return nil, err
	}
	s.observe(before, after, actor)
	return entries, nil
}

// LogDeletion records the removal of a task
func (s *Service) LogDeletion(ctx context.Context, snapshot *task.Snapshot, actor *task.User) (*Entry, error) {
	if snapshot == nil {
		return nil, NewValidationError("snapshot", "deleted snapshot is required")
	}

	unlock := s.locks.lock(snapshot.ID)
	defer unlock()

	entry := NewDeletionEntry(snapshot, actor)
	if err := s.appendAll(ctx, []*Entry{entry}); err != nil {
		return nil, err
	}
	s.observe(snapshot, nil, actor)
	return entry, nil
}

// MutateFunc applies a mutation and returns the task before and after it.
// A nil after means the task was deleted; a nil before means it was created.
type MutateFunc func(ctx context.Context) (before, after *task.Snapshot, err error)

// TrackMutation holds the task's lock across mutate and the logging of its
// result, making the persistence change and its audit entries one unit with
// respect to other mutations of the same task.
func (s *Service) TrackMutation(ctx context.Context, taskID int64, actor *task.User, mutate MutateFunc) ([]*Entry, error) {
	unlock := s.locks.lock(taskID)
	defer unlock()

	before, after, err := mutate(ctx)
	if err != nil {
		return nil, err
	}

	var entries []*Entry
	switch {
	case after == nil && before == nil:
		return nil, nil
	case after == nil:
		entries = []*Entry{NewDeletionEntry(before, actor)}
	default:
		entries = Diff(before, after, actor)
	}

	if err := s.appendAll(ctx, entries); err != nil {
		return nil, err
	}
	s.observe(before, after, actor)
	return entries, nil
}

func (s *Service) observe(before, after *task.Snapshot, actor *task.User) {
	if s.observer == nil {
		return
	}
	if before != nil || after != nil {
		s.observer.ObserveSnapshot(before, after)
	}
	if ao, ok := s.observer.(ActorObserver); ok && actor != nil {
		ao.ObserveActor(*actor)
	}
}

// appendAll stamps and stores entries; the caller holds the task lock
func (s *Service) appendAll(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	now := s.now()
	prov := ProvenanceFromContext(ctx)

	for _, entry := range entries {
		if entry.OccurredAt.IsZero() {
			entry.OccurredAt = now
		}
		if entry.SourceAddress == "" {
			entry.SourceAddress = prov.SourceAddress
		}
		if entry.AgentString == "" {
			entry.AgentString = prov.AgentString
		}

		if _, err := s.store.Append(ctx, entry); err != nil {
			s.logger.WithError(err).WithFields(map[string]any{
				"task_id":   entry.TaskID,
				"operation": string(entry.Operation),
			}).Error("Failed to append change log entry")
			return storageError("append", err)
		}

		if s.metrics != nil {
			s.metrics.EntriesAppendedTotal.WithLabelValues(string(entry.Operation)).Inc()
		}
		s.instruments.RecordAppend(ctx, string(entry.Operation))
	}

	s.cacheMu.Lock()
	s.epoch.Add(1)
	s.invalidate(ctx, entries)
	s.cacheMu.Unlock()

	s.logger.WithFields(map[string]any{
		"task_id": entries[0].TaskID,
		"entries": len(entries),
	}).Debug("Change log entries appended")
	return nil
}

func (s *Service) invalidate(ctx context.Context, entries []*Entry) {
	if s.cache == nil {
		return
	}

	if err := s.cache.Invalidate(ctx, SubjectTask, entries[0].TaskID); err != nil {
		s.logger.WithError(err).WithField("task_id", entries[0].TaskID).Warn("Failed to invalidate task stats")
	}

	seen := make(map[int64]bool)
	for _, e := range entries {
		if e.ActorID == nil || seen[*e.ActorID] {
			continue
		}
		seen[*e.ActorID] = true
		if err := s.cache.Invalidate(ctx, SubjectUser, *e.ActorID); err != nil {
			s.logger.WithError(err).WithField("actor_id", *e.ActorID).Warn("Failed to invalidate actor stats")
		}
	}
}

// History returns every entry of a task, newest first
func (s *Service) History(ctx context.Context, taskID int64) ([]*Entry, error) {
	return s.search(ctx, Filter{TaskID: &taskID})
}

// HistoryBetween returns a task's entries within [from, to]
func (s *Service) HistoryBetween(ctx context.Context, taskID int64, from, to time.Time) ([]*Entry, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	return s.search(ctx, Filter{TaskID: &taskID, From: &from, To: &to})
}

// RecentHistory returns the limit most recent entries of a task
func (s *Service) RecentHistory(ctx context.Context, taskID int64, limit int) ([]*Entry, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	if limit == 0 {
		return []*Entry{}, nil
	}
	return s.search(ctx, Filter{TaskID: &taskID, Limit: limit})
}

// ByOperation returns every entry of one operation kind
func (s *Service) ByOperation(ctx context.Context, kind OperationKind) ([]*Entry, error) {
	return s.search(ctx, Filter{Operations: []OperationKind{kind}})
}

// ByActor returns every change made by a user
func (s *Service) ByActor(ctx context.Context, actorID int64) ([]*Entry, error) {
	return s.search(ctx, Filter{ActorID: &actorID})
}

// ByField returns every change of a named field across tasks
func (s *Service) ByField(ctx context.Context, field string) ([]*Entry, error) {
	if strings.TrimSpace(field) == "" {
		return nil, NewValidationError("fieldName", "must not be empty")
	}
	return s.search(ctx, Filter{FieldName: field})
}

// ByTaskAndField returns the changes of one field of one task
func (s *Service) ByTaskAndField(ctx context.Context, taskID int64, field string) ([]*Entry, error) {
	if strings.TrimSpace(field) == "" {
		return nil, NewValidationError("fieldName", "must not be empty")
	}
	return s.search(ctx, Filter{TaskID: &taskID, FieldName: field})
}

// ByTaskAndOperation returns a task's entries of one operation kind
func (s *Service) ByTaskAndOperation(ctx context.Context, taskID int64, kind OperationKind) ([]*Entry, error) {
	return s.search(ctx, Filter{TaskID: &taskID, Operations: []OperationKind{kind}})
}

// ByOperationBetween returns entries of one kind within [from, to]
func (s *Service) ByOperationBetween(ctx context.Context, kind OperationKind, from, to time.Time) ([]*Entry, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	return s.search(ctx, Filter{Operations: []OperationKind{kind}, From: &from, To: &to})
}

// Between returns every entry within [from, to]
func (s *Service) Between(ctx context.Context, from, to time.Time) ([]*Entry, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	return s.search(ctx, Filter{From: &from, To: &to})
}

// MostRecent returns the limit most recent entries system wide
func (s *Service) MostRecent(ctx context.Context, limit int) ([]*Entry, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	if limit == 0 {
		return []*Entry{}, nil
	}
	return s.search(ctx, Filter{Limit: limit})
}

// TextSearch matches query case-insensitively against entry notes
func (s *Service) TextSearch(ctx context.Context, query string, limit int) ([]*Entry, error) {
	if strings.TrimSpace(query) == "" {
		return nil, NewValidationError("query", "must not be empty")
	}
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	return s.search(ctx, Filter{NoteContains: query, Limit: limit})
}

// Search runs an arbitrary filter after validating it
func (s *Service) Search(ctx context.Context, filter Filter) ([]*Entry, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	return s.search(ctx, filter)
}

func (s *Service) search(ctx context.Context, filter Filter) ([]*Entry, error) {
	entries, err := s.store.Search(ctx, filter)
	if err != nil {
		return nil, storageError("search", err)
	}
	return entries, nil
}

// CountByTask returns the number of entries of a task
func (s *Service) CountByTask(ctx context.Context, taskID int64) (int64, error) {
	return s.count(ctx, Filter{TaskID: &taskID})
}

// CountByActor returns the number of changes made by a user
func (s *Service) CountByActor(ctx context.Context, actorID int64) (int64, error) {
	return s.count(ctx, Filter{ActorID: &actorID})
}

// CountByOperation returns the number of entries of one kind
func (s *Service) CountByOperation(ctx context.Context, kind OperationKind) (int64, error) {
	return s.count(ctx, Filter{Operations: []OperationKind{kind}})
}

func (s *Service) count(ctx context.Context, filter Filter) (int64, error) {
	n, err := s.store.Count(ctx, filter)
	if err != nil {
		return 0, storageError("count", err)
	}
	return n, nil
}

// CountsByOperation returns entry counts for every declared kind, zeros included
func (s *Service) CountsByOperation(ctx context.Context) (map[OperationKind]int64, error) {
	counts, err := s.store.CountsByOperation(ctx, Filter{})
	if err != nil {
		return nil, storageError("counts by operation", err)
	}
	for _, kind := range OperationKinds {
		if _, ok := counts[kind]; !ok {
			counts[kind] = 0
		}
	}
	return counts, nil
}

// TopActors returns the users with the most changes
func (s *Service) TopActors(ctx context.Context, limit int) ([]ActorCount, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	actors, err := s.store.TopActors(ctx, limit)
	if err != nil {
		return nil, storageError("top actors", err)
	}
	return actors, nil
}

// StatsForTask returns the rollup of a task's history
func (s *Service) StatsForTask(ctx context.Context, taskID int64) (*AggregateStats, error) {
	return s.stats(ctx, SubjectTask, taskID, Filter{TaskID: &taskID})
}

// StatsForActor returns the rollup of a user's changes
func (s *Service) StatsForActor(ctx context.Context, actorID int64) (*AggregateStats, error) {
	return s.stats(ctx, SubjectUser, actorID, Filter{ActorID: &actorID})
}

func (s *Service) stats(ctx context.Context, kind SubjectKind, id int64, filter Filter) (*AggregateStats, error) {
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, kind, id)
		switch {
		case err != nil:
			s.logger.WithError(err).Warn("Stats cache read failed")
		case ok && cached.FreshAt(s.now()):
			s.recordCache(true)
			return cached, nil
		}
		s.recordCache(false)
	}

	epoch := s.epoch.Load()

	entries, err := s.search(ctx, filter)
	if err != nil {
		return nil, err
	}
	stats := ComputeStats(kind, id, entries, s.now())

	if s.cache != nil {
		s.storeStats(ctx, stats, epoch)
	}
	return stats, nil
}

// storeStats caches stats unless an append or reset happened since epoch was
// read. Holding cacheMu shared keeps an append from invalidating between the
// check and the write.
func (s *Service) storeStats(ctx context.Context, stats *AggregateStats, epoch uint64) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	if s.epoch.Load() != epoch {
		return
	}
	if err := s.cache.Set(ctx, stats); err != nil {
		s.logger.WithError(err).Warn("Stats cache write failed")
	}
}

func (s *Service) recordCache(hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.StatsCacheHitsTotal.WithLabelValues(s.cache.Name()).Inc()
	} else {
		s.metrics.StatsCacheMissesTotal.WithLabelValues(s.cache.Name()).Inc()
	}
}

// ExportTaskHistory serializes a task's full history
func (s *Service) ExportTaskHistory(ctx context.Context, taskID int64, format ExportFormat, opts ExportOptions) ([]byte, error) {
	entries, err := s.History(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return Export(entries, format, opts)
}

func validateLimit(limit int) error {
	if limit < 0 {
		return NewValidationError("limit", "must not be negative")
	}
	return nil
}

func validateRange(from, to time.Time) error {
	if from.After(to) {
		return NewValidationError("fromDate", "must not be after toDate")
	}
	return nil
}

func validateFilter(f Filter) error {
	if err := validateLimit(f.Limit); err != nil {
		return err
	}
	if f.Offset < 0 {
		return NewValidationError("offset", "must not be negative")
	}
	if f.From != nil && f.To != nil {
		return validateRange(*f.From, *f.To)
	}
	return nil
}

// DashboardVersion identifies the change log dashboard payload shape
const DashboardVersion = "2.0"

// Dashboard summarizes recent change log activity
type Dashboard struct {
	RecentChanges      []*Entry         `json:"recent_changes"`
	RecentChangesCount int              `json:"recent_changes_count"`
	OperationStats     map[string]int64 `json:"operation_stats"`
	TotalEntries       int64            `json:"total_entries"`
	GeneratedAt        time.Time        `json:"generated_at"`
	Version            string           `json:"version"`
	Description        string           `json:"description"`
}

// Dashboard returns the most recent entries and per-operation counts keyed by label
func (s *Service) Dashboard(ctx context.Context, recent int) (*Dashboard, error) {
	entries, err := s.MostRecent(ctx, recent)
	if err != nil {
		return nil, err
	}
	counts, err := s.CountsByOperation(ctx)
	if err != nil {
		return nil, err
	}

	stats := make(map[string]int64, len(counts))
	var total int64
	for kind, n := range counts {
		stats[kind.Label()] += n
		total += n
	}

	return &Dashboard{
		RecentChanges:      entries,
		RecentChangesCount: len(entries),
		OperationStats:     stats,
		TotalEntries:       total,
		GeneratedAt:        s.now(),
		Version:            DashboardVersion,
		Description:        "Task change log",
	}, nil
}
