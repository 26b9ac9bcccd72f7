package audit

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps entries in process memory. It is used by tests and by
// single-node deployments that do not need durable history.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
	nextID  int64
	now     Clock
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, now: systemClock}
}

// WithClock replaces the clock used to stamp entries
func (s *MemoryStore) WithClock(clock Clock) *MemoryStore {
	s.now = clock
	return s
}

// Append stores a copy of entry
func (s *MemoryStore) Append(ctx context.Context, entry *Entry) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("append", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *entry
	stored.ID = s.nextID
	s.nextID++
	if stored.OccurredAt.IsZero() {
		stored.OccurredAt = s.now()
	}
	s.entries = append(s.entries, &stored)

	entry.ID = stored.ID
	entry.OccurredAt = stored.OccurredAt
	return entry, nil
}

// Get retrieves a single entry by ID
func (s *MemoryStore) Get(ctx context.Context, id int64) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		if e.ID == id {
			clone := *e
			return &clone, nil
		}
	}
	return nil, nil
}

// Search returns matching entries newest first
func (s *MemoryStore) Search(ctx context.Context, filter Filter) ([]*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("search", err)
	}

	matched := s.match(filter)

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*Entry{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Count returns the number of matching entries
func (s *MemoryStore) Count(ctx context.Context, filter Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, storageError("count", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, e := range s.entries {
		if filter.matches(e) {
			n++
		}
	}
	return n, nil
}

// CountsByOperation groups matching entries by operation
func (s *MemoryStore) CountsByOperation(ctx context.Context, filter Filter) (map[OperationKind]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("counts by operation", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[OperationKind]int64)
	for _, e := range s.entries {
		if filter.matches(e) {
			counts[e.Operation]++
		}
	}
	return counts, nil
}

// TopActors ranks actors by number of changes, ties by lower actor ID
func (s *MemoryStore) TopActors(ctx context.Context, limit int) ([]ActorCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("top actors", err)
	}

	s.mu.RLock()
	byActor := make(map[int64]*ActorCount)
	for _, e := range s.entries {
		if e.ActorID == nil {
			continue
		}
		ac, ok := byActor[*e.ActorID]
		if !ok {
			ac = &ActorCount{ActorID: *e.ActorID}
			byActor[*e.ActorID] = ac
		}
		ac.Changes++
		if e.ActorName != "" {
			ac.ActorName = e.ActorName
		}
	}
	s.mu.RUnlock()

	result := make([]ActorCount, 0, len(byActor))
	for _, ac := range byActor {
		result = append(result, *ac)
	}
	slices.SortFunc(result, func(a, b ActorCount) int {
		if c := cmp.Compare(b.Changes, a.Changes); c != 0 {
			return c
		}
		return cmp.Compare(a.ActorID, b.ActorID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// DeleteBefore removes entries older than cutoff
func (s *MemoryStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, storageError("delete", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	var deleted int64
	for _, e := range s.entries {
		if e.OccurredAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	clear(s.entries[len(kept):])
	s.entries = kept
	return deleted, nil
}

// Len returns the number of stored entries
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) match(filter Filter) []*Entry {
	s.mu.RLock()
	matched := make([]*Entry, 0)
	for _, e := range s.entries {
		if filter.matches(e) {
			clone := *e
			matched = append(matched, &clone)
		}
	}
	s.mu.RUnlock()

	SortNewestFirst(matched)
	return matched
}

func (f Filter) matches(e *Entry) bool {
	if f.TaskID != nil && e.TaskID != *f.TaskID {
		return false
	}
	if f.ActorID != nil && (e.ActorID == nil || *e.ActorID != *f.ActorID) {
		return false
	}
	if f.FieldName != "" && e.FieldName != f.FieldName {
		return false
	}
	if len(f.Operations) > 0 && !slices.Contains(f.Operations, e.Operation) {
		return false
	}
	if f.From != nil && e.OccurredAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.OccurredAt.After(*f.To) {
		return false
	}
	if f.Before != nil && !e.OccurredAt.Before(*f.Before) {
		return false
	}
	if f.NoteContains != "" {
		if e.Note == nil || !strings.Contains(strings.ToLower(*e.Note), strings.ToLower(f.NoteContains)) {
			return false
		}
	}
	return true
}

// SortNewestFirst orders entries by occurred_at DESC, id DESC
func SortNewestFirst(entries []*Entry) {
	slices.SortFunc(entries, func(a, b *Entry) int {
		if c := b.OccurredAt.Compare(a.OccurredAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
}
