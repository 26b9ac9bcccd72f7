package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock shared by the package tests
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func appendAt(t *testing.T, s Store, e *Entry, at time.Time) *Entry {
	t.Helper()
	e.OccurredAt = at
	out, err := s.Append(context.Background(), e)
	require.NoError(t, err)
	return out
}

func actorPtr(id int64) *int64 { return &id }

func TestMemoryStore_Append(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore().WithClock(clock.Now)
	ctx := context.Background()

	entry := &Entry{TaskID: 1, Operation: OperationCreate}
	out, err := store.Append(ctx, entry)
	require.NoError(t, err)

	assert.Equal(t, int64(1), out.ID)
	assert.Equal(t, clock.Now(), out.OccurredAt)
	assert.Equal(t, 1, store.Len())

	// Stored copy is independent of the caller's entry
	entry.FieldName = "mutated"
	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, got.FieldName)

	second, err := store.Append(ctx, &Entry{TaskID: 1, Operation: OperationUpdate})
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.ID)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	store := NewMemoryStore()
	got, err := store.Get(context.Background(), 42)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_Search(t *testing.T) {
	clock := newFakeClock()
	base := clock.Now()
	store := NewMemoryStore()

	appendAt(t, store, &Entry{TaskID: 1, FieldName: FieldTask, Operation: OperationCreate, ActorID: actorPtr(10), Note: StringPtr("Task created: Alpha")}, base)
	appendAt(t, store, &Entry{TaskID: 1, FieldName: FieldStatus, Operation: OperationStatusChange, ActorID: actorPtr(11)}, base.Add(time.Hour))
	appendAt(t, store, &Entry{TaskID: 2, FieldName: FieldTask, Operation: OperationCreate, ActorID: actorPtr(10), Note: StringPtr("Task created: Beta")}, base.Add(2*time.Hour))
	appendAt(t, store, &Entry{TaskID: 1, FieldName: FieldTitle, Operation: OperationTitleChange}, base.Add(2*time.Hour))

	ctx := context.Background()

	t.Run("newest first with id tiebreak", func(t *testing.T) {
		got, err := store.Search(ctx, Filter{})
		require.NoError(t, err)
		require.Len(t, got, 4)
		assert.Equal(t, []int64{4, 3, 2, 1}, ids(got))
	})

	t.Run("by task", func(t *testing.T) {
		taskID := int64(1)
		got, err := store.Search(ctx, Filter{TaskID: &taskID})
		require.NoError(t, err)
		assert.Equal(t, []int64{4, 2, 1}, ids(got))
	})

	t.Run("by actor", func(t *testing.T) {
		got, err := store.Search(ctx, Filter{ActorID: actorPtr(10)})
		require.NoError(t, err)
		assert.Equal(t, []int64{3, 1}, ids(got))
	})

	t.Run("by operations", func(t *testing.T) {
		got, err := store.Search(ctx, Filter{Operations: []OperationKind{OperationStatusChange, OperationTitleChange}})
		require.NoError(t, err)
		assert.Equal(t, []int64{4, 2}, ids(got))
	})

	t.Run("inclusive range", func(t *testing.T) {
		from := base.Add(time.Hour)
		to := base.Add(2 * time.Hour)
		got, err := store.Search(ctx, Filter{From: &from, To: &to})
		require.NoError(t, err)
		assert.Equal(t, []int64{4, 3, 2}, ids(got))
	})

	t.Run("strictly before", func(t *testing.T) {
		before := base.Add(time.Hour)
		got, err := store.Search(ctx, Filter{Before: &before})
		require.NoError(t, err)
		assert.Equal(t, []int64{1}, ids(got))
	})

	t.Run("note contains ignores case", func(t *testing.T) {
		got, err := store.Search(ctx, Filter{NoteContains: "BETA"})
		require.NoError(t, err)
		assert.Equal(t, []int64{3}, ids(got))
	})

	t.Run("limit and offset", func(t *testing.T) {
		got, err := store.Search(ctx, Filter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []int64{3, 2}, ids(got))

		got, err = store.Search(ctx, Filter{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("unknown task is empty not error", func(t *testing.T) {
		taskID := int64(99)
		got, err := store.Search(ctx, Filter{TaskID: &taskID})
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
}

func TestMemoryStore_Counts(t *testing.T) {
	base := newFakeClock().Now()
	store := NewMemoryStore()
	ctx := context.Background()

	appendAt(t, store, &Entry{TaskID: 1, Operation: OperationCreate, ActorID: actorPtr(2), ActorName: "bob"}, base)
	appendAt(t, store, &Entry{TaskID: 1, Operation: OperationStatusChange, ActorID: actorPtr(1), ActorName: "alice"}, base)
	appendAt(t, store, &Entry{TaskID: 2, Operation: OperationCreate, ActorID: actorPtr(1), ActorName: "alice"}, base)
	appendAt(t, store, &Entry{TaskID: 2, Operation: OperationStatusChange, ActorID: actorPtr(2), ActorName: "bob"}, base)
	appendAt(t, store, &Entry{TaskID: 2, Operation: OperationDelete}, base)

	n, err := store.Count(ctx, Filter{Operations: []OperationKind{OperationCreate}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	counts, err := store.CountsByOperation(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, map[OperationKind]int64{
		OperationCreate:       2,
		OperationStatusChange: 2,
		OperationDelete:       1,
	}, counts)

	actors, err := store.TopActors(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []ActorCount{
		{ActorID: 1, ActorName: "alice", Changes: 2},
		{ActorID: 2, ActorName: "bob", Changes: 2},
	}, actors)

	actors, err = store.TopActors(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, actors, 1)
}

func TestMemoryStore_DeleteBefore(t *testing.T) {
	base := newFakeClock().Now()
	store := NewMemoryStore()
	ctx := context.Background()

	appendAt(t, store, &Entry{TaskID: 1, Operation: OperationCreate}, base.Add(-48*time.Hour))
	appendAt(t, store, &Entry{TaskID: 1, Operation: OperationUpdate}, base.Add(-24*time.Hour))
	appendAt(t, store, &Entry{TaskID: 1, Operation: OperationUpdate}, base)

	deleted, err := store.DeleteBefore(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, 2, store.Len())

	deleted, err = store.DeleteBefore(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Append(ctx, &Entry{TaskID: 1, Operation: OperationCreate})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
	assert.True(t, errors.Is(err, context.Canceled))

	_, err = store.Search(ctx, Filter{})
	assert.ErrorIs(t, err, ErrStorage)
}

func ids(entries []*Entry) []int64 {
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}
