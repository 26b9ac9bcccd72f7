package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dominik5397/Team-Task-Manager/pkg/audit"
	"github.com/Dominik5397/Team-Task-Manager/pkg/observability"
)

var testNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type fakeArchiver struct {
	mu      sync.Mutex
	chunks  [][]*audit.Entry
	cutoffs []time.Time
	err     error
}

func (a *fakeArchiver) Archive(_ context.Context, cutoff time.Time, entries []*audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.chunks = append(a.chunks, entries)
	a.cutoffs = append(a.cutoffs, cutoff)
	return nil
}

func (a *fakeArchiver) archivedIDs() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []int64
	for _, chunk := range a.chunks {
		for _, e := range chunk {
			out = append(out, e.ID)
		}
	}
	return out
}

func newTestService(t *testing.T, opts ...audit.Option) (*audit.Service, *audit.MemoryStore) {
	t.Helper()
	store := audit.NewMemoryStore()
	opts = append([]audit.Option{audit.WithServiceClock(func() time.Time { return testNow })}, opts...)
	return audit.NewService(store, opts...), store
}

// seed appends one entry per age, for task 1 by actor 1
func seed(t *testing.T, store audit.Store, ages ...time.Duration) []*audit.Entry {
	t.Helper()
	actor := int64(1)
	out := make([]*audit.Entry, 0, len(ages))
	for _, age := range ages {
		e, err := store.Append(context.Background(), &audit.Entry{
			TaskID:     1,
			FieldName:  "title",
			OldValue:   audit.StringPtr("a"),
			NewValue:   audit.StringPtr("b"),
			Operation:  audit.OperationTitleChange,
			ActorID:    &actor,
			ActorName:  "alice",
			OccurredAt: testNow.Add(-age),
		})
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

const day = 24 * time.Hour

func TestManager_PurgeOlderThan(t *testing.T) {
	svc, store := newTestService(t)
	seed(t, store, 100*day, 31*day, 30*day, 29*day, time.Hour)

	deleted, err := NewManager(svc).PurgeOlderThan(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	remaining, err := store.Search(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Len(t, remaining, 3)

	cutoff := testNow.AddDate(0, 0, -30)
	for _, e := range remaining {
		assert.False(t, e.OccurredAt.Before(cutoff), "entry %d older than cutoff survived", e.ID)
	}
}

func TestManager_ZeroDaysPurgesEverythingBeforeNow(t *testing.T) {
	svc, store := newTestService(t)
	seed(t, store, 2*day, time.Minute, 0)

	deleted, err := NewManager(svc).PurgeOlderThan(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.Equal(t, 1, store.Len())
}

func TestManager_NegativeDays(t *testing.T) {
	svc, store := newTestService(t)
	seed(t, store, 100*day)

	_, err := NewManager(svc).PurgeOlderThan(context.Background(), -1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, audit.ErrValidation))

	var verr *audit.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "daysOld", verr.Field)
	assert.Equal(t, 1, store.Len())
}

func TestManager_NothingToPurge(t *testing.T) {
	svc, _ := newTestService(t)
	archiver := &fakeArchiver{}

	res, err := NewManager(svc, WithArchiver(archiver)).Run(context.Background(), 90)
	require.NoError(t, err)
	assert.Zero(t, res.Deleted)
	assert.Zero(t, res.Archived)
	assert.Empty(t, archiver.chunks)
}

func TestManager_ArchivesInChunksBeforePurge(t *testing.T) {
	svc, store := newTestService(t)
	old := seed(t, store, 95*day, 94*day, 93*day, 92*day, 91*day)
	seed(t, store, day)

	archiver := &fakeArchiver{}
	m := NewManager(svc, WithArchiver(archiver), WithChunkSize(2), WithArchiveWorkers(2))

	res, err := m.Run(context.Background(), 90)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Archived)
	assert.Equal(t, int64(5), res.Deleted)
	assert.Equal(t, testNow.AddDate(0, 0, -90), res.Cutoff)

	assert.Len(t, archiver.chunks, 3)
	want := make([]int64, 0, len(old))
	for _, e := range old {
		want = append(want, e.ID)
	}
	assert.ElementsMatch(t, want, archiver.archivedIDs())
	for _, c := range archiver.cutoffs {
		assert.Equal(t, res.Cutoff, c)
	}
	assert.Equal(t, 1, store.Len())
}

func TestManager_ArchiveFailureAbortsPurge(t *testing.T) {
	svc, store := newTestService(t)
	seed(t, store, 200*day, 150*day)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	archiver := &fakeArchiver{err: errors.New("bucket unreachable")}

	_, err := NewManager(svc, WithArchiver(archiver), WithMetrics(metrics)).PurgeOlderThan(context.Background(), 90)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unreachable")
	assert.Equal(t, 2, store.Len())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RetentionRunsTotal.WithLabelValues("failure")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.EntriesPurgedTotal))
}

type failingDeleteStore struct {
	*audit.MemoryStore
}

func (s *failingDeleteStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, &audit.StorageError{Op: "delete", Err: errors.New("disk full")}
}

func TestManager_StorageFaultPropagates(t *testing.T) {
	svc := audit.NewService(&failingDeleteStore{audit.NewMemoryStore()})

	_, err := NewManager(svc).PurgeOlderThan(context.Background(), 30)
	require.Error(t, err)
	assert.True(t, errors.Is(err, audit.ErrStorage))
}

func TestManager_Metrics(t *testing.T) {
	svc, store := newTestService(t)
	seed(t, store, 100*day, 99*day, day)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	archiver := &fakeArchiver{}

	_, err := NewManager(svc, WithArchiver(archiver), WithMetrics(metrics)).Run(context.Background(), 90)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RetentionRunsTotal.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.EntriesPurgedTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.EntriesArchivedTotal))
	assert.Equal(t, float64(testNow.Unix()), testutil.ToFloat64(metrics.RetentionLastRunUnix))
}

func TestManager_ResetsCachedStats(t *testing.T) {
	cache := audit.NewLRUStatsCache(16, time.Hour)
	svc, store := newTestService(t, audit.WithStatsCache(cache))
	seed(t, store, 100*day, day)

	ctx := context.Background()
	stats, err := svc.StatsForTask(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalChanges)

	_, err = NewManager(svc).PurgeOlderThan(ctx, 90)
	require.NoError(t, err)

	stats, err = svc.StatsForTask(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalChanges)
}

func TestManager_ConcurrentAppendsSurvive(t *testing.T) {
	svc, store := newTestService(t)
	seed(t, store, 100*day, 100*day, 100*day)

	m := NewManager(svc)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		seed(t, store, 0, 0, 0, 0)
	}()
	go func() {
		defer wg.Done()
		_, err := m.PurgeOlderThan(context.Background(), 30)
		assert.NoError(t, err)
	}()
	wg.Wait()

	assert.Equal(t, 4, store.Len())
}
