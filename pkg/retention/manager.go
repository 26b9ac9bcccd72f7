package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Dominik5397/Team-Task-Manager/pkg/async"
	"github.com/Dominik5397/Team-Task-Manager/pkg/audit"
	"github.com/Dominik5397/Team-Task-Manager/pkg/observability"
)

const (
	defaultChunkSize      = 5000
	defaultArchiveWorkers = 4
	archiveUploadTimeout  = 5 * time.Minute
)

// Archiver stores entries before they are purged
type Archiver interface {
	Archive(ctx context.Context, cutoff time.Time, entries []*audit.Entry) error
}

// Result describes one purge run
type Result struct {
	Days     int       `json:"days"`
	Cutoff   time.Time `json:"cutoff"`
	Archived int       `json:"archived"`
	Deleted  int64     `json:"deleted"`
}

// Manager removes entries older than a retention period
type Manager struct {
	service   *audit.Service
	archiver  Archiver
	chunkSize int
	workers   int
	logger    *observability.Logger
	metrics   *observability.Metrics

	// one purge at a time, so an archive never races a concurrent delete
	mu sync.Mutex
}

// Option configures a Manager
type Option func(*Manager)

// WithArchiver archives entries before every purge
func WithArchiver(a Archiver) Option {
	return func(m *Manager) { m.archiver = a }
}

// WithChunkSize sets how many entries go into one archive object
func WithChunkSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.chunkSize = n
		}
	}
}

// WithArchiveWorkers bounds concurrent archive uploads
func WithArchiveWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics records run outcomes
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a retention manager purging the store behind service
func NewManager(service *audit.Service, opts ...Option) *Manager {
	m := &Manager{
		service:   service,
		chunkSize: defaultChunkSize,
		workers:   defaultArchiveWorkers,
		logger:    observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PurgeOlderThan deletes every entry that occurred strictly before now - days
// and returns how many were removed.
func (m *Manager) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	res, err := m.Run(ctx, days)
	return res.Deleted, err
}

// Run purges like PurgeOlderThan and reports the full outcome
func (m *Manager) Run(ctx context.Context, days int) (Result, error) {
	if days < 0 {
		return Result{}, audit.NewValidationError("daysOld", "must not be negative")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	res := Result{
		Days:   days,
		Cutoff: m.service.Now().AddDate(0, 0, -days),
	}
	logger := m.logger.WithFields(map[string]any{
		"days":   days,
		"cutoff": res.Cutoff.Format(time.RFC3339),
	})

	if m.archiver != nil {
		archived, err := m.archive(ctx, res.Cutoff)
		if err != nil {
			m.recordRun("failure")
			logger.WithError(err).Error("Archive failed, purge skipped")
			return res, fmt.Errorf("failed to archive entries before purge: %w", err)
		}
		res.Archived = archived
		if m.metrics != nil {
			m.metrics.EntriesArchivedTotal.Add(float64(archived))
		}
	}

	deleted, err := m.service.Store().DeleteBefore(ctx, res.Cutoff)
	if err != nil {
		m.recordRun("failure")
		logger.WithError(err).Error("Purge failed")
		return res, err
	}
	res.Deleted = deleted

	if err := m.service.ResetStats(ctx); err != nil {
		logger.WithError(err).Warn("Failed to reset stats cache after purge")
	}

	m.recordRun("success")
	if m.metrics != nil {
		m.metrics.EntriesPurgedTotal.Add(float64(deleted))
		m.metrics.RetentionLastRunUnix.Set(float64(m.service.Now().Unix()))
	}

	logger.WithFields(map[string]any{
		"archived": res.Archived,
		"deleted":  res.Deleted,
	}).Info("Retention purge completed")
	return res, nil
}

// archive reads the purge candidates page by page and uploads each page
func (m *Manager) archive(ctx context.Context, cutoff time.Time) (int, error) {
	var (
		chunks [][]*audit.Entry
		total  int
	)
	for offset := 0; ; offset += m.chunkSize {
		page, err := m.service.Store().Search(ctx, audit.Filter{
			Before: &cutoff,
			Limit:  m.chunkSize,
			Offset: offset,
		})
		if err != nil {
			return 0, err
		}
		if len(page) == 0 {
			break
		}
		chunks = append(chunks, page)
		total += len(page)
		if len(page) < m.chunkSize {
			break
		}
	}
	if total == 0 {
		return 0, nil
	}

	err := async.Batch(ctx, m.logger, chunks, m.workers, "retention archive", archiveUploadTimeout,
		func(ctx context.Context, chunk []*audit.Entry) error {
			return m.archiver.Archive(ctx, cutoff, chunk)
		})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (m *Manager) recordRun(status string) {
	if m.metrics == nil {
		return
	}
	m.metrics.RetentionRunsTotal.WithLabelValues(status).Inc()
}
