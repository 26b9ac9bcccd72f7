package retention

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/Dominik5397/Team-Task-Manager/pkg/async"
)

// Scheduler runs the purge on a cron schedule. A run that is still going
// when the next one is due causes that next run to be skipped.
type Scheduler struct {
	manager *Manager
	logger  *logrus.Logger
	timeout time.Duration
	days    atomic.Int64

	cron *cron.Cron

	mu       sync.Mutex
	entryID  cron.EntryID
	schedule string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler purging entries older than days on schedule
func NewScheduler(manager *Manager, schedule string, days int, timeout time.Duration, logger *logrus.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		manager: manager,
		logger:  logger,
		timeout: timeout,
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.PrintfLogger(logger)),
			cron.SkipIfStillRunning(cron.PrintfLogger(logger)),
		)),
		ctx:    ctx,
		cancel: cancel,
	}
	s.days.Store(int64(days))

	if err := s.Reschedule(schedule); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

// Reschedule replaces the cron expression of the purge job
func (s *Scheduler) Reschedule(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if schedule == s.schedule {
		return nil
	}

	id, err := s.cron.AddFunc(schedule, s.run)
	if err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
	}
	s.entryID = id
	s.schedule = schedule
	return nil
}

// SetDays changes the retention period used by subsequent runs
func (s *Scheduler) SetDays(days int) {
	old := s.days.Swap(int64(days))
	if old != int64(days) {
		s.logger.WithFields(logrus.Fields{"old_days": old, "new_days": days}).Info("Retention period updated")
	}
}

// Days returns the current retention period
func (s *Scheduler) Days() int {
	return int(s.days.Load())
}

// Next returns when the purge runs next, zero before Start
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	id := s.entryID
	s.mu.Unlock()
	return s.cron.Entry(id).Next
}

// Start begins scheduling in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.WithFields(logrus.Fields{
		"schedule": s.schedule,
		"days":     s.Days(),
	}).Info("Retention scheduler started")
}

// Stop cancels a running purge and waits for it to return, or for ctx
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("Retention scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow purges immediately with the current retention period
func (s *Scheduler) RunNow(ctx context.Context) (Result, error) {
	var res Result
	err := <-async.SafeGo(ctx, s.manager.logger, s.timeout, "retention purge", func(ctx context.Context) error {
		var err error
		res, err = s.manager.Run(ctx, s.Days())
		return err
	})
	return res, err
}

func (s *Scheduler) run() {
	start := time.Now()
	days := s.Days()
	s.logger.WithField("days", days).Info("Starting retention purge")

	res, err := s.RunNow(s.ctx)
	if err != nil {
		s.logger.WithError(err).WithField("days", days).Error("Retention purge failed")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"days":     res.Days,
		"cutoff":   res.Cutoff.Format(time.RFC3339),
		"archived": res.Archived,
		"deleted":  res.Deleted,
		"duration": time.Since(start).String(),
	}).Info("Retention purge finished")
}
