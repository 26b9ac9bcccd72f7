package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Dominik5397/Team-Task-Manager/pkg/observability"
)

// SafeGo executes fn in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// The returned channel yields fn's result once and is then closed. Callers
// that do not care about completion may ignore it.
//
// Example:
//
//	done := SafeGo(ctx, logger, 10*time.Minute, "retention purge", func(ctx context.Context) error {
//	    _, err := manager.PurgeOlderThan(ctx, 90)
//	    return err
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan error {
	done := make(chan error, 1)

	go func() {
		defer close(done)

		ctx, cancel := withOptionalTimeout(parentCtx, timeout)
		defer cancel()

		err := call(ctx, logger, taskName, fn)
		if err != nil {
			logger.WithError(err).WithField("task", taskName).Error("Background task failed")
		}
		done <- err
	}()

	return done
}

// Batch runs fn over items with at most workers concurrent calls, each
// bounded by timeout. Every item is attempted; failures are joined.
func Batch[T any](ctx context.Context, logger *observability.Logger, items []T, workers int, taskName string,
	timeout time.Duration, fn func(context.Context, T) error) error {

	if workers < 1 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
	)

	var g errgroup.Group
	g.SetLimit(workers)

	for i, item := range items {
		g.Go(func() error {
			itemCtx, cancel := withOptionalTimeout(ctx, timeout)
			defer cancel()

			err := call(itemCtx, logger, taskName, func(c context.Context) error { return fn(c, item) })
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s item %d: %w", taskName, i, err))
				mu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait()
	return errors.Join(errs...)
}

// call runs fn converting a panic into an error
func call(ctx context.Context, logger *observability.Logger, taskName string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			observability.LogPanic(logger, taskName, r)
			err = observability.PanicError(r)
		}
	}()
	return fn(ctx)
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
