// Package schedule runs periodic background tasks bound to a context.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"exstrkv/internal/logging"
)

// Task is one run of a periodic job.
type Task func(ctx context.Context) error

// Every calls task once per interval until ctx is cancelled. A failing run
// is logged and the schedule continues. Runs never overlap.
func Every(ctx context.Context, interval time.Duration, name string, task Task, logger *logging.Logger) {
	if logger == nil {
		logger = logging.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := task(ctx); err != nil && ctx.Err() == nil {
				logger.WarnContext(ctx, "scheduled task failed",
					slog.String("task", name),
					slog.String("error", err.Error()))
			}
		}
	}
}

// Start runs Every in its own goroutine. The returned function stops the
// schedule and waits for a run in progress to return.
func Start(ctx context.Context, interval time.Duration, name string, task Task, logger *logging.Logger) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		Every(ctx, interval, name, task, logger)
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}
