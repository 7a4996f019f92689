// Package loop drives the perpetual wake/sleep schedule: run a cycle,
// sleep the configured interval, repeat until the context is cancelled.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/amazo/internal/cycle"
)

// CycleRunner runs one wake cycle. *cycle.Engine satisfies it.
type CycleRunner interface {
	Run(ctx context.Context, loop int) cycle.Result
}

// Deps holds injected dependencies for the runner.
type Deps struct {
	Cycles CycleRunner
	Logger *slog.Logger
	// Sleep waits for d or until ctx is done, reporting whether the
	// full duration elapsed. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) bool
}

// Runner is the main loop. Create with [New].
type Runner struct {
	interval time.Duration
	deps     Deps
	count    int
}

// New creates a runner that sleeps interval between cycles. The
// interval is expected to be clamped already.
func New(interval time.Duration, deps Deps) *Runner {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepCtx
	}
	return &Runner{interval: interval, deps: deps}
}

// Run loops until ctx is cancelled, then returns nil. The loop counter
// starts at 1 and increases by one per cycle for the life of the
// runner.
func (r *Runner) Run(ctx context.Context) error {
	logger := r.deps.Logger
	for {
		if ctx.Err() != nil {
			return nil
		}

		r.count++
		logger.Info(fmt.Sprintf("--- Loop %d ---", r.count))

		r.deps.Cycles.Run(ctx, r.count)
		if ctx.Err() != nil {
			return nil
		}

		logger.Info(fmt.Sprintf("Sleeping %ds", int(r.interval/time.Second)))
		if !r.deps.Sleep(ctx, r.interval) {
			return nil
		}
	}
}

// Count returns the number of the most recent loop.
func (r *Runner) Count() int {
	return r.count
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if
// cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
