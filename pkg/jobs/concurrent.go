// Package jobs hosts the two executor primitives every periodic worker in
// this system runs under: a concurrent executor (C6) that ticks on every
// node with advisory-lock-protected row claims, and a global executor (C7)
// that elects a single cluster-wide leader for work that must not
// duplicate.
package jobs

import (
	"context"
	"log/slog"
	"time"
)

// Callback is the tick function a concurrent or global executor drives. It
// owns its own concurrency; the executor only guarantees no two ticks of
// the same callback ever run concurrently.
type Callback func(ctx context.Context) error

// ConcurrentExecutor runs Callback on a fixed interval on every node,
// without overlap, per spec §4.6. It has no state of its own beyond the
// ticker — the callback's state lives wherever the callback puts it
// (typically the database).
type ConcurrentExecutor struct {
	name         string
	callback     Callback
	interval     time.Duration
	initialDelay time.Duration
	logger       *slog.Logger
}

// NewConcurrentExecutor creates a ConcurrentExecutor. initialDelay may be
// zero to fire the first tick immediately.
func NewConcurrentExecutor(name string, callback Callback, interval, initialDelay time.Duration, logger *slog.Logger) *ConcurrentExecutor {
	return &ConcurrentExecutor{name: name, callback: callback, interval: interval, initialDelay: initialDelay, logger: logger}
}

// Run blocks, ticking the callback until ctx is cancelled. The next tick is
// scheduled only after the previous one returns, so the callback never runs
// concurrently with itself on this node.
func (e *ConcurrentExecutor) Run(ctx context.Context) error {
	e.logger.Info("concurrent executor started", "job", e.name, "interval", e.interval)

	if e.initialDelay > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(e.initialDelay):
		}
	}

	if err := e.callback(ctx); err != nil {
		e.logger.Error("job tick failed", "job", e.name, "error", err)
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("concurrent executor stopped", "job", e.name)
			return nil
		case <-ticker.C:
			if err := e.callback(ctx); err != nil {
				e.logger.Error("job tick failed", "job", e.name, "error", err)
			}
		}
	}
}
