package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/atomic"
)

// txBeginner is the slice of *pgxpool.Pool the global executor needs to
// open its lease-claim transaction, narrowed so tests can supply a fake.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// leaseTTL is how long a leader's lease is valid without renewal; it must
// comfortably exceed a single tick interval so a slow tick doesn't cause a
// spurious handoff.
const leaseTTL = 90 * time.Second

// followerRetryJitterMillis bounds the jittered backoff a follower sleeps
// before re-attempting to claim a lease it observed as expired, mirroring
// the `rand(0..199)ms` retry-storm avoidance in spec §4.7.
const followerRetryJitterMillis = 200

// GlobalExecutor elects a single cluster-wide leader to run Callback on a
// fixed interval, with automatic failover when the leader stops renewing
// its lease. Leadership is tracked in the `job_leases` table with a single
// INSERT ... ON CONFLICT DO UPDATE upsert plus a lease expiry, since Go has no
// runtime-provided global process registry to piggyback on.
type GlobalExecutor struct {
	name     string
	holderID uuid.UUID
	pool     txBeginner
	callback Callback
	interval time.Duration
	logger   *slog.Logger
	leading  atomic.Bool
}

// NewGlobalExecutor creates a GlobalExecutor registered under the given
// job name; every node in the cluster should construct one with the same
// name so they compete for the same lease. pool is typically a
// *pgxpool.Pool.
func NewGlobalExecutor(name string, pool txBeginner, callback Callback, interval time.Duration, logger *slog.Logger) *GlobalExecutor {
	return &GlobalExecutor{name: name, holderID: uuid.New(), pool: pool, callback: callback, interval: interval, logger: logger}
}

// IsLeader reports whether this node currently holds the job's lease. Safe
// to call concurrently with Run, e.g. from a readiness probe.
func (e *GlobalExecutor) IsLeader() bool {
	return e.leading.Load()
}

// Run blocks, periodically attempting to claim or renew cluster-wide
// leadership of this job; only the current leader fires the callback.
func (e *GlobalExecutor) Run(ctx context.Context) error {
	e.logger.Info("global executor started", "job", e.name, "node", e.holderID, "interval", e.interval)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("global executor stopped", "job", e.name)
			return nil
		case <-ticker.C:
			leading, err := e.claimOrRenew(ctx)
			if err != nil {
				e.logger.Error("lease claim failed", "job", e.name, "error", err)
				continue
			}
			wasLeading := e.leading.Swap(leading)
			if leading && !wasLeading {
				e.logger.Info("became leader", "job", e.name, "node", e.holderID)
			}
			if !leading && wasLeading {
				e.logger.Info("lost leadership", "job", e.name, "node", e.holderID)
			}

			if !leading {
				jitter := time.Duration(rand.Intn(followerRetryJitterMillis)) * time.Millisecond
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(jitter):
				}
				continue
			}
			if err := e.callback(ctx); err != nil {
				e.logger.Error("job tick failed", "job", e.name, "error", err)
			}
		}
	}
}

// claimOrRenew attempts to become (or remain) the leader: it claims the
// lease row if unheld or expired, or renews it if this node already holds
// it. Exactly one node observes leading=true per lease period.
func (e *GlobalExecutor) claimOrRenew(ctx context.Context) (bool, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning lease transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var holder uuid.UUID
	err = tx.QueryRow(ctx,
		`INSERT INTO job_leases (name, holder, expires_at)
		 VALUES ($1, $2, now() + $3)
		 ON CONFLICT (name) DO UPDATE SET
		   holder = CASE WHEN job_leases.holder = $2 OR job_leases.expires_at < now() THEN $2 ELSE job_leases.holder END,
		   expires_at = CASE WHEN job_leases.holder = $2 OR job_leases.expires_at < now() THEN now() + $3 ELSE job_leases.expires_at END
		 RETURNING holder`,
		e.name, e.holderID, leaseTTL,
	).Scan(&holder)
	if err != nil {
		return false, fmt.Errorf("claiming lease %s: %w", e.name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing lease claim: %w", err)
	}
	return holder == e.holderID, nil
}
