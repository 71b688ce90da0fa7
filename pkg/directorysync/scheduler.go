package directorysync

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/edgemark/conclave/pkg/directory"
)

// syncBatchSize is how many due providers the scheduler hands to the
// orchestrator per tick, per spec §4.3 step 6.
const syncBatchSize = 5

// baseBackoff and maxBackoff parameterize the exponential-backoff formula
// `10min * (fails^2 + 1)` capped at 4h, per spec §4.8.
const (
	baseBackoff = 10 * time.Minute
	maxBackoff  = 4 * time.Hour
)

// backoff computes how long a provider must wait since its last sync
// before it is eligible again.
func backoff(failures int) time.Duration {
	d := time.Duration(float64(baseBackoff) * (math.Pow(float64(failures), 2) + 1))
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// readyToSync reports whether a provider is due for another sync pass, per
// the selection predicate in spec §4.8.
func readyToSync(p *directory.Provider, now time.Time) bool {
	if !p.Eligible() {
		return false
	}
	if p.LastSyncedAt == nil {
		return true
	}
	return p.LastSyncedAt.Add(backoff(p.LastSyncsFailed)).Before(now)
}

// Scheduler selects due providers and hands them to the orchestrator. It is
// intended to be hosted under the global executor (C7) so exactly one node
// in the cluster runs it at a time.
type Scheduler struct {
	providers    *directory.Store
	orchestrator *Orchestrator
	logger       *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(providers *directory.Store, orchestrator *Orchestrator, logger *slog.Logger) *Scheduler {
	return &Scheduler{providers: providers, orchestrator: orchestrator, logger: logger}
}

// Tick selects providers ready_to_be_synced, ordered asc_nulls_first on
// last_synced_at, and syncs up to a batch of them. It is safe to call
// without overlap protection of its own — the executor hosting it (C6/C7)
// guarantees that.
func (s *Scheduler) Tick(ctx context.Context) error {
	candidates, err := s.providers.ListSyncEligible(ctx)
	if err != nil {
		return fmt.Errorf("listing sync-eligible providers: %w", err)
	}

	now := time.Now()
	var due []*directory.Provider
	for _, p := range candidates {
		if readyToSync(p, now) {
			due = append(due, p)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i].LastSyncedAt, due[j].LastSyncedAt
		switch {
		case a == nil && b == nil:
			return false
		case a == nil:
			return true
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})

	if len(due) > syncBatchSize {
		due = due[:syncBatchSize]
	}

	for _, p := range due {
		if err := s.orchestrator.Sync(ctx, p); err != nil {
			s.logger.Warn("directory sync pass failed", "provider_id", p.ID, "error", err)
		}
	}
	return nil
}
