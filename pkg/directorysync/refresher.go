package directorysync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/edgemark/conclave/pkg/directory"
)

// refreshWindow is how far ahead of expires_at a token is considered due
// for refresh, per spec §4.5 ("providers with ... expires_at < now").
const refreshWindow = 5 * time.Minute

// Refresher is a provider-specific access-token renewal function: given the
// current adapter state, it returns the rotated state.
type Refresher func(ctx context.Context, state directory.AdapterState) (directory.AdapterState, error)

// TokenRefresher selects providers with a near-expiry access token every
// tick and refreshes them, persisting the rotated grant on success and
// leaving the provider alone on failure — the sync scheduler observes the
// stale token and disables it after the normal budget (spec §4.5).
type TokenRefresher struct {
	providers *directory.Store
	refresh   map[directory.Adapter]Refresher
	logger    *slog.Logger
}

// NewTokenRefresher creates a TokenRefresher backed by a per-adapter
// refresh function registry.
func NewTokenRefresher(providers *directory.Store, refresh map[directory.Adapter]Refresher, logger *slog.Logger) *TokenRefresher {
	return &TokenRefresher{providers: providers, refresh: refresh, logger: logger}
}

// Tick refreshes every provider whose access token is due for renewal.
func (r *TokenRefresher) Tick(ctx context.Context) error {
	candidates, err := r.providers.ListSyncEligible(ctx)
	if err != nil {
		return fmt.Errorf("listing providers for token refresh: %w", err)
	}

	now := time.Now()
	for _, p := range candidates {
		if p.AdapterState.RefreshToken == "" {
			continue
		}
		if !p.AdapterState.NeedsRefresh(now, refreshWindow) {
			continue
		}

		refresh, ok := r.refresh[p.Adapter]
		if !ok {
			continue
		}

		rotated, err := refresh(ctx, p.AdapterState)
		if err != nil {
			r.logger.Warn("token refresh failed", "provider_id", p.ID, "error", err)
			continue
		}
		if err := r.providers.UpdateAdapterState(ctx, p.ID, rotated); err != nil {
			r.logger.Warn("persisting refreshed token failed", "provider_id", p.ID, "error", err)
		}
	}
	return nil
}
