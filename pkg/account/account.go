// Package account models the tenant root entity: the Account that owns
// every provider, actor, group, token, gateway, and relay in the system.
package account

import (
	"time"

	"github.com/google/uuid"
)

// FeatureIdPSync gates whether directory sync may run for an account's providers.
const FeatureIdPSync = "idp_sync"

// Account is a tenant root.
type Account struct {
	ID         uuid.UUID
	LegalName  string
	DisabledAt *time.Time

	// Features maps feature flag name to enabled/disabled.
	Features map[string]bool

	// Limits maps limit name to an integer bound, or nil for unlimited.
	Limits map[string]*int64

	// MetadataStripe is the opaque Stripe billing metadata blob; this core
	// never interprets it (billing is an explicit non-goal), it only
	// round-trips it.
	MetadataStripe map[string]any

	Warning           *string
	WarningLastSentAt *time.Time

	NotifyOutdatedGatewayEnabled      bool
	NotifyOutdatedGatewayLastNotified *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasFeature reports whether the named feature flag is enabled. Unknown
// flags default to disabled.
func (a *Account) HasFeature(name string) bool {
	if a == nil || a.Features == nil {
		return false
	}
	return a.Features[name]
}

// IsDisabled reports whether an operator has soft-disabled the account.
func (a *Account) IsDisabled() bool {
	return a != nil && a.DisabledAt != nil
}

// Limit returns the configured limit for name and whether one is set.
func (a *Account) Limit(name string) (int64, bool) {
	if a == nil || a.Limits == nil {
		return 0, false
	}
	v, ok := a.Limits[name]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}
