// Package directory models Providers: an account's configured connection to
// an external identity source (Microsoft Entra, Okta, Google Workspace,
// JumpCloud via WorkOS, or a manual/email/userpass fallback) and the
// adapter-specific state needed to sync it.
package directory

import (
	"time"

	"github.com/google/uuid"
)

// Adapter enumerates the supported provider backends.
type Adapter string

const (
	AdapterOpenIDConnect     Adapter = "openid_connect"
	AdapterMicrosoftEntra    Adapter = "microsoft_entra"
	AdapterOkta              Adapter = "okta"
	AdapterGoogleWorkspace   Adapter = "google_workspace"
	AdapterJumpCloud         Adapter = "jumpcloud"
	AdapterEmail             Adapter = "email"
	AdapterUserpass          Adapter = "userpass"
	AdapterMock              Adapter = "mock"
)

// syncable reports whether an adapter participates in directory sync (C2/C3)
// at all, as opposed to being a pure sign-in adapter.
func (a Adapter) syncable() bool {
	switch a {
	case AdapterMicrosoftEntra, AdapterOkta, AdapterGoogleWorkspace, AdapterJumpCloud, AdapterMock:
		return true
	default:
		return false
	}
}

// Syncable reports whether the provider should be enrolled in the
// directory sync scheduler (C8).
func (a Adapter) Syncable() bool { return a.syncable() }

// uniquePerAccount reports whether an account may only have one non-deleted
// provider of this adapter, per spec §3's "unique non-deleted provider per
// (account_id, adapter) for OIDC-like adapters" invariant.
func (a Adapter) uniquePerAccount() bool {
	switch a {
	case AdapterMicrosoftEntra, AdapterOkta, AdapterGoogleWorkspace, AdapterJumpCloud, AdapterOpenIDConnect:
		return true
	default:
		return false
	}
}

// UniquePerAccount reports whether an account may only have one non-deleted
// provider of this adapter.
func (a Adapter) UniquePerAccount() bool { return a.uniquePerAccount() }

// MaxConsecutiveSyncFailures is the highest last_syncs_failed count a
// provider may carry and still be eligible for scheduling (spec §3, §4.8:
// "last_syncs_failed ≤ 10"); at 11 it is excluded until an operator
// intervenes.
const MaxConsecutiveSyncFailures = 10

// AdapterState holds the OAuth2 grant a provider uses to call its IdP.
// Every adapter, JumpCloud (via WorkOS) included, calls its IdP with
// AccessToken; RefreshToken and ExpiresAt drive the token refresher. APIKey
// is persisted but not read by the sync or refresh paths.
type AdapterState struct {
	AccessToken  string     `json:"access_token,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	APIKey       string     `json:"api_key,omitempty"`
}

// NeedsRefresh reports whether the stored access token is missing or within
// the refresh window of expiry (spec §4.5, C5).
func (s AdapterState) NeedsRefresh(now time.Time, window time.Duration) bool {
	if s.AccessToken == "" {
		return s.RefreshToken != ""
	}
	if s.ExpiresAt == nil {
		return false
	}
	return !s.ExpiresAt.After(now.Add(window))
}

// Provider is an account's configured connection to an identity source.
type Provider struct {
	ID               uuid.UUID
	AccountID        uuid.UUID
	Name             string
	Adapter          Adapter
	Provisioner      bool // whether this provider is authorized to create local accounts on first sign-in
	AdapterConfig    map[string]any
	AdapterState     AdapterState
	LastSyncedAt     *time.Time
	LastSyncsFailed  int
	LastSyncError    *string
	DisabledAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time
}

// Eligible reports whether a provider should be picked up by the sync
// scheduler: synced adapter, not disabled, not deleted, and under the
// consecutive-failure ceiling.
func (p *Provider) Eligible() bool {
	if p == nil || p.DeletedAt != nil || p.DisabledAt != nil {
		return false
	}
	if !p.Adapter.Syncable() {
		return false
	}
	return p.LastSyncsFailed <= MaxConsecutiveSyncFailures
}
