// Package identity models the principals synced from or referencing
// external identity providers: Actors (policy subjects), Identities (a
// user's external-IdP handle mapped to an Actor), and Actor-Groups with
// their memberships.
package identity

import (
	"time"

	"github.com/google/uuid"
)

// ActorType enumerates the kinds of principal a policy can reference.
type ActorType string

const (
	ActorTypeAccountAdminUser ActorType = "account_admin_user"
	ActorTypeAccountUser      ActorType = "account_user"
	ActorTypeServiceAccount   ActorType = "service_account"
)

// CreatedBy enumerates who/what created an Identity or Actor-Group.
type CreatedBy string

const (
	CreatedByProvider CreatedBy = "provider"
	CreatedByIdentity CreatedBy = "identity"
	CreatedBySystem   CreatedBy = "system"
)

// Actor is a principal referenced by policies.
type Actor struct {
	ID         uuid.UUID
	AccountID  uuid.UUID
	Name       string
	Type       ActorType
	DisabledAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// UserInfo is the typed accessor over Identity.ProviderState.userinfo.
type UserInfo struct {
	Email string `json:"email"`
}

// ProviderState is the opaque per-identity IdP state: access/refresh
// tokens (when the identity itself carries its own grant, as with
// email/userpass sign-in) plus the IdP userinfo mirror.
type ProviderState struct {
	AccessToken  string         `json:"access_token,omitempty"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	UserInfo     UserInfo       `json:"userinfo"`
	Extra        map[string]any `json:"-"`
}

// Identity is a user's external-IdP handle mapped to a local Actor.
type Identity struct {
	ID                 uuid.UUID
	AccountID          uuid.UUID
	ProviderID         uuid.UUID
	ProviderIdentifier string
	ProviderState      ProviderState
	ActorID            uuid.UUID
	// ActorName mirrors the associated Actor's current name. It is read
	// alongside the identity (joined from actors) so the sync planner can
	// compare it against the remote user's display name, per spec §4.2's
	// update predicate: an identity is updated iff its email or its actor's
	// name differs.
	ActorName string
	CreatedBy CreatedBy
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// ActorGroup is an IdP-synced or manually managed group of actors.
type ActorGroup struct {
	ID                 uuid.UUID
	AccountID          uuid.UUID
	ProviderID         *uuid.UUID
	ProviderIdentifier *string // "G:<idp-group-id>" for synced groups
	Name               string
	CreatedBy          CreatedBy
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          *time.Time
}

// GroupProviderIdentifier formats the literal "G:<id>" identifier spec §3
// requires for IdP-synced groups.
func GroupProviderIdentifier(providerGroupID string) string {
	return "G:" + providerGroupID
}

// GroupDisplayName formats the literal "Group:<name>" display name spec §4.2
// requires for IdP-synced groups.
func GroupDisplayName(remoteName string) string {
	return "Group:" + remoteName
}
