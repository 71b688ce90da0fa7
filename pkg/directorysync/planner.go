// Package directorysync implements the control-plane side of directory
// sync: the planner that diffs a remote snapshot against local state (C2),
// the orchestrator that drives a provider's sync pipeline end to end (C3),
// the error classifier (C4), the token refresher (C5), and the scheduler
// loop that decides which providers are due (C8).
package directorysync

import (
	"github.com/google/uuid"

	"github.com/edgemark/conclave/pkg/identity"
	"github.com/edgemark/conclave/pkg/idp"
)

// RemoteSnapshot is everything a single sync pass fetches from a provider:
// users, groups, and the group/user membership tuples reduced from
// list_group_members, per spec §4.3 step 3.
type RemoteSnapshot struct {
	Users        []idp.User
	Groups       []idp.Group
	MemberTuples []identity.MembershipTuple
}

// LocalState is the provider's current identities, groups, and memberships,
// as read from the database before planning.
type LocalState struct {
	Identities  []identity.Identity
	Groups      []identity.ActorGroup
	Memberships []identity.MembershipTuple
}

// IdentityInsert is a remote user with no matching local identity.
type IdentityInsert struct {
	ProviderIdentifier string
	Email              string
	DisplayName        string
}

// IdentityUpdate is a remote user whose email or actor name has drifted
// from the local identity/actor, per the update predicate in spec §4.2.
type IdentityUpdate struct {
	ID          uuid.UUID
	ActorID     uuid.UUID
	Email       string
	DisplayName string
}

// IdentityPlan is the diff result for identities.
type IdentityPlan struct {
	Insert []IdentityInsert
	Update []IdentityUpdate
	Delete []uuid.UUID // identity IDs no longer present remotely
}

// GroupUpsert is a remote group to insert or update locally.
type GroupUpsert struct {
	ProviderIdentifier string // "G:<id>"
	Name               string // "Group:<displayName>"
	ExistingID         *uuid.UUID
}

// GroupPlan is the diff result for actor-groups.
type GroupPlan struct {
	Upsert []GroupUpsert
	Delete []uuid.UUID
}

// MembershipPlan is the diff result for group memberships.
type MembershipPlan struct {
	Upsert []identity.MembershipTuple
	Delete []identity.MembershipTuple
}

// Plan holds the full three-part diff a sync pass produces.
type Plan struct {
	Identities  IdentityPlan
	Groups      GroupPlan
	Memberships MembershipPlan
}

// actorName picks the display name an identity's Actor should carry; this
// is the per-adapter "Actor name" column of spec §4.2, but the adapters
// normalize it themselves before handing User values to the planner, so the
// planner only ever reads DisplayName.
func actorName(u idp.User) string { return u.DisplayName }

// Diff computes insert/update/delete (identities), upsert/delete (groups),
// and upsert/delete (memberships) plans for one provider's sync pass.
func Diff(remote RemoteSnapshot, local LocalState) Plan {
	localByProviderID := make(map[string]identity.Identity, len(local.Identities))
	for _, id := range local.Identities {
		localByProviderID[id.ProviderIdentifier] = id
	}
	remoteByProviderID := make(map[string]idp.User, len(remote.Users))
	for _, u := range remote.Users {
		remoteByProviderID[u.ProviderIdentifier] = u
	}

	var idPlan IdentityPlan
	for _, u := range remote.Users {
		existing, ok := localByProviderID[u.ProviderIdentifier]
		if !ok {
			idPlan.Insert = append(idPlan.Insert, IdentityInsert{
				ProviderIdentifier: u.ProviderIdentifier,
				Email:              u.Email,
				DisplayName:        actorName(u),
			})
			continue
		}
		if existing.ProviderState.UserInfo.Email != u.Email || existing.ActorName != actorName(u) {
			idPlan.Update = append(idPlan.Update, IdentityUpdate{
				ID: existing.ID, ActorID: existing.ActorID, Email: u.Email, DisplayName: actorName(u),
			})
		}
	}
	for providerID, existing := range localByProviderID {
		if _, ok := remoteByProviderID[providerID]; !ok {
			idPlan.Delete = append(idPlan.Delete, existing.ID)
		}
	}

	localGroupByProviderID := make(map[string]identity.ActorGroup, len(local.Groups))
	for _, g := range local.Groups {
		if g.ProviderIdentifier != nil {
			localGroupByProviderID[*g.ProviderIdentifier] = g
		}
	}
	remoteGroupIDs := make(map[string]struct{}, len(remote.Groups))

	var groupPlan GroupPlan
	for _, g := range remote.Groups {
		providerIdentifier := identity.GroupProviderIdentifier(g.ProviderIdentifier)
		name := identity.GroupDisplayName(g.DisplayName)
		remoteGroupIDs[providerIdentifier] = struct{}{}

		existing, ok := localGroupByProviderID[providerIdentifier]
		switch {
		case !ok:
			groupPlan.Upsert = append(groupPlan.Upsert, GroupUpsert{ProviderIdentifier: providerIdentifier, Name: name})
		case existing.Name != name:
			id := existing.ID
			groupPlan.Upsert = append(groupPlan.Upsert, GroupUpsert{ProviderIdentifier: providerIdentifier, Name: name, ExistingID: &id})
		}
	}
	for providerIdentifier, existing := range localGroupByProviderID {
		if _, ok := remoteGroupIDs[providerIdentifier]; !ok {
			groupPlan.Delete = append(groupPlan.Delete, existing.ID)
		}
	}

	localTuples := make(map[identity.MembershipTuple]struct{}, len(local.Memberships))
	for _, t := range local.Memberships {
		localTuples[t] = struct{}{}
	}
	remoteTuples := make(map[identity.MembershipTuple]struct{}, len(remote.MemberTuples))
	for _, t := range remote.MemberTuples {
		remoteTuples[t] = struct{}{}
	}

	var membershipPlan MembershipPlan
	for t := range remoteTuples {
		if _, ok := localTuples[t]; !ok {
			membershipPlan.Upsert = append(membershipPlan.Upsert, t)
		}
	}
	for t := range localTuples {
		if _, ok := remoteTuples[t]; !ok {
			membershipPlan.Delete = append(membershipPlan.Delete, t)
		}
	}

	return Plan{Identities: idPlan, Groups: groupPlan, Memberships: membershipPlan}
}
