package directorysync

import (
	"sort"
	"testing"

	"github.com/google/uuid"

	"github.com/edgemark/conclave/pkg/identity"
	"github.com/edgemark/conclave/pkg/idp"
)

func sortedProviderIDs(inserts []IdentityInsert) []string {
	out := make([]string, len(inserts))
	for i, ins := range inserts {
		out[i] = ins.ProviderIdentifier
	}
	sort.Strings(out)
	return out
}

// TestPlanIsOrderIndependent asserts property 1: feeding the planner the
// same remote/local state in a different element order produces the same
// diff, since the orchestrator does not rely on IdP response ordering.
func TestPlanIsOrderIndependent(t *testing.T) {
	remoteA := RemoteSnapshot{
		Users: []idp.User{
			{ProviderIdentifier: "u1", Email: "one@example.com", DisplayName: "One"},
			{ProviderIdentifier: "u2", Email: "two@example.com", DisplayName: "Two"},
		},
		Groups: []idp.Group{
			{ProviderIdentifier: "g1", DisplayName: "Engineering"},
		},
		MemberTuples: []identity.MembershipTuple{
			{GroupProviderIdentifier: "G:g1", ActorProviderIdentifier: "u1"},
		},
	}
	remoteB := RemoteSnapshot{
		Users: []idp.User{
			{ProviderIdentifier: "u2", Email: "two@example.com", DisplayName: "Two"},
			{ProviderIdentifier: "u1", Email: "one@example.com", DisplayName: "One"},
		},
		Groups:       remoteA.Groups,
		MemberTuples: remoteA.MemberTuples,
	}

	local := LocalState{}

	planA := Diff(remoteA, local)
	planB := Diff(remoteB, local)

	if got, want := sortedProviderIDs(planA.Identities.Insert), sortedProviderIDs(planB.Identities.Insert); len(got) != len(want) {
		t.Fatalf("insert plans differ in size: %v vs %v", got, want)
	}
	for i := range planA.Identities.Insert {
		if sortedProviderIDs(planA.Identities.Insert)[i] != sortedProviderIDs(planB.Identities.Insert)[i] {
			t.Fatalf("insert plan order-dependence detected")
		}
	}
	if len(planA.Groups.Upsert) != len(planB.Groups.Upsert) {
		t.Fatalf("group plans differ in size")
	}
	if len(planA.Memberships.Upsert) != len(planB.Memberships.Upsert) {
		t.Fatalf("membership plans differ in size")
	}
}

func TestDiffInsertsNewIdentity(t *testing.T) {
	remote := RemoteSnapshot{
		Users: []idp.User{{ProviderIdentifier: "u1", Email: "new@example.com", DisplayName: "New User"}},
	}
	plan := Diff(remote, LocalState{})

	if len(plan.Identities.Insert) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(plan.Identities.Insert))
	}
	if len(plan.Identities.Update) != 0 || len(plan.Identities.Delete) != 0 {
		t.Fatalf("expected no updates or deletes")
	}
}

func TestDiffUpdatesDriftedEmail(t *testing.T) {
	actorID := uuid.New()
	identityID := uuid.New()
	remote := RemoteSnapshot{
		Users: []idp.User{{ProviderIdentifier: "u1", Email: "changed@example.com", DisplayName: "Same Name"}},
	}
	local := LocalState{
		Identities: []identity.Identity{{
			ID: identityID, ProviderIdentifier: "u1", ActorID: actorID, ActorName: "Same Name",
			ProviderState: identity.ProviderState{UserInfo: identity.UserInfo{Email: "old@example.com"}},
		}},
	}

	plan := Diff(remote, local)

	if len(plan.Identities.Update) != 1 {
		t.Fatalf("expected 1 update, got %d", len(plan.Identities.Update))
	}
	if plan.Identities.Update[0].Email != "changed@example.com" {
		t.Fatalf("expected updated email to be propagated")
	}
}

// TestDiffUpdatesDriftedActorName asserts the other half of spec §4.2's
// update predicate: an IdP rename with no email change must still produce
// an update, since the local Actor's name otherwise goes stale forever.
func TestDiffUpdatesDriftedActorName(t *testing.T) {
	actorID := uuid.New()
	identityID := uuid.New()
	remote := RemoteSnapshot{
		Users: []idp.User{{ProviderIdentifier: "u1", Email: "same@example.com", DisplayName: "New Name"}},
	}
	local := LocalState{
		Identities: []identity.Identity{{
			ID: identityID, ProviderIdentifier: "u1", ActorID: actorID, ActorName: "Old Name",
			ProviderState: identity.ProviderState{UserInfo: identity.UserInfo{Email: "same@example.com"}},
		}},
	}

	plan := Diff(remote, local)

	if len(plan.Identities.Update) != 1 {
		t.Fatalf("expected 1 update, got %d", len(plan.Identities.Update))
	}
	if plan.Identities.Update[0].DisplayName != "New Name" {
		t.Fatalf("expected updated actor name to be propagated, got %q", plan.Identities.Update[0].DisplayName)
	}
}

// TestDiffNoUpdateWhenEmailAndNameUnchanged guards against the predicate
// over-firing: identical email and actor name must not produce an update.
func TestDiffNoUpdateWhenEmailAndNameUnchanged(t *testing.T) {
	actorID := uuid.New()
	identityID := uuid.New()
	remote := RemoteSnapshot{
		Users: []idp.User{{ProviderIdentifier: "u1", Email: "same@example.com", DisplayName: "Same Name"}},
	}
	local := LocalState{
		Identities: []identity.Identity{{
			ID: identityID, ProviderIdentifier: "u1", ActorID: actorID, ActorName: "Same Name",
			ProviderState: identity.ProviderState{UserInfo: identity.UserInfo{Email: "same@example.com"}},
		}},
	}

	plan := Diff(remote, local)

	if len(plan.Identities.Update) != 0 {
		t.Fatalf("expected no update, got %d", len(plan.Identities.Update))
	}
}

func TestDiffDeletesMissingIdentity(t *testing.T) {
	identityID := uuid.New()
	local := LocalState{
		Identities: []identity.Identity{{ID: identityID, ProviderIdentifier: "gone"}},
	}

	plan := Diff(RemoteSnapshot{}, local)

	if len(plan.Identities.Delete) != 1 || plan.Identities.Delete[0] != identityID {
		t.Fatalf("expected the missing identity to be deleted")
	}
}

func TestGroupProviderIdentifierAndNameFormatting(t *testing.T) {
	remote := RemoteSnapshot{Groups: []idp.Group{{ProviderIdentifier: "abc", DisplayName: "Engineering"}}}
	plan := Diff(remote, LocalState{})

	if len(plan.Groups.Upsert) != 1 {
		t.Fatalf("expected 1 group upsert")
	}
	got := plan.Groups.Upsert[0]
	if got.ProviderIdentifier != "G:abc" {
		t.Fatalf("provider identifier = %q, want G:abc", got.ProviderIdentifier)
	}
	if got.Name != "Group:Engineering" {
		t.Fatalf("name = %q, want Group:Engineering", got.Name)
	}
}
