package replication

import (
	"context"
	"log/slog"
	"testing"
)

type recordingHook struct {
	name   string
	events *[]string
}

func (h recordingHook) OnInsert(ctx context.Context, tuple Tuple) error {
	*h.events = append(*h.events, h.name+":insert:"+tuple["id"])
	return nil
}
func (h recordingHook) OnUpdate(ctx context.Context, old, tuple Tuple) error {
	*h.events = append(*h.events, h.name+":update:"+tuple["id"])
	return nil
}
func (h recordingHook) OnDelete(ctx context.Context, old Tuple) error {
	*h.events = append(*h.events, h.name+":delete:"+old["id"])
	return nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nilReplicationWriter{}, nil))
}

// TestDispatchPreservesOrder asserts property 5: dispatched events preserve
// the server commit order the decoder delivered them in, even when they
// span multiple tables interleaved within a transaction.
func TestDispatchPreservesOrder(t *testing.T) {
	relations := map[uint32]*Relation{
		1: {ID: 1, Name: "accounts"},
		2: {ID: 2, Name: "resources"},
	}
	var events []string
	hooks := map[string]Hook{
		"accounts":  recordingHook{name: "accounts", events: &events},
		"resources": recordingHook{name: "resources", events: &events},
	}
	d := NewDispatcher(relations, hooks, nil, newTestLogger())

	sequence := []any{
		Insert{RelationID: 1, Tuple: Tuple{"id": "A1"}},
		Insert{RelationID: 2, Tuple: Tuple{"id": "R1"}},
		Update{RelationID: 1, Tuple: Tuple{"id": "A1"}},
		Delete{RelationID: 2, OldTuple: Tuple{"id": "R1"}},
	}
	for _, msg := range sequence {
		if err := d.Dispatch(context.Background(), msg); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
	}

	want := []string{
		"accounts:insert:A1",
		"resources:insert:R1",
		"accounts:update:A1",
		"resources:delete:R1",
	}
	if len(events) != len(want) {
		t.Fatalf("got %v events, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d = %q, want %q (full: %v)", i, events[i], want[i], events)
		}
	}
}

// TestDispatchEveryConfiguredTableHasAHook iterates a configured table
// subscription list and synthesizes an Insert for each table, asserting a
// hook call for every table — the unit-test shape spec §4.11 calls out explicitly.
func TestDispatchEveryConfiguredTableHasAHook(t *testing.T) {
	tableSubscriptions := []string{
		"accounts", "auth_identities", "auth_providers", "actor_groups",
		"actor_group_memberships", "actors", "clients", "gateways",
		"gateway_groups", "policies", "resources", "resource_connections", "tokens",
	}

	relations := make(map[uint32]*Relation, len(tableSubscriptions))
	hooks := make(map[string]Hook, len(tableSubscriptions))
	var events []string
	for i, table := range tableSubscriptions {
		id := uint32(i + 1)
		relations[id] = &Relation{ID: id, Name: table}
		hooks[table] = recordingHook{name: table, events: &events}
	}
	d := NewDispatcher(relations, hooks, nil, newTestLogger())

	for id, rel := range relations {
		if err := d.Dispatch(context.Background(), Insert{RelationID: id, Tuple: Tuple{"id": "x"}}); err != nil {
			t.Fatalf("Dispatch insert for %s: %v", rel.Name, err)
		}
	}
	if len(events) != len(tableSubscriptions) {
		t.Fatalf("expected one hook call per configured table, got %d calls for %d tables", len(events), len(tableSubscriptions))
	}
}

// TestDispatchUnknownTableWarnsOnce asserts S4's fanout scenario: a decoded
// Insert for a relation with no registered hook produces no hook call and
// does not error the stream.
func TestDispatchUnknownTableWarnsOnce(t *testing.T) {
	relations := map[uint32]*Relation{1: {ID: 1, Name: "unknown_table"}}
	hooks := map[string]Hook{}
	d := NewDispatcher(relations, hooks, nil, newTestLogger())

	if err := d.Dispatch(context.Background(), Insert{RelationID: 1, Tuple: Tuple{"id": "X1"}}); err != nil {
		t.Fatalf("Dispatch for an unmapped table must not error, got: %v", err)
	}
}

// TestDispatchHookFailureIsIsolated asserts a failing hook does not halt
// dispatch or propagate an error back to the replication stream.
func TestDispatchHookFailureIsIsolated(t *testing.T) {
	relations := map[uint32]*Relation{1: {ID: 1, Name: "resources"}}
	hooks := map[string]Hook{"resources": failingHook{}}
	d := NewDispatcher(relations, hooks, nil, newTestLogger())

	if err := d.Dispatch(context.Background(), Insert{RelationID: 1, Tuple: Tuple{"id": "R1"}}); err != nil {
		t.Fatalf("a hook failure must be isolated, got: %v", err)
	}
}

type failingHook struct{}

func (failingHook) OnInsert(ctx context.Context, tuple Tuple) error        { return errBoom }
func (failingHook) OnUpdate(ctx context.Context, old, tuple Tuple) error  { return errBoom }
func (failingHook) OnDelete(ctx context.Context, old Tuple) error         { return errBoom }

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }
