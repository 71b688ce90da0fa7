package presence

import "testing"

type fakeTracker struct {
	shutdown bool
}

func (f *fakeTracker) Shutdown() { f.shutdown = true }

func TestTrackAccumulatesMetas(t *testing.T) {
	r := NewRegistry()
	r.Track("gateway:acme", "gw-1", Meta{})
	r.Track("gateway:acme", "gw-1", Meta{})

	metas, ok := r.Get("gateway:acme", "gw-1")
	if !ok {
		t.Fatal("expected gw-1 to be tracked")
	}
	if len(metas) != 2 {
		t.Fatalf("len(metas) = %d, want 2", len(metas))
	}
}

func TestListSnapshotIsIndependent(t *testing.T) {
	r := NewRegistry()
	r.Track("relay:acme", "relay-1", Meta{})

	snap := r.List("relay:acme")
	snap["relay-1"] = append(snap["relay-1"], Meta{})

	metas, _ := r.Get("relay:acme", "relay-1")
	if len(metas) != 1 {
		t.Fatal("mutating a List() snapshot must not affect the registry")
	}
}

func TestTrackRelayEvictsPriorHolder(t *testing.T) {
	r := NewRegistry()
	prev := &fakeTracker{}
	r.TrackRelay("relay:acme", "relay-1", Meta{}, prev)

	next := &fakeTracker{}
	r.TrackRelay("relay:acme", "relay-1", Meta{}, next)

	if !prev.shutdown {
		t.Error("a new join for an existing relay id must evict (Shutdown) the prior tracker")
	}

	metas, ok := r.Get("relay:acme", "relay-1")
	if !ok || len(metas) != 1 {
		t.Fatal("relay-1 should carry exactly the new join's meta after eviction")
	}
}

func TestUntrackRemovesKeyAndBroadcastsLeave(t *testing.T) {
	r := NewRegistry()
	sub := r.Subscribe("client:acme")

	r.Track("client:acme", "client-1", Meta{})
	<-sub // drain the join diff

	r.Untrack("client:acme", "client-1")

	if _, ok := r.Get("client:acme", "client-1"); ok {
		t.Error("client-1 should no longer be tracked after Untrack")
	}

	diff := <-sub
	if len(diff.Leaves["client-1"]) != 1 {
		t.Error("Untrack should broadcast a leave diff for the removed key")
	}
}

func TestSubscribeReceivesJoinDiff(t *testing.T) {
	r := NewRegistry()
	sub := r.Subscribe("gateway:acme")

	r.Track("gateway:acme", "gw-1", Meta{})

	diff := <-sub
	if diff.Topic != "gateway:acme" {
		t.Errorf("diff.Topic = %q, want %q", diff.Topic, "gateway:acme")
	}
	if len(diff.Joins["gw-1"]) != 1 {
		t.Error("expected a join diff for gw-1")
	}
}
