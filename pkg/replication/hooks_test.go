package replication

import (
	"context"
	"testing"

	"github.com/edgemark/conclave/pkg/presence"
)

func TestGatewayHook_InsertTracksPresence(t *testing.T) {
	reg := presence.NewRegistry()
	h := NewGatewayHook(reg, newTestLogger())

	err := h.OnInsert(context.Background(), Tuple{
		"id": "gw-1", "account_id": "acc-1", "last_seen_version": "1.4.0",
	})
	if err != nil {
		t.Fatalf("OnInsert: %v", err)
	}

	metas, ok := reg.Get("gateway:acc-1", "gw-1")
	if !ok || len(metas) != 1 {
		t.Fatal("expected gw-1 to be tracked under gateway:acc-1")
	}
	if metas[0].Extra["last_seen_version"] != "1.4.0" {
		t.Errorf("last_seen_version = %v, want 1.4.0", metas[0].Extra["last_seen_version"])
	}
}

func TestGatewayHook_SoftDeleteUntracks(t *testing.T) {
	reg := presence.NewRegistry()
	h := NewGatewayHook(reg, newTestLogger())

	_ = h.OnInsert(context.Background(), Tuple{"id": "gw-1", "account_id": "acc-1"})
	err := h.OnUpdate(context.Background(), Tuple{}, Tuple{
		"id": "gw-1", "account_id": "acc-1", "deleted_at": "2026-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("OnUpdate: %v", err)
	}

	if _, ok := reg.Get("gateway:acc-1", "gw-1"); ok {
		t.Error("a soft-deleted gateway should be untracked from presence")
	}
}

func TestGatewayHook_DeleteUntracks(t *testing.T) {
	reg := presence.NewRegistry()
	h := NewGatewayHook(reg, newTestLogger())

	_ = h.OnInsert(context.Background(), Tuple{"id": "gw-1", "account_id": "acc-1"})
	if err := h.OnDelete(context.Background(), Tuple{"id": "gw-1", "account_id": "acc-1"}); err != nil {
		t.Fatalf("OnDelete: %v", err)
	}
	if _, ok := reg.Get("gateway:acc-1", "gw-1"); ok {
		t.Error("expected gw-1 to be untracked after delete")
	}
}

func TestRelayHook_InsertTracksMetaAndEvictsPriorHolder(t *testing.T) {
	reg := presence.NewRegistry()
	h := NewRelayHook(reg, newTestLogger())

	tuple := Tuple{
		"id": "relay-1", "account_id": "acc-1",
		"ipv4": "10.0.0.5", "port": "51820", "lat": "37.7", "lon": "-122.4",
	}
	if err := h.OnInsert(context.Background(), tuple); err != nil {
		t.Fatalf("OnInsert: %v", err)
	}

	metas, ok := reg.Get("relay:acc-1", "relay-1")
	if !ok || len(metas) != 1 {
		t.Fatal("expected relay-1 to be tracked")
	}
	if metas[0].Extra["ipv4"] != "10.0.0.5" || metas[0].Extra["port"] != 51820 {
		t.Errorf("unexpected relay meta: %+v", metas[0].Extra)
	}

	// A second join for the same relay id replaces the tracked meta (and
	// would evict a real tracker, exercised directly in pkg/presence).
	if err := h.OnUpdate(context.Background(), Tuple{}, tuple); err != nil {
		t.Fatalf("OnUpdate: %v", err)
	}
	metas, _ = reg.Get("relay:acc-1", "relay-1")
	if len(metas) != 1 {
		t.Errorf("re-joining the same relay id should replace, not accumulate, metas: got %d", len(metas))
	}
}
