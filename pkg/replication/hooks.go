package replication

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/edgemark/conclave/pkg/presence"
)

// GatewayHook and RelayHook mirror WAL changes to the gateways/relays
// tables into the node-local presence registry, per spec §2's data flow:
// "C10 streams WAL -> C9 decodes -> C11 dispatches -> hooks update C12".
// The socket layer that actually accepts gateway/relay connections is out
// of this core's scope (spec §1); it writes last_seen_at/last_seen_version
// on every heartbeat, and these hooks keep this node's presence view
// consistent with that write without this core needing to speak the
// socket protocol itself.

// GatewayHook tracks gateways table changes under the "gateway:<account_id>" topic.
type GatewayHook struct {
	registry *presence.Registry
	logger   *slog.Logger
}

// NewGatewayHook creates a GatewayHook writing into registry.
func NewGatewayHook(registry *presence.Registry, logger *slog.Logger) *GatewayHook {
	return &GatewayHook{registry: registry, logger: logger}
}

func gatewayTopic(tuple Tuple) string { return "gateway:" + tuple["account_id"] }

func (h *GatewayHook) OnInsert(_ context.Context, tuple Tuple) error {
	h.track(tuple)
	return nil
}

func (h *GatewayHook) OnUpdate(_ context.Context, _, tuple Tuple) error {
	h.track(tuple)
	return nil
}

func (h *GatewayHook) OnDelete(_ context.Context, old Tuple) error {
	h.registry.Untrack(gatewayTopic(old), old["id"])
	return nil
}

func (h *GatewayHook) track(tuple Tuple) {
	if tuple["deleted_at"] != "" {
		h.registry.Untrack(gatewayTopic(tuple), tuple["id"])
		return
	}
	h.registry.Track(gatewayTopic(tuple), tuple["id"], presence.Meta{
		Extra: map[string]any{
			"last_seen_version": tuple["last_seen_version"],
			"group_id":          tuple["group_id"],
		},
	})
}

// RelayHook tracks relays table changes under the "relay:<account_id>" topic.
type RelayHook struct {
	registry *presence.Registry
	logger   *slog.Logger
}

// NewRelayHook creates a RelayHook writing into registry.
func NewRelayHook(registry *presence.Registry, logger *slog.Logger) *RelayHook {
	return &RelayHook{registry: registry, logger: logger}
}

func relayTopic(tuple Tuple) string { return "relay:" + tuple["account_id"] }

func (h *RelayHook) OnInsert(_ context.Context, tuple Tuple) error {
	h.track(tuple)
	return nil
}

func (h *RelayHook) OnUpdate(_ context.Context, _, tuple Tuple) error {
	h.track(tuple)
	return nil
}

func (h *RelayHook) OnDelete(_ context.Context, old Tuple) error {
	h.registry.Untrack(relayTopic(old), old["id"])
	return nil
}

func (h *RelayHook) track(tuple Tuple) {
	if tuple["deleted_at"] != "" {
		h.registry.Untrack(relayTopic(tuple), tuple["id"])
		return
	}
	lat, _ := strconv.ParseFloat(tuple["lat"], 64)
	lon, _ := strconv.ParseFloat(tuple["lon"], 64)
	port, _ := strconv.Atoi(tuple["port"])
	h.registry.TrackRelay(relayTopic(tuple), tuple["id"], presence.Meta{
		Extra: map[string]any{
			"ipv4": tuple["ipv4"],
			"ipv6": tuple["ipv6"],
			"port": port,
			"lat":  lat,
			"lon":  lon,
		},
	}, nil)
}
