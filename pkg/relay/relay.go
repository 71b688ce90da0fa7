// Package relay models data-plane relay nodes: their presence and the
// connection metadata (ipv4/ipv6/port/lat/lon) a join announces. TURN/STUN
// relaying and packet forwarding are out of scope for this control plane.
package relay

import (
	"time"

	"github.com/google/uuid"
)

// JoinMeta is the per-relay metadata a join fills in, per spec §4.12.
type JoinMeta struct {
	IPv4 string
	IPv6 string
	Port int
	Lat  float64
	Lon  float64
}

// Relay is a data-plane relay node.
type Relay struct {
	ID              uuid.UUID
	AccountID       uuid.UUID
	Name            string
	Meta            JoinMeta
	LastSeenVersion *string
	LastSeenAt      *time.Time
	DisabledAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// Online reports whether a relay has a recent presence heartbeat.
func (r *Relay) Online(now time.Time, freshness time.Duration) bool {
	if r == nil || r.LastSeenAt == nil {
		return false
	}
	return now.Sub(*r.LastSeenAt) <= freshness
}
