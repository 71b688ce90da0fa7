// Package gateway models data-plane gateway nodes. Only the attributes this
// control plane needs to track presence and admission are represented here;
// the WebSocket channel and packet-forwarding behavior belong to the
// data-plane process this package never implements.
package gateway

import (
	"time"

	"github.com/google/uuid"
)

// Gateway is a site's ingress node.
type Gateway struct {
	ID               uuid.UUID
	AccountID        uuid.UUID
	GroupID          *uuid.UUID // the site a gateway belongs to
	Name             string
	LastSeenVersion  *string
	LastSeenAt       *time.Time
	DisabledAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time
}

// Online reports whether a gateway has a recent presence heartbeat, per the
// freshness window the presence registry (C12) enforces.
func (g *Gateway) Online(now time.Time, freshness time.Duration) bool {
	if g == nil || g.LastSeenAt == nil {
		return false
	}
	return now.Sub(*g.LastSeenAt) <= freshness
}
