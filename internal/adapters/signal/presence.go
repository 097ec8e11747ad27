package signal

import (
	"context"

	"github.com/ykwon/stormcall/internal/domain"
)

// Presence mirrors room membership to an external store so session
// metadata services can see who is online. The relay works without one.
type Presence interface {
	Add(ctx context.Context, session domain.SessionID, peer domain.PeerID) error
	Remove(ctx context.Context, session domain.SessionID, peer domain.PeerID) error
}

// NopPresence is used when no store is configured.
type NopPresence struct{}

func (NopPresence) Add(context.Context, domain.SessionID, domain.PeerID) error    { return nil }
func (NopPresence) Remove(context.Context, domain.SessionID, domain.PeerID) error { return nil }
