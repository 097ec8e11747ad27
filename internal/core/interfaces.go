package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/ykwon/stormcall/internal/domain"
)

// Frame is a raw wire payload.
type Frame []byte

// SignalConnection abstracts one relay-side transport endpoint.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Transport is the client's duplex, ordered message channel to the
// session. Receive's channel is closed when the transport goes away;
// the orchestrator treats that as a full disconnect.
type Transport interface {
	Send(Message) error
	Receive() <-chan Message
	Close() error
}

// MediaConn abstracts one peer connection for the orchestration layer.
// Descriptions and candidates are plain pion value types so fakes can
// construct them in tests.
type MediaConn interface {
	// Start installs the internal callbacks and binds the connection
	// lifetime to ctx.
	Start(ctx context.Context) error
	Close()

	CreateOffer() (webrtc.SessionDescription, error)
	// CreateGatheredOffer waits for ICE gathering to complete and returns
	// an offer with candidates bundled in. Used where the answer comes
	// back over a single HTTP round trip and trickle is impossible.
	CreateGatheredOffer() (webrtc.SessionDescription, error)
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error

	// AddTrack attaches an outgoing track. Attaching the same track id
	// twice is the caller's bug; use HasTrack to keep fan-out idempotent.
	AddTrack(track webrtc.TrackLocal) error
	// ReplaceVideoTrack swaps the outgoing video sender's track in place,
	// without renegotiation.
	ReplaceVideoTrack(track webrtc.TrackLocal) error
	HasTrack(trackID string) bool

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnTrack(func(track *webrtc.TrackRemote))
	OnConnected(func())
	OnClosed(func())
}

// MediaDialer creates a fresh MediaConn for a remote peer. Injected so
// the negotiation layer never constructs pion objects directly.
type MediaDialer func(peer domain.PeerID) (MediaConn, error)
