package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ykwon/stormcall/internal/core"
	"github.com/ykwon/stormcall/internal/domain"
	"github.com/ykwon/stormcall/internal/media"
)

// ErrSessionEnded reports that the session shut down while an agent
// connect was still in flight; the half-built connection is discarded.
var ErrSessionEnded = errors.New("session ended")

// AgentPort is the AI voice endpoint contract: a short-lived credential
// for the session, then one SDP offer/answer exchange over HTTPS.
type AgentPort interface {
	EphemeralKey(ctx context.Context, session domain.SessionID) (string, error)
	ExchangeSDP(ctx context.Context, key, offerSDP string) (string, error)
}

// AIRelay treats the speaking agent as a virtual participant. Exactly one
// client hosts the agent's own connection; everyone else receives its
// audio as an ordinary inbound track multiplexed over their connection to
// the host. Non-hosts never dial the agent.
//
// ConnectAgent blocks on network I/O and runs off the session loop, so
// the mutable fields are mutex-guarded and every state change checks the
// closed flag.
type AIRelay struct {
	registry  *Registry
	transport core.Transport
	dial      core.MediaDialer
	port      AgentPort
	// attachAudio puts the local microphone on the agent connection.
	attachAudio func(core.MediaConn) error
	post        func(func())

	mu         sync.Mutex
	self       domain.PeerID
	agentConn  core.MediaConn
	agentTrack webrtc.TrackLocal
	pump       *media.Pump
	hostID     domain.PeerID
	closed     bool
}

type AIRelayDeps struct {
	Self        domain.PeerID
	Registry    *Registry
	Transport   core.Transport
	Dial        core.MediaDialer
	Port        AgentPort
	AttachAudio func(core.MediaConn) error
	Post        func(func())
}

func NewAIRelay(d AIRelayDeps) *AIRelay {
	return &AIRelay{
		self:        d.Self,
		registry:    d.Registry,
		transport:   d.Transport,
		dial:        d.Dial,
		port:        d.Port,
		attachAudio: d.AttachAudio,
		post:        d.Post,
	}
}

func (a *AIRelay) setSelf(id domain.PeerID) {
	a.mu.Lock()
	a.self = id
	a.mu.Unlock()
}

func (a *AIRelay) IsLocalHost() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.agentConn != nil
}

// ConnectAgent dials the agent endpoint and makes this client the host.
// Every failure here is scoped to the relay; peer connections are never
// touched. The blocking exchange runs unlocked and the result commits
// only if the relay is still live when it lands.
func (a *AIRelay) ConnectAgent(ctx context.Context, session domain.SessionID) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrSessionEnded
	}
	if a.agentConn != nil {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	key, err := a.port.EphemeralKey(ctx, session)
	if err != nil {
		return fmt.Errorf("agent credential: %w", err)
	}
	conn, err := a.dial(domain.AIParticipantID)
	if err != nil {
		return fmt.Errorf("agent connection: %w", err)
	}
	conn.OnTrack(func(track *webrtc.TrackRemote) {
		a.post(func() { a.onAgentTrack(ctx, track) })
	})
	conn.OnClosed(func() {
		a.post(func() { a.Teardown() })
	})
	if err := conn.Start(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("agent connection: %w", err)
	}
	if err := a.attachAudio(conn); err != nil {
		conn.Close()
		return fmt.Errorf("agent connection: %w", err)
	}
	// One HTTP round trip: the offer must carry all candidates.
	offer, err := conn.CreateGatheredOffer()
	if err != nil {
		conn.Close()
		return fmt.Errorf("agent offer: %w", err)
	}
	answerSDP, err := a.port.ExchangeSDP(ctx, key, offer.SDP)
	if err != nil {
		conn.Close()
		return fmt.Errorf("agent negotiation: %w", err)
	}
	if err := conn.ApplyAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	}); err != nil {
		conn.Close()
		return fmt.Errorf("agent answer: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		conn.Close()
		return ErrSessionEnded
	}
	if a.agentConn != nil {
		conn.Close()
		return nil
	}
	a.agentConn = conn
	a.hostID = a.self
	a.registry.Upsert(domain.AIParticipantID, func(e *Entry) {
		e.Peer.IsAI = true
		e.Peer.IsLocalHost = true
		e.Peer.DisplayName = "AI Facilitator"
	})
	return a.transport.Send(core.Message{
		Kind:   core.KindAIConnected,
		HostID: a.self,
	})
}

// onAgentTrack starts the fan-out pump once the agent's voice arrives.
func (a *AIRelay) onAgentTrack(ctx context.Context, track *webrtc.TrackRemote) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	pump, err := media.NewPump(ctx, track, "ai-audio", "ai-stream")
	if err != nil {
		log.Error().Err(err).Str("module", "app.airelay").Msg("start agent pump")
		return
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		pump.Stop()
		return
	}
	a.pump = pump
	a.agentTrack = pump.Track()
	a.mu.Unlock()
	a.FanOutToPeers()
}

// SetAgentAudio records the agent's outgoing voice track.
func (a *AIRelay) SetAgentAudio(track webrtc.TrackLocal) {
	a.mu.Lock()
	a.agentTrack = track
	a.mu.Unlock()
}

// FanOutToPeers attaches the agent track to every peer connection that
// does not already carry it. Checked by track identity, so re-entrant
// calls never double-send.
func (a *AIRelay) FanOutToPeers() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.agentTrack == nil {
		return
	}
	for _, e := range a.registry.List() {
		if e.Conn == nil || e.Peer.IsAI {
			continue
		}
		if e.Conn.HasTrack(a.agentTrack.ID()) {
			continue
		}
		if err := e.Conn.AddTrack(a.agentTrack); err != nil {
			log.Error().Err(err).Str("module", "app.airelay").Str("peer", string(e.Peer.ID)).Msg("fan out agent audio")
		}
	}
}

// HandleAIConnected runs on non-hosts when a peer announces the agent.
func (a *AIRelay) HandleAIConnected(hostID domain.PeerID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || hostID == a.self {
		return
	}
	a.hostID = hostID
	a.registry.Upsert(domain.AIParticipantID, func(e *Entry) {
		e.Peer.IsAI = true
		e.Peer.IsLocalHost = false
		e.Peer.DisplayName = "AI Facilitator"
	})
}

// AdoptRemoteAgentAudio runs on non-hosts when the agent's audio shows up
// as a forwarded inbound track from the hosting peer.
func (a *AIRelay) AdoptRemoteAgentAudio(track *webrtc.TrackRemote) {
	a.registry.Upsert(domain.AIParticipantID, func(e *Entry) {
		e.Peer.IsAI = true
	})
	log.Info().Str("module", "app.airelay").Str("track_id", track.ID()).Msg("adopted agent audio from host")
}

// HandleAIDisconnected clears the synthetic entry on non-hosts.
func (a *AIRelay) HandleAIDisconnected() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hostID = ""
	a.registry.Remove(domain.AIParticipantID)
}

// Teardown closes the agent connection (host only), removes the synthetic
// entry and tells the room the facilitator is gone. The relay may dial
// the agent again afterwards.
func (a *AIRelay) Teardown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.teardownLocked()
}

// Shutdown is Teardown plus a permanent stop: a connect still in flight
// finds the closed flag at commit time and discards its connection.
// Called when the session itself ends.
func (a *AIRelay) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.teardownLocked()
}

func (a *AIRelay) teardownLocked() {
	wasHost := a.agentConn != nil
	if a.pump != nil {
		a.pump.Stop()
		a.pump = nil
	}
	if a.agentConn != nil {
		a.agentConn.Close()
		a.agentConn = nil
	}
	a.agentTrack = nil
	a.hostID = ""
	a.registry.Remove(domain.AIParticipantID)
	if wasHost {
		if err := a.transport.Send(core.Message{
			Kind:   core.KindAIDisconnected,
			HostID: a.self,
		}); err != nil {
			log.Error().Err(err).Str("module", "app.airelay").Msg("broadcast ai_disconnected")
		}
	}
}
