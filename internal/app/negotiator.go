package app

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ykwon/stormcall/internal/core"
	"github.com/ykwon/stormcall/internal/domain"
)

// candidateBufferCap bounds how many remote ICE candidates are held for a
// peer whose connection does not exist yet. The remote keeps trickling
// during its own gathering, so dropping the oldest is survivable.
const candidateBufferCap = 16

// Negotiator drives one offer/answer/ICE exchange per remote peer.
// Initiator convention: the participant who was already present offers to
// the newcomer; the newcomer (seeded from peers_snapshot) waits. That
// keeps exactly one side offering and avoids glare without rollback.
type Negotiator struct {
	self      domain.PeerID
	registry  *Registry
	transport core.Transport
	dial      core.MediaDialer

	// attachTracks puts the current local tracks on a fresh connection
	// before the offer/answer is produced. Provided by the track manager.
	attachTracks func(core.MediaConn) error
	// post moves pion callbacks onto the session loop.
	post func(func())
	// onConnected fires after a peer reaches the connected state.
	onConnected func(domain.PeerID)
	// onRemoteTrack delivers inbound tracks with their owning peer id.
	onRemoteTrack func(domain.PeerID, *webrtc.TrackRemote)

	ctx       context.Context
	pending   map[domain.PeerID][]webrtc.ICECandidateInit
	remoteSet map[domain.PeerID]bool
}

type NegotiatorDeps struct {
	Self          domain.PeerID
	Registry      *Registry
	Transport     core.Transport
	Dial          core.MediaDialer
	AttachTracks  func(core.MediaConn) error
	Post          func(func())
	OnConnected   func(domain.PeerID)
	OnRemoteTrack func(domain.PeerID, *webrtc.TrackRemote)
}

func NewNegotiator(ctx context.Context, d NegotiatorDeps) *Negotiator {
	return &Negotiator{
		self:          d.Self,
		registry:      d.Registry,
		transport:     d.Transport,
		dial:          d.Dial,
		attachTracks:  d.AttachTracks,
		post:          d.Post,
		onConnected:   d.OnConnected,
		onRemoteTrack: d.OnRemoteTrack,
		ctx:           ctx,
		pending:       make(map[domain.PeerID][]webrtc.ICECandidateInit),
		remoteSet:     make(map[domain.PeerID]bool),
	}
}

// HandlePeerJoined runs on the existing side: register the newcomer and
// initiate toward them.
func (n *Negotiator) HandlePeerJoined(id domain.PeerID, name string) {
	if id == n.self {
		return
	}
	n.registry.Upsert(id, func(e *Entry) { e.Peer.DisplayName = name })
	if err := n.StartOffer(id); err != nil {
		log.Error().Err(err).Str("module", "app.negotiator").Str("peer", string(id)).Msg("offer failed")
		n.Fail(id)
	}
}

// HandleSnapshot runs on the newcomer: record who is here and wait for
// their offers.
func (n *Negotiator) HandleSnapshot(ids []domain.PeerID) {
	for _, id := range ids {
		if id == n.self {
			continue
		}
		n.registry.Upsert(id, nil)
	}
}

// StartOffer moves idle → offering → offer_sent for one peer.
func (n *Negotiator) StartOffer(id domain.PeerID) error {
	e, ok := n.registry.Get(id)
	if ok && e.State != core.NegotiationIdle {
		return &core.ErrBadTransition{From: e.State, Event: "start_offer"}
	}
	n.registry.Upsert(id, func(e *Entry) { e.State = core.NegotiationOffering })

	conn, err := n.createConn(id)
	if err != nil {
		return err
	}
	offer, err := conn.CreateOffer()
	if err != nil {
		conn.Close()
		return fmt.Errorf("create offer for %s: %w", id, err)
	}
	n.registry.Upsert(id, func(e *Entry) {
		e.Conn = conn
		e.State = core.NegotiationOfferSent
	})
	return n.transport.Send(core.Message{
		Kind: core.KindOffer,
		To:   id,
		SDP:  offer.SDP,
	})
}

// HandleOffer runs on the responding side: idle → answering → answer_sent.
func (n *Negotiator) HandleOffer(id domain.PeerID, sdp string) {
	e, ok := n.registry.Get(id)
	if ok && e.State != core.NegotiationIdle {
		log.Warn().Str("module", "app.negotiator").Str("peer", string(id)).
			Str("state", e.State.String()).Msg("offer ignored, not idle")
		return
	}
	n.registry.Upsert(id, func(e *Entry) { e.State = core.NegotiationAnswering })

	conn, err := n.createConn(id)
	if err != nil {
		log.Error().Err(err).Str("module", "app.negotiator").Str("peer", string(id)).Msg("answer setup failed")
		n.Fail(id)
		return
	}
	answer, err := conn.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "app.negotiator").Str("peer", string(id)).Msg("apply offer failed")
		conn.Close()
		n.Fail(id)
		return
	}
	n.registry.Upsert(id, func(e *Entry) {
		e.Conn = conn
		e.State = core.NegotiationAnswerSent
	})
	n.remoteSet[id] = true
	n.flushCandidates(id, conn)

	if err := n.transport.Send(core.Message{
		Kind: core.KindAnswer,
		To:   id,
		SDP:  answer.SDP,
	}); err != nil {
		log.Error().Err(err).Str("module", "app.negotiator").Str("peer", string(id)).Msg("send answer failed")
		n.Fail(id)
	}
}

// HandleAnswer completes the initiator side: offer_sent → connected.
func (n *Negotiator) HandleAnswer(id domain.PeerID, sdp string) {
	e, ok := n.registry.Get(id)
	if !ok || e.State != core.NegotiationOfferSent || e.Conn == nil {
		log.Warn().Str("module", "app.negotiator").Str("peer", string(id)).Msg("answer ignored")
		return
	}
	if err := e.Conn.ApplyAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}); err != nil {
		log.Error().Err(err).Str("module", "app.negotiator").Str("peer", string(id)).Msg("apply answer failed")
		n.Fail(id)
		return
	}
	n.registry.Upsert(id, func(e *Entry) { e.State = core.NegotiationConnected })
	n.remoteSet[id] = true
	n.flushCandidates(id, e.Conn)
	if n.onConnected != nil {
		n.onConnected(id)
	}
}

// HandleCandidate applies a remote candidate, buffering while the
// connection or its remote description does not exist yet. Candidates
// for peers not in the registry are dropped: after a peer leaves, its id
// must not accrete state again.
func (n *Negotiator) HandleCandidate(id domain.PeerID, ci webrtc.ICECandidateInit) {
	e, ok := n.registry.Get(id)
	if !ok {
		log.Debug().Str("module", "app.negotiator").Str("peer", string(id)).Msg("candidate for unknown peer, dropped")
		return
	}
	if e.Conn != nil && n.remoteSet[id] {
		if err := e.Conn.AddICECandidate(ci); err != nil {
			log.Error().Err(err).Str("module", "app.negotiator").Str("peer", string(id)).Msg("add ice candidate")
		}
		return
	}
	buf := n.pending[id]
	if len(buf) >= candidateBufferCap {
		buf = buf[1:]
	}
	n.pending[id] = append(buf, ci)
}

// MarkConnected records the responder reaching connected state,
// answer_sent → connected, driven by the connection's own event.
func (n *Negotiator) MarkConnected(id domain.PeerID) {
	e, ok := n.registry.Get(id)
	if !ok || e.State.Terminal() {
		return
	}
	if e.State == core.NegotiationConnected {
		return
	}
	n.registry.Upsert(id, func(e *Entry) { e.State = core.NegotiationConnected })
	if n.onConnected != nil {
		n.onConnected(id)
	}
}

// Fail tears one peer down without touching anyone else.
func (n *Negotiator) Fail(id domain.PeerID) {
	n.registry.Upsert(id, func(e *Entry) { e.State = core.NegotiationFailed })
	n.ClosePeer(id)
}

// ClosePeer removes the registry entry (closing the handle) and drops
// buffered negotiation state, whatever state the peer was in.
func (n *Negotiator) ClosePeer(id domain.PeerID) {
	n.registry.Remove(id)
	delete(n.pending, id)
	delete(n.remoteSet, id)
}

func (n *Negotiator) createConn(id domain.PeerID) (core.MediaConn, error) {
	conn, err := n.dial(id)
	if err != nil {
		return nil, fmt.Errorf("dial media for %s: %w", id, err)
	}
	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		n.post(func() { n.sendCandidate(id, ci) })
	})
	conn.OnTrack(func(track *webrtc.TrackRemote) {
		if n.onRemoteTrack != nil {
			n.post(func() { n.onRemoteTrack(id, track) })
		}
	})
	conn.OnConnected(func() {
		n.post(func() { n.MarkConnected(id) })
	})
	conn.OnClosed(func() {
		n.post(func() { n.ClosePeer(id) })
	})
	if err := conn.Start(n.ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("start media for %s: %w", id, err)
	}
	if n.attachTracks != nil {
		if err := n.attachTracks(conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("attach local tracks for %s: %w", id, err)
		}
	}
	return conn, nil
}

func (n *Negotiator) sendCandidate(id domain.PeerID, ci webrtc.ICECandidateInit) {
	err := n.transport.Send(core.Message{
		Kind:          core.KindICECandidate,
		To:            id,
		Candidate:     ci.Candidate,
		SDPMid:        ci.SDPMid,
		SDPMLineIndex: ci.SDPMLineIndex,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "app.negotiator").Str("peer", string(id)).Msg("send candidate failed")
	}
}

func (n *Negotiator) flushCandidates(id domain.PeerID, conn core.MediaConn) {
	buf := n.pending[id]
	delete(n.pending, id)
	for _, ci := range buf {
		if err := conn.AddICECandidate(ci); err != nil {
			log.Error().Err(err).Str("module", "app.negotiator").Str("peer", string(id)).Msg("flush buffered candidate")
		}
	}
}
