package app

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ykwon/stormcall/internal/core"
	"github.com/ykwon/stormcall/internal/domain"
	"github.com/ykwon/stormcall/internal/media"
)

// Session is the per-client orchestrator: one cooperative event loop
// consuming transport messages, queued connection callbacks and timer
// ticks. Components own their own fields; the loop only sequences them.
type Session struct {
	self      domain.PeerID
	name      string
	sessionID domain.SessionID

	transport core.Transport
	registry  *Registry
	neg       *Negotiator
	tracks    *TrackManager
	ai        *AIRelay
	timer     *TimerCoordinator

	queue    chan func()
	handlers map[core.Kind]func(core.Message)
	onReady  func()
	logger   zerolog.Logger
}

type SessionDeps struct {
	SessionID domain.SessionID
	Name      string
	Transport core.Transport
	Dial      core.MediaDialer
	Capture   media.CaptureProvider
	Agent     AgentPort
	Duration  time.Duration
}

func NewSession(ctx context.Context, d SessionDeps) *Session {
	s := &Session{
		name:      d.Name,
		sessionID: d.SessionID,
		transport: d.Transport,
		registry:  NewRegistry(),
		queue:     make(chan func(), 64),
		logger:    log.With().Str("module", "app.session").Logger(),
	}
	s.tracks = NewTrackManager(s.registry, d.Transport, d.Capture, s.post)
	s.neg = NewNegotiator(ctx, NegotiatorDeps{
		Registry:      s.registry,
		Transport:     d.Transport,
		Dial:          d.Dial,
		AttachTracks:  s.tracks.AttachLocalTracks,
		Post:          s.post,
		OnConnected:   s.onPeerConnected,
		OnRemoteTrack: s.onRemoteTrack,
	})
	s.ai = NewAIRelay(AIRelayDeps{
		Registry:    s.registry,
		Transport:   d.Transport,
		Dial:        d.Dial,
		Port:        d.Agent,
		AttachAudio: s.tracks.AttachAudioTrack,
		Post:        s.post,
	})
	s.timer = NewTimerCoordinator(d.Transport, d.Duration)
	s.handlers = s.dispatchTable()
	return s
}

// OnReady installs a hook invoked on the loop once the relay has assigned
// this client its identity. Set before Run.
func (s *Session) OnReady(fn func()) { s.onReady = fn }

// Accessors for the embedding layer (UI, CLI). The core never renders.
func (s *Session) Registry() *Registry      { return s.registry }
func (s *Session) Tracks() *TrackManager    { return s.tracks }
func (s *Session) AI() *AIRelay             { return s.ai }
func (s *Session) Timer() *TimerCoordinator { return s.timer }
func (s *Session) Self() domain.PeerID      { return s.self }

// dispatchTable is the one place message kinds map to behavior, so the
// transition surface stays explicit and exhaustive.
func (s *Session) dispatchTable() map[core.Kind]func(core.Message) {
	return map[core.Kind]func(core.Message){
		core.KindPeersSnapshot: s.handleSnapshot,
		core.KindPeerJoined: func(m core.Message) {
			s.neg.HandlePeerJoined(m.PeerID, m.Name)
		},
		core.KindPeerLeft: func(m core.Message) {
			s.neg.ClosePeer(m.PeerID)
		},
		core.KindOffer: func(m core.Message) {
			s.neg.HandleOffer(m.From, m.SDP)
		},
		core.KindAnswer: func(m core.Message) {
			s.neg.HandleAnswer(m.From, m.SDP)
		},
		core.KindICECandidate: func(m core.Message) {
			s.neg.HandleCandidate(m.From, webrtc.ICECandidateInit{
				Candidate:     m.Candidate,
				SDPMid:        m.SDPMid,
				SDPMLineIndex: m.SDPMLineIndex,
			})
		},
		core.KindMuteStatus: func(m core.Message) {
			s.registry.Upsert(m.From, func(e *Entry) {
				e.Peer.AudioMuted = m.AudioMuted
				e.Peer.VideoMuted = m.VideoMuted
			})
		},
		core.KindScreenShareStart: func(m core.Message) {
			s.logger.Info().Str("peer", string(m.From)).Msg("peer started screen share")
		},
		core.KindScreenShareStop: func(m core.Message) {
			s.logger.Info().Str("peer", string(m.From)).Msg("peer stopped screen share")
		},
		core.KindAIConnected: func(m core.Message) {
			s.ai.HandleAIConnected(m.HostID)
		},
		core.KindAIDisconnected: func(m core.Message) {
			s.ai.HandleAIDisconnected()
		},
		core.KindWorkshopStarted: func(m core.Message) {
			s.timer.HandleStarted(m)
		},
		core.KindRequestSync: func(m core.Message) {
			s.timer.HandleRequestSync(m.From)
		},
		core.KindTimerSync: func(m core.Message) {
			s.timer.HandleSync(m)
		},
		core.KindTimerPaused: func(m core.Message) {
			s.timer.HandlePaused(m)
		},
		core.KindPhaseChanged: func(m core.Message) {
			s.timer.HandlePhaseChanged(m.Phase)
		},
		core.KindError: func(m core.Message) {
			s.logger.Warn().Str("error", m.Error).Msg("relay error")
		},
	}
}

// handleSnapshot runs once on join: the relay tells the newcomer who it
// is and who was already here. The newcomer never offers; the existing
// side initiates toward it.
func (s *Session) handleSnapshot(m core.Message) {
	if s.self == "" && m.PeerID != "" {
		s.self = m.PeerID
		s.neg.self = m.PeerID
		s.ai.setSelf(m.PeerID)
		if s.onReady != nil {
			s.onReady()
		}
	}
	s.neg.HandleSnapshot(m.PeerIDs)
	// Late joiner: ask the room where the clock stands.
	if err := s.timer.RequestSync(); err != nil {
		s.logger.Error().Err(err).Msg("request timer sync")
	}
}

// Join acquires local media and announces this client to the relay.
// Device failure aborts the join; the transport stays usable for retry.
func (s *Session) Join(ctx context.Context) error {
	if err := s.tracks.AcquireCamera(ctx); err != nil {
		return err
	}
	return s.transport.Send(core.Message{
		Kind:    core.KindJoin,
		Session: s.sessionID,
		Name:    s.name,
	})
}

// Leave announces departure and releases everything.
func (s *Session) Leave() error {
	err := s.transport.Send(core.Message{Kind: core.KindLeave})
	s.teardown()
	return err
}

// Run processes the event loop until ctx is done or the transport drops.
func (s *Session) Run(ctx context.Context) error {
	go s.timer.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			s.teardown()
			return ctx.Err()
		case fn := <-s.queue:
			fn()
		case m, ok := <-s.transport.Receive():
			if !ok {
				// Transport disconnect: every peer connection goes, local
				// media is released; a reconnect starts afresh.
				s.logger.Warn().Msg("transport closed, tearing down")
				s.teardown()
				return nil
			}
			s.dispatch(m)
		}
	}
}

func (s *Session) dispatch(m core.Message) {
	h, ok := s.handlers[m.Kind]
	if !ok {
		s.logger.Warn().Str("type", string(m.Kind)).Msg("unknown signal, dropping")
		return
	}
	h(m)
}

// post enqueues a connection callback onto the loop; ordering between a
// peer's own events is preserved, interleaving across peers is expected.
func (s *Session) post(fn func()) {
	s.queue <- fn
}

func (s *Session) onPeerConnected(id domain.PeerID) {
	s.logger.Info().Str("peer", string(id)).Msg("peer connected")
	// If we host the agent, the new connection needs its audio too.
	s.ai.FanOutToPeers()
}

// onRemoteTrack classifies inbound tracks: the agent's forwarded voice is
// adopted onto the synthetic entry, everything else is a participant feed
// the embedding layer renders.
func (s *Session) onRemoteTrack(id domain.PeerID, track *webrtc.TrackRemote) {
	if track.ID() == "ai-audio" {
		s.ai.AdoptRemoteAgentAudio(track)
		return
	}
	s.logger.Info().
		Str("peer", string(id)).
		Str("kind", track.Kind().String()).
		Str("track_id", track.ID()).
		Msg("participant track")
}

func (s *Session) teardown() {
	s.ai.Shutdown()
	s.registry.Clear()
	s.tracks.Release()
}
