package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ykwon/stormcall/internal/core"
	"github.com/ykwon/stormcall/internal/domain"
)

// Connection wraps one pion PeerConnection for a remote peer. It
// implements core.MediaConn; all signaling decisions live above it.
type Connection struct {
	pc     *webrtc.PeerConnection
	peer   domain.PeerID
	cancel context.CancelFunc

	onICE       func(webrtc.ICECandidateInit)
	onTrack     func(track *webrtc.TrackRemote)
	onConnected func()
	onClosed    func()

	mu          sync.Mutex
	senders     map[string]*webrtc.RTPSender
	videoSender *webrtc.RTPSender
}

func DefaultConfig(iceURLs []string) webrtc.Configuration {
	if len(iceURLs) == 0 {
		iceURLs = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: iceURLs},
		},
	}
}

func NewConnection(cfg webrtc.Configuration, peer domain.PeerID) (*Connection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &Connection{
		pc:      pc,
		peer:    peer,
		senders: make(map[string]*webrtc.RTPSender),
	}, nil
}

// Dialer adapts NewConnection to core.MediaDialer with a fixed config.
func Dialer(cfg webrtc.Configuration) core.MediaDialer {
	return func(peer domain.PeerID) (core.MediaConn, error) {
		return NewConnection(cfg, peer)
	}
}

func (c *Connection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(c.peer)).Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateDisconnected ||
			s == webrtc.ICEConnectionStateFailed ||
			s == webrtc.ICEConnectionStateClosed {
			cancel()
		}
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(c.peer)).Str("peer_connection_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateConnected && c.onConnected != nil {
			c.onConnected()
		}
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			if c.onClosed != nil {
				c.onClosed()
			}
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("peer", string(c.peer)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		if c.onTrack != nil {
			c.onTrack(track)
		}
	})

	return nil
}

func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	// Candidates trickle through OnICECandidate; no gather wait here.
	return offer, nil
}

// CreateGatheredOffer blocks until ICE gathering completes so the SDP
// carries every candidate. The AI endpoint answers over one HTTP round
// trip and cannot take trickled candidates.
func (c *Connection) CreateGatheredOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	<-gatherComplete
	return *c.pc.LocalDescription(), nil
}

func (c *Connection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (c *Connection) ApplyAnswer(answer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(answer)
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) AddTrack(track webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add track %s: %w", track.ID(), err)
	}
	c.mu.Lock()
	c.senders[track.ID()] = sender
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		c.videoSender = sender
	}
	c.mu.Unlock()

	// Drain RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

// ReplaceVideoTrack swaps the video sender's track without touching the
// SDP, so screen-share start/stop never renegotiates.
func (c *Connection) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	c.mu.Lock()
	sender := c.videoSender
	c.mu.Unlock()
	if sender == nil {
		return fmt.Errorf("replace video track: no video sender on peer %s", c.peer)
	}
	if err := sender.ReplaceTrack(track); err != nil {
		return fmt.Errorf("replace video track: %w", err)
	}
	c.mu.Lock()
	for id, s := range c.senders {
		if s == sender {
			delete(c.senders, id)
		}
	}
	c.senders[track.ID()] = sender
	c.mu.Unlock()
	return nil
}

func (c *Connection) HasTrack(trackID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.senders[trackID]
	return ok
}

func (c *Connection) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.pc != nil {
		if err := c.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("peer", string(c.peer)).Msg("close error")
		} else {
			log.Info().Str("module", "rtc").Str("peer", string(c.peer)).Msg("closed")
		}
	}
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }

func (c *Connection) OnTrack(fn func(track *webrtc.TrackRemote)) { c.onTrack = fn }

func (c *Connection) OnConnected(fn func()) { c.onConnected = fn }

func (c *Connection) OnClosed(fn func()) { c.onClosed = fn }
