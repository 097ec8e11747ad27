package app

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/ykwon/stormcall/internal/core"
	"github.com/ykwon/stormcall/internal/domain"
	"github.com/ykwon/stormcall/internal/media"
)

// fakeTransport records outbound messages and feeds inbound ones.
type fakeTransport struct {
	mu   sync.Mutex
	sent []core.Message
	recv chan core.Message
	fail error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{recv: make(chan core.Message, 16)}
}

func (t *fakeTransport) Send(m core.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail != nil {
		return t.fail
	}
	t.sent = append(t.sent, m)
	return nil
}

func (t *fakeTransport) Receive() <-chan core.Message { return t.recv }

func (t *fakeTransport) Close() error { return nil }

func (t *fakeTransport) sentKinds() []core.Kind {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.Kind, 0, len(t.sent))
	for _, m := range t.sent {
		out = append(out, m.Kind)
	}
	return out
}

func (t *fakeTransport) lastSent() (core.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sent) == 0 {
		return core.Message{}, false
	}
	return t.sent[len(t.sent)-1], true
}

// fakeConn is an in-memory MediaConn. Descriptions are canned; track and
// candidate operations record their arguments.
type fakeConn struct {
	peer domain.PeerID

	started bool
	closed  bool

	offerErr  error
	answerErr error
	applyErr  error

	candidates []webrtc.ICECandidateInit
	tracks     []webrtc.TrackLocal
	video      webrtc.TrackLocal

	onICE       func(webrtc.ICECandidateInit)
	onTrack     func(*webrtc.TrackRemote)
	onConnected func()
	onClosed    func()
}

func (c *fakeConn) Start(ctx context.Context) error {
	c.started = true
	return nil
}

func (c *fakeConn) Close() { c.closed = true }

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	if c.offerErr != nil {
		return webrtc.SessionDescription{}, c.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (c *fakeConn) CreateGatheredOffer() (webrtc.SessionDescription, error) {
	if c.offerErr != nil {
		return webrtc.SessionDescription{}, c.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "gathered-offer-sdp"}, nil
}

func (c *fakeConn) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if c.answerErr != nil {
		return webrtc.SessionDescription{}, c.answerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (c *fakeConn) ApplyAnswer(answer webrtc.SessionDescription) error { return c.applyErr }

func (c *fakeConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.candidates = append(c.candidates, ci)
	return nil
}

func (c *fakeConn) AddTrack(track webrtc.TrackLocal) error {
	c.tracks = append(c.tracks, track)
	return nil
}

func (c *fakeConn) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	c.video = track
	return nil
}

func (c *fakeConn) HasTrack(trackID string) bool {
	for _, tr := range c.tracks {
		if tr.ID() == trackID {
			return true
		}
	}
	return false
}

func (c *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }
func (c *fakeConn) OnTrack(fn func(*webrtc.TrackRemote))           { c.onTrack = fn }
func (c *fakeConn) OnConnected(fn func())                          { c.onConnected = fn }
func (c *fakeConn) OnClosed(fn func())                             { c.onClosed = fn }

// fakeDialer hands out fakeConns and remembers them per peer.
type fakeDialer struct {
	mu    sync.Mutex
	conns map[domain.PeerID]*fakeConn
	fail  error
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(map[domain.PeerID]*fakeConn)}
}

func (d *fakeDialer) dial(peer domain.PeerID) (core.MediaConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return nil, d.fail
	}
	c := &fakeConn{peer: peer}
	d.conns[peer] = c
	return c, nil
}

func (d *fakeDialer) conn(peer domain.PeerID) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[peer]
}

// fakeTrack satisfies webrtc.TrackLocal for identity checks only. Bind
// and Unbind are never reached through fakeConn.
type fakeTrack struct {
	id       string
	streamID string
	kind     webrtc.RTPCodecType
}

func (t *fakeTrack) Bind(_ webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return webrtc.RTPCodecParameters{}, errors.New("not bindable")
}

func (t *fakeTrack) Unbind(_ webrtc.TrackLocalContext) error { return nil }

func (t *fakeTrack) ID() string                { return t.id }
func (t *fakeTrack) StreamID() string          { return t.streamID }
func (t *fakeTrack) RID() string               { return "" }
func (t *fakeTrack) Kind() webrtc.RTPCodecType { return t.kind }

// fakeSource is an in-memory media.Source around a fakeTrack.
type fakeSource struct {
	track   *fakeTrack
	enabled bool
	closed  bool
	onEnded func()
}

func newFakeSource(id string) *fakeSource {
	return &fakeSource{track: &fakeTrack{id: id, streamID: "fake-stream"}, enabled: true}
}

func (s *fakeSource) Track() webrtc.TrackLocal { return s.track }
func (s *fakeSource) SetEnabled(enabled bool)  { s.enabled = enabled }
func (s *fakeSource) OnEnded(fn func())        { s.onEnded = fn }
func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

// fakeProvider serves canned sources and can be told to fail.
type fakeProvider struct {
	cameraErr error
	screenErr error

	audio  *fakeSource
	video  *fakeSource
	screen *fakeSource
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		audio:  newFakeSource("mic-audio"),
		video:  newFakeSource("camera-video"),
		screen: newFakeSource("screen-video"),
	}
}

func (p *fakeProvider) OpenCamera(ctx context.Context) (*media.Bundle, error) {
	if p.cameraErr != nil {
		return nil, p.cameraErr
	}
	return &media.Bundle{Audio: p.audio, Video: p.video}, nil
}

func (p *fakeProvider) OpenScreen(ctx context.Context) (media.Source, error) {
	if p.screenErr != nil {
		return nil, p.screenErr
	}
	return p.screen, nil
}

// fakeAgent is a canned AgentPort.
type fakeAgent struct {
	keyErr      error
	exchangeErr error
	// When set, ExchangeSDP signals entry on exchanging and then blocks
	// until exchangeGate closes.
	exchanging   chan struct{}
	exchangeGate chan struct{}
	offers       []string
}

func (a *fakeAgent) EphemeralKey(ctx context.Context, session domain.SessionID) (string, error) {
	if a.keyErr != nil {
		return "", a.keyErr
	}
	return "ephemeral-key", nil
}

func (a *fakeAgent) ExchangeSDP(ctx context.Context, key, offerSDP string) (string, error) {
	if a.exchanging != nil {
		close(a.exchanging)
		a.exchanging = nil
	}
	if a.exchangeGate != nil {
		<-a.exchangeGate
	}
	if a.exchangeErr != nil {
		return "", a.exchangeErr
	}
	a.offers = append(a.offers, offerSDP)
	return "agent-answer-sdp", nil
}

// runInline executes posted callbacks synchronously, standing in for the
// session loop.
func runInline(fn func()) { fn() }
