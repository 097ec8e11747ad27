// Package media owns local capture sources and the plumbing that moves
// RTP between tracks. Sources are exclusively owned by the track manager;
// peer connections attach them but never mutate them.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrSourceClosed = errors.New("media source closed")

// Source is one local capture source (camera, microphone or screen)
// exposed as an outgoing track.
type Source interface {
	Track() webrtc.TrackLocal
	// SetEnabled pauses or resumes packet flow. Disabled sources keep the
	// sender alive so mute does not renegotiate.
	SetEnabled(enabled bool)
	// OnEnded registers the completion hook. It fires once, when the
	// underlying capture ends on its own (e.g. the user cancels screen
	// capture via the OS chrome) or when Close is called.
	OnEnded(fn func())
	Close() error
}

// Bundle pairs the audio and video sources of one capture device set.
type Bundle struct {
	Audio Source
	Video Source
}

// CaptureProvider acquires local devices. Acquisition can fail (denied,
// no device); callers must leave prior state untouched on error.
type CaptureProvider interface {
	OpenCamera(ctx context.Context) (*Bundle, error)
	OpenScreen(ctx context.Context) (Source, error)
}

// PacketReader yields encoded RTP packets from some capture backend.
// io.EOF means the capture ended.
type PacketReader interface {
	ReadRTP() (*rtp.Packet, error)
	Close() error
}

// rtpSource pumps a PacketReader into a TrackLocalStaticRTP.
type rtpSource struct {
	track  *webrtc.TrackLocalStaticRTP
	reader PacketReader
	cancel context.CancelFunc

	mu      sync.Mutex
	enabled bool
	closed  bool
	onEnded func()
}

// NewRTPSource starts forwarding packets from reader onto a fresh local
// track and returns the source. The pump goroutine stops on reader EOF,
// on Close, or when ctx is done.
func NewRTPSource(ctx context.Context, id, streamID string, codec webrtc.RTPCodecCapability, reader PacketReader) (Source, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(codec, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("create local track %s: %w", id, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &rtpSource{
		track:   track,
		reader:  reader,
		cancel:  cancel,
		enabled: true,
	}
	go s.loop(ctx)
	return s, nil
}

func (s *rtpSource) loop(ctx context.Context) {
	logger := log.With().Str("module", "media.source").Str("track", s.track.ID()).Logger()
	defer s.finish()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, err := s.reader.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Error().Err(err).Msg("source read error, stopping")
			}
			return
		}
		s.mu.Lock()
		enabled := s.enabled && !s.closed
		s.mu.Unlock()
		if !enabled {
			continue
		}
		if err := s.track.WriteRTP(pkt); err != nil {
			logger.Error().Err(err).Msg("source write error, stopping")
			return
		}
	}
}

// finish fires the ended hook exactly once, whichever way the pump stops.
func (s *rtpSource) finish() {
	s.mu.Lock()
	fn := s.onEnded
	s.onEnded = nil
	s.closed = true
	s.mu.Unlock()
	_ = s.reader.Close()
	if fn != nil {
		fn()
	}
}

func (s *rtpSource) Track() webrtc.TrackLocal { return s.track }

func (s *rtpSource) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

func (s *rtpSource) OnEnded(fn func()) {
	s.mu.Lock()
	ended := s.closed
	if !ended {
		s.onEnded = fn
	}
	s.mu.Unlock()
	// Already over; deliver immediately rather than never.
	if ended {
		fn()
	}
}

func (s *rtpSource) Close() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSourceClosed
	}
	s.cancel()
	return nil
}

// SilenceReader produces empty Opus frames at a fixed cadence. It stands
// in for a real capture backend on headless participants and in examples.
type SilenceReader struct {
	Interval time.Duration
	PT       uint8
	SSRC     uint32

	seq  uint16
	ts   uint32
	once sync.Once
	done chan struct{}
}

func NewSilenceReader(ssrc uint32) *SilenceReader {
	return &SilenceReader{Interval: 20 * time.Millisecond, PT: 111, SSRC: ssrc, done: make(chan struct{})}
}

func (r *SilenceReader) ReadRTP() (*rtp.Packet, error) {
	select {
	case <-r.done:
		return nil, io.EOF
	case <-time.After(r.Interval):
	}
	r.seq++
	r.ts += 960 // 20ms at 48kHz
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    r.PT,
			SequenceNumber: r.seq,
			Timestamp:      r.ts,
			SSRC:           r.SSRC,
		},
		Payload: []byte{0xf8, 0xff, 0xfe},
	}, nil
}

func (r *SilenceReader) Close() error {
	r.once.Do(func() { close(r.done) })
	return nil
}
