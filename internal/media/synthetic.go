package media

import (
	"context"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// SyntheticProvider produces silence audio and a keepalive video stream.
// Headless participants use it to hold a full negotiation surface open
// without real capture hardware.
type SyntheticProvider struct{}

func (SyntheticProvider) OpenCamera(ctx context.Context) (*Bundle, error) {
	audio, err := NewRTPSource(ctx, "mic-audio", "local-stream",
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		NewSilenceReader(rand.Uint32()))
	if err != nil {
		return nil, err
	}
	video, err := NewRTPSource(ctx, "camera-video", "local-stream",
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		NewKeepaliveVideoReader(rand.Uint32()))
	if err != nil {
		audio.Close()
		return nil, err
	}
	return &Bundle{Audio: audio, Video: video}, nil
}

func (SyntheticProvider) OpenScreen(ctx context.Context) (Source, error) {
	return NewRTPSource(ctx, "screen-video", "screen-stream",
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		NewKeepaliveVideoReader(rand.Uint32()))
}

// KeepaliveVideoReader emits minimal VP8 frames at ~30fps. The payload
// is a bare payload descriptor plus an empty partition, enough to keep
// the track flowing.
type KeepaliveVideoReader struct {
	Interval time.Duration
	SSRC     uint32

	seq  uint16
	ts   uint32
	once sync.Once
	done chan struct{}
}

func NewKeepaliveVideoReader(ssrc uint32) *KeepaliveVideoReader {
	return &KeepaliveVideoReader{Interval: 33 * time.Millisecond, SSRC: ssrc, done: make(chan struct{})}
}

func (r *KeepaliveVideoReader) ReadRTP() (*rtp.Packet, error) {
	select {
	case <-r.done:
		return nil, io.EOF
	case <-time.After(r.Interval):
	}
	r.seq++
	r.ts += 3000 // ~33ms at 90kHz
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         true,
			PayloadType:    96,
			SequenceNumber: r.seq,
			Timestamp:      r.ts,
			SSRC:           r.SSRC,
		},
		Payload: []byte{0x10, 0x00, 0x9d, 0x01, 0x2a},
	}, nil
}

func (r *KeepaliveVideoReader) Close() error {
	r.once.Do(func() { close(r.done) })
	return nil
}
