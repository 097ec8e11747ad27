package media

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Pump copies RTP from an inbound remote track onto one local static
// track. The hosting client runs a Pump on the AI agent's audio so a
// single fan-out track can be attached to every peer connection.
type Pump struct {
	src    *webrtc.TrackRemote
	dst    *webrtc.TrackLocalStaticRTP
	cancel context.CancelFunc
}

// NewPump creates the fan-out track for src and starts the copy loop.
func NewPump(ctx context.Context, src *webrtc.TrackRemote, id, streamID string) (*Pump, error) {
	dst, err := webrtc.NewTrackLocalStaticRTP(src.Codec().RTPCodecCapability, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("create fanout track %s: %w", id, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Pump{src: src, dst: dst, cancel: cancel}

	logger := log.With().
		Str("module", "media.pump").
		Str("track", id).
		Logger()
	go p.loop(ctx, &logger)
	return p, nil
}

// Track is the local fan-out side, safe to attach to many connections.
func (p *Pump) Track() *webrtc.TrackLocalStaticRTP { return p.dst }

func (p *Pump) Stop() { p.cancel() }

func (p *Pump) loop(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("pump ctx done")
			return
		default:
		}
		pkt, _, err := p.src.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Error().Err(err).Msg("pump read RTP error, stopping")
			}
			return
		}
		if err := p.dst.WriteRTP(pkt); err != nil {
			logger.Error().Err(err).Msg("pump write RTP error, stopping")
			return
		}
	}
}
