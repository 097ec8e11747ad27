package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ykwon/stormcall/internal/core"
	"github.com/ykwon/stormcall/internal/domain"
	"github.com/ykwon/stormcall/internal/media"
)

var ErrNoCamera = errors.New("camera bundle not acquired")

// TrackManager exclusively owns the local capture sources and mirrors the
// active video source onto every registered connection. Connections
// attach sources but never mutate them.
type TrackManager struct {
	registry  *Registry
	transport core.Transport
	provider  media.CaptureProvider
	// post moves source completion callbacks onto the session loop.
	post func(func())

	camera *media.Bundle
	screen media.Source
	active domain.VideoSource

	audioMuted bool
	videoMuted bool
}

func NewTrackManager(registry *Registry, transport core.Transport, provider media.CaptureProvider, post func(func())) *TrackManager {
	return &TrackManager{
		registry:  registry,
		transport: transport,
		provider:  provider,
		post:      post,
		active:    domain.VideoSourceCamera,
	}
}

// AcquireCamera opens the camera+microphone bundle. On failure nothing
// changes and the caller may retry.
func (m *TrackManager) AcquireCamera(ctx context.Context) error {
	bundle, err := m.provider.OpenCamera(ctx)
	if err != nil {
		return fmt.Errorf("acquire camera: %w", err)
	}
	m.camera = bundle
	return nil
}

// AttachLocalTracks puts the microphone and the active video source on a
// fresh connection. Called by the negotiation layer before producing an
// offer or answer.
func (m *TrackManager) AttachLocalTracks(conn core.MediaConn) error {
	if m.camera == nil {
		return ErrNoCamera
	}
	if err := conn.AddTrack(m.camera.Audio.Track()); err != nil {
		return err
	}
	return conn.AddTrack(m.activeVideoTrack())
}

// AttachAudioTrack puts only the microphone on a connection. The agent
// dialogue is audio-only.
func (m *TrackManager) AttachAudioTrack(conn core.MediaConn) error {
	if m.camera == nil {
		return ErrNoCamera
	}
	return conn.AddTrack(m.camera.Audio.Track())
}

func (m *TrackManager) activeVideoTrack() webrtc.TrackLocal {
	if m.active == domain.VideoSourceScreen && m.screen != nil {
		return m.screen.Track()
	}
	return m.camera.Video.Track()
}

func (m *TrackManager) ActiveVideoSource() domain.VideoSource { return m.active }

// SetActiveVideoSource selects which capture feeds the outgoing video.
func (m *TrackManager) SetActiveVideoSource(ctx context.Context, src domain.VideoSource) error {
	if src == domain.VideoSourceScreen {
		return m.StartScreenShare(ctx)
	}
	return m.StopScreenShare()
}

func (m *TrackManager) Muted() (audio, video bool) { return m.audioMuted, m.videoMuted }

// StartScreenShare acquires the screen source, swaps it onto every
// connection and announces it. Acquisition failure leaves the camera
// active and prior state untouched.
func (m *TrackManager) StartScreenShare(ctx context.Context) error {
	if m.active == domain.VideoSourceScreen {
		return nil
	}
	src, err := m.provider.OpenScreen(ctx)
	if err != nil {
		return fmt.Errorf("acquire screen: %w", err)
	}
	m.screen = src
	m.active = domain.VideoSourceScreen
	// The OS chrome can end the capture without us: same stop path as an
	// explicit stop, delivered through the completion hook.
	src.OnEnded(func() {
		m.post(func() {
			if err := m.StopScreenShare(); err != nil {
				log.Error().Err(err).Str("module", "app.media").Msg("stop after capture ended")
			}
		})
	})
	m.ReplaceOutgoingVideoTrack(src.Track())
	return m.transport.Send(core.Message{Kind: core.KindScreenShareStart})
}

// StopScreenShare returns to the camera. Safe to call twice; the second
// call is a no-op, which also makes the ended-hook path idempotent.
func (m *TrackManager) StopScreenShare() error {
	if m.active != domain.VideoSourceScreen {
		return nil
	}
	m.active = domain.VideoSourceCamera
	if m.screen != nil {
		_ = m.screen.Close()
		m.screen = nil
	}
	if m.camera != nil {
		m.ReplaceOutgoingVideoTrack(m.camera.Video.Track())
	}
	return m.transport.Send(core.Message{Kind: core.KindScreenShareStop})
}

// ReplaceOutgoingVideoTrack swaps the outgoing video sender of every
// registered connection to newTrack, without renegotiation. Per-peer
// failures are logged and do not stop the sweep.
func (m *TrackManager) ReplaceOutgoingVideoTrack(newTrack webrtc.TrackLocal) {
	for _, e := range m.registry.List() {
		if e.Conn == nil || e.Peer.IsAI {
			continue
		}
		if err := e.Conn.ReplaceVideoTrack(newTrack); err != nil {
			log.Error().Err(err).Str("module", "app.media").Str("peer", string(e.Peer.ID)).Msg("replace video track")
		}
	}
}

// ToggleAudio flips microphone enablement and broadcasts the new status.
func (m *TrackManager) ToggleAudio() error {
	m.audioMuted = !m.audioMuted
	if m.camera != nil {
		m.camera.Audio.SetEnabled(!m.audioMuted)
	}
	return m.broadcastMuteStatus()
}

// ToggleVideo flips video enablement and broadcasts the new status.
func (m *TrackManager) ToggleVideo() error {
	m.videoMuted = !m.videoMuted
	if m.camera != nil {
		m.camera.Video.SetEnabled(!m.videoMuted)
	}
	if m.screen != nil {
		m.screen.SetEnabled(!m.videoMuted)
	}
	return m.broadcastMuteStatus()
}

func (m *TrackManager) broadcastMuteStatus() error {
	return m.transport.Send(core.Message{
		Kind:       core.KindMuteStatus,
		AudioMuted: m.audioMuted,
		VideoMuted: m.videoMuted,
	})
}

// Release closes every local source. Used on teardown and transport loss.
func (m *TrackManager) Release() {
	if m.screen != nil {
		_ = m.screen.Close()
		m.screen = nil
	}
	if m.camera != nil {
		_ = m.camera.Audio.Close()
		_ = m.camera.Video.Close()
		m.camera = nil
	}
	m.active = domain.VideoSourceCamera
}
