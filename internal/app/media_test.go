package app

import (
	"context"
	"errors"
	"testing"

	"github.com/ykwon/stormcall/internal/core"
	"github.com/ykwon/stormcall/internal/domain"
)

func newTestTrackManager(t *testing.T) (*TrackManager, *Registry, *fakeTransport, *fakeProvider) {
	t.Helper()
	reg := NewRegistry()
	tr := newFakeTransport()
	p := newFakeProvider()
	m := NewTrackManager(reg, tr, p, runInline)
	return m, reg, tr, p
}

func registerPeers(reg *Registry, n int) []*fakeConn {
	conns := make([]*fakeConn, 0, n)
	for i := 0; i < n; i++ {
		c := &fakeConn{}
		id := domain.PeerID(rune('a' + i))
		reg.Upsert("peer-"+id, func(e *Entry) {
			e.Conn = c
			e.State = core.NegotiationConnected
		})
		conns = append(conns, c)
	}
	return conns
}

func TestTrackManagerAttachLocalTracks(t *testing.T) {
	t.Parallel()
	m, _, _, p := newTestTrackManager(t)

	conn := &fakeConn{}
	if err := m.AttachLocalTracks(conn); !errors.Is(err, ErrNoCamera) {
		t.Fatalf("expected ErrNoCamera before acquisition, got %v", err)
	}

	if err := m.AcquireCamera(context.Background()); err != nil {
		t.Fatalf("AcquireCamera failed: %v", err)
	}
	if err := m.AttachLocalTracks(conn); err != nil {
		t.Fatalf("AttachLocalTracks failed: %v", err)
	}
	if len(conn.tracks) != 2 {
		t.Fatalf("expected audio+video attached, got %d tracks", len(conn.tracks))
	}
	if conn.tracks[1].ID() != p.video.track.ID() {
		t.Errorf("expected camera video attached, got %q", conn.tracks[1].ID())
	}
}

func TestTrackManagerScreenShareSwapsEveryPeer(t *testing.T) {
	t.Parallel()
	m, reg, tr, p := newTestTrackManager(t)
	if err := m.AcquireCamera(context.Background()); err != nil {
		t.Fatal(err)
	}
	conns := registerPeers(reg, 3)

	if err := m.StartScreenShare(context.Background()); err != nil {
		t.Fatalf("StartScreenShare failed: %v", err)
	}
	if m.ActiveVideoSource() != domain.VideoSourceScreen {
		t.Fatalf("active source is %v, want screen", m.ActiveVideoSource())
	}
	for i, c := range conns {
		if c.video == nil || c.video.ID() != p.screen.track.ID() {
			t.Errorf("peer %d did not receive the screen track", i)
		}
	}
	last, _ := tr.lastSent()
	if last.Kind != core.KindScreenShareStart {
		t.Errorf("expected screen_share_start broadcast, got %v", last.Kind)
	}

	// Stop restores the camera everywhere.
	if err := m.StopScreenShare(); err != nil {
		t.Fatalf("StopScreenShare failed: %v", err)
	}
	if m.ActiveVideoSource() != domain.VideoSourceCamera {
		t.Fatal("active source did not return to camera")
	}
	for i, c := range conns {
		if c.video.ID() != p.video.track.ID() {
			t.Errorf("peer %d did not return to the camera track", i)
		}
	}
	if !p.screen.closed {
		t.Error("screen source not closed on stop")
	}

	// A second stop is a no-op.
	sent := len(tr.sentKinds())
	if err := m.StopScreenShare(); err != nil {
		t.Fatalf("second StopScreenShare failed: %v", err)
	}
	if len(tr.sentKinds()) != sent {
		t.Error("idempotent stop broadcast again")
	}
}

func TestTrackManagerSetActiveVideoSource(t *testing.T) {
	t.Parallel()
	m, _, _, _ := newTestTrackManager(t)
	if err := m.AcquireCamera(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := m.SetActiveVideoSource(context.Background(), domain.VideoSourceScreen); err != nil {
		t.Fatal(err)
	}
	if m.ActiveVideoSource() != domain.VideoSourceScreen {
		t.Fatal("screen not active")
	}
	if err := m.SetActiveVideoSource(context.Background(), domain.VideoSourceCamera); err != nil {
		t.Fatal(err)
	}
	if m.ActiveVideoSource() != domain.VideoSourceCamera {
		t.Fatal("camera not restored")
	}
}

func TestTrackManagerScreenAcquisitionFailure(t *testing.T) {
	t.Parallel()
	m, reg, tr, p := newTestTrackManager(t)
	if err := m.AcquireCamera(context.Background()); err != nil {
		t.Fatal(err)
	}
	conns := registerPeers(reg, 2)
	p.screenErr = errors.New("capture denied")

	if err := m.StartScreenShare(context.Background()); err == nil {
		t.Fatal("expected error from failed screen acquisition")
	}
	if m.ActiveVideoSource() != domain.VideoSourceCamera {
		t.Error("failed acquisition changed the active source")
	}
	for i, c := range conns {
		if c.video != nil {
			t.Errorf("peer %d had its track replaced despite failure", i)
		}
	}
	if len(tr.sentKinds()) != 0 {
		t.Error("failed acquisition broadcast a status")
	}
}

func TestTrackManagerCaptureEndedStopsShare(t *testing.T) {
	t.Parallel()
	m, _, _, p := newTestTrackManager(t)
	if err := m.AcquireCamera(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.StartScreenShare(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.screen.onEnded == nil {
		t.Fatal("no ended hook installed on the screen source")
	}

	// The OS ends the capture; the hook drives the normal stop path.
	p.screen.onEnded()
	if m.ActiveVideoSource() != domain.VideoSourceCamera {
		t.Error("capture end did not return to camera")
	}
}

func TestTrackManagerToggles(t *testing.T) {
	t.Parallel()
	m, _, tr, p := newTestTrackManager(t)
	if err := m.AcquireCamera(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := m.ToggleAudio(); err != nil {
		t.Fatal(err)
	}
	audio, video := m.Muted()
	if !audio || video {
		t.Errorf("expected audio muted only, got audio=%v video=%v", audio, video)
	}
	if p.audio.enabled {
		t.Error("audio source still enabled after mute")
	}
	last, _ := tr.lastSent()
	if last.Kind != core.KindMuteStatus || !last.AudioMuted {
		t.Errorf("expected mute_status with audio_muted, got %+v", last)
	}

	if err := m.ToggleAudio(); err != nil {
		t.Fatal(err)
	}
	if !p.audio.enabled {
		t.Error("audio source not re-enabled after unmute")
	}
}

func TestTrackManagerRelease(t *testing.T) {
	t.Parallel()
	m, _, _, p := newTestTrackManager(t)
	if err := m.AcquireCamera(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.StartScreenShare(context.Background()); err != nil {
		t.Fatal(err)
	}

	m.Release()
	if !p.audio.closed || !p.video.closed || !p.screen.closed {
		t.Error("Release left sources open")
	}
	if m.ActiveVideoSource() != domain.VideoSourceCamera {
		t.Error("Release did not reset the active source")
	}
}
