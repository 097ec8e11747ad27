package app

import (
	"context"
	"errors"
	"testing"

	"github.com/ykwon/stormcall/internal/core"
	"github.com/ykwon/stormcall/internal/domain"
)

func newTestAIRelay(t *testing.T) (*AIRelay, *Registry, *fakeTransport, *fakeDialer, *fakeAgent) {
	t.Helper()
	reg := NewRegistry()
	tr := newFakeTransport()
	dialer := newFakeDialer()
	agent := &fakeAgent{}
	a := NewAIRelay(AIRelayDeps{
		Self:        "self",
		Registry:    reg,
		Transport:   tr,
		Dial:        dialer.dial,
		Port:        agent,
		AttachAudio: func(conn core.MediaConn) error { return conn.AddTrack(&fakeTrack{id: "mic-audio"}) },
		Post:        runInline,
	})
	return a, reg, tr, dialer, agent
}

func TestAIRelayConnectAgent(t *testing.T) {
	t.Parallel()
	a, reg, tr, dialer, agent := newTestAIRelay(t)

	if err := a.ConnectAgent(context.Background(), "session-1"); err != nil {
		t.Fatalf("ConnectAgent failed: %v", err)
	}
	if !a.IsLocalHost() {
		t.Fatal("host flag not set after connect")
	}
	// The offer sent to the agent endpoint is the gathered one.
	if len(agent.offers) != 1 || agent.offers[0] != "gathered-offer-sdp" {
		t.Fatalf("expected one gathered offer, got %v", agent.offers)
	}
	// The agent shows up as a participant.
	e, ok := reg.Get(domain.AIParticipantID)
	if !ok || !e.Peer.IsAI || !e.Peer.IsLocalHost {
		t.Fatalf("agent entry wrong: %+v", e.Peer)
	}
	last, _ := tr.lastSent()
	if last.Kind != core.KindAIConnected || last.HostID != "self" {
		t.Fatalf("expected ai_connected with host id, got %+v", last)
	}
	// Our microphone rides on the agent connection.
	conn := dialer.conn(domain.AIParticipantID)
	if !conn.HasTrack("mic-audio") {
		t.Error("microphone not attached to agent connection")
	}

	// Connecting twice is a no-op.
	if err := a.ConnectAgent(context.Background(), "session-1"); err != nil {
		t.Fatalf("second ConnectAgent errored: %v", err)
	}
	if len(agent.offers) != 1 {
		t.Error("second connect re-dialed the agent")
	}
}

func TestAIRelayConnectFailureLeavesPeersAlone(t *testing.T) {
	t.Parallel()
	a, reg, tr, _, agent := newTestAIRelay(t)
	peers := registerPeers(reg, 2)
	agent.exchangeErr = errors.New("endpoint down")

	if err := a.ConnectAgent(context.Background(), "session-1"); err == nil {
		t.Fatal("expected failure from SDP exchange")
	}
	if a.IsLocalHost() {
		t.Error("host flag set after failed connect")
	}
	if _, ok := reg.Get(domain.AIParticipantID); ok {
		t.Error("agent entry registered despite failure")
	}
	for i, c := range peers {
		if c.closed {
			t.Errorf("peer %d connection closed by agent failure", i)
		}
	}
	if len(tr.sentKinds()) != 0 {
		t.Error("failed connect announced the agent")
	}
}

func TestAIRelayFanOutIdempotent(t *testing.T) {
	t.Parallel()
	a, reg, _, _, _ := newTestAIRelay(t)
	peers := registerPeers(reg, 3)

	track := &fakeTrack{id: "ai-audio"}
	a.SetAgentAudio(track)
	a.FanOutToPeers()
	a.FanOutToPeers()

	for i, c := range peers {
		n := 0
		for _, tr := range c.tracks {
			if tr.ID() == "ai-audio" {
				n++
			}
		}
		if n != 1 {
			t.Errorf("peer %d carries the agent track %d times", i, n)
		}
	}
}

func TestAIRelayFanOutSkipsAgentEntry(t *testing.T) {
	t.Parallel()
	a, reg, _, _, _ := newTestAIRelay(t)
	agentConn := &fakeConn{}
	reg.Upsert(domain.AIParticipantID, func(e *Entry) {
		e.Peer.IsAI = true
		e.Conn = agentConn
	})

	a.SetAgentAudio(&fakeTrack{id: "ai-audio"})
	a.FanOutToPeers()
	if len(agentConn.tracks) != 0 {
		t.Error("agent audio fanned back to the agent connection")
	}
}

func TestAIRelayNonHostAnnouncement(t *testing.T) {
	t.Parallel()
	a, reg, _, dialer, _ := newTestAIRelay(t)

	a.HandleAIConnected("peer-host")
	e, ok := reg.Get(domain.AIParticipantID)
	if !ok || !e.Peer.IsAI || e.Peer.IsLocalHost {
		t.Fatalf("non-host agent entry wrong: %+v", e.Peer)
	}
	if len(dialer.conns) != 0 {
		t.Error("non-host dialed the agent")
	}

	a.HandleAIDisconnected()
	if _, ok := reg.Get(domain.AIParticipantID); ok {
		t.Error("agent entry survived disconnect")
	}
}

func TestAIRelayTeardown(t *testing.T) {
	t.Parallel()
	a, reg, tr, dialer, _ := newTestAIRelay(t)
	if err := a.ConnectAgent(context.Background(), "session-1"); err != nil {
		t.Fatal(err)
	}
	conn := dialer.conn(domain.AIParticipantID)

	a.Teardown()
	if !conn.closed {
		t.Error("agent connection not closed")
	}
	if a.IsLocalHost() {
		t.Error("host flag survived teardown")
	}
	if _, ok := reg.Get(domain.AIParticipantID); ok {
		t.Error("agent entry survived teardown")
	}
	last, _ := tr.lastSent()
	if last.Kind != core.KindAIDisconnected {
		t.Errorf("expected ai_disconnected broadcast, got %v", last.Kind)
	}

	// Teardown twice is safe and silent the second time.
	sent := len(tr.sentKinds())
	a.Teardown()
	if len(tr.sentKinds()) != sent {
		t.Error("second teardown broadcast again")
	}
}

func TestAIRelayConnectAbortsAfterShutdown(t *testing.T) {
	t.Parallel()
	a, reg, tr, dialer, agent := newTestAIRelay(t)
	exchanging := make(chan struct{})
	gate := make(chan struct{})
	agent.exchanging = exchanging
	agent.exchangeGate = gate

	done := make(chan error, 1)
	go func() { done <- a.ConnectAgent(context.Background(), "session-1") }()

	// The session ends while the SDP exchange is still in flight.
	<-exchanging
	a.Shutdown()
	close(gate)

	if err := <-done; !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}
	if a.IsLocalHost() {
		t.Error("host flag set after shutdown")
	}
	if conn := dialer.conn(domain.AIParticipantID); !conn.closed {
		t.Error("agent connection left open")
	}
	if _, ok := reg.Get(domain.AIParticipantID); ok {
		t.Error("agent entry registered into an ended session")
	}
	for _, k := range tr.sentKinds() {
		if k == core.KindAIConnected {
			t.Error("ai_connected broadcast into an ended session")
		}
	}

	// Later attempts fail fast, they do not dial.
	dials := len(dialer.conns)
	if err := a.ConnectAgent(context.Background(), "session-1"); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded on connect after shutdown, got %v", err)
	}
	if len(dialer.conns) != dials {
		t.Error("connect after shutdown dialed the agent")
	}
}
