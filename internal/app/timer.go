package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ykwon/stormcall/internal/core"
	"github.com/ykwon/stormcall/internal/domain"
)

// TimerEventKind names a locally observed threshold crossing. Crossings
// are evaluated per client against its own clock and are deliberately not
// deduplicated across clients.
type TimerEventKind string

const (
	TimerFiveMinutesLeft TimerEventKind = "five_minutes_left"
	TimerExpired         TimerEventKind = "time_expired"
)

type TimerEvent struct {
	Kind  TimerEventKind
	State domain.TimerState
}

// TimerCoordinator keeps the shared workshop clock converged across
// clients. Only reconciliation points travel over the transport (start,
// pause/resume, join-sync); between them each client runs its own tick,
// so drift is bounded by the interval between reconciliation events.
type TimerCoordinator struct {
	transport core.Transport

	mu       sync.Mutex
	state    domain.TimerState
	notified map[TimerEventKind]bool

	interval time.Duration
	now      func() time.Time
	events   chan TimerEvent
	onChange func(domain.TimerState)
}

func NewTimerCoordinator(transport core.Transport, duration time.Duration) *TimerCoordinator {
	return &TimerCoordinator{
		transport: transport,
		state: domain.TimerState{
			Duration: duration,
			Phase:    domain.PhaseOrientation,
		},
		notified: make(map[TimerEventKind]bool),
		interval: time.Second,
		now:      time.Now,
		events:   make(chan TimerEvent, 8),
	}
}

// Events carries threshold notifications to the embedding layer.
func (t *TimerCoordinator) Events() <-chan TimerEvent { return t.events }

// OnChange installs the timer-state listener. Set before Run.
func (t *TimerCoordinator) OnChange(fn func(domain.TimerState)) { t.onChange = fn }

func (t *TimerCoordinator) State() domain.TimerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start begins the workshop clock and broadcasts the reconciliation
// point. Meaningless while already running.
func (t *TimerCoordinator) Start(phase domain.Phase) error {
	t.mu.Lock()
	if t.state.IsRunning {
		t.mu.Unlock()
		return nil
	}
	now := t.now()
	t.state.StartedAt = &now
	t.state.IsRunning = true
	t.state.IsPaused = false
	if phase.Valid() {
		t.state.Phase = phase
	}
	msg := t.startMessageLocked(core.KindWorkshopStarted, "")
	t.mu.Unlock()
	t.notifyChange()
	return t.transport.Send(msg)
}

// RequestSync asks whoever holds current state for a reconciliation
// point. Sent by a client that joined late.
func (t *TimerCoordinator) RequestSync() error {
	return t.transport.Send(core.Message{Kind: core.KindRequestSync})
}

// HandleRequestSync answers a newcomer with the current state, if this
// client has any.
func (t *TimerCoordinator) HandleRequestSync(from domain.PeerID) {
	t.mu.Lock()
	if t.state.StartedAt == nil {
		t.mu.Unlock()
		return
	}
	msg := t.startMessageLocked(core.KindTimerSync, from)
	t.mu.Unlock()
	if err := t.transport.Send(msg); err != nil {
		log.Error().Err(err).Str("module", "app.timer").Str("peer", string(from)).Msg("send timer_sync")
	}
}

// HandleStarted and HandleSync adopt a remote reconciliation point.
func (t *TimerCoordinator) HandleStarted(m core.Message) { t.adopt(m) }

func (t *TimerCoordinator) HandleSync(m core.Message) { t.adopt(m) }

func (t *TimerCoordinator) adopt(m core.Message) {
	started, err := time.Parse(time.RFC3339, m.StartedAt)
	if err != nil {
		log.Warn().Str("module", "app.timer").Str("started_at", m.StartedAt).Msg("bad start timestamp, ignoring")
		return
	}
	t.mu.Lock()
	t.state.StartedAt = &started
	t.state.IsRunning = true
	t.state.IsPaused = false
	if m.DurationMinutes > 0 {
		t.state.Duration = time.Duration(m.DurationMinutes) * time.Minute
	}
	if m.Phase.Valid() {
		t.state.Phase = m.Phase
	}
	t.mu.Unlock()
	t.notifyChange()
}

// Pause freezes or resumes the clock. The broadcast carries this client's
// elapsed value, which everyone (including us) adopts verbatim; the
// broadcaster's value is authoritative and supersedes local drift.
func (t *TimerCoordinator) Pause(paused bool) error {
	t.mu.Lock()
	if t.state.StartedAt == nil {
		t.mu.Unlock()
		return nil
	}
	elapsed := int(t.state.Elapsed(t.now()) / time.Second)
	t.mu.Unlock()
	t.applyPause(paused, elapsed)
	return t.transport.Send(core.Message{
		Kind:           core.KindTimerPaused,
		Paused:         paused,
		ElapsedSeconds: elapsed,
	})
}

// HandlePaused adopts a pause/resume reconciliation point from the room.
func (t *TimerCoordinator) HandlePaused(m core.Message) {
	t.applyPause(m.Paused, m.ElapsedSeconds)
}

func (t *TimerCoordinator) applyPause(paused bool, elapsedSeconds int) {
	elapsed := time.Duration(elapsedSeconds) * time.Second
	t.mu.Lock()
	t.state.IsPaused = paused
	t.state.PausedElapsed = elapsed
	// Rebase the local clock on the authoritative elapsed value so the
	// next tick continues from it instead of from local drift.
	rebased := t.now().Add(-elapsed)
	t.state.StartedAt = &rebased
	t.state.IsRunning = true
	t.mu.Unlock()
	t.notifyChange()
}

// SetPhase moves the session to a new stage and tells the room.
func (t *TimerCoordinator) SetPhase(phase domain.Phase) error {
	if !phase.Valid() {
		return fmt.Errorf("unknown phase %q", phase)
	}
	t.mu.Lock()
	t.state.Phase = phase
	t.mu.Unlock()
	t.notifyChange()
	return t.transport.Send(core.Message{
		Kind:  core.KindPhaseChanged,
		Phase: phase,
	})
}

// HandlePhaseChanged tracks the facilitator moving the session along.
func (t *TimerCoordinator) HandlePhaseChanged(phase domain.Phase) {
	if !phase.Valid() {
		return
	}
	t.mu.Lock()
	t.state.Phase = phase
	t.mu.Unlock()
	t.notifyChange()
}

// Reset clears the already-notified set; thresholds may fire again.
func (t *TimerCoordinator) Reset() {
	t.mu.Lock()
	t.notified = make(map[TimerEventKind]bool)
	t.mu.Unlock()
}

// Run drives the local tick until ctx is done. Each threshold fires at
// most once per reset, tracked in the notified set.
func (t *TimerCoordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

func (t *TimerCoordinator) tick() {
	t.mu.Lock()
	if !t.state.IsRunning || t.state.IsPaused {
		t.mu.Unlock()
		return
	}
	now := t.now()
	remaining := t.state.Remaining(now)
	var fired []TimerEvent
	if remaining <= 5*time.Minute && remaining > 0 && !t.notified[TimerFiveMinutesLeft] {
		t.notified[TimerFiveMinutesLeft] = true
		fired = append(fired, TimerEvent{Kind: TimerFiveMinutesLeft, State: t.state})
	}
	if remaining == 0 && !t.notified[TimerExpired] {
		t.notified[TimerExpired] = true
		fired = append(fired, TimerEvent{Kind: TimerExpired, State: t.state})
	}
	t.mu.Unlock()
	for _, ev := range fired {
		select {
		case t.events <- ev:
		default:
			log.Warn().Str("module", "app.timer").Str("event", string(ev.Kind)).Msg("event channel full, dropping")
		}
	}
	t.notifyChange()
}

func (t *TimerCoordinator) startMessageLocked(kind core.Kind, to domain.PeerID) core.Message {
	return core.Message{
		Kind:            kind,
		To:              to,
		StartedAt:       t.state.StartedAt.UTC().Format(time.RFC3339),
		DurationMinutes: int(t.state.Duration / time.Minute),
		Phase:           t.state.Phase,
	}
}

func (t *TimerCoordinator) notifyChange() {
	if t.onChange != nil {
		t.onChange(t.State())
	}
}
