package domain

import "time"

// TimerState is the shared notion of workshop time. At most one of
// "not started", "running", "paused" holds: StartedAt nil means not
// started; IsPaused implies IsRunning was true and PausedElapsed carries
// the frozen value every client adopted from the pause broadcast.
type TimerState struct {
	StartedAt     *time.Time
	IsRunning     bool
	IsPaused      bool
	PausedElapsed time.Duration
	Duration      time.Duration
	Phase         Phase
}

// Elapsed computes the locally observed elapsed time at now. While paused
// the adopted broadcast value is authoritative, not the local clock.
func (t TimerState) Elapsed(now time.Time) time.Duration {
	switch {
	case t.IsPaused:
		return t.PausedElapsed
	case t.IsRunning && t.StartedAt != nil:
		return now.Sub(*t.StartedAt)
	default:
		return 0
	}
}

// Remaining is Duration minus Elapsed, floored at zero.
func (t TimerState) Remaining(now time.Time) time.Duration {
	r := t.Duration - t.Elapsed(now)
	if r < 0 {
		return 0
	}
	return r
}
