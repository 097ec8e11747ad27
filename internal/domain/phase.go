package domain

// Phase is the event-storming stage a workshop session is in.
type Phase string

const (
	PhaseOrientation      Phase = "orientation"
	PhaseEventElicitation Phase = "event_elicitation"
	PhaseEventRefinement  Phase = "event_refinement"
	PhaseCommandPolicy    Phase = "command_policy"
	PhaseTimelineOrdering Phase = "timeline_ordering"
	PhaseSummary          Phase = "summary"
)

func (p Phase) Valid() bool {
	switch p {
	case PhaseOrientation, PhaseEventElicitation, PhaseEventRefinement,
		PhaseCommandPolicy, PhaseTimelineOrdering, PhaseSummary:
		return true
	}
	return false
}
