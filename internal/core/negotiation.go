package core

import "fmt"

// NegotiationState tracks one remote peer's offer/answer progress.
type NegotiationState int

const (
	NegotiationIdle NegotiationState = iota
	NegotiationOffering
	NegotiationOfferSent
	NegotiationAnswering
	NegotiationAnswerSent
	NegotiationConnected
	NegotiationClosed
	NegotiationFailed
)

func (s NegotiationState) String() string {
	switch s {
	case NegotiationIdle:
		return "idle"
	case NegotiationOffering:
		return "offering"
	case NegotiationOfferSent:
		return "offer_sent"
	case NegotiationAnswering:
		return "answering"
	case NegotiationAnswerSent:
		return "answer_sent"
	case NegotiationConnected:
		return "connected"
	case NegotiationClosed:
		return "closed"
	case NegotiationFailed:
		return "failed"
	}
	return fmt.Sprintf("negotiation(%d)", int(s))
}

// Terminal states accept no further transitions.
func (s NegotiationState) Terminal() bool {
	return s == NegotiationClosed || s == NegotiationFailed
}

// ErrBadTransition is returned when a signaling message arrives in a state
// that cannot accept it. The state machine stays where it was.
type ErrBadTransition struct {
	From  NegotiationState
	Event string
}

func (e *ErrBadTransition) Error() string {
	return fmt.Sprintf("negotiation: %s not accepted in state %s", e.Event, e.From)
}
