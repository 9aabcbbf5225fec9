package session

import "fmt"

// Phase is the negotiation state of a single peer session.
type Phase int

const (
	PhaseNew Phase = iota
	PhaseOfferSent
	PhaseOfferReceived
	PhaseAnswerSent
	PhaseStable
	PhaseFailed
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseNew:
		return "NEW"
	case PhaseOfferSent:
		return "OFFER_SENT"
	case PhaseOfferReceived:
		return "OFFER_RECEIVED"
	case PhaseAnswerSent:
		return "ANSWER_SENT"
	case PhaseStable:
		return "STABLE"
	case PhaseFailed:
		return "FAILED"
	case PhaseClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Closed sessions only come from Table.Remove, never from Transition.
var transitions = map[Phase][]Phase{
	PhaseNew:           {PhaseOfferSent, PhaseOfferReceived, PhaseFailed},
	PhaseOfferSent:     {PhaseStable, PhaseOfferReceived, PhaseFailed},
	PhaseOfferReceived: {PhaseAnswerSent, PhaseFailed},
	PhaseAnswerSent:    {PhaseStable, PhaseFailed},
	PhaseStable:        {PhaseOfferSent, PhaseOfferReceived, PhaseFailed},
	PhaseFailed:        {PhaseOfferSent, PhaseOfferReceived},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}
