package transport

import "github.com/ruteri/mpc-helper/interfaces"

// Phase is the query lifecycle as tracked by the transport.
type Phase int

const (
	PhaseIdle Phase = iota
	// PhaseStarting covers a ReceiveQuery or PrepareQuery still being handled.
	PhaseStarting
	PhaseQueryActive
	PhaseCompleting
	PhaseKilling
)

func phaseToString(p Phase) string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStarting:
		return "starting"
	case PhaseQueryActive:
		return "query_active"
	case PhaseCompleting:
		return "completing"
	case PhaseKilling:
		return "killing"
	default:
		return "unknown"
	}
}

func (p Phase) String() string { return phaseToString(p) }

func endingPhase(route interfaces.RouteID) Phase {
	if route == interfaces.RouteKillQuery {
		return PhaseKilling
	}
	return PhaseCompleting
}
