package call

// State is the negotiation state of one call session. A session reaches
// Ending exactly once and is never reused; a new session is constructed
// for any subsequent call.
type State int

const (
	StateIdle State = iota
	StateOutgoing
	StateIncomingPending
	StateNegotiating
	StateActive
	StateEnding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOutgoing:
		return "outgoing"
	case StateIncomingPending:
		return "incoming-pending"
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	default:
		return "unknown"
	}
}
