package session

// Phase is the connection lifecycle position of a Session.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseSubscribePending
	PhaseReady
	PhaseReconnecting
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseSubscribePending:
		return "subscribe_pending"
	case PhaseReady:
		return "ready"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase by name in JSON responses.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
