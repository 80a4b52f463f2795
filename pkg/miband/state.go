package miband

// State is the session lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Authenticated
	Freezed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Authenticated:
		return "authenticated"
	case Freezed:
		return "freezed"
	default:
		return "unknown"
	}
}

// linkUp reports whether the transport is connected in this state.
func (s State) linkUp() bool {
	return s == Connected || s == Authenticated
}

// StateChange is delivered to state observers.
type StateChange struct {
	From State
	To   State
	Err  error // cause, set when a transition is caused by a failure
}
