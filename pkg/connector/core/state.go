package core

// State represents the connector lifecycle state
type State int

const (
	// StateDisconnected is the initial and final state
	StateDisconnected State = iota
	// StateConnecting is held while the session is being opened
	StateConnecting
	// StateConnected means the session is open, polling or idle
	StateConnected
	// StateDisconnecting is held while the session is being released
	StateDisconnecting
	// StateError means the last connect attempt or poll tick failed
	StateError
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// IsOpen reports whether a session exists in this state
func (s State) IsOpen() bool {
	return s == StateConnected || s == StateError
}

// CanTransition reports whether the state machine allows moving from s to next
func (s State) CanTransition(next State) bool {
	switch s {
	case StateDisconnected:
		return next == StateConnecting
	case StateConnecting:
		return next == StateConnected || next == StateError || next == StateDisconnected
	case StateConnected:
		return next == StateDisconnecting || next == StateError
	case StateError:
		return next == StateConnected || next == StateDisconnecting || next == StateDisconnected
	case StateDisconnecting:
		return next == StateDisconnected
	default:
		return false
	}
}
