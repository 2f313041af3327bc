package bridge

import "encoding/json"

// State represents the lifecycle state of a relay session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosing
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "connecting":
		*s = StateConnecting
	case "active":
		*s = StateActive
	case "closing":
		*s = StateClosing
	case "closed":
		*s = StateClosed
	default:
		*s = StateIdle
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// IsTerminal returns true once the session can never carry traffic again.
func (s State) IsTerminal() bool {
	return s == StateClosed
}

// CanForward returns true if the session may translate media in this state.
func (s State) CanForward() bool {
	return s == StateActive
}
