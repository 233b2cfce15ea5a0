package session

import "fmt"

// State is the lifecycle of one media stream session.
//
//	IDLE ──start/media──▶ ACTIVE ──stop/transport error──▶ CLOSED
type State int

const (
	StateIdle State = iota
	StateActive
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateActive:
		return "ACTIVE"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Info is a point-in-time view of a session.
type Info struct {
	ID         string
	StreamSid  string
	CallSid    string
	State      State
	Frames     uint64
	Utterances int
}
