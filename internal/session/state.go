// Package session implements the per-connection FIX administrative state
// machine: logon handshake, heartbeats, test requests, sequence management,
// resend and gap-fill, reject handling, graceful logout, and end-of-day
// reset.
package session

import (
	"sync/atomic"
	"time"
)

// State is one node of the session FSM graph.
type State int32

const (
	CREATED State = iota
	CONNECTING
	CONNECTED
	LOGON_SENT
	LOGGED_ON
	RESENDING
	LOGOUT_SENT
	DISCONNECTED
)

func (s State) String() string {
	switch s {
	case CREATED:
		return "CREATED"
	case CONNECTING:
		return "CONNECTING"
	case CONNECTED:
		return "CONNECTED"
	case LOGON_SENT:
		return "LOGON_SENT"
	case LOGGED_ON:
		return "LOGGED_ON"
	case RESENDING:
		return "RESENDING"
	case LOGOUT_SENT:
		return "LOGOUT_SENT"
	case DISCONNECTED:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// StateChange is emitted to state listeners on every FSM transition,
// carrying enough context (old/new state, timestamp, and an optional
// cause) for an observer to reconstruct why the session moved.
type StateChange struct {
	SessionID string
	Old, New  State
	Timestamp time.Time
	Cause     error
}

// fsm wraps the atomic state word and enforces the FSM invariant: writes
// go through a single compare-and-set discipline, so observers see a
// monotone sequence of (old,new) transitions.
type fsm struct {
	state atomic.Int32
}

func newFSM() *fsm {
	f := &fsm{}
	f.state.Store(int32(CREATED))
	return f
}

// Current returns the current state.
func (f *fsm) Current() State {
	return State(f.state.Load())
}

// transition attempts to move from `from` to `to` with a single
// CompareAndSwap; every call site already knows the state it expects to
// be leaving, so a failed swap means another path got there first.
func (f *fsm) transition(from, to State) bool {
	return f.state.CompareAndSwap(int32(from), int32(to))
}

// forceTo unconditionally sets the state, used only for local disconnect /
// channel-closed / failed-connect handling, where any non-DISCONNECTED
// state may transition straight to DISCONNECTED.
func (f *fsm) forceTo(to State) (old State) {
	for {
		cur := f.Current()
		if f.state.CompareAndSwap(int32(cur), int32(to)) {
			return cur
		}
	}
}

// isLoggedOn / canSendAppMessage are the predicates derived from the
// current FSM state.
func (f *fsm) isLoggedOn() bool        { return f.Current() == LOGGED_ON }
func (f *fsm) canSendAppMessage() bool { return f.Current() == LOGGED_ON }
