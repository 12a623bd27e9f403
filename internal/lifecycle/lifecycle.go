// Package lifecycle holds the server state machine: which of the three server
// states is active and the timing bookkeeping for the waiting timeout.
//
// The machine is deliberately passive. The control loop is its only mutator
// and performs all side effects (sockets, encoder) itself; the machine just
// guards the transition rules.
package lifecycle

import "time"

// State is the streaming server state
type State int

const (
	// Idle: no listening socket, no connections, encoder stopped
	Idle State = iota
	// WaitingForConnection: listening socket open, no accepted connection yet
	WaitingForConnection
	// Connected: at least one accepted connection, encoder running
	Connected
)

// String returns a log-friendly state name
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case WaitingForConnection:
		return "waiting_for_connection"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Machine tracks the current state and the waiting-timeout deadline.
// Not safe for concurrent use; owned exclusively by the control loop.
type Machine struct {
	state        State
	waitingSince time.Time
	timeout      time.Duration
}

// New creates a machine in Idle with the given waiting timeout.
func New(timeout time.Duration) *Machine {
	return &Machine{state: Idle, timeout: timeout}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// EnterWaiting applies Idle -> WaitingForConnection and records the waiting
// timestamp. Returns false (state unchanged) unless currently Idle.
func (m *Machine) EnterWaiting(now time.Time) bool {
	if m.state != Idle {
		return false
	}
	m.state = WaitingForConnection
	m.waitingSince = now
	return true
}

// EnterConnected applies WaitingForConnection -> Connected. Returns false
// unless currently waiting.
func (m *Machine) EnterConnected() bool {
	if m.state != WaitingForConnection {
		return false
	}
	m.state = Connected
	return true
}

// EnterIdle applies WaitingForConnection/Connected -> Idle. Returns false when
// already Idle (CloseStream in Idle is a no-op).
func (m *Machine) EnterIdle() bool {
	if m.state == Idle {
		return false
	}
	m.state = Idle
	m.waitingSince = time.Time{}
	return true
}

// WaitingExpired reports whether the machine has been waiting for a client
// longer than the configured timeout. Always false outside
// WaitingForConnection.
func (m *Machine) WaitingExpired(now time.Time) bool {
	if m.state != WaitingForConnection {
		return false
	}
	return now.Sub(m.waitingSince) > m.timeout
}

// WaitingSince returns when the machine last entered WaitingForConnection.
func (m *Machine) WaitingSince() time.Time {
	return m.waitingSince
}
