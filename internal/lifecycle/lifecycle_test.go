package lifecycle

import (
	"testing"
	"time"
)

// TestInitialState verifies a new machine starts Idle.
func TestInitialState(t *testing.T) {
	m := New(time.Minute)
	if m.State() != Idle {
		t.Errorf("Expected Idle, got %v", m.State())
	}
}

// TestFullCycle walks Idle -> Waiting -> Connected -> Idle.
func TestFullCycle(t *testing.T) {
	m := New(time.Minute)
	now := time.Now()

	if !m.EnterWaiting(now) {
		t.Fatal("EnterWaiting from Idle should succeed")
	}
	if m.State() != WaitingForConnection {
		t.Errorf("Expected WaitingForConnection, got %v", m.State())
	}
	if !m.WaitingSince().Equal(now) {
		t.Errorf("Expected waitingSince %v, got %v", now, m.WaitingSince())
	}

	if !m.EnterConnected() {
		t.Fatal("EnterConnected from WaitingForConnection should succeed")
	}
	if m.State() != Connected {
		t.Errorf("Expected Connected, got %v", m.State())
	}

	if !m.EnterIdle() {
		t.Fatal("EnterIdle from Connected should succeed")
	}
	if m.State() != Idle {
		t.Errorf("Expected Idle, got %v", m.State())
	}
}

// TestInvalidTransitions verifies transitions outside the table are rejected
// and leave the state unchanged.
func TestInvalidTransitions(t *testing.T) {
	m := New(time.Minute)

	// EnterConnected without waiting first
	if m.EnterConnected() {
		t.Error("EnterConnected from Idle should fail")
	}
	if m.State() != Idle {
		t.Errorf("State changed on rejected transition: %v", m.State())
	}

	// EnterIdle when already Idle (close_stream no-op)
	if m.EnterIdle() {
		t.Error("EnterIdle from Idle should report no-op")
	}

	// EnterWaiting twice
	m.EnterWaiting(time.Now())
	if m.EnterWaiting(time.Now()) {
		t.Error("EnterWaiting from WaitingForConnection should fail")
	}

	// EnterWaiting while Connected
	m.EnterConnected()
	if m.EnterWaiting(time.Now()) {
		t.Error("EnterWaiting from Connected should fail")
	}
	if m.State() != Connected {
		t.Errorf("State changed on rejected transition: %v", m.State())
	}
}

// TestWaitingExpired verifies the waiting timeout fires only in
// WaitingForConnection and only after the full timeout has elapsed.
func TestWaitingExpired(t *testing.T) {
	m := New(10 * time.Second)
	start := time.Now()

	// Never expired in Idle
	if m.WaitingExpired(start.Add(time.Hour)) {
		t.Error("WaitingExpired should be false in Idle")
	}

	m.EnterWaiting(start)

	if m.WaitingExpired(start.Add(5 * time.Second)) {
		t.Error("WaitingExpired before the deadline should be false")
	}
	if m.WaitingExpired(start.Add(10 * time.Second)) {
		t.Error("WaitingExpired exactly at the deadline should be false")
	}
	if !m.WaitingExpired(start.Add(11 * time.Second)) {
		t.Error("WaitingExpired past the deadline should be true")
	}

	// Never expired once Connected
	m.EnterConnected()
	if m.WaitingExpired(start.Add(time.Hour)) {
		t.Error("WaitingExpired should be false in Connected")
	}
}

// TestWaitingSinceReset verifies the waiting timestamp is cleared on the way
// back to Idle and re-recorded on the next cycle.
func TestWaitingSinceReset(t *testing.T) {
	m := New(time.Minute)

	first := time.Now()
	m.EnterWaiting(first)
	m.EnterIdle()

	if !m.WaitingSince().IsZero() {
		t.Errorf("Expected zero waitingSince after EnterIdle, got %v", m.WaitingSince())
	}

	second := first.Add(time.Hour)
	m.EnterWaiting(second)
	if !m.WaitingSince().Equal(second) {
		t.Errorf("Expected waitingSince %v, got %v", second, m.WaitingSince())
	}
}

// TestStateString verifies the log-friendly names.
func TestStateString(t *testing.T) {
	cases := map[State]string{
		Idle:                 "idle",
		WaitingForConnection: "waiting_for_connection",
		Connected:            "connected",
		State(99):            "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
