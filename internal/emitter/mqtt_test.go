package emitter

import (
	"sync"
	"testing"

	"github.com/ktyurin/survcafe/internal/config"
)

// TestEmitWithoutConnection verifies Emit fails cleanly and counts the error
// when no broker connection exists.
func TestEmitWithoutConnection(t *testing.T) {
	e := NewMQTTEmitter(&config.Config{InstanceID: "test"})

	if err := e.Emit(Event{Event: "state_changed"}); err == nil {
		t.Error("Expected error emitting without a connection")
	}

	stats := e.Stats()
	if stats.Connected {
		t.Error("Stats reports connected without a connection")
	}
	if stats.Errors != 1 {
		t.Errorf("Expected 1 error counted, got %d", stats.Errors)
	}
}

// TestConcurrentEmitAndDisconnect verifies the counters stay consistent when
// Emit and Disconnect race; run with -race to catch unguarded reads.
func TestConcurrentEmitAndDisconnect(t *testing.T) {
	e := NewMQTTEmitter(&config.Config{InstanceID: "test"})

	const emits = 50
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < emits; i++ {
			e.Emit(Event{Event: "state_changed"})
		}
	}()
	go func() {
		defer wg.Done()
		e.Disconnect()
	}()

	wg.Wait()

	stats := e.Stats()
	if stats.Errors != emits {
		t.Errorf("Expected %d errors counted, got %d", emits, stats.Errors)
	}
	if stats.Published != 0 {
		t.Errorf("Expected 0 published, got %d", stats.Published)
	}
}
