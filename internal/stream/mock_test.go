package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ktyurin/survcafe/internal/types"
)

// TestMockStreamProducesFrames verifies frames arrive with increasing
// sequence numbers and correctly sized RGB payloads.
func TestMockStreamProducesFrames(t *testing.T) {
	m := NewMockStream(16, 12, 30, "LQ")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	var last uint64
	for i := 0; i < 3; i++ {
		select {
		case frame := <-m.Frames():
			if i > 0 && frame.Seq != last+1 {
				t.Errorf("Expected seq %d, got %d", last+1, frame.Seq)
			}
			last = frame.Seq
			if frame.Format != types.FormatRGB {
				t.Errorf("Expected format %s, got %s", types.FormatRGB, frame.Format)
			}
			if len(frame.Data) != 16*12*3 {
				t.Errorf("Expected %d bytes, got %d", 16*12*3, len(frame.Data))
			}
			if frame.SourceStream != "LQ" {
				t.Errorf("Expected source LQ, got %s", frame.SourceStream)
			}
			if frame.TraceID == "" {
				t.Error("Expected a non-empty trace id")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Timeout waiting for frame")
		}
	}
}

// TestMockStreamDoubleStart verifies a running stream rejects a second Start.
func TestMockStreamDoubleStart(t *testing.T) {
	m := NewMockStream(4, 4, 30, "LQ")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	if err := m.Start(ctx); err == nil {
		t.Error("Expected error on second Start")
	}
}

// TestMockStreamConcurrentStop verifies racing Stops tear down exactly once
// instead of panicking on a double channel close.
func TestMockStreamConcurrentStop(t *testing.T) {
	m := NewMockStream(4, 4, 30, "LQ")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Stop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for concurrent Stops")
	}

	if m.Stats().IsConnected {
		t.Error("Stream still reports connected after Stop")
	}
}

// TestMockStreamStats verifies the stats snapshot tracks emitted frames.
func TestMockStreamStats(t *testing.T) {
	m := NewMockStream(4, 4, 50, "HQ")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	select {
	case <-m.Frames():
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for first frame")
	}

	stats := m.Stats()
	if stats.FrameCount == 0 {
		t.Error("Expected a non-zero frame count")
	}
	if stats.FPSTarget != 50 {
		t.Errorf("Expected fps target 50, got %d", stats.FPSTarget)
	}
	if stats.SourceStream != "HQ" {
		t.Errorf("Expected source HQ, got %s", stats.SourceStream)
	}
	if stats.Resolution != "4x4" {
		t.Errorf("Expected resolution 4x4, got %s", stats.Resolution)
	}
	if !stats.IsConnected {
		t.Error("Expected IsConnected while running")
	}
}
