package command

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// TestParse verifies token-to-command mapping, including the None fallback.
func TestParse(t *testing.T) {
	cases := []struct {
		token string
		want  Command
	}{
		{"start_video_server", OpenStream},
		{"stop_video_server", CloseStream},
		{"capture_image", CaptureImage},
		{"", None},
		{"restart", None},
		{"START_VIDEO_SERVER", None}, // tokens are case sensitive
	}

	for _, c := range cases {
		if got := Parse(c.token); got != c.want {
			t.Errorf("Parse(%q) = %v, want %v", c.token, got, c.want)
		}
	}
}

// TestCommandString verifies the round trip through the token form.
func TestCommandString(t *testing.T) {
	for _, cmd := range []Command{OpenStream, CloseStream, CaptureImage} {
		if got := Parse(cmd.String()); got != cmd {
			t.Errorf("Parse(%v.String()) = %v, want %v", cmd, got, cmd)
		}
	}
	if None.String() != "none" {
		t.Errorf("None.String() = %q, want \"none\"", None.String())
	}
}

// TestLineSource verifies lines are parsed and submitted in arrival order,
// with blank lines skipped and unknown tokens submitted as None.
func TestLineSource(t *testing.T) {
	input := "start_video_server\n\n  capture_image  \nbogus\nstop_video_server\n"

	var mu sync.Mutex
	var got []Command

	src := NewLineSource(strings.NewReader(input), func(cmd Command) {
		mu.Lock()
		got = append(got, cmd)
		mu.Unlock()
	})

	src.Start()

	done := make(chan struct{})
	go func() {
		src.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for line source to drain input")
	}

	want := []Command{OpenStream, CaptureImage, None, CloseStream}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("Expected %d commands, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Command %d = %v, want %v", i, got[i], want[i])
		}
	}
}
