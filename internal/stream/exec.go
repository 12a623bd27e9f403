package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ktyurin/survcafe/internal/types"
)

// chunk size for reading the subprocess stdout stream
const execReadSize = 32 * 1024

// ExecStream runs an external capture command (rpicam-vid style) and turns
// its stdout byte stream into frames. The payload is already encoded by the
// subprocess, so frames carry FormatH264 and pair with the passthrough
// encoder.
type ExecStream struct {
	command      string
	sourceStream string

	frames chan types.Frame
	mu     sync.RWMutex

	cmd    *exec.Cmd
	cancel context.CancelFunc
	wg     sync.WaitGroup

	frameCount uint64
	bytesRead  uint64
	errors     uint64
	started    time.Time
}

// NewExecStream creates a subprocess-backed stream for the given command line.
func NewExecStream(command, sourceStream string) (*ExecStream, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("capture command is required")
	}
	return &ExecStream{
		command:      command,
		sourceStream: sourceStream,
		frames:       make(chan types.Frame, 10),
	}, nil
}

// Start launches the capture subprocess and begins reading its output.
func (s *ExecStream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("stream already started")
	}

	runCtx, cancel := context.WithCancel(ctx)

	parts := strings.Fields(s.command)
	cmd := exec.CommandContext(runCtx, parts[0], parts[1:]...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open capture stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open capture stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start capture command: %w", err)
	}

	s.cmd = cmd
	s.cancel = cancel
	s.started = time.Now()

	s.wg.Add(2)
	go s.readOutput(stdout)
	go s.logStderr(stderr)

	// Reap the process to avoid zombies
	go func() {
		if err := cmd.Wait(); err != nil && runCtx.Err() == nil {
			atomic.AddUint64(&s.errors, 1)
			slog.Error("capture command exited", "error", err)
		}
	}()

	slog.Info("exec stream started",
		"command", parts[0],
		"pid", cmd.Process.Pid,
	)
	return nil
}

// readOutput chops the subprocess stdout into frames
func (s *ExecStream) readOutput(r io.Reader) {
	defer s.wg.Done()
	defer close(s.frames)

	reader := bufio.NewReaderSize(r, execReadSize)
	buf := make([]byte, execReadSize)

	for {
		n, err := reader.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			frame := types.Frame{
				Data:         data,
				Format:       types.FormatH264,
				Timestamp:    time.Now(),
				Seq:          atomic.AddUint64(&s.frameCount, 1),
				SourceStream: s.sourceStream,
				TraceID:      uuid.New().String(),
			}
			atomic.AddUint64(&s.bytesRead, uint64(n))

			select {
			case s.frames <- frame:
			default:
				slog.Debug("dropping chunk, channel full", "seq", frame.Seq)
			}
		}
		if err != nil {
			if err != io.EOF {
				atomic.AddUint64(&s.errors, 1)
				slog.Warn("capture stdout read failed", "error", err)
			}
			return
		}
	}
}

// logStderr forwards subprocess diagnostics to the log
func (s *ExecStream) logStderr(r io.Reader) {
	defer s.wg.Done()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		slog.Debug("capture stderr", "line", scanner.Text())
	}
}

// Frames returns the channel of frames
func (s *ExecStream) Frames() <-chan types.Frame {
	return s.frames
}

// Stop terminates the subprocess and waits for the readers to exit.
func (s *ExecStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return fmt.Errorf("stream not started")
	}

	slog.Info("stopping exec stream")
	s.cancel()
	s.wg.Wait()

	s.cancel = nil
	s.cmd = nil

	slog.Info("exec stream stopped",
		"frames", atomic.LoadUint64(&s.frameCount),
		"bytes", atomic.LoadUint64(&s.bytesRead),
		"uptime", time.Since(s.started),
	)
	return nil
}

// Stats returns stream statistics
func (s *ExecStream) Stats() types.StreamStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := atomic.LoadUint64(&s.frameCount)

	var fpsReal float64
	if s.cancel != nil && count > 0 {
		elapsed := time.Since(s.started).Seconds()
		if elapsed > 0 {
			fpsReal = float64(count) / elapsed
		}
	}

	return types.StreamStats{
		FrameCount:   count,
		FPSReal:      fpsReal,
		SourceStream: s.sourceStream,
		BytesRead:    atomic.LoadUint64(&s.bytesRead),
		IsConnected:  s.cancel != nil,
		Errors:       atomic.LoadUint64(&s.errors),
	}
}
