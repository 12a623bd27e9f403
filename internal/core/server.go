package core

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ktyurin/survcafe/internal/command"
	"github.com/ktyurin/survcafe/internal/config"
	"github.com/ktyurin/survcafe/internal/control"
	"github.com/ktyurin/survcafe/internal/emitter"
	"github.com/ktyurin/survcafe/internal/encoder"
	"github.com/ktyurin/survcafe/internal/lifecycle"
	"github.com/ktyurin/survcafe/internal/output"
	"github.com/ktyurin/survcafe/internal/stills"
	"github.com/ktyurin/survcafe/internal/stream"
	"github.com/ktyurin/survcafe/internal/types"
)

// Server is the streaming control subsystem: one worker multiplexes frame
// arrival, accepted connections, commands, and a scheduling tick, and is the
// sole mutator of the lifecycle state and the network output resource.
type Server struct {
	cfg *config.Config

	stream StreamProvider
	enc    encoder.Encoder
	saver  StillSaver

	emit           *emitter.MQTTEmitter
	controlHandler *control.Handler

	machine *lifecycle.Machine
	addr    output.Address
	tick    time.Duration

	// out exists only in WaitingForConnection and Connected; constructed on
	// Idle -> Waiting, released on the way back to Idle
	out *output.NetOutput

	commands chan command.Command

	mu             sync.RWMutex
	state          lifecycle.State
	lastFrame      types.Frame
	haveFrame      bool
	framesConsumed uint64
	framesEncoded  uint64
	stillsSaved    uint64
	started        time.Time
	isRunning      bool
	cancelCtx      context.CancelFunc // for control plane shutdown command
	wg             sync.WaitGroup
}

// NewServer creates the server from configuration. A malformed server address
// or an unbuildable camera/encoder stack is a fatal configuration error.
func NewServer(cfg *config.Config) (*Server, error) {
	addr, err := output.ParseAddress(cfg.Server.Address)
	if err != nil {
		return nil, err
	}

	src, err := buildStream(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build frame source: %w", err)
	}

	enc, err := buildEncoder(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build encoder: %w", err)
	}

	saver, err := stills.NewWriter(cfg.Stills.Dir, cfg.Stills.Prefix, cfg.Stills.Quality)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		stream:   src,
		enc:      enc,
		saver:    saver,
		machine:  lifecycle.New(time.Duration(cfg.Server.WaitingTimeoutS) * time.Second),
		addr:     addr,
		tick:     time.Duration(cfg.Server.TickIntervalMS) * time.Millisecond,
		commands: make(chan command.Command, 16),
		started:  time.Now(),
	}

	if cfg.MQTT.Broker != "" {
		s.emit = emitter.NewMQTTEmitter(cfg)
	}

	return s, nil
}

// buildStream selects the frame producer from configuration
func buildStream(cfg *config.Config) (StreamProvider, error) {
	switch cfg.Camera.Source {
	case "gst":
		return stream.NewCameraStream(stream.CameraConfig{
			Device:       cfg.Camera.Device,
			Width:        cfg.Camera.Width,
			Height:       cfg.Camera.Height,
			FPS:          cfg.Camera.FPS,
			SourceStream: cfg.Camera.SourceStream,
		})
	case "exec":
		return stream.NewExecStream(cfg.Camera.ExecCommand, cfg.Camera.SourceStream)
	case "mock":
		return stream.NewMockStream(cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS, cfg.Camera.SourceStream), nil
	default:
		return nil, fmt.Errorf("unknown camera source %q", cfg.Camera.Source)
	}
}

// buildEncoder selects the encoder from configuration
func buildEncoder(cfg *config.Config) (encoder.Encoder, error) {
	switch cfg.Encoder.Codec {
	case "h264":
		return encoder.NewGstEncoder(encoder.GstConfig{
			Width:       cfg.Camera.Width,
			Height:      cfg.Camera.Height,
			FPS:         cfg.Camera.FPS,
			BitrateKbps: cfg.Encoder.BitrateKbps,
		})
	case "none":
		return encoder.NewPassthrough(), nil
	default:
		return nil, fmt.Errorf("unknown encoder codec %q", cfg.Encoder.Codec)
	}
}

// Submit queues a command for the control loop. Safe from any goroutine;
// commands are applied in arrival order. A full queue drops the command.
func (s *Server) Submit(cmd command.Command) {
	select {
	case s.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.String())
	}
}

// Run starts the frame producer and the optional MQTT plane, then executes
// the control loop until the context is cancelled or a fatal resource error
// occurs. The loop worker is the only goroutine that touches the lifecycle
// state and the network output.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.started = time.Now()
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancelCtx = cancel
	s.mu.Unlock()

	slog.Info("server starting",
		"instance_id", s.cfg.InstanceID,
		"address", s.addr.String(),
		"single_client", s.cfg.Server.SingleClient,
		"waiting_timeout_s", s.cfg.Server.WaitingTimeoutS,
	)

	if err := s.stream.Start(ctx); err != nil {
		return fmt.Errorf("failed to start frame source: %w", err)
	}

	if s.emit != nil {
		if err := s.emit.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect mqtt: %w", err)
		}

		s.controlHandler = control.NewHandler(s.cfg, s.emit.Client, control.Callbacks{
			OnCommand:   s.Submit,
			OnGetStatus: s.Status,
			OnShutdown:  s.shutdownViaControl,
		})
		if err := s.controlHandler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start control plane: %w", err)
		}
	}

	err := s.controlLoop(ctx)

	// Teardown owned by the loop worker: encoder first, then connections
	// and listener. The frame source is stopped in Shutdown.
	s.leaveStreaming("shutdown")

	slog.Info("server run loop exiting")
	return err
}

// controlLoop is one scheduling point: each iteration blocks until a frame,
// an accepted connection, a command, or the tick quantum, whichever first,
// then evaluates the timing and liveness rules.
func (s *Server) controlLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case frame, ok := <-s.stream.Frames():
			if !ok {
				return fmt.Errorf("frame producer stopped unexpectedly")
			}
			s.handleFrame(frame)
			if err := s.drainFrames(); err != nil {
				return err
			}

		case conn := <-s.acceptedConns():
			if err := s.handleAccept(ctx, conn); err != nil {
				return err
			}

		case err := <-s.acceptFailures():
			return err

		case cmd := <-s.commands:
			if err := s.apply(ctx, cmd); err != nil {
				return err
			}
			if err := s.drainCommands(ctx); err != nil {
				return err
			}

		case <-ticker.C:
		}

		if err := s.checkLiveness(ctx); err != nil {
			return err
		}
	}
}

// acceptedConns returns the accept channel of the current output, or nil
// (never ready) when Idle.
func (s *Server) acceptedConns() <-chan net.Conn {
	if s.out == nil {
		return nil
	}
	return s.out.Accepted()
}

// acceptFailures returns the accept error channel, or nil when Idle.
func (s *Server) acceptFailures() <-chan error {
	if s.out == nil {
		return nil
	}
	return s.out.AcceptErrors()
}

// handleFrame retains the frame for still capture and, while Connected,
// forwards it to the encoder.
func (s *Server) handleFrame(frame types.Frame) {
	s.mu.Lock()
	if frame.Raw() {
		s.lastFrame = frame
		s.haveFrame = true
	}
	s.framesConsumed++
	s.mu.Unlock()

	if s.machine.State() != lifecycle.Connected {
		return
	}

	if err := s.enc.Push(frame); err != nil {
		slog.Warn("encoder rejected frame",
			"seq", frame.Seq,
			"trace_id", frame.TraceID,
			"error", err,
		)
		return
	}

	s.mu.Lock()
	s.framesEncoded++
	s.mu.Unlock()
}

// drainFrames consumes every currently available frame, not just one.
func (s *Server) drainFrames() error {
	for {
		select {
		case frame, ok := <-s.stream.Frames():
			if !ok {
				return fmt.Errorf("frame producer stopped unexpectedly")
			}
			s.handleFrame(frame)
		default:
			return nil
		}
	}
}

// drainCommands applies every pending command in arrival order.
func (s *Server) drainCommands(ctx context.Context) error {
	for {
		select {
		case cmd := <-s.commands:
			if err := s.apply(ctx, cmd); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// handleAccept applies the accept event. The first accepted connection takes
// WaitingForConnection to Connected and starts the encoder; further
// connections simply join the fan-out (multi-client mode only).
func (s *Server) handleAccept(ctx context.Context, conn net.Conn) error {
	switch s.machine.State() {
	case lifecycle.WaitingForConnection:
		out := s.out
		s.out.Attach(conn)

		s.enc.SetOutputReady(func(data []byte) {
			out.Broadcast(data)
		})
		if err := s.enc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start encoder: %w", err)
		}

		s.machine.EnterConnected()
		s.setState(lifecycle.Connected)
		s.emitEvent("client_connected", map[string]any{
			"remote": conn.RemoteAddr().String(),
		})

	case lifecycle.Connected:
		// A second connection can race in before the single-client listener
		// close takes effect; it never joins the stream.
		if s.cfg.Server.SingleClient {
			conn.Close()
			return nil
		}
		s.out.Attach(conn)
		s.emitEvent("client_connected", map[string]any{
			"remote": conn.RemoteAddr().String(),
		})

	default:
		// Connection raced with a stop; nothing owns it anymore.
		conn.Close()
	}
	return nil
}

// apply executes one command against the lifecycle machine.
func (s *Server) apply(ctx context.Context, cmd command.Command) error {
	switch cmd {
	case command.OpenStream:
		return s.openStream()
	case command.CloseStream:
		s.closeStream()
	case command.CaptureImage:
		s.captureImage()
	case command.None:
		// Unrecognized input: no side effect
	}
	return nil
}

// openStream applies Idle -> WaitingForConnection: construct the output,
// bind, record the waiting timestamp. A bind failure is fatal.
func (s *Server) openStream() error {
	if s.machine.State() != lifecycle.Idle {
		slog.Debug("open_stream ignored, already active", "state", s.machine.State().String())
		return nil
	}

	out := output.New(s.addr, s.cfg.Server.SingleClient)
	if err := out.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	s.out = out
	s.mu.Unlock()
	s.machine.EnterWaiting(time.Now())
	s.setState(lifecycle.WaitingForConnection)
	s.emitEvent("state_changed", nil)
	return nil
}

// closeStream applies * -> Idle: stop the encoder if it was running, release
// all connections and the listener. A no-op when already Idle.
func (s *Server) closeStream() {
	if s.machine.State() == lifecycle.Idle {
		slog.Debug("close_stream ignored, already idle")
		return
	}
	s.leaveStreaming("close_stream")
	s.emitEvent("state_changed", nil)
}

// leaveStreaming performs the ordered teardown back to Idle: encoder first,
// then connections and listener.
func (s *Server) leaveStreaming(reason string) {
	if s.machine.State() == lifecycle.Connected {
		s.enc.SetOutputReady(nil)
		if err := s.enc.Stop(); err != nil {
			slog.Error("failed to stop encoder", "error", err)
		}
	}
	if s.out != nil {
		s.out.Stop()
		s.mu.Lock()
		s.out = nil
		s.mu.Unlock()
	}
	if s.machine.EnterIdle() {
		s.setState(lifecycle.Idle)
		slog.Info("stream closed", "reason", reason)
	}
}

// captureImage saves a still from the most recent raw frame. Valid in every
// state and never alters it.
func (s *Server) captureImage() {
	s.mu.RLock()
	frame := s.lastFrame
	have := s.haveFrame
	s.mu.RUnlock()

	if !have {
		slog.Warn("capture_image ignored, no raw frame available yet")
		return
	}

	path, err := s.saver.Save(frame)
	if err != nil {
		slog.Error("failed to save still image", "error", err)
		return
	}

	s.mu.Lock()
	s.stillsSaved++
	s.mu.Unlock()

	s.emitEvent("image_saved", map[string]any{
		"path": path,
		"seq":  frame.Seq,
	})
}

// checkLiveness evaluates the once-per-iteration timing rules: the waiting
// timeout and the all-clients-gone condition, each synthesizing a CloseStream.
func (s *Server) checkLiveness(ctx context.Context) error {
	if s.machine.WaitingExpired(time.Now()) {
		slog.Info("no client connected within timeout, closing stream",
			"waiting_since", s.machine.WaitingSince(),
			"timeout_s", s.cfg.Server.WaitingTimeoutS,
		)
		return s.apply(ctx, command.CloseStream)
	}

	if s.machine.State() == lifecycle.Connected && s.out != nil && s.out.Empty() {
		slog.Info("last client disconnected, closing stream")
		return s.apply(ctx, command.CloseStream)
	}

	return nil
}

// setState records the externally visible state under the status lock. The
// machine itself is only ever touched by the control loop; this copy is what
// status surfaces on other goroutines read.
func (s *Server) setState(st lifecycle.State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()

	slog.Info("server state changed", "state", st.String())
}

// emitEvent publishes a server event when the MQTT plane is configured.
func (s *Server) emitEvent(name string, data map[string]any) {
	if s.emit == nil {
		return
	}
	ev := emitter.Event{
		Event: name,
		State: s.machine.State().String(),
		Data:  data,
	}
	if err := s.emit.Emit(ev); err != nil {
		slog.Debug("event emit failed", "event", name, "error", err)
	}
}

// shutdownViaControl initiates graceful shutdown from the control plane.
func (s *Server) shutdownViaControl() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return fmt.Errorf("server not running")
	}
	if s.cancelCtx == nil {
		return fmt.Errorf("shutdown not available (no cancel context)")
	}

	s.cancelCtx()
	return nil
}

// Shutdown stops the collaborators the control loop does not own: the frame
// producer, the control plane, and the broker connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	slog.Info("shutting down server")

	if err := s.stream.Stop(); err != nil {
		slog.Error("failed to stop frame source", "error", err)
	}

	if s.controlHandler != nil {
		if err := s.controlHandler.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}

	s.wg.Wait()

	if s.emit != nil {
		if err := s.emit.Disconnect(); err != nil {
			slog.Error("failed to disconnect mqtt", "error", err)
		}
	}

	s.mu.Lock()
	uptime := time.Since(s.started)
	s.isRunning = false
	s.mu.Unlock()

	slog.Info("server shutdown complete", "uptime", uptime)
	return nil
}

// ShutdownTimeout returns the configured graceful shutdown timeout
// (default 5 seconds).
func (s *Server) ShutdownTimeout() time.Duration {
	timeout := time.Duration(s.cfg.ShutdownTimeoutS) * time.Second
	if timeout == 0 {
		return 5 * time.Second
	}
	return timeout
}

// State returns the externally visible lifecycle state.
func (s *Server) State() lifecycle.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status returns a status snapshot for the control plane and health server.
func (s *Server) Status() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	streamStats := s.stream.Stats()

	status := map[string]any{
		"instance_id": s.cfg.InstanceID,
		"state":       s.state.String(),
		"uptime_s":    time.Since(s.started).Seconds(),
		"running":     s.isRunning,
		"stream": map[string]any{
			"connected":   streamStats.IsConnected,
			"fps_real":    streamStats.FPSReal,
			"fps_target":  streamStats.FPSTarget,
			"frame_count": streamStats.FrameCount,
			"restarts":    streamStats.Restarts,
		},
		"pipeline": map[string]any{
			"frames_consumed": s.framesConsumed,
			"frames_encoded":  s.framesEncoded,
			"stills_saved":    s.stillsSaved,
		},
	}

	if s.out != nil {
		outStats := s.out.Stats()
		status["output"] = map[string]any{
			"clients":     outStats.Clients,
			"frames_sent": outStats.FramesSent,
			"bytes_sent":  outStats.BytesSent,
			"evictions":   outStats.Evictions,
		}
	}

	if s.emit != nil {
		emitterStats := s.emit.Stats()
		status["emitter"] = map[string]any{
			"connected": emitterStats.Connected,
			"published": emitterStats.Published,
			"errors":    emitterStats.Errors,
		}
	}

	return status
}
