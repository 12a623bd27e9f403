package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/ktyurin/survcafe/internal/types"
)

// CameraStream captures raw RGB frames from a local camera device with a
// GStreamer pipeline: v4l2src -> videoconvert -> videoscale -> videorate ->
// capsfilter -> appsink.
type CameraStream struct {
	device       string
	width        int
	height       int
	targetFPS    int
	sourceStream string

	pipeline *gst.Pipeline
	appsink  *app.Sink

	frames chan types.Frame
	mu     sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	frameCount uint64
	started    time.Time
	bytesRead  uint64
	restarts   uint32
	errors     uint64

	maxRetries     int
	retryDelay     time.Duration
	maxRetryDelay  time.Duration
	currentRetries int
}

// CameraConfig contains camera capture configuration
type CameraConfig struct {
	Device       string // e.g. /dev/video0
	Width        int
	Height       int
	FPS          int
	SourceStream string // "LQ" or "HQ"
}

// NewCameraStream creates a new camera capture stream
func NewCameraStream(cfg CameraConfig) (*CameraStream, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("camera device is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution: %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}

	return &CameraStream{
		device:        cfg.Device,
		width:         cfg.Width,
		height:        cfg.Height,
		targetFPS:     cfg.FPS,
		sourceStream:  cfg.SourceStream,
		frames:        make(chan types.Frame, 10),
		maxRetries:    5,
		retryDelay:    1 * time.Second,
		maxRetryDelay: 30 * time.Second,
	}, nil
}

// Start initializes GStreamer and starts the capture pipeline
func (s *CameraStream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("stream already started")
	}

	gst.Init(nil)

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = time.Now()

	s.wg.Add(1)
	go s.runPipeline()

	slog.Info("camera stream starting",
		"device", s.device,
		"resolution", fmt.Sprintf("%dx%d", s.width, s.height),
		"target_fps", s.targetFPS,
	)

	return nil
}

// runPipeline runs the capture pipeline with restart-on-failure
func (s *CameraStream) runPipeline() {
	defer s.wg.Done()
	defer close(s.frames)

	for {
		select {
		case <-s.ctx.Done():
			slog.Info("camera pipeline context cancelled")
			return
		default:
		}

		err := s.captureLoop()
		if err != nil {
			atomic.AddUint64(&s.errors, 1)
			slog.Error("camera pipeline error", "error", err)
		}

		select {
		case <-s.ctx.Done():
			return
		default:
		}

		s.currentRetries++
		atomic.AddUint32(&s.restarts, 1)

		if s.currentRetries > s.maxRetries {
			slog.Error("max retries exceeded, stopping camera stream",
				"retries", s.currentRetries,
				"max_retries", s.maxRetries,
			)
			return
		}

		// Exponential backoff
		delay := s.retryDelay * time.Duration(1<<uint(s.currentRetries-1))
		if delay > s.maxRetryDelay {
			delay = s.maxRetryDelay
		}

		slog.Warn("restarting camera pipeline",
			"retry", s.currentRetries,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
			continue
		case <-s.ctx.Done():
			return
		}
	}
}

// captureLoop builds the pipeline and pumps bus messages until failure or stop
func (s *CameraStream) captureLoop() error {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	s.pipeline = pipeline

	v4l2src, err := gst.NewElement("v4l2src")
	if err != nil {
		return fmt.Errorf("failed to create v4l2src: %w", err)
	}
	v4l2src.SetProperty("device", s.device)

	videoconvert, _ := gst.NewElement("videoconvert")
	videoscale, _ := gst.NewElement("videoscale")

	videorate, _ := gst.NewElement("videorate")
	videorate.SetProperty("drop-only", true)
	videorate.SetProperty("skip-to-first", true)

	capsfilter, _ := gst.NewElement("capsfilter")
	capsfilter.SetProperty("caps", gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1",
		s.width, s.height, s.targetFPS,
	)))

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("failed to create appsink: %w", err)
	}
	s.appsink = appsink

	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return s.onNewSample(sink)
		},
	})

	pipeline.AddMany(v4l2src, videoconvert, videoscale, videorate, capsfilter, appsink.Element)
	gst.ElementLinkMany(v4l2src, videoconvert, videoscale, videorate, capsfilter, appsink.Element)

	slog.Debug("setting camera pipeline to playing")
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to set pipeline to playing: %w", err)
	}

	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-s.ctx.Done():
			slog.Debug("context cancelled, stopping camera pipeline")
			pipeline.SetState(gst.StateNull)
			return nil
		default:
		}

		// Poll with short timeout for responsive shutdown
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("camera end of stream")
			return nil

		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("camera pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
			return fmt.Errorf("pipeline error: %w", gerr)

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				old, new := msg.ParseStateChanged()
				slog.Debug("camera pipeline state changed", "from", old, "to", new)

				if new == gst.StatePlaying {
					s.currentRetries = 0
					slog.Info("camera capture running")
				}
			}
		}
	}
}

// onNewSample is called by GStreamer when a new frame is available
func (s *CameraStream) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowError
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	defer buffer.Unmap()

	if len(data) == 0 {
		return gst.FlowOK
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)

	frame := types.Frame{
		Data:         frameData,
		Width:        s.width,
		Height:       s.height,
		Format:       types.FormatRGB,
		Timestamp:    time.Now(),
		Seq:          atomic.AddUint64(&s.frameCount, 1),
		SourceStream: s.sourceStream,
		TraceID:      uuid.New().String(),
	}

	atomic.AddUint64(&s.bytesRead, uint64(len(data)))

	// Non-blocking send; the consumer drains at its own pace
	select {
	case s.frames <- frame:
	default:
		slog.Debug("dropping frame, channel full",
			"seq", frame.Seq,
			"trace_id", frame.TraceID,
		)
	}

	return gst.FlowOK
}

// Frames returns the channel of frames
func (s *CameraStream) Frames() <-chan types.Frame {
	return s.frames
}

// Stop stops the camera stream
func (s *CameraStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return fmt.Errorf("stream not started")
	}

	slog.Info("stopping camera stream")

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("camera stream stopped",
			"frames_captured", atomic.LoadUint64(&s.frameCount),
			"restarts", atomic.LoadUint32(&s.restarts),
			"uptime", time.Since(s.started),
		)
	case <-time.After(3 * time.Second):
		slog.Warn("camera stream stop timeout, pipeline may still be running",
			"frames_captured", atomic.LoadUint64(&s.frameCount),
		)
	}

	s.cancel = nil
	s.ctx = nil
	s.pipeline = nil
	s.appsink = nil

	return nil
}

// Stats returns stream statistics
func (s *CameraStream) Stats() types.StreamStats {
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
		FPSTarget:    s.targetFPS,
		FPSReal:      fpsReal,
		SourceStream: s.sourceStream,
		Resolution:   fmt.Sprintf("%dx%d", s.width, s.height),
		Restarts:     atomic.LoadUint32(&s.restarts),
		BytesRead:    atomic.LoadUint64(&s.bytesRead),
		IsConnected:  s.cancel != nil,
		Errors:       atomic.LoadUint64(&s.errors),
	}
}
