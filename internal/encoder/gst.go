package encoder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/ktyurin/survcafe/internal/types"
)

// GstEncoder encodes raw RGB frames to an H.264 elementary stream with a
// GStreamer pipeline: appsrc -> videoconvert -> x264enc -> h264parse ->
// appsink. Encoded buffers are delivered through the registered OutputFunc
// from the appsink callback.
type GstEncoder struct {
	width       int
	height      int
	fps         int
	bitrateKbps int

	mu       sync.Mutex
	fn       OutputFunc
	pipeline *gst.Pipeline
	appsrc   *app.Source
	running  bool

	framesIn  uint64
	bytesOut  uint64
	lastError error
}

// GstConfig configures the H.264 encoder
type GstConfig struct {
	Width       int
	Height      int
	FPS         int
	BitrateKbps int
}

// NewGstEncoder creates a GStreamer H.264 encoder.
func NewGstEncoder(cfg GstConfig) (*GstEncoder, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid encoder resolution: %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.BitrateKbps <= 0 {
		cfg.BitrateKbps = 2000
	}
	return &GstEncoder{
		width:       cfg.Width,
		height:      cfg.Height,
		fps:         cfg.FPS,
		bitrateKbps: cfg.BitrateKbps,
	}, nil
}

// Start builds and starts the encoding pipeline.
func (e *GstEncoder) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("encoder already started")
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("failed to create encoder pipeline: %w", err)
	}

	appsrc, err := app.NewAppSrc()
	if err != nil {
		return fmt.Errorf("failed to create appsrc: %w", err)
	}
	appsrc.SetProperty("is-live", true)
	appsrc.SetProperty("format", gst.FormatTime)
	appsrc.SetCaps(gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1",
		e.width, e.height, e.fps,
	)))

	videoconvert, err := gst.NewElement("videoconvert")
	if err != nil {
		return fmt.Errorf("failed to create videoconvert: %w", err)
	}

	x264enc, err := gst.NewElement("x264enc")
	if err != nil {
		return fmt.Errorf("failed to create x264enc: %w", err)
	}
	x264enc.SetProperty("tune", "zerolatency")
	x264enc.SetProperty("speed-preset", "ultrafast")
	x264enc.SetProperty("bitrate", uint(e.bitrateKbps))
	x264enc.SetProperty("key-int-max", uint(e.fps*2))

	h264parse, err := gst.NewElement("h264parse")
	if err != nil {
		return fmt.Errorf("failed to create h264parse: %w", err)
	}

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return e.onEncodedSample(sink)
		},
	})

	pipeline.AddMany(appsrc.Element, videoconvert, x264enc, h264parse, appsink.Element)
	gst.ElementLinkMany(appsrc.Element, videoconvert, x264enc, h264parse, appsink.Element)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start encoder pipeline: %w", err)
	}

	e.pipeline = pipeline
	e.appsrc = appsrc
	e.running = true

	slog.Info("h264 encoder started",
		"resolution", fmt.Sprintf("%dx%d", e.width, e.height),
		"fps", e.fps,
		"bitrate_kbps", e.bitrateKbps,
	)
	return nil
}

// Stop tears the pipeline down. Idempotent.
//
// The pipeline references are snapshotted and the lock released before the
// GStreamer calls: driving the pipeline to NULL waits for an in-flight
// new-sample callback to return, and that callback takes e.mu itself.
func (e *GstEncoder) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	appsrc := e.appsrc
	pipeline := e.pipeline
	e.appsrc = nil
	e.pipeline = nil
	framesIn := e.framesIn
	bytesOut := e.bytesOut
	e.mu.Unlock()

	appsrc.EndStream()
	pipeline.SetState(gst.StateNull)

	slog.Info("h264 encoder stopped",
		"frames_in", framesIn,
		"bytes_out", bytesOut,
	)
	return nil
}

// Push submits one raw frame to the pipeline.
func (e *GstEncoder) Push(frame types.Frame) error {
	e.mu.Lock()
	appsrc := e.appsrc
	running := e.running
	e.mu.Unlock()

	if !running || appsrc == nil {
		return fmt.Errorf("encoder not running")
	}

	buf := gst.NewBufferFromBytes(frame.Data)
	if ret := appsrc.PushBuffer(buf); ret != gst.FlowOK {
		return fmt.Errorf("appsrc push failed: %s", ret)
	}

	e.mu.Lock()
	e.framesIn++
	e.mu.Unlock()
	return nil
}

// SetOutputReady registers the encoded-output callback; nil deregisters.
func (e *GstEncoder) SetOutputReady(fn OutputFunc) {
	e.mu.Lock()
	e.fn = fn
	e.mu.Unlock()
}

// onEncodedSample is called by GStreamer for every encoded buffer.
func (e *GstEncoder) onEncodedSample(sink *app.Sink) gst.FlowReturn {
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

	out := make([]byte, len(data))
	copy(out, data)

	e.mu.Lock()
	fn := e.fn
	e.bytesOut += uint64(len(out))
	e.mu.Unlock()

	if fn != nil {
		start := time.Now()
		fn(out)
		if d := time.Since(start); d > 100*time.Millisecond {
			slog.Debug("slow encoded-output delivery", "duration", d, "bytes", len(out))
		}
	}

	return gst.FlowOK
}
