package types

import "time"

// Frame payload formats.
const (
	FormatRGB  = "RGB"
	FormatH264 = "H264"
)

// Frame represents a single video frame
type Frame struct {
	// Seq is the monotonic sequence number
	Seq uint64
	// Timestamp is when the frame was captured
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Format describes the payload ("RGB" for raw frames, "H264" for
	// sources that deliver pre-encoded bytes)
	Format string
	// Data contains the frame payload
	Data []byte
	// SourceStream identifies the producing stream (LQ, HQ)
	SourceStream string
	// TraceID is a unique identifier for tracing a frame across the pipeline
	TraceID string
}

// Raw reports whether the frame carries raw pixel data that the stills
// encoder can work with.
func (f *Frame) Raw() bool {
	return f.Format == FormatRGB
}

// StreamStats contains frame producer statistics
type StreamStats struct {
	FrameCount   uint64
	FPSTarget    int
	FPSReal      float64
	SourceStream string
	Resolution   string
	Restarts     uint32
	BytesRead    uint64
	IsConnected  bool
	Errors       uint64
}
