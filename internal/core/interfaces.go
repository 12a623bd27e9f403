package core

import (
	"context"

	"github.com/ktyurin/survcafe/internal/types"
)

// StreamProvider provides a stream of video frames
type StreamProvider interface {
	// Start begins producing frames
	Start(ctx context.Context) error
	// Frames returns a channel of frames
	Frames() <-chan types.Frame
	// Stop stops the stream
	Stop() error
	// Stats returns stream statistics
	Stats() types.StreamStats
}

// StillSaver writes a single still image from a raw frame
type StillSaver interface {
	// Save encodes the frame to a file and returns its path
	Save(frame types.Frame) (string, error)
}
