// Package encoder wraps the video encoding collaborator. The control loop
// pushes raw frames in and receives finished encoded buffers through a
// registered output-ready callback, mirroring the asynchronous callback
// contract of hardware encoders.
package encoder

import (
	"context"
	"sync"

	"github.com/ktyurin/survcafe/internal/types"
)

// OutputFunc receives one finished encoded buffer. It is invoked from the
// encoder's own goroutine.
type OutputFunc func(data []byte)

// Encoder turns raw frames into an encoded elementary stream.
//
// Lifecycle: SetOutputReady -> Start -> Push... -> Stop. The callback is
// registered when the server enters Connected and deregistered (nil) when it
// leaves.
type Encoder interface {
	// Start spins up the encoding pipeline. A failure is fatal to the caller.
	Start(ctx context.Context) error
	// Stop tears the pipeline down and stops callback delivery. Idempotent.
	Stop() error
	// Push submits one frame for encoding. Frames are encoded in push order.
	Push(frame types.Frame) error
	// SetOutputReady registers the encoded-output callback; nil deregisters.
	SetOutputReady(fn OutputFunc)
}

// Passthrough is an Encoder for sources that already deliver encoded bytes
// (exec sources emitting H.264) and for tests: every pushed frame's payload is
// handed to the callback unchanged, in push order.
type Passthrough struct {
	mu      sync.Mutex
	fn      OutputFunc
	running bool
}

// NewPassthrough creates a passthrough encoder.
func NewPassthrough() *Passthrough {
	return &Passthrough{}
}

// Start implements Encoder.
func (p *Passthrough) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = true
	return nil
}

// Stop implements Encoder.
func (p *Passthrough) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	return nil
}

// Push implements Encoder. The callback runs synchronously on the caller's
// goroutine; there is no encoding latency to decouple.
func (p *Passthrough) Push(frame types.Frame) error {
	p.mu.Lock()
	fn := p.fn
	running := p.running
	p.mu.Unlock()

	if !running || fn == nil {
		return nil
	}
	fn(frame.Data)
	return nil
}

// SetOutputReady implements Encoder.
func (p *Passthrough) SetOutputReady(fn OutputFunc) {
	p.mu.Lock()
	p.fn = fn
	p.mu.Unlock()
}
