//go:build linux

package command

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Realtime control signals. SIGRTMIN is 34 on Linux with glibc/musl; the three
// control signals follow it, matching the signal numbers the companion tooling
// sends.
const (
	sigRTMin = syscall.Signal(34)

	SigOpenStream   = sigRTMin + 1
	SigCloseStream  = sigRTMin + 2
	SigCaptureImage = sigRTMin + 3
)

// SignalSource maps realtime signals delivered to the process to Commands.
//
// The runtime delivers signals on a buffered channel, so unlike a raw handler
// writing a single shared cell, rapid back-to-back signals are queued rather
// than coalesced to the most recent one.
type SignalSource struct {
	submit func(Command)

	sigCh  chan os.Signal
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSignalSource creates a signal-driven command source.
func NewSignalSource(submit func(Command)) *SignalSource {
	return &SignalSource{
		submit: submit,
		sigCh:  make(chan os.Signal, 8),
		stopCh: make(chan struct{}),
	}
}

// Start registers the control signals and begins translating them.
func (s *SignalSource) Start() {
	signal.Notify(s.sigCh, SigOpenStream, SigCloseStream, SigCaptureImage)

	s.wg.Add(1)
	go s.translate()

	slog.Info("signal command source started",
		"open_stream", int(SigOpenStream),
		"close_stream", int(SigCloseStream),
		"capture_image", int(SigCaptureImage),
	)
}

// Stop unregisters the signals and waits for the translator to exit.
func (s *SignalSource) Stop() {
	signal.Stop(s.sigCh)
	close(s.stopCh)
	s.wg.Wait()
}

func (s *SignalSource) translate() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case sig := <-s.sigCh:
			cmd := sigToCommand(sig)
			if cmd == None {
				slog.Debug("unrecognized signal ignored", "signal", sig)
			}
			s.submit(cmd)
		}
	}
}

func sigToCommand(sig os.Signal) Command {
	switch sig {
	case SigOpenStream:
		return OpenStream
	case SigCloseStream:
		return CloseStream
	case SigCaptureImage:
		return CaptureImage
	default:
		return None
	}
}
