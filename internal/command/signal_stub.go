//go:build !linux

package command

import "log/slog"

// SignalSource is a no-op on platforms without realtime signals.
type SignalSource struct{}

// NewSignalSource creates a signal-driven command source.
func NewSignalSource(submit func(Command)) *SignalSource {
	return &SignalSource{}
}

// Start logs that realtime signals are unavailable on this platform.
func (s *SignalSource) Start() {
	slog.Warn("realtime control signals are only supported on linux")
}

// Stop is a no-op.
func (s *SignalSource) Stop() {}
