// Package command normalizes external control stimuli (POSIX signals, text
// tokens, MQTT messages) into Command values consumed by the control loop.
package command

// Command is a normalized control instruction, independent of its origin
type Command int

const (
	// None is produced for unrecognized input and has no side effect
	None Command = iota
	// OpenStream asks the server to start listening for a client
	OpenStream
	// CloseStream asks the server to stop streaming and release the socket
	CloseStream
	// CaptureImage asks for a single still image, independent of streaming state
	CaptureImage
)

// Control tokens accepted on the line and MQTT command surfaces.
const (
	TokenOpenStream   = "start_video_server"
	TokenCloseStream  = "stop_video_server"
	TokenCaptureImage = "capture_image"
)

// String returns the token form of the command
func (c Command) String() string {
	switch c {
	case OpenStream:
		return TokenOpenStream
	case CloseStream:
		return TokenCloseStream
	case CaptureImage:
		return TokenCaptureImage
	default:
		return "none"
	}
}

// Parse maps a control token to its Command. Unrecognized tokens map to None.
func Parse(token string) Command {
	switch token {
	case TokenOpenStream:
		return OpenStream
	case TokenCloseStream:
		return CloseStream
	case TokenCaptureImage:
		return CaptureImage
	default:
		return None
	}
}
