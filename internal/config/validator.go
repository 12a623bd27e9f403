package config

import (
	"fmt"
	"regexp"

	"github.com/ktyurin/survcafe/internal/output"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid and fills in defaults
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	// Validate server address: fatal configuration error before any bind
	if cfg.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if _, err := output.ParseAddress(cfg.Server.Address); err != nil {
		return fmt.Errorf("server.address: %w", err)
	}
	if cfg.Server.WaitingTimeoutS <= 0 {
		cfg.Server.WaitingTimeoutS = 600 // 10 minutes
	}
	if cfg.Server.TickIntervalMS <= 0 {
		cfg.Server.TickIntervalMS = 125
	}

	// Camera defaults; no source configured falls back to the mock stream
	switch cfg.Camera.Source {
	case "":
		cfg.Camera.Source = "mock"
	case "gst":
		if cfg.Camera.Device == "" {
			cfg.Camera.Device = "/dev/video0"
		}
	case "exec":
		if cfg.Camera.ExecCommand == "" {
			return fmt.Errorf("camera.exec_command is required for the exec source")
		}
	case "mock":
	default:
		return fmt.Errorf("camera.source must be one of gst, exec, mock (got %q)", cfg.Camera.Source)
	}
	if cfg.Camera.Width <= 0 {
		cfg.Camera.Width = 1280
	}
	if cfg.Camera.Height <= 0 {
		cfg.Camera.Height = 720
	}
	if cfg.Camera.FPS <= 0 {
		cfg.Camera.FPS = 30
	}
	if cfg.Camera.SourceStream == "" {
		cfg.Camera.SourceStream = "LQ"
	}

	// Encoder: exec sources deliver pre-encoded bytes and pair with "none"
	switch cfg.Encoder.Codec {
	case "":
		if cfg.Camera.Source == "exec" {
			cfg.Encoder.Codec = "none"
		} else {
			cfg.Encoder.Codec = "h264"
		}
	case "h264":
		if cfg.Camera.Source == "exec" {
			return fmt.Errorf("encoder.codec h264 cannot be paired with the exec source (its output is already encoded; use none)")
		}
	case "none":
	default:
		return fmt.Errorf("encoder.codec must be h264 or none (got %q)", cfg.Encoder.Codec)
	}
	if cfg.Encoder.BitrateKbps <= 0 {
		cfg.Encoder.BitrateKbps = 2000
	}

	// Stills defaults
	if cfg.Stills.Dir == "" {
		cfg.Stills.Dir = "captures"
	}
	if cfg.Stills.Prefix == "" {
		cfg.Stills.Prefix = cfg.InstanceID
	}
	if cfg.Stills.Quality <= 0 || cfg.Stills.Quality > 100 {
		cfg.Stills.Quality = 85
	}

	// MQTT is optional; defaults only apply when a broker is configured
	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.Topics.Control == "" {
			cfg.MQTT.Topics.Control = fmt.Sprintf("survcafe/control/%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Events == "" {
			cfg.MQTT.Topics.Events = fmt.Sprintf("survcafe/events/%s", cfg.InstanceID)
		}
		if cfg.MQTT.QoS == nil {
			cfg.MQTT.QoS = map[string]byte{
				"control": 1,
				"events":  0,
			}
		}
	}

	return nil
}
