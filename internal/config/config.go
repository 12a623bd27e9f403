package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete survcafe configuration
type Config struct {
	InstanceID       string        `yaml:"instance_id"`
	ShutdownTimeoutS int           `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Server           ServerConfig  `yaml:"server"`
	Camera           CameraConfig  `yaml:"camera"`
	Encoder          EncoderConfig `yaml:"encoder"`
	Stills           StillsConfig  `yaml:"stills"`
	Control          ControlConfig `yaml:"control"`
	MQTT             MQTTConfig    `yaml:"mqtt"`
}

// ServerConfig contains streaming server settings
type ServerConfig struct {
	Address         string `yaml:"address"`           // tcp://<ipv4>:<port>
	SingleClient    bool   `yaml:"single_client"`     // exclusive single-client mode
	WaitingTimeoutS int    `yaml:"waiting_timeout_s"` // seconds to wait for a client (default: 600)
	TickIntervalMS  int    `yaml:"tick_interval_ms"`  // control loop scheduling quantum (default: 125)
}

// CameraConfig contains camera capture settings
type CameraConfig struct {
	Source       string `yaml:"source"`       // gst, exec, mock
	Device       string `yaml:"device"`       // v4l2 device for gst source
	ExecCommand  string `yaml:"exec_command"` // capture command for exec source
	Width        int    `yaml:"width"`
	Height       int    `yaml:"height"`
	FPS          int    `yaml:"fps"`
	SourceStream string `yaml:"source_stream"` // LQ, HQ
}

// EncoderConfig contains video encoder settings
type EncoderConfig struct {
	Codec       string `yaml:"codec"` // h264, none (passthrough)
	BitrateKbps int    `yaml:"bitrate_kbps"`
}

// StillsConfig contains still-image capture settings
type StillsConfig struct {
	Dir     string `yaml:"dir"`
	Prefix  string `yaml:"prefix"`
	Quality int    `yaml:"quality"`
}

// ControlConfig selects the local command surfaces
type ControlConfig struct {
	Stdin   bool `yaml:"stdin"`   // read control tokens from stdin
	Signals bool `yaml:"signals"` // accept realtime control signals
}

// MQTTConfig contains optional MQTT control/event plane settings.
// An empty broker disables MQTT entirely.
type MQTTConfig struct {
	Broker string          `yaml:"broker"`
	Topics MQTTTopics      `yaml:"topics"`
	QoS    map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic templates
type MQTTTopics struct {
	Control string `yaml:"control"`
	Events  string `yaml:"events"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
