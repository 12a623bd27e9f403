package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "survcafe.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

// TestLoadMinimal verifies a minimal config loads with defaults filled in.
func TestLoadMinimal(t *testing.T) {
	path := writeConfig(t, `
instance_id: "cam-01"
server:
  address: "tcp://0.0.0.0:8554"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.WaitingTimeoutS != 600 {
		t.Errorf("Expected default waiting timeout 600, got %d", cfg.Server.WaitingTimeoutS)
	}
	if cfg.Server.TickIntervalMS != 125 {
		t.Errorf("Expected default tick 125ms, got %d", cfg.Server.TickIntervalMS)
	}
	if cfg.Camera.Source != "mock" {
		t.Errorf("Expected default camera source mock, got %q", cfg.Camera.Source)
	}
	if cfg.Camera.Width != 1280 || cfg.Camera.Height != 720 || cfg.Camera.FPS != 30 {
		t.Errorf("Unexpected camera defaults: %dx%d@%d", cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS)
	}
	if cfg.Encoder.Codec != "h264" {
		t.Errorf("Expected default codec h264, got %q", cfg.Encoder.Codec)
	}
	if cfg.Stills.Prefix != "cam-01" {
		t.Errorf("Expected stills prefix to default to instance id, got %q", cfg.Stills.Prefix)
	}
}

// TestValidateRejectsBadAddress verifies a malformed server address is a
// fatal configuration error.
func TestValidateRejectsBadAddress(t *testing.T) {
	bad := []string{
		"",
		"tcp://localhost:8554",
		"udp://1.2.3.4:8554",
		"tcp://1.2.3.4:0",
	}
	for _, addr := range bad {
		cfg := &Config{InstanceID: "cam-01"}
		cfg.Server.Address = addr
		if err := Validate(cfg); err == nil {
			t.Errorf("Validate accepted bad address %q", addr)
		}
	}
}

// TestValidateInstanceID verifies the instance id pattern.
func TestValidateInstanceID(t *testing.T) {
	for _, id := range []string{"", "Cam01", "cam_01", "cam 01"} {
		cfg := &Config{InstanceID: id}
		cfg.Server.Address = "tcp://0.0.0.0:8554"
		if err := Validate(cfg); err == nil {
			t.Errorf("Validate accepted bad instance id %q", id)
		}
	}
}

// TestValidateExecSource verifies the exec source requires a command and
// defaults to the passthrough codec.
func TestValidateExecSource(t *testing.T) {
	cfg := &Config{InstanceID: "cam-01"}
	cfg.Server.Address = "tcp://0.0.0.0:8554"
	cfg.Camera.Source = "exec"

	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "exec_command") {
		t.Errorf("Expected exec_command error, got %v", err)
	}

	cfg.Camera.ExecCommand = "libcamera-vid -t 0 -o -"
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.Encoder.Codec != "none" {
		t.Errorf("Expected exec source to default to codec none, got %q", cfg.Encoder.Codec)
	}
}

// TestValidateRejectsExecWithH264 verifies an exec source cannot be paired
// with the h264 encoder; its output is already an encoded stream.
func TestValidateRejectsExecWithH264(t *testing.T) {
	cfg := &Config{InstanceID: "cam-01"}
	cfg.Server.Address = "tcp://0.0.0.0:8554"
	cfg.Camera.Source = "exec"
	cfg.Camera.ExecCommand = "libcamera-vid -t 0 -o -"
	cfg.Encoder.Codec = "h264"

	if err := Validate(cfg); err == nil {
		t.Error("Validate accepted exec source with h264 codec")
	}
}

// TestValidateMQTTDefaults verifies topic and QoS defaults are derived from
// the instance id only when a broker is configured.
func TestValidateMQTTDefaults(t *testing.T) {
	cfg := &Config{InstanceID: "cam-01"}
	cfg.Server.Address = "tcp://0.0.0.0:8554"

	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.MQTT.Topics.Control != "" {
		t.Error("MQTT defaults applied without a broker")
	}

	cfg.MQTT.Broker = "localhost:1883"
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.MQTT.Topics.Control != "survcafe/control/cam-01" {
		t.Errorf("Unexpected control topic: %q", cfg.MQTT.Topics.Control)
	}
	if cfg.MQTT.Topics.Events != "survcafe/events/cam-01" {
		t.Errorf("Unexpected events topic: %q", cfg.MQTT.Topics.Events)
	}
	if cfg.MQTT.QoS["control"] != 1 || cfg.MQTT.QoS["events"] != 0 {
		t.Errorf("Unexpected QoS defaults: %v", cfg.MQTT.QoS)
	}
}

// TestLoadMissingFile verifies a missing config file fails loudly.
func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error loading a missing file")
	}
}
