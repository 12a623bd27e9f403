package stills

import (
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ktyurin/survcafe/internal/types"
)

func rgbFrame(seq uint64, width, height int) types.Frame {
	data := make([]byte, width*height*3)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return types.Frame{
		Seq:       seq,
		Timestamp: time.Date(2026, 8, 31, 12, 30, 45, 0, time.UTC),
		Width:     width,
		Height:    height,
		Format:    types.FormatRGB,
		Data:      data,
	}
}

// TestSaveRoundTrip verifies a saved still decodes back as a JPEG with the
// frame's dimensions.
func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "test", 85)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	path, err := w.Save(rgbFrame(42, 8, 6))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if filepath.Dir(path) != dir {
		t.Errorf("Still written to %s, want directory %s", path, dir)
	}
	name := filepath.Base(path)
	if !strings.HasPrefix(name, "test_") || !strings.HasSuffix(name, "_000042.jpg") {
		t.Errorf("Unexpected still filename: %s", name)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open still: %v", err)
	}
	defer f.Close()

	img, err := jpeg.Decode(f)
	if err != nil {
		t.Fatalf("Still is not a decodable JPEG: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 8 || bounds.Dy() != 6 {
		t.Errorf("Decoded size %dx%d, want 8x6", bounds.Dx(), bounds.Dy())
	}
}

// TestSaveRejectsEncodedFrames verifies only raw RGB frames are accepted.
func TestSaveRejectsEncodedFrames(t *testing.T) {
	w, err := NewWriter(t.TempDir(), "test", 85)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	frame := rgbFrame(1, 4, 4)
	frame.Format = types.FormatH264

	if _, err := w.Save(frame); err == nil {
		t.Error("Expected error saving a non-raw frame")
	}
}

// TestSaveRejectsShortData verifies truncated frame data is rejected before
// encoding.
func TestSaveRejectsShortData(t *testing.T) {
	w, err := NewWriter(t.TempDir(), "test", 85)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	frame := rgbFrame(1, 4, 4)
	frame.Data = frame.Data[:10]

	if _, err := w.Save(frame); err == nil {
		t.Error("Expected error saving a frame with short data")
	}
}

// TestNewWriterDefaults verifies the fallback prefix and quality.
func TestNewWriterDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "captures")
	w, err := NewWriter(dir, "", 0)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if w.prefix != "capture" {
		t.Errorf("Default prefix = %q, want \"capture\"", w.prefix)
	}
	if w.quality != 85 {
		t.Errorf("Default quality = %d, want 85", w.quality)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Stills directory was not created: %v", err)
	}
}
