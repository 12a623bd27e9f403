// Package stills writes single still images from raw frames, for the
// capture_image command.
package stills

import (
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ktyurin/survcafe/internal/types"
)

// Writer encodes raw RGB frames to JPEG files in a fixed directory
type Writer struct {
	dir     string
	prefix  string
	quality int
}

// NewWriter creates a still-image writer. The directory is created if needed.
func NewWriter(dir, prefix string, quality int) (*Writer, error) {
	if dir == "" {
		dir = "."
	}
	if prefix == "" {
		prefix = "capture"
	}
	if quality <= 0 || quality > 100 {
		quality = 85
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create stills directory: %w", err)
	}

	return &Writer{dir: dir, prefix: prefix, quality: quality}, nil
}

// Save encodes the frame as JPEG and writes it to the stills directory,
// returning the file path. Only raw RGB frames can be saved.
func (w *Writer) Save(frame types.Frame) (string, error) {
	if !frame.Raw() {
		return "", fmt.Errorf("cannot save still from %s frame (raw RGB required)", frame.Format)
	}
	if len(frame.Data) < frame.Width*frame.Height*3 {
		return "", fmt.Errorf("short frame data: %d bytes for %dx%d", len(frame.Data), frame.Width, frame.Height)
	}

	img := rgbToImage(frame)

	name := fmt.Sprintf("%s_%s_%06d.jpg",
		w.prefix,
		frame.Timestamp.Format("20060102T150405.000"),
		frame.Seq,
	)
	path := filepath.Join(w.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create still file: %w", err)
	}
	defer f.Close()

	start := time.Now()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: w.quality}); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to encode still: %w", err)
	}

	slog.Info("still image saved",
		"path", path,
		"seq", frame.Seq,
		"trace_id", frame.TraceID,
		"encode_time", time.Since(start),
	)
	return path, nil
}

// rgbToImage converts packed RGB24 frame data to an image.RGBA
func rgbToImage(frame types.Frame) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))

	for y := 0; y < frame.Height; y++ {
		src := y * frame.Width * 3
		dst := y * img.Stride
		for x := 0; x < frame.Width; x++ {
			img.Pix[dst+0] = frame.Data[src+0]
			img.Pix[dst+1] = frame.Data[src+1]
			img.Pix[dst+2] = frame.Data[src+2]
			img.Pix[dst+3] = 0xff
			src += 3
			dst += 4
		}
	}
	return img
}
