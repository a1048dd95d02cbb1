// Package testutil provides image fixtures shared by package tests.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

// SolidImage returns a w×h NRGBA image filled with c.
func SolidImage(w, h int, c color.Color) *image.NRGBA {
	return imaging.New(w, h, c)
}

// GradientImage returns a w×h opaque image whose red channel ramps left to right
// and green channel top to bottom.
func GradientImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / max(w-1, 1)),
				G: uint8(y * 255 / max(h-1, 1)),
				B: 64,
				A: 255,
			})
		}
	}
	return img
}

// EncodeImage encodes img in the given format and returns the bytes.
func EncodeImage(t *testing.T, img image.Image, format imaging.Format) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, format), "Failed to encode %s image", format)
	return buf.Bytes()
}

// EncodePNG encodes img as PNG.
func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	return EncodeImage(t, img, imaging.PNG)
}

// EncodeJPEG encodes img as JPEG.
func EncodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	return EncodeImage(t, img, imaging.JPEG)
}

// WriteFile writes data to dir/name and returns the full path.
func WriteFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, data, 0o600), "Failed to write %s", path)
	return path
}

// WritePNG encodes img as PNG under dir/name and returns the path.
func WritePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	return WriteFile(t, dir, name, EncodePNG(t, img))
}

// CorruptImageBytes returns bytes that start like a PNG but cannot be decoded.
func CorruptImageBytes() []byte {
	return append([]byte("\x89PNG\r\n\x1a\n"), []byte("this is not really an image")...)
}
