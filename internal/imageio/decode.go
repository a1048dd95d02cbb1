// Package imageio acquires images from URLs, local paths and upload streams and
// normalizes them to a single opaque RGB representation.
package imageio

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decode reads an image in any registered format and returns it as opaque RGB.
// Failures are returned as *DecodeError.
func Decode(r io.Reader) (*image.NRGBA, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return ToRGB(img), nil
}

// ToRGB copies img into an NRGBA buffer with every alpha sample set to 255.
// Color values are kept as stored; alpha is discarded, not composited.
func ToRGB(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}
