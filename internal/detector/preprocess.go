package detector

import (
	"errors"
	"image"
	"image/color"
	"math"

	"github.com/MeKo-Tech/parkdet/internal/mempool"
	"github.com/disintegration/imaging"
)

// letterbox describes how an image was fitted into the square model input.
type letterbox struct {
	scale      float64 // Resize factor applied to the source
	padX, padY int     // Border added on the left and top
	newW, newH int     // Scaled content dimensions
	srcW, srcH int     // Source dimensions
}

// newLetterbox fits w×h into size×size preserving aspect ratio, centered.
func newLetterbox(w, h, size int) letterbox {
	scale := math.Min(float64(size)/float64(w), float64(size)/float64(h))
	newW := clampInt(int(math.Round(float64(w)*scale)), 1, size)
	newH := clampInt(int(math.Round(float64(h)*scale)), 1, size)
	return letterbox{
		scale: scale,
		padX:  (size - newW) / 2,
		padY:  (size - newH) / 2,
		newW:  newW,
		newH:  newH,
		srcW:  w,
		srcH:  h,
	}
}

// toSource maps a point from model input space back to source pixels, clipped
// to the image.
func (lb letterbox) toSource(x, y float32) (float64, float64) {
	sx := (float64(x) - float64(lb.padX)) / lb.scale
	sy := (float64(y) - float64(lb.padY)) / lb.scale
	return clampFloat(sx, 0, float64(lb.srcW)), clampFloat(sy, 0, float64(lb.srcH))
}

// preprocess letterboxes img to size×size and returns a pooled NCHW buffer of
// RGB values in [0, 1]. Release the buffer with mempool.PutFloat32.
func preprocess(img image.Image, size int) ([]float32, letterbox, error) {
	if img == nil {
		return nil, letterbox{}, errors.New("input image is nil")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, letterbox{}, errors.New("input image is empty")
	}

	lb := newLetterbox(b.Dx(), b.Dy(), size)
	resized := imaging.Resize(img, lb.newW, lb.newH, imaging.Linear)
	canvas := imaging.New(size, size, color.NRGBA{R: padGray, G: padGray, B: padGray, A: 255})
	canvas = imaging.Paste(canvas, resized, image.Pt(lb.padX, lb.padY))

	data := mempool.GetFloat32(3 * size * size)
	fillNCHW(canvas, data)
	return data, lb, nil
}

// fillNCHW writes the RGB planes of img into dst, scaled to [0, 1].
func fillNCHW(img *image.NRGBA, dst []float32) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	plane := w * h
	const inv = 1.0 / 255.0
	for y := range h {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := range w {
			idx := y*w + x
			p := row[x*4 : x*4+3 : x*4+3]
			dst[idx] = float32(p[0]) * inv
			dst[plane+idx] = float32(p[1]) * inv
			dst[2*plane+idx] = float32(p[2]) * inv
		}
	}
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
