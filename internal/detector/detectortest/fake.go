// Package detectortest provides a scriptable stand-in for the ONNX detector.
package detectortest

import (
	"image"
	"sync"

	"github.com/MeKo-Tech/parkdet/internal/detector"
)

// Fake returns canned detections. It is safe for concurrent use.
type Fake struct {
	mu         sync.Mutex
	detections []detector.Detection
	err        error
	panicValue any
	names      *detector.ClassNames
	calls      int
	lastSize   image.Point
	closed     bool
}

// New creates a fake using names as its class table.
func New(names map[int]string) *Fake {
	return &Fake{names: detector.NewClassNames(names)}
}

// SetDetections sets what the next Detect calls return.
func (f *Fake) SetDetections(dets ...detector.Detection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detections = dets
	f.err = nil
}

// SetError makes Detect fail with err.
func (f *Fake) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// SetPanic makes Detect panic with v.
func (f *Fake) SetPanic(v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panicValue = v
}

func (f *Fake) Detect(img image.Image) ([]detector.Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if img != nil {
		f.lastSize = img.Bounds().Size()
	}
	if f.panicValue != nil {
		panic(f.panicValue)
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]detector.Detection, len(f.detections))
	copy(out, f.detections)
	return out, nil
}

func (f *Fake) ClassNames() *detector.ClassNames { return f.names }

func (f *Fake) ModelInfo() detector.ModelInfo {
	return detector.ModelInfo{
		ModelPath:     "fake.onnx",
		InputName:     "images",
		InputShape:    []int64{1, 3, detector.DefaultImageSize, detector.DefaultImageSize},
		OutputName:    "output0",
		OutputShape:   []int64{1, int64(4 + f.names.Len()), 8400},
		ImageSize:     detector.DefaultImageSize,
		ConfThreshold: detector.DefaultConfThreshold,
		IoUThreshold:  detector.DefaultIoUThreshold,
		MaxDetections: detector.DefaultMaxDetections,
		Classes:       f.names.Map(),
	}
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Calls returns how many times Detect ran.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// LastSize returns the dimensions of the last image passed to Detect.
func (f *Fake) LastSize() image.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSize
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
