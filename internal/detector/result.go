package detector

import "fmt"

// Detection is one object found in an image, in original pixel coordinates.
type Detection struct {
	X1, Y1     float64 // Top-left corner
	X2, Y2     float64 // Bottom-right corner, X2 >= X1 and Y2 >= Y1
	Confidence float64
	ClassID    int
}

// Width returns the box width.
func (d Detection) Width() float64 { return d.X2 - d.X1 }

// Height returns the box height.
func (d Detection) Height() float64 { return d.Y2 - d.Y1 }

// InferenceError reports a failure inside the model runtime.
type InferenceError struct {
	Op  string // preprocess, run or postprocess
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference %s: %v", e.Op, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }
