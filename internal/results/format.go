// Package results shapes raw detections into the public response schema.
package results

import (
	"math"
	"strconv"

	"github.com/MeKo-Tech/parkdet/internal/detector"
)

// Detection is one entry of the response.
type Detection struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
}

// Response is the body returned by every prediction endpoint.
type Response struct {
	Detections []Detection `json:"detections"`
}

// NameTable resolves class ids to labels.
type NameTable interface {
	Lookup(id int) (string, bool)
}

// ClassName resolves id through names, falling back to its decimal form when
// the id is unknown or its label is blank.
func ClassName(names NameTable, id int) string {
	if names != nil {
		if name, ok := names.Lookup(id); ok && name != "" {
			return name
		}
	}
	return strconv.Itoa(id)
}

// Format converts raw detections, preserving their order. Detections is never nil.
func Format(raw []detector.Detection, names NameTable) Response {
	out := make([]Detection, 0, len(raw))
	for _, d := range raw {
		out = append(out, Detection{
			X1:         d.X1,
			Y1:         d.Y1,
			X2:         d.X2,
			Y2:         d.Y2,
			Confidence: clampUnit(d.Confidence),
			ClassID:    d.ClassID,
			ClassName:  ClassName(names, d.ClassID),
		})
	}
	return Response{Detections: out}
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(v, 1))
}
