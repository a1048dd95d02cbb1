package detector

import (
	"fmt"
	"math"
	"sort"
)

// candidate is a scored box in model input coordinates.
type candidate struct {
	box   [4]float32 // x1, y1, x2, y2
	score float32
	class int
}

// outputKind selects how output rows are decoded.
type outputKind int

const (
	// outputAuto decides from the tensor shape.
	outputAuto outputKind = iota
	// outputRaw rows are cx, cy, w, h followed by one score per class.
	outputRaw
	// outputEndToEnd rows are x1, y1, x2, y2, confidence, class after in-model NMS.
	outputEndToEnd
)

func (k outputKind) String() string {
	switch k {
	case outputRaw:
		return "raw"
	case outputEndToEnd:
		return "end2end"
	default:
		return "auto"
	}
}

// endToEndAttrs is the row width of NMS-enabled exports.
const endToEndAttrs = 6

// maxEndToEndBoxes is the largest row count taken as end-to-end output when
// the model metadata does not say. Raw heads have far more anchors (8400 at 640).
const maxEndToEndBoxes = 300

// outputLayout describes how a YOLO detection head is laid out in memory.
type outputLayout struct {
	attrs      int  // 4 box values plus one score per class
	boxes      int  // Number of anchor predictions
	attrsMajor bool // [1, attrs, boxes] when true, [1, boxes, attrs] otherwise
}

// parseLayout accepts [1, 4+C, N] (ultralytics default) or [1, N, 4+C].
// The smaller trailing dimension is taken as the attribute axis.
func parseLayout(shape []int64, dataLen int) (outputLayout, error) {
	if len(shape) != 3 {
		return outputLayout{}, fmt.Errorf("expected 3D output tensor, got shape %v", shape)
	}
	if shape[0] != 1 {
		return outputLayout{}, fmt.Errorf("expected batch size 1, got %d", shape[0])
	}
	d1, d2 := int(shape[1]), int(shape[2])
	layout := outputLayout{attrs: d2, boxes: d1}
	if d1 < d2 {
		layout = outputLayout{attrs: d1, boxes: d2, attrsMajor: true}
	}
	if layout.attrs < 5 {
		return outputLayout{}, fmt.Errorf("output shape %v has no class scores", shape)
	}
	if want := layout.attrs * layout.boxes; dataLen != want {
		return outputLayout{}, fmt.Errorf("output data length %d != expected %d for shape %v", dataLen, want, shape)
	}
	return layout, nil
}

// parseEndToEndLayout accepts only [1, K, 6]; K may be zero.
func parseEndToEndLayout(shape []int64, dataLen int) (outputLayout, error) {
	if len(shape) != 3 || shape[0] != 1 || shape[2] != endToEndAttrs {
		return outputLayout{}, fmt.Errorf("end-to-end output must be [1, K, %d], got shape %v", endToEndAttrs, shape)
	}
	layout := outputLayout{attrs: endToEndAttrs, boxes: int(shape[1])}
	if want := layout.attrs * layout.boxes; dataLen != want {
		return outputLayout{}, fmt.Errorf("output data length %d != expected %d for shape %v", dataLen, want, shape)
	}
	return layout, nil
}

func (l outputLayout) at(data []float32, box, attr int) float32 {
	if l.attrsMajor {
		return data[attr*l.boxes+box]
	}
	return data[box*l.attrs+attr]
}

// extractCandidates keeps predictions whose best class score is strictly above
// confThreshold, capped at maxCandidates by score.
func extractCandidates(data []float32, layout outputLayout, confThreshold float32) []candidate {
	var out []candidate
	for i := range layout.boxes {
		best, class := float32(math.Inf(-1)), -1
		for a := 4; a < layout.attrs; a++ {
			if s := layout.at(data, i, a); s > best {
				best, class = s, a-4
			}
		}
		if best <= confThreshold {
			continue
		}
		cx, cy := layout.at(data, i, 0), layout.at(data, i, 1)
		w, h := layout.at(data, i, 2), layout.at(data, i, 3)
		out = append(out, candidate{
			box:   [4]float32{cx - w/2, cy - h/2, cx + w/2, cy + h/2},
			score: best,
			class: class,
		})
	}
	if len(out) > maxCandidates {
		sortByScore(out)
		out = out[:maxCandidates]
	}
	return out
}

// sortByScore orders candidates by descending score; ties keep model order.
func sortByScore(c []candidate) {
	sort.SliceStable(c, func(i, j int) bool { return c[i].score > c[j].score })
}

// resolveKind picks the decoding for a tensor. [1, K, 6] with K <= 300 is the
// shape ultralytics writes for exports with nms=True.
func resolveKind(kind outputKind, layout outputLayout) outputKind {
	if kind != outputAuto {
		return kind
	}
	if !layout.attrsMajor && layout.attrs == endToEndAttrs && layout.boxes <= maxEndToEndBoxes {
		return outputEndToEnd
	}
	return outputRaw
}

// extractEndToEnd reads post-NMS rows, keeping those whose confidence is
// strictly above confThreshold.
func extractEndToEnd(data []float32, layout outputLayout, confThreshold float32) []candidate {
	var out []candidate
	for i := range layout.boxes {
		conf := layout.at(data, i, 4)
		if conf <= confThreshold {
			continue
		}
		cls := layout.at(data, i, 5)
		if cls < 0 || math.IsNaN(float64(cls)) {
			continue
		}
		out = append(out, candidate{
			box:   [4]float32{layout.at(data, i, 0), layout.at(data, i, 1), layout.at(data, i, 2), layout.at(data, i, 3)},
			score: conf,
			class: int(math.Round(float64(cls))),
		})
	}
	sortByScore(out)
	return out
}

// postprocess turns an output tensor into detections in source pixels,
// deciding the row format from the shape.
func postprocess(data []float32, shape []int64, lb letterbox, cfg Config) ([]Detection, error) {
	return decodeOutput(data, shape, lb, cfg, outputAuto)
}

// decodeOutput is postprocess with an explicit row format. End-to-end rows skip
// NMS; both formats undo the letterbox and clip to the image.
func decodeOutput(data []float32, shape []int64, lb letterbox, cfg Config, kind outputKind) ([]Detection, error) {
	var layout outputLayout
	var err error
	if kind == outputEndToEnd {
		layout, err = parseEndToEndLayout(shape, len(data))
	} else {
		layout, err = parseLayout(shape, len(data))
	}
	if err != nil {
		return nil, err
	}

	var kept []candidate
	if resolveKind(kind, layout) == outputEndToEnd {
		kept = extractEndToEnd(data, layout, cfg.ConfThreshold)
		if len(kept) > cfg.MaxDetections {
			kept = kept[:cfg.MaxDetections]
		}
	} else {
		kept = nonMaxSuppression(extractCandidates(data, layout, cfg.ConfThreshold), cfg.IoUThreshold, cfg.MaxDetections)
	}

	dets := make([]Detection, 0, len(kept))
	for _, c := range kept {
		x1, y1 := lb.toSource(c.box[0], c.box[1])
		x2, y2 := lb.toSource(c.box[2], c.box[3])
		if x2 < x1 {
			x1, x2 = x2, x1
		}
		if y2 < y1 {
			y1, y2 = y2, y1
		}
		dets = append(dets, Detection{
			X1:         x1,
			Y1:         y1,
			X2:         x2,
			Y2:         y2,
			Confidence: clampFloat(float64(c.score), 0, 1),
			ClassID:    c.class,
		})
	}
	return dets, nil
}
