package detector

// iou returns the intersection over union of two x1,y1,x2,y2 boxes.
func iou(a, b [4]float32) float32 {
	ix1, iy1 := max(a[0], b[0]), max(a[1], b[1])
	ix2, iy2 := min(a[2], b[2]), min(a[3], b[3])
	iw, ih := ix2-ix1, iy2-iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := area(a) + area(b) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func area(b [4]float32) float32 {
	w, h := b[2]-b[0], b[3]-b[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// nonMaxSuppression performs class-aware greedy NMS. Boxes of different classes
// never suppress each other. The result is ordered by descending score and holds
// at most maxDet entries.
func nonMaxSuppression(cands []candidate, iouThreshold float32, maxDet int) []candidate {
	if len(cands) == 0 {
		return nil
	}
	sortByScore(cands)

	suppressed := make([]bool, len(cands))
	kept := make([]candidate, 0, min(len(cands), maxDet))
	for i := range cands {
		if suppressed[i] {
			continue
		}
		kept = append(kept, cands[i])
		if len(kept) == maxDet {
			break
		}
		for j := i + 1; j < len(cands); j++ {
			if suppressed[j] || cands[j].class != cands[i].class {
				continue
			}
			if iou(cands[i].box, cands[j].box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}
