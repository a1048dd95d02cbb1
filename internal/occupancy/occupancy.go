// Package occupancy maps detected vehicles onto the parking slots of a lot
// layout and reports which slots are taken.
package occupancy

import (
	"slices"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/parkdet/internal/results"
)

// Overlap thresholds, as a percentage of the slot area covered by a detection.
const (
	// OccupiedOverlap is the coverage above which a slot is taken outright.
	OccupiedOverlap = 50.0
	// VacantOverlap is the coverage below which a detection never takes a slot.
	// Between the two, the slot is taken when the box centre lies inside it.
	VacantOverlap = 35.0
)

// Result is the occupancy of one image. Occupied and Available are never nil
// and are sorted by label number.
type Result struct {
	Occupied  []string `json:"occupied"`
	Available []string `json:"available"`
	Total     int      `json:"total"`
}

// Occupies reports whether det takes slot.
func Occupies(slot Slot, det results.Detection) bool {
	left, right := max(slot.X1, det.X1), min(slot.X2, det.X2)
	top, bottom := max(slot.Y1, det.Y1), min(slot.Y2, det.Y2)
	if right < left || bottom < top {
		return false
	}

	coverage := (right - left) * (bottom - top) * 100 / slot.Area()
	switch {
	case coverage > OccupiedOverlap:
		return true
	case coverage < VacantOverlap:
		return false
	}

	cx, cy := (det.X1+det.X2)/2, (det.Y1+det.Y2)/2
	return cx > slot.X1 && cx < slot.X2 && cy > slot.Y1 && cy < slot.Y2
}

// Evaluate assigns each vehicle detection to the first slot, in layout order,
// that it occupies. A detection takes at most one slot.
func (l *Layout) Evaluate(dets []results.Detection) Result {
	taken := make(map[string]bool, len(l.Slots))
	for _, d := range dets {
		if !l.countsClass(d.ClassID) {
			continue
		}
		for _, slot := range l.Slots {
			if Occupies(slot, d) {
				taken[slot.Label] = true
				break
			}
		}
	}

	res := Result{
		Occupied:  make([]string, 0, len(taken)),
		Available: make([]string, 0, len(l.Slots)-len(taken)),
		Total:     len(l.Slots),
	}
	for _, slot := range l.Slots {
		if taken[slot.Label] {
			res.Occupied = append(res.Occupied, slot.Label)
		} else {
			res.Available = append(res.Available, slot.Label)
		}
	}
	SortLabels(res.Occupied)
	SortLabels(res.Available)
	return res
}

func (l *Layout) countsClass(id int) bool {
	classes := l.Classes
	if len(classes) == 0 {
		classes = DefaultClasses
	}
	return slices.Contains(classes, id)
}

// SortLabels orders slot labels by their leading number ("2" before "10",
// "3A" after "3"). Labels without one sort after numbered labels, by text.
func SortLabels(labels []string) {
	slices.SortStableFunc(labels, compareLabels)
}

func compareLabels(a, b string) int {
	na, okA := leadingInt(a)
	nb, okB := leadingInt(b)
	switch {
	case okA && okB:
		if na != nb {
			if na < nb {
				return -1
			}
			return 1
		}
	case okA:
		return -1
	case okB:
		return 1
	}
	return strings.Compare(a, b)
}

// leadingInt parses the optionally signed digits that start s.
func leadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
