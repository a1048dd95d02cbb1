package occupancy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultClasses are the class ids counted as vehicles when a layout names none.
var DefaultClasses = []int{0}

// Slot is one parking space in source-image pixel coordinates.
type Slot struct {
	Label string  `yaml:"label" json:"label"`
	X1    float64 `yaml:"x1" json:"x1"`
	Y1    float64 `yaml:"y1" json:"y1"`
	X2    float64 `yaml:"x2" json:"x2"`
	Y2    float64 `yaml:"y2" json:"y2"`
}

// Area returns the slot area in square pixels.
func (s Slot) Area() float64 {
	return (s.X2 - s.X1) * (s.Y2 - s.Y1)
}

// Layout is the set of slots of one camera view. Slot order decides which
// slot a detection spanning several of them takes.
type Layout struct {
	Name    string `yaml:"name,omitempty" json:"name,omitempty"`
	Classes []int  `yaml:"classes,omitempty" json:"classes,omitempty"`
	Slots   []Slot `yaml:"slots" json:"slots"`
}

// ParseLayout reads a layout from YAML or JSON. The document is either a
// mapping with a "slots" key or a bare list of slots.
func ParseLayout(data []byte) (*Layout, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, errors.New("parse layout: empty document")
	}

	var layout Layout
	node := doc.Content[0]
	switch node.Kind {
	case yaml.MappingNode:
		if err := node.Decode(&layout); err != nil {
			return nil, fmt.Errorf("parse layout: %w", err)
		}
	case yaml.SequenceNode:
		if err := node.Decode(&layout.Slots); err != nil {
			return nil, fmt.Errorf("parse layout: %w", err)
		}
	default:
		return nil, errors.New("parse layout: expected a list of slots or a mapping")
	}

	if err := layout.Validate(); err != nil {
		return nil, err
	}
	return &layout, nil
}

// Validate checks that the layout has slots with unique labels and positive area.
func (l *Layout) Validate() error {
	if len(l.Slots) == 0 {
		return errors.New("layout: no slots defined")
	}
	seen := make(map[string]struct{}, len(l.Slots))
	for i := range l.Slots {
		s := &l.Slots[i]
		s.Label = strings.TrimSpace(s.Label)
		if s.Label == "" {
			return fmt.Errorf("layout: slot %d has no label", i)
		}
		if _, dup := seen[s.Label]; dup {
			return fmt.Errorf("layout: duplicate slot label %q", s.Label)
		}
		seen[s.Label] = struct{}{}
		if s.X2 <= s.X1 || s.Y2 <= s.Y1 {
			return fmt.Errorf("layout: slot %q has empty area", s.Label)
		}
	}
	for _, id := range l.Classes {
		if id < 0 {
			return fmt.Errorf("layout: invalid class id %d", id)
		}
	}
	return nil
}

// LoadLayout reads a layout file.
func LoadLayout(path string) (*Layout, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read layout file: %w", err)
	}
	layout, err := ParseLayout(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if layout.Name == "" {
		layout.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return layout, nil
}
