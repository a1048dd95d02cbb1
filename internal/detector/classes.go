package detector

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// ClassNames maps class ids to labels. It is immutable after construction and
// safe for concurrent use. A nil *ClassNames behaves as an empty table.
type ClassNames struct {
	names map[int]string
}

// NewClassNames copies m, trimming and NFC-normalizing each label.
func NewClassNames(m map[int]string) *ClassNames {
	names := make(map[int]string, len(m))
	for id, name := range m {
		names[id] = normalizeName(name)
	}
	return &ClassNames{names: names}
}

func normalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Lookup returns the label for id.
func (c *ClassNames) Lookup(id int) (string, bool) {
	if c == nil {
		return "", false
	}
	name, ok := c.names[id]
	return name, ok
}

// Name returns the label for id, or its decimal form when unknown.
func (c *ClassNames) Name(id int) string {
	if name, ok := c.Lookup(id); ok {
		return name
	}
	return strconv.Itoa(id)
}

// Len returns the number of known classes.
func (c *ClassNames) Len() int {
	if c == nil {
		return 0
	}
	return len(c.names)
}

// IDs returns the known class ids in ascending order.
func (c *ClassNames) IDs() []int {
	if c == nil {
		return nil
	}
	ids := make([]int, 0, len(c.names))
	for id := range c.names {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Map returns a copy of the table.
func (c *ClassNames) Map() map[int]string {
	out := make(map[int]string, c.Len())
	if c == nil {
		return out
	}
	for id, name := range c.names {
		out[id] = name
	}
	return out
}

// ParseNames reads class names from YAML. Accepted shapes are a list, an
// id-to-name mapping (including the flow mapping ultralytics stores in model
// metadata, e.g. "{0: 'car', 1: 'free'}") or either of those under a "names" key.
func ParseNames(data []byte) (*ClassNames, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse class names: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, errors.New("parse class names: empty document")
	}

	node := doc.Content[0]
	if node.Kind == yaml.MappingNode {
		if v := mappingValue(node, "names"); v != nil {
			node = v
		}
	}

	names := make(map[int]string)
	switch node.Kind {
	case yaml.SequenceNode:
		for i, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("parse class names: entry %d is not a string", i)
			}
			names[i] = item.Value
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i], node.Content[i+1]
			id, err := strconv.Atoi(key.Value)
			if err != nil || id < 0 {
				return nil, fmt.Errorf("parse class names: invalid class id %q", key.Value)
			}
			if val.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("parse class names: class %d is not a string", id)
			}
			if _, dup := names[id]; dup {
				return nil, fmt.Errorf("parse class names: duplicate class id %d", id)
			}
			names[id] = val.Value
		}
	default:
		return nil, errors.New("parse class names: expected a list or mapping")
	}

	if len(names) == 0 {
		return nil, errors.New("parse class names: no classes defined")
	}
	return NewClassNames(names), nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// LoadNamesFile reads a YAML class names file.
func LoadNamesFile(path string) (*ClassNames, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read class names file: %w", err)
	}
	names, err := ParseNames(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return names, nil
}
