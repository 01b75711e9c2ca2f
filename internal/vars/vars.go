// Package vars assembles the variable map handed to a template render from
// files and command-line overrides.
package vars

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidAssignment reports a --set value without a key.
	ErrInvalidAssignment = errors.New("vars: assignment must look like key=value")
	// ErrNotAMap reports a variables file whose top level is not a mapping.
	ErrNotAMap = errors.New("vars: top level must be a mapping")
)

// LoadFile reads a YAML or JSON variables file. JSON is valid YAML, so both
// go through the same decoder.
func LoadFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vars: read %s: %w", path, err)
	}
	out, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("vars: %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// Parse decodes a YAML or JSON document into a variable map. An empty
// document yields an empty map.
func Parse(data []byte) (map[string]any, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return map[string]any{}, nil
	}
	out, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrNotAMap
	}
	return out, nil
}

// Set applies one key=value assignment. Dotted keys create nested maps. The
// value is decoded as a YAML scalar or flow collection, so "3" becomes an
// int, "[a, b]" a list and anything unparsable stays a string.
func Set(dst map[string]any, assignment string) error {
	key, value, ok := strings.Cut(assignment, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("%w: %q", ErrInvalidAssignment, assignment)
	}
	return SetPath(dst, key, decodeValue(value))
}

// SetPath writes value at a dotted path, replacing any non-map value found
// along the way.
func SetPath(dst map[string]any, path string, value any) error {
	if dst == nil {
		return errors.New("vars: destination map is nil")
	}
	segments := strings.Split(path, ".")
	node := dst
	for i, segment := range segments {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			return fmt.Errorf("vars: empty segment in %q", path)
		}
		if i == len(segments)-1 {
			node[segment] = value
			return nil
		}
		child, ok := node[segment].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[segment] = child
		}
		node = child
	}
	return nil
}

// Merge copies src into dst. Nested maps are merged key by key; any other
// value in src replaces the one in dst.
func Merge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for key, value := range src {
		incoming, ok := value.(map[string]any)
		if !ok {
			dst[key] = value
			continue
		}
		existing, ok := dst[key].(map[string]any)
		if !ok {
			existing = make(map[string]any, len(incoming))
		}
		dst[key] = Merge(existing, incoming)
	}
	return dst
}

func decodeValue(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	var decoded any
	if err := yaml.Unmarshal([]byte(trimmed), &decoded); err != nil || decoded == nil {
		return raw
	}
	if _, isMap := decoded.(map[string]any); isMap && !strings.HasPrefix(trimmed, "{") {
		// "a: b" is a string to a shell user, not a mapping.
		return raw
	}
	return decoded
}
