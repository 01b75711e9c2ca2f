package render

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrMissingVariable reports a {name} reference with no matching variable.
	ErrMissingVariable = errors.New("render: missing prompt variable")
	// ErrMalformedPrompt reports unbalanced or unsupported braces.
	ErrMalformedPrompt = errors.New("render: malformed prompt reference")
)

// Interpolate replaces {name} and {a.b} references in prompt with values from
// vars. "{{" and "}}" emit literal braces. Numeric path segments index into
// slices. Format specs and conversions ({x:>4}, {x!r}) are not supported.
func Interpolate(prompt string, vars map[string]any) (string, error) {
	if !strings.ContainsAny(prompt, "{}") {
		return prompt, nil
	}

	var b strings.Builder
	b.Grow(len(prompt))

	for i := 0; i < len(prompt); {
		c := prompt[i]
		switch c {
		case '{':
			if i+1 < len(prompt) && prompt[i+1] == '{' {
				b.WriteByte('{')
				i += 2
				continue
			}
			end := strings.IndexByte(prompt[i+1:], '}')
			if end < 0 {
				return "", fmt.Errorf("%w: unclosed '{' at offset %d", ErrMalformedPrompt, i)
			}
			field := prompt[i+1 : i+1+end]
			value, err := lookupField(field, vars)
			if err != nil {
				return "", err
			}
			b.WriteString(value)
			i += end + 2
		case '}':
			if i+1 < len(prompt) && prompt[i+1] == '}' {
				b.WriteByte('}')
				i += 2
				continue
			}
			return "", fmt.Errorf("%w: single '}' at offset %d", ErrMalformedPrompt, i)
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}

func lookupField(field string, vars map[string]any) (string, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return "", fmt.Errorf("%w: empty reference", ErrMalformedPrompt)
	}
	if strings.ContainsAny(field, "{:!") {
		return "", fmt.Errorf("%w: unsupported reference %q", ErrMalformedPrompt, field)
	}

	segments := strings.Split(field, ".")
	var current any = vars
	for i, seg := range segments {
		next, ok := step(current, seg)
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrMissingVariable, strings.Join(segments[:i+1], "."))
		}
		current = next
	}
	if current == nil {
		return "", nil
	}
	return fmt.Sprint(current), nil
}

func step(current any, seg string) (any, bool) {
	switch v := current.(type) {
	case map[string]any:
		next, ok := v[seg]
		return next, ok
	case map[string]string:
		next, ok := v[seg]
		return next, ok
	case map[any]any:
		next, ok := v[seg]
		return next, ok
	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(v) {
			return nil, false
		}
		return v[idx], true
	case []string:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(v) {
			return nil, false
		}
		return v[idx], true
	default:
		return nil, false
	}
}
