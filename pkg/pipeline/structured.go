package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// StructuredResult is delivered by RenderStructuredAsync.
type StructuredResult struct {
	Value any
	Err   error
}

// RenderStructured renders the template and parses the output as JSON.
// Output that does not parse returns a *StructuredOutputError carrying it.
func (t *Template) RenderStructured(ctx context.Context, vars map[string]any) (any, error) {
	var out any
	if err := t.RenderJSON(ctx, vars, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RenderStructuredAsync is RenderStructured on top of RenderAsync. The
// channel yields one StructuredResult and is closed.
func (t *Template) RenderStructuredAsync(ctx context.Context, vars map[string]any) <-chan StructuredResult {
	ch := make(chan StructuredResult, 1)
	go func() {
		defer close(ch)
		res := <-t.RenderAsync(ctx, vars)
		if res.Err != nil {
			ch <- StructuredResult{Err: res.Err}
			return
		}
		var out any
		if err := decodeJSON(res.Output, &out); err != nil {
			ch <- StructuredResult{Err: err}
			return
		}
		ch <- StructuredResult{Value: out}
	}()
	return ch
}

// RenderJSON renders the template and decodes the JSON output into dest.
func (t *Template) RenderJSON(ctx context.Context, vars map[string]any, dest any) error {
	output, err := t.Render(ctx, vars)
	if err != nil {
		return err
	}
	return decodeJSON(output, dest)
}

// decodeJSON requires output to hold exactly one JSON value.
func decodeJSON(output string, dest any) error {
	dec := json.NewDecoder(strings.NewReader(output))
	if err := dec.Decode(dest); err != nil {
		return &StructuredOutputError{Format: "JSON", Output: output, Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("unexpected data after top-level value")
		}
		return &StructuredOutputError{Format: "JSON", Output: output, Err: err}
	}
	return nil
}

// RenderYAML renders the template and decodes the YAML output into dest.
func (t *Template) RenderYAML(ctx context.Context, vars map[string]any, dest any) error {
	output, err := t.Render(ctx, vars)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal([]byte(output), dest); err != nil {
		return &StructuredOutputError{Format: "YAML", Output: output, Err: err}
	}
	return nil
}
