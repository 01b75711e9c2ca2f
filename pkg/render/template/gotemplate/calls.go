package gotemplate

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/flosch/pongo2/v6"

	"github.com/goliatone/go-gentpl/pkg/render"
)

// keywordArg carries a rewritten `name=value` argument into a generation call.
type keywordArg struct {
	name  string
	value *pongo2.Value
}

func keywordValue(name *pongo2.Value, value *pongo2.Value) *pongo2.Value {
	return pongo2.AsValue(keywordArg{name: name.String(), value: value})
}

// callBinding exposes the generation call site to one template execution.
type callBinding struct {
	ctx    context.Context
	misuse error
}

// generateWithID handles calls rewritten by the source scanner: the first
// argument is the call-site id.
func (b *callBinding) generateWithID(args ...*pongo2.Value) (*pongo2.Value, error) {
	return b.collect(true, args)
}

// generate handles calls the scanner never saw, for example inside included
// templates. They carry no call-site id.
func (b *callBinding) generate(args ...*pongo2.Value) (*pongo2.Value, error) {
	return b.collect(false, args)
}

func (b *callBinding) collect(withID bool, args []*pongo2.Value) (*pongo2.Value, error) {
	params, err := decodeCall(withID, args)
	if err != nil {
		return nil, err
	}
	placeholder, err := render.Collect(b.ctx, params)
	if err != nil {
		if errors.Is(err, render.ErrNoRenderContext) && b.misuse == nil {
			b.misuse = err
		}
		return nil, err
	}
	return pongo2.AsSafeValue(placeholder), nil
}

func decodeCall(withID bool, args []*pongo2.Value) (render.CollectParams, error) {
	var params render.CollectParams
	positional := make([]*pongo2.Value, 0, len(args))
	keywords := make(map[string]*pongo2.Value)
	for _, arg := range args {
		if arg == nil {
			positional = append(positional, pongo2.AsValue(nil))
			continue
		}
		if kw, ok := arg.Interface().(keywordArg); ok {
			keywords[kw.name] = kw.value
			continue
		}
		positional = append(positional, arg)
	}

	if withID {
		if len(positional) == 0 || !positional[0].IsInteger() {
			return params, errors.New("gen: missing call-site id")
		}
		id := positional[0].Integer()
		params.CallSiteID = &id
		positional = positional[1:]
	}
	if len(positional) > 4 {
		return params, fmt.Errorf("gen: expected at most 4 positional arguments, got %d", len(positional))
	}

	slot := func(idx int, names ...string) *pongo2.Value {
		if idx < len(positional) {
			return positional[idx]
		}
		for _, name := range names {
			if v, ok := keywords[name]; ok {
				return v
			}
		}
		return nil
	}

	prompt := slot(0, "prompt")
	if prompt == nil || prompt.IsNil() {
		return params, errors.New("gen: prompt is required")
	}
	params.Prompt = prompt.String()

	if v := slot(1, "max_tokens", "maxTokens"); v != nil && !v.IsNil() {
		n, err := intValue(v)
		if err != nil {
			return params, fmt.Errorf("gen: max_tokens: %w", err)
		}
		params.MaxTokens = &n
	}
	if v := slot(2, "temperature"); v != nil && !v.IsNil() {
		if !v.IsNumber() {
			return params, fmt.Errorf("gen: temperature must be a number, got %q", v.String())
		}
		t := v.Float()
		params.Temperature = &t
	}
	if v := slot(3, "stop"); v != nil && !v.IsNil() {
		stop, err := stopValue(v)
		if err != nil {
			return params, fmt.Errorf("gen: stop: %w", err)
		}
		params.Stop = stop
	}
	return params, nil
}

func intValue(v *pongo2.Value) (int, error) {
	switch {
	case v.IsInteger():
		return v.Integer(), nil
	case v.IsFloat():
		f := v.Float()
		if f != math.Trunc(f) {
			return 0, fmt.Errorf("%v is not an integer", f)
		}
		return int(f), nil
	default:
		return 0, fmt.Errorf("%q is not an integer", v.String())
	}
}

func stopValue(v *pongo2.Value) ([]string, error) {
	switch raw := v.Interface().(type) {
	case string:
		return []string{raw}, nil
	case []string:
		return append([]string(nil), raw...), nil
	case []any:
		out := make([]string, 0, len(raw))
		for _, item := range raw {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("stop sequence %v is not a string", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", raw)
	}
}
