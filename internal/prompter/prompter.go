// Package prompter asks the user for template variables on the terminal.
package prompter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-gentpl/internal/vars"
)

// ErrAborted signals the user aborted input (Ctrl+C).
var ErrAborted = errors.New("prompter: aborted")

// Kind selects the prompt widget for a variable.
type Kind string

const (
	KindInput    Kind = "input"
	KindSecret   Kind = "secret"
	KindTextArea Kind = "text"
)

// Field is one variable to ask for.
type Field struct {
	Path string
	Kind Kind
}

// ParseField reads "path" or "path:kind", where kind is input, secret or
// text.
func ParseField(def string) (Field, error) {
	path, kind, _ := strings.Cut(strings.TrimSpace(def), ":")
	path = strings.TrimSpace(path)
	if path == "" {
		return Field{}, fmt.Errorf("prompter: empty variable name in %q", def)
	}
	field := Field{Path: path, Kind: KindInput}
	switch Kind(strings.ToLower(strings.TrimSpace(kind))) {
	case "", KindInput:
	case KindSecret:
		field.Kind = KindSecret
	case KindTextArea:
		field.Kind = KindTextArea
	default:
		return Field{}, fmt.Errorf("prompter: unknown prompt kind %q for %s", kind, path)
	}
	return field, nil
}

// Option configures a Prompter.
type Option func(*Prompter)

// WithDriver swaps the terminal driver.
func WithDriver(driver Driver) Option {
	return func(p *Prompter) {
		if driver != nil {
			p.driver = driver
		}
	}
}

// Prompter fills variables interactively.
type Prompter struct {
	driver Driver
}

// New builds a Prompter backed by the survey driver unless WithDriver is
// given.
func New(options ...Option) *Prompter {
	p := &Prompter{driver: SurveyDriver()}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(p)
	}
	return p
}

// Ask prompts for each field in order and writes the answers into dst. An
// existing string value at the field's path is offered as the default.
func (p *Prompter) Ask(ctx context.Context, fields []Field, dst map[string]any) error {
	if ctx == nil {
		return errors.New("prompter: context is required")
	}
	for _, field := range fields {
		cfg := InputConfig{
			Message: field.Path,
			Default: currentValue(dst, field.Path),
			Help:    fmt.Sprintf("Value for {{ %s }} in the template", field.Path),
		}

		var (
			answer string
			err    error
		)
		switch field.Kind {
		case KindSecret:
			answer, err = p.driver.Password(ctx, cfg)
		case KindTextArea:
			answer, err = p.driver.TextArea(ctx, cfg)
		default:
			answer, err = p.driver.Input(ctx, cfg)
		}
		if err != nil {
			return err
		}
		if err := vars.SetPath(dst, field.Path, answer); err != nil {
			return err
		}
	}
	return nil
}

func currentValue(root map[string]any, path string) string {
	var current any = root
	for _, segment := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current = node[segment]
	}
	switch typed := current.(type) {
	case nil:
		return ""
	case string:
		return typed
	default:
		return fmt.Sprint(typed)
	}
}
