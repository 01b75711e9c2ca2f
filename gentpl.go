// Package gentpl renders structured documents (JSON, HTML, XML, YAML, text)
// whose content regions are written by a text generation backend while the
// document structure stays exactly as templated.
//
//	tpl, err := gentpl.New(`{"title": {{ gen("A title about {topic}") | json }}}`, backend)
//	out, err := tpl.Render(ctx, map[string]any{"topic": "tides"})
//
// See pkg/pipeline for the render phases and pkg/filters for the escaping
// filters available after a gen call.
package gentpl

import (
	"context"
	"io/fs"

	"github.com/goliatone/go-gentpl/pkg/backend"
	"github.com/goliatone/go-gentpl/pkg/filters"
	"github.com/goliatone/go-gentpl/pkg/pipeline"
	"github.com/goliatone/go-gentpl/pkg/render"
)

// Template is a compiled template bound to a backend.
type Template = pipeline.Template

// Option configures template construction.
type Option = pipeline.Option

// Result is delivered by Template.RenderAsync.
type Result = pipeline.Result

// StructuredResult is delivered by Template.RenderStructuredAsync.
type StructuredResult = pipeline.StructuredResult

// GenerationDefaults fill request parameters a call site leaves unset.
type GenerationDefaults = pipeline.GenerationDefaults

// Backend turns prompts into text.
type Backend = backend.Backend

// AsyncBackend runs batches without blocking the caller.
type AsyncBackend = backend.AsyncBackend

// Request is one generation request.
type Request = backend.Request

// Response is one generated text.
type Response = backend.Response

// FilterFunc transforms generated text.
type FilterFunc = filters.Func

// Error kinds, re-exported for errors.As.
type (
	ParseError            = pipeline.ParseError
	RenderError           = pipeline.RenderError
	StructuredOutputError = pipeline.StructuredOutputError
	BackendError          = backend.Error
)

// ErrNoRenderContext reports a generation call made outside a render.
var ErrNoRenderContext = render.ErrNoRenderContext

// New compiles source for rendering against b.
func New(source string, b Backend, options ...Option) (*Template, error) {
	return pipeline.New(source, b, options...)
}

// FromFile loads a template from disk, picking the default filter from the
// file name (page.html.tpl uses html).
func FromFile(path string, b Backend, options ...Option) (*Template, error) {
	return pipeline.FromFile(path, b, options...)
}

// FromFS loads a template from fsys.
func FromFS(fsys fs.FS, name string, b Backend, options ...Option) (*Template, error) {
	return pipeline.FromFS(fsys, name, b, options...)
}

// Render compiles source and renders it once.
func Render(ctx context.Context, source string, b Backend, vars map[string]any, options ...Option) (string, error) {
	tpl, err := pipeline.New(source, b, options...)
	if err != nil {
		return "", err
	}
	return tpl.Render(ctx, vars)
}

// WithDefaultFilter applies name to call sites without filters.
func WithDefaultFilter(name string) Option {
	return pipeline.WithDefaultFilter(name)
}

// WithFilter registers a template-local filter.
func WithFilter(name string, fn FilterFunc) Option {
	return pipeline.WithFilter(name, fn)
}

// WithGenerationDefaults sets per-template request defaults.
func WithGenerationDefaults(defaults GenerationDefaults) Option {
	return pipeline.WithGenerationDefaults(defaults)
}
