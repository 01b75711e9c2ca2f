package pipeline

import (
	"io/fs"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/goliatone/go-gentpl/pkg/filters"
	"github.com/goliatone/go-gentpl/pkg/render/template"
)

// GenerationDefaults fill request parameters a call site leaves unset.
type GenerationDefaults struct {
	MaxTokens   *int
	Temperature *float64
	Stop        []string
}

// Option customises a Template at construction.
type Option func(*config)

type config struct {
	name           string
	defaultFilter  string
	filterSet      bool
	registry       *filters.Registry
	extra          map[string]filters.Func
	logger         *zap.Logger
	tracerProvider trace.TracerProvider
	defaults       GenerationDefaults
	evaluator      template.Evaluator
	baseDir        string
	files          fs.FS
	globals        map[string]any
	funcs          map[string]any
	autoescape     bool
}

// WithName labels the template in errors, logs and spans.
func WithName(name string) Option {
	return func(cfg *config) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.name = name
		}
	}
}

// WithDefaultFilter applies filter to every call site that names no filter of
// its own. A call site whose only filter is "raw" opts out. An empty name
// clears any detected default.
func WithDefaultFilter(name string) Option {
	return func(cfg *config) {
		cfg.defaultFilter = strings.TrimSpace(name)
		cfg.filterSet = true
	}
}

// WithFilter registers an extra filter, replacing a built-in of the same name
// for this template only. Extra filters apply to generation calls, as in
// {{ gen("x") | name }}. Ordinary expressions such as {{ title | name }} are
// evaluated by pongo2, whose filters are process-wide, so they only see the
// built-ins and fail to parse with a name known only here.
func WithFilter(name string, fn filters.Func) Option {
	return func(cfg *config) {
		name = strings.TrimSpace(name)
		if name == "" || fn == nil {
			return
		}
		if cfg.extra == nil {
			cfg.extra = make(map[string]filters.Func)
		}
		cfg.extra[name] = fn
	}
}

// WithFilters replaces the base registry. The template keeps a clone. As with
// WithFilter, filters missing from the built-ins are only usable on
// generation calls.
func WithFilters(registry *filters.Registry) Option {
	return func(cfg *config) {
		cfg.registry = registry
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithTracerProvider sets the provider used for render spans. Defaults to the
// global otel provider.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(cfg *config) {
		cfg.tracerProvider = provider
	}
}

// WithGenerationDefaults sets request parameters used when a call site leaves
// them unset.
func WithGenerationDefaults(defaults GenerationDefaults) Option {
	return func(cfg *config) {
		cfg.defaults = defaults
	}
}

// WithEvaluator swaps the template evaluator. The evaluator must expose the
// rewritten generation calls (see gotemplate).
func WithEvaluator(evaluator template.Evaluator) Option {
	return func(cfg *config) {
		cfg.evaluator = evaluator
	}
}

// WithBaseDir resolves includes against a directory on disk.
func WithBaseDir(dir string) Option {
	return func(cfg *config) {
		cfg.baseDir = strings.TrimSpace(dir)
	}
}

// WithFS resolves includes against files.
func WithFS(files fs.FS) Option {
	return func(cfg *config) {
		cfg.files = files
	}
}

// WithGlobals exposes values to every render of the template.
func WithGlobals(globals map[string]any) Option {
	return func(cfg *config) {
		if len(globals) == 0 {
			return
		}
		if cfg.globals == nil {
			cfg.globals = make(map[string]any, len(globals))
		}
		for k, v := range globals {
			cfg.globals[k] = v
		}
	}
}

// WithFuncs exposes helper functions to the template.
func WithFuncs(funcs map[string]any) Option {
	return func(cfg *config) {
		if len(funcs) == 0 {
			return
		}
		if cfg.funcs == nil {
			cfg.funcs = make(map[string]any, len(funcs))
		}
		for k, v := range funcs {
			cfg.funcs[k] = v
		}
	}
}

// WithAutoescape enables the evaluator's HTML autoescaping of plain
// variables. Generated content is escaped by filters only.
func WithAutoescape(enabled bool) Option {
	return func(cfg *config) {
		cfg.autoescape = enabled
	}
}
