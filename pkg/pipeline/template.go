package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/goliatone/go-gentpl/internal/callsite"
	"github.com/goliatone/go-gentpl/pkg/backend"
	"github.com/goliatone/go-gentpl/pkg/filters"
	"github.com/goliatone/go-gentpl/pkg/render/template"
	"github.com/goliatone/go-gentpl/pkg/render/template/gotemplate"
)

const (
	defaultTemplateName = "template"
	tracerName          = "github.com/goliatone/go-gentpl/pkg/pipeline"
)

// Template is a compiled template bound to a backend. It is immutable after
// construction.
type Template struct {
	name          string
	source        string
	rewritten     string
	table         callsite.Table
	sites         []callsite.Site
	compiled      template.Compiled
	backend       backend.Backend
	filters       *filters.Registry
	defaultFilter string
	defaults      GenerationDefaults
	logger        *zap.Logger
	tracer        trace.Tracer
}

// New scans source for generation calls, validates their filter chains and
// compiles the rewritten source. Malformed source returns a *ParseError.
func New(source string, b backend.Backend, options ...Option) (*Template, error) {
	cfg := &config{name: defaultTemplateName}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(cfg)
	}
	return newTemplate(source, b, cfg)
}

// FromFile reads a template from disk. The default filter is detected from
// the file name (see DetectDefaultFilter) unless WithDefaultFilter is given,
// and includes resolve against the file's directory unless WithBaseDir or
// WithFS is given.
func FromFile(filename string, b backend.Backend, options ...Option) (*Template, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read template %q: %w", filename, err)
	}

	cfg := &config{name: filename}
	for _, opt := range options {
		if opt != nil {
			opt(cfg)
		}
	}
	if !cfg.filterSet {
		cfg.defaultFilter = DetectDefaultFilter(filename)
	}
	if cfg.baseDir == "" && cfg.files == nil {
		cfg.baseDir = filepath.Dir(filename)
	}
	return newTemplate(string(data), b, cfg)
}

// FromFS reads the template name from fsys. Includes resolve against fsys
// unless another loader is configured.
func FromFS(fsys fs.FS, name string, b backend.Backend, options ...Option) (*Template, error) {
	if fsys == nil {
		return nil, errors.New("pipeline: file system is required")
	}
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read template %q: %w", name, err)
	}

	cfg := &config{name: name}
	for _, opt := range options {
		if opt != nil {
			opt(cfg)
		}
	}
	if !cfg.filterSet {
		cfg.defaultFilter = DetectDefaultFilter(name)
	}
	if cfg.baseDir == "" && cfg.files == nil {
		if dir := path.Dir(name); dir != "." {
			sub, err := fs.Sub(fsys, dir)
			if err != nil {
				return nil, fmt.Errorf("pipeline: open template dir %q: %w", dir, err)
			}
			cfg.files = sub
		} else {
			cfg.files = fsys
		}
	}
	return newTemplate(string(data), b, cfg)
}

var suffixFilters = []struct {
	marker string
	filter string
}{
	{".json.", filters.JSON},
	{".html.", filters.HTML},
	{".xml.", filters.XML},
	{".yaml.", filters.YAML},
	{".yml.", filters.YAML},
}

// DetectDefaultFilter maps a file name such as "page.html.tpl" to the filter
// matching its inner extension. It returns "" when nothing matches.
func DetectDefaultFilter(filename string) string {
	base := strings.ToLower(filepath.Base(filename))
	for _, entry := range suffixFilters {
		if strings.Contains(base, entry.marker) {
			return entry.filter
		}
	}
	return ""
}

func newTemplate(source string, b backend.Backend, cfg *config) (*Template, error) {
	if b == nil {
		return nil, errors.New("pipeline: backend is required")
	}

	registry := cfg.registry
	if registry == nil {
		registry = filters.Default()
	}
	registry = registry.Clone()
	for name, fn := range cfg.extra {
		if err := registry.Replace(name, fn); err != nil {
			return nil, fmt.Errorf("pipeline: register filter %q: %w", name, err)
		}
	}
	if cfg.defaultFilter != "" && !registry.Has(cfg.defaultFilter) {
		return nil, fmt.Errorf("pipeline: default filter %q: %w", cfg.defaultFilter, filters.ErrUnknownFilter)
	}

	result, err := callsite.Extract(source)
	if err != nil {
		return nil, newParseError(cfg.name, err)
	}
	for _, site := range result.Sites {
		for _, f := range result.Table.Chain(site.ID) {
			if !registry.Has(f.Name) {
				return nil, newParseError(cfg.name, fmt.Errorf("line %d col %d: %w: %q",
					site.Line, site.Column, filters.ErrUnknownFilter, f.Name))
			}
		}
	}

	evaluator := cfg.evaluator
	if evaluator == nil {
		evaluator, err = gotemplate.New(
			gotemplate.WithBaseDir(cfg.baseDir),
			gotemplate.WithFS(cfg.files),
			gotemplate.WithGlobalData(cfg.globals),
			gotemplate.WithTemplateFunc(cfg.funcs),
			gotemplate.WithAutoescape(cfg.autoescape),
		)
		if err != nil {
			return nil, fmt.Errorf("pipeline: create evaluator: %w", err)
		}
	}
	compiled, err := evaluator.Compile(cfg.name, result.Source)
	if err != nil {
		return nil, newParseError(cfg.name, err)
	}

	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	provider := cfg.tracerProvider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}

	return &Template{
		name:          cfg.name,
		source:        source,
		rewritten:     result.Source,
		table:         result.Table,
		sites:         append([]callsite.Site(nil), result.Sites...),
		compiled:      compiled,
		backend:       b,
		filters:       registry,
		defaultFilter: cfg.defaultFilter,
		defaults:      cfg.defaults,
		logger:        logger.With(zap.String("template", cfg.name)),
		tracer:        provider.Tracer(tracerName),
	}, nil
}

// Name returns the template label used in errors and logs.
func (t *Template) Name() string { return t.name }

// Source returns the template source as given.
func (t *Template) Source() string { return t.source }

// RewrittenSource returns the source handed to the evaluator, with call-site
// ids injected and filter pipelines removed.
func (t *Template) RewrittenSource() string { return t.rewritten }

// DefaultFilter returns the filter applied to call sites without a chain.
func (t *Template) DefaultFilter() string { return t.defaultFilter }

// CallSite describes one generation call found in the source.
type CallSite struct {
	ID      int
	Line    int
	Column  int
	Call    string
	Filters []string
}

// FilterChains returns every call site with the filter chain recorded for
// it, in source order. Filters include their literal arguments, for example
// `truncate(20, "...")`.
func (t *Template) FilterChains() []CallSite {
	out := make([]CallSite, 0, len(t.sites))
	for _, site := range t.sites {
		chain := t.table.Chain(site.ID)
		names := make([]string, len(chain))
		for i, f := range chain {
			names[i] = f.String()
		}
		out = append(out, CallSite{
			ID:      site.ID,
			Line:    site.Line,
			Column:  site.Column,
			Call:    site.Call,
			Filters: names,
		})
	}
	return out
}
