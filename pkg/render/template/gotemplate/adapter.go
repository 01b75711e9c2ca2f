package gotemplate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"

	"github.com/goliatone/go-gentpl/internal/callsite"
	"github.com/goliatone/go-gentpl/pkg/filters"
	"github.com/goliatone/go-gentpl/pkg/render"
	"github.com/goliatone/go-gentpl/pkg/render/template"
)

// Option configures the pongo2 evaluator before construction.
type Option func(*config)

type config struct {
	baseDir    string
	templates  fs.FS
	templateFn map[string]any
	globalData map[string]any
	autoescape bool
	callName   string
	target     string
	keyword    string
}

// WithBaseDir resolves {% include %} and {% import %} paths against a
// directory on disk.
func WithBaseDir(dir string) Option {
	return func(cfg *config) {
		cfg.baseDir = strings.TrimSpace(dir)
	}
}

// WithFS resolves {% include %} and {% import %} paths against an fs.FS.
func WithFS(files fs.FS) Option {
	return func(cfg *config) {
		cfg.templates = files
	}
}

// WithTemplateFunc exposes helper functions to every template.
func WithTemplateFunc(funcs map[string]any) Option {
	return func(cfg *config) {
		if len(funcs) == 0 {
			return
		}
		if cfg.templateFn == nil {
			cfg.templateFn = make(map[string]any, len(funcs))
		}
		for name, fn := range funcs {
			cfg.templateFn[strings.TrimSpace(name)] = fn
		}
	}
}

// WithGlobalData seeds values available to every template.
func WithGlobalData(data map[string]any) Option {
	return func(cfg *config) {
		if len(data) == 0 {
			return
		}
		if cfg.globalData == nil {
			cfg.globalData = make(map[string]any, len(data))
		}
		for key, value := range data {
			cfg.globalData[strings.TrimSpace(key)] = value
		}
	}
}

// WithAutoescape turns pongo2's HTML autoescaping back on. It is off by
// default because templates produce JSON, YAML and plain text as often as
// HTML.
func WithAutoescape(enabled bool) Option {
	return func(cfg *config) {
		cfg.autoescape = enabled
	}
}

// WithCallNames overrides the generation function names. call is the name
// used for calls the source scanner could not see, target is the name the
// scanner rewrites calls to and keyword is the keyword-argument helper.
func WithCallNames(call, target, keyword string) Option {
	return func(cfg *config) {
		if call = strings.TrimSpace(call); call != "" {
			cfg.callName = call
		}
		if target = strings.TrimSpace(target); target != "" {
			cfg.target = target
		}
		if keyword = strings.TrimSpace(keyword); keyword != "" {
			cfg.keyword = keyword
		}
	}
}

// Engine satisfies template.Evaluator using a pongo2 template set.
type Engine struct {
	mu sync.RWMutex

	templateSet *pongo2.TemplateSet
	autoescape  bool
	callName    string
	target      string
	keyword     string
}

// Ensure Engine implements the Evaluator interface.
var _ template.Evaluator = (*Engine)(nil)

// New constructs an Engine using the provided configuration options.
func New(options ...Option) (*Engine, error) {
	cfg := &config{
		callName: callsite.DefaultCallName,
		target:   callsite.DefaultTargetName,
		keyword:  callsite.DefaultKeywordName,
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(cfg)
	}

	var loaders []pongo2.TemplateLoader
	if cfg.baseDir != "" {
		loader, err := pongo2.NewLocalFileSystemLoader(cfg.baseDir)
		if err != nil {
			return nil, fmt.Errorf("gotemplate: create local loader: %w", err)
		}
		loaders = append(loaders, loader)
	}
	if cfg.templates != nil {
		loaders = append(loaders, pongo2.NewFSLoader(cfg.templates))
	}
	if len(loaders) == 0 {
		loaders = append(loaders, pongo2.NewFSLoader(os.DirFS(".")))
	}

	engine := &Engine{
		templateSet: pongo2.NewSet("gentpl", loaders...),
		autoescape:  cfg.autoescape,
		callName:    cfg.callName,
		target:      cfg.target,
		keyword:     cfg.keyword,
	}
	registerDefaultFilters()

	if err := engine.SetGlobals(cfg.globalData); err != nil {
		return nil, err
	}
	for name, fn := range cfg.templateFn {
		if err := engine.SetFunc(name, fn); err != nil {
			return nil, err
		}
	}

	return engine, nil
}

// Compile parses source. name is only used in error messages.
func (e *Engine) Compile(name, source string) (template.Compiled, error) {
	if e == nil || e.templateSet == nil {
		return nil, errors.New("gotemplate: engine is nil")
	}
	if !e.autoescape {
		source = "{% autoescape off %}" + source + "{% endautoescape %}"
	}

	e.mu.Lock()
	tpl, err := e.templateSet.FromString(source)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("gotemplate: parse template %q: %w", name, err)
	}
	return &compiled{engine: e, name: name, tpl: tpl}, nil
}

// SetGlobals merges data into the values every execution can read.
func (e *Engine) SetGlobals(data map[string]any) error {
	if e == nil || e.templateSet == nil {
		return errors.New("gotemplate: engine is nil")
	}
	globals, err := toContext(data)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.templateSet.Globals == nil {
		e.templateSet.Globals = make(pongo2.Context, len(globals))
	}
	e.templateSet.Globals.Update(globals)
	return nil
}

// SetFunc exposes fn to templates under name.
func (e *Engine) SetFunc(name string, fn any) error {
	if e == nil || e.templateSet == nil {
		return errors.New("gotemplate: engine is nil")
	}
	if name = strings.TrimSpace(name); name == "" {
		return errors.New("gotemplate: function name is empty")
	}
	if fn == nil || reflect.TypeOf(fn).Kind() != reflect.Func {
		return fmt.Errorf("gotemplate: %s: value of type %T is not a function", name, fn)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.templateSet.Globals == nil {
		e.templateSet.Globals = make(pongo2.Context)
	}
	e.templateSet.Globals[name] = fn
	return nil
}

type compiled struct {
	engine *Engine
	name   string
	tpl    *pongo2.Template
}

// Execute evaluates the template once. The generation callables are bound to
// ctx for this execution only.
func (c *compiled) Execute(ctx context.Context, vars map[string]any, out io.Writer) error {
	view, err := toContext(vars)
	if err != nil {
		return fmt.Errorf("gotemplate: %s: %w", c.name, err)
	}

	calls := &callBinding{ctx: ctx}
	view[c.engine.target] = calls.generateWithID
	view[c.engine.callName] = calls.generate
	view[c.engine.keyword] = keywordValue

	var buf bytes.Buffer
	c.engine.mu.RLock()
	err = c.tpl.ExecuteWriter(view, &buf)
	c.engine.mu.RUnlock()

	switch {
	case calls.misuse != nil:
		return fmt.Errorf("gotemplate: execute template %q: %w", c.name, calls.misuse)
	case err != nil:
		return fmt.Errorf("gotemplate: execute template %q: %w", c.name, err)
	}
	if _, err := out.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("gotemplate: write output: %w", err)
	}
	return nil
}

// toContext copies vars into a pongo2 context. See normalize for how values
// are converted.
func toContext(vars map[string]any) (pongo2.Context, error) {
	out := make(pongo2.Context, len(vars))
	for key, value := range vars {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		v, err := normalize(value)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", key, err)
		}
		out[key] = v
	}
	return out, nil
}

// normalize keeps scalars and functions as they are, copies string-keyed
// maps, slices and arrays element by element, and flattens anything else
// (structs, pointers) through its JSON form so templates see JSON field
// names.
func normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Func, reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return value, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			v, err := normalize(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = v
		}
		return out, nil
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			v, err := normalize(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

var registerFiltersOnce sync.Once

// registerDefaultFilters exposes the built-in filters to ordinary template
// expressions such as {{ title | json }}. pongo2 filters are process-wide, so
// names pongo2 already provides (lower, upper, striptags) keep pongo2's
// implementation. Values carrying a placeholder are passed through untouched
// because their content does not exist yet.
func registerDefaultFilters() {
	registerFiltersOnce.Do(func() {
		guardTextFilters()

		registry := filters.Default()
		for _, name := range registry.List() {
			if pongo2.FilterExists(name) {
				continue
			}
			fn, err := registry.Get(name)
			if err != nil {
				continue
			}
			_ = pongo2.RegisterFilter(name, adaptFilter(name, fn))
		}
	})
}

func adaptFilter(name string, fn filters.Func) pongo2.FilterFunction {
	return func(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
		input := in.String()
		if render.HasPlaceholder(input) {
			return in, nil
		}
		var args []any
		if param != nil && !param.IsNil() {
			args = append(args, param.Interface())
		}
		out, err := fn(input, args...)
		if err != nil {
			return nil, &pongo2.Error{Sender: "filter:" + name, OrigError: err}
		}
		return pongo2.AsSafeValue(out), nil
	}
}

// textFilters are the pongo2 built-ins that rewrite their input as text.
// Run on a placeholder they would mangle the token before the generated
// content replaces it.
var textFilters = []string{
	"addslashes", "capfirst", "center", "cut", "e", "escape", "escapejs",
	"iriencode", "linebreaks", "linebreaksbr", "linenumbers", "ljust", "lower",
	"phone2numeric", "removetags", "rjust", "stringformat", "striptags",
	"title", "truncatechars", "truncatechars_html", "truncatewords",
	"truncatewords_html", "upper", "urlencode", "urlize", "urlizetrunc",
	"wordwrap",
}

// safeTextFilters mark their output safe in pongo2.
var safeTextFilters = map[string]bool{
	"truncatechars_html": true,
	"truncatewords_html": true,
}

// guardTextFilters replaces each text filter with a wrapper that passes
// placeholder values through and otherwise delegates to the original. pongo2
// does not export registered filter functions, so the original is reached
// through a one-filter template compiled before the replacement.
func guardTextFilters() {
	for _, name := range textFilters {
		if !pongo2.FilterExists(name) {
			continue
		}
		delegate, err := pongo2.FromString(
			"{% autoescape off %}{{ value|" + name + ":arg }}{% endautoescape %}")
		if err != nil {
			continue
		}
		_ = pongo2.ReplaceFilter(name, guardFilter(name, delegate))
	}
}

func guardFilter(name string, delegate *pongo2.Template) pongo2.FilterFunction {
	safe := safeTextFilters[name]
	return func(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
		if render.HasPlaceholder(in.String()) {
			return in, nil
		}
		var arg any
		if param != nil {
			arg = param.Interface()
		}
		out, err := delegate.Execute(pongo2.Context{"value": in.Interface(), "arg": arg})
		if err != nil {
			return nil, &pongo2.Error{Sender: "filter:" + name, OrigError: err}
		}
		if safe {
			return pongo2.AsSafeValue(out), nil
		}
		return pongo2.AsValue(out), nil
	}
}
