package pipeline_test

import (
	"strings"
	"testing"

	"github.com/goliatone/go-gentpl/pkg/backend/mock"
	"github.com/goliatone/go-gentpl/pkg/filters"
	"github.com/goliatone/go-gentpl/pkg/pipeline"
	"github.com/goliatone/go-gentpl/pkg/render/template"
	"github.com/goliatone/go-gentpl/pkg/render/template/gotemplate"
)

func TestRender_GlobalsAndFuncs(t *testing.T) {
	tpl := mustNew(t, `{{ greet(name) }} {{ gen("about " + site) | raw }}`, mock.New(),
		pipeline.WithGlobals(map[string]any{"site": "docs"}),
		pipeline.WithFuncs(map[string]any{
			"greet": func(name string) string { return "Hello, " + name + "!" },
		}),
	)

	got := mustRender(t, tpl, map[string]any{"name": "Ana"})
	if want := "Hello, Ana! [MOCK: about docs]"; got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestNew_WithFiltersRegistry(t *testing.T) {
	registry := filters.Default()
	registry.MustRegister("shout", func(s string, _ ...any) (string, error) {
		return strings.ToUpper(s) + "!", nil
	})

	b := mock.New(mock.WithDefaultResponse("quiet"))
	tpl := mustNew(t, `{{ gen("x") | shout }}`, b, pipeline.WithFilters(registry))
	if got := mustRender(t, tpl, nil); got != "QUIET!" {
		t.Fatalf("output = %q", got)
	}

	if _, err := pipeline.New(`{{ gen("x") | shout }}`, b); err == nil {
		t.Fatal("filters from a custom registry must not leak into the default one")
	}
}

type countingEvaluator struct {
	inner    template.Evaluator
	compiled []string
}

func (c *countingEvaluator) Compile(name, source string) (template.Compiled, error) {
	c.compiled = append(c.compiled, name)
	return c.inner.Compile(name, source)
}

func TestNew_WithEvaluator(t *testing.T) {
	engine, err := gotemplate.New()
	if err != nil {
		t.Fatalf("gotemplate.New: %v", err)
	}
	evaluator := &countingEvaluator{inner: engine}

	b := mock.New(mock.WithDefaultResponse("ok"))
	tpl := mustNew(t, `[{{ gen("x") }}]`, b,
		pipeline.WithName("custom"),
		pipeline.WithEvaluator(evaluator),
	)
	for i := 0; i < 3; i++ {
		if got := mustRender(t, tpl, nil); got != "[ok]" {
			t.Fatalf("render %d: output = %q", i, got)
		}
	}
	if len(evaluator.compiled) != 1 || evaluator.compiled[0] != "custom" {
		t.Fatalf("expected one compile of %q, got %v", "custom", evaluator.compiled)
	}
}
