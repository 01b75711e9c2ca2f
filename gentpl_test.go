package gentpl_test

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"io/fs"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-gentpl"
	"github.com/goliatone/go-gentpl/pkg/backend/mock"
)

func TestRender_OneShot(t *testing.T) {
	out, err := gentpl.Render(context.Background(),
		`{"title": {{ gen("A title about {topic}") | json }}}`,
		mock.New(mock.WithDefaultResponse(`Tides "rise"`)),
		map[string]any{"topic": "tides"},
	)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if want := `{"title": "Tides \"rise\""}`; out != want {
		t.Fatalf("got %s want %s", out, want)
	}
}

func TestRender_ParseErrorIsExported(t *testing.T) {
	_, err := gentpl.New(`{{ gen("x" }}`, mock.New())
	var perr *gentpl.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *gentpl.ParseError, got %T: %v", err, err)
	}
}

func TestExampleTemplates_Listed(t *testing.T) {
	names, err := fs.Glob(gentpl.ExampleTemplates(), "*.tpl")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	want := []string{"article.html.tpl", "config.yaml.tpl", "email.txt.tpl", "feed.xml.tpl", "product.json.tpl"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("example templates mismatch (-want +got):\n%s", diff)
	}
}

func loadExample(t *testing.T, name string, b gentpl.Backend, opts ...gentpl.Option) *gentpl.Template {
	t.Helper()
	tpl, err := gentpl.FromFS(gentpl.ExampleTemplates(), name, b, opts...)
	if err != nil {
		t.Fatalf("FromFS(%s): %v", name, err)
	}
	return tpl
}

func TestExampleTemplates_ProductJSON(t *testing.T) {
	b := mock.New(mock.WithResponseFunc(func(prompt string) string {
		return `She said "` + prompt + `"` + "\n"
	}))
	tpl := loadExample(t, "product.json.tpl", b)

	var got struct {
		Name     string   `json:"name"`
		Tagline  string   `json:"tagline"`
		Features []string `json:"features"`
		Price    float64  `json:"price"`
	}
	vars := map[string]any{"category": "kettle", "features": []string{"fast", "quiet"}, "price": 19.5}
	if err := tpl.RenderJSON(context.Background(), vars, &got); err != nil {
		t.Fatalf("RenderJSON: %v", err)
	}
	if want := "She said \"A product name for a kettle\"\n"; got.Name != want {
		t.Fatalf("name = %q, want %q", got.Name, want)
	}
	if len([]rune(got.Tagline)) > 80 {
		t.Fatalf("tagline not truncated: %q", got.Tagline)
	}
	if len(got.Features) != 2 || !strings.Contains(got.Features[1], "quiet") {
		t.Fatalf("features = %q", got.Features)
	}
	if got.Price != 19.5 {
		t.Fatalf("price = %v", got.Price)
	}
	if b.BatchCount() != 1 || b.CallCount() != 4 {
		t.Fatalf("expected 1 batch of 4 calls, got %d batches and %d calls", b.BatchCount(), b.CallCount())
	}
}

func TestExampleTemplates_FeedXML(t *testing.T) {
	b := mock.New(mock.WithDefaultResponse(`Fish & chips <"today">`))
	tpl := loadExample(t, "feed.xml.tpl", b)

	out, err := tpl.Render(context.Background(), map[string]any{
		"topic":   "food",
		"entries": []string{"a1", "b2"},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	dec := xml.NewDecoder(strings.NewReader(out))
	var summaries []string
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("output is not well-formed XML: %v\n%s", err, out)
		}
		if start, ok := tok.(xml.StartElement); ok && start.Name.Local == "summary" {
			var text string
			if err := dec.DecodeElement(&text, &start); err != nil {
				t.Fatalf("decode summary: %v", err)
			}
			summaries = append(summaries, text)
		}
	}
	want := []string{`Fish & chips <"today">`, `Fish & chips <"today">`}
	if diff := cmp.Diff(want, summaries); diff != "" {
		t.Fatalf("summaries mismatch (-want +got):\n%s", diff)
	}

	req, ok := b.LastRequest()
	if !ok || req.Temperature == nil || *req.Temperature != 0.2 {
		t.Fatalf("expected temperature 0.2 on summary calls, got %+v", req)
	}
}

func TestExampleTemplates_ConfigYAML(t *testing.T) {
	b := mock.New(mock.WithDefaultResponse("true"))
	tpl := loadExample(t, "config.yaml.tpl", b)

	var got struct {
		Service     string `yaml:"service"`
		Description string `yaml:"description"`
		Owners      []struct {
			Name string `yaml:"name"`
			Bio  string `yaml:"bio"`
		} `yaml:"owners"`
	}
	vars := map[string]any{"service": "billing", "owners": []string{"ana", "bo"}}
	if err := tpl.RenderYAML(context.Background(), vars, &got); err != nil {
		t.Fatalf("RenderYAML: %v", err)
	}
	if got.Service != "billing" || got.Description != "true" {
		t.Fatalf("unexpected document: %+v", got)
	}
	if len(got.Owners) != 2 || got.Owners[1].Name != "bo" || got.Owners[1].Bio != "true" {
		t.Fatalf("unexpected owners: %+v", got.Owners)
	}
}

func TestExampleTemplates_ArticleHTML(t *testing.T) {
	b := mock.New(mock.WithDefaultResponse(`<script>alert(1)</script><em>Tides</em> & moons`))
	tpl := loadExample(t, "article.html.tpl", b)

	out, err := tpl.Render(context.Background(), map[string]any{
		"topic":    "the sea",
		"sections": []string{"History"},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(out, "<script>") {
		t.Fatalf("script tag leaked into output:\n%s", out)
	}
	if !strings.Contains(out, "<h1>&lt;script&gt;") {
		t.Fatalf("headline should be html-escaped:\n%s", out)
	}
	if !strings.Contains(out, "<em>Tides</em>") {
		t.Fatalf("sanitized section should keep safe markup:\n%s", out)
	}
}
