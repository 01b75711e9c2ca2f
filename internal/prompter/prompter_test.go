package prompter

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type stubDriver struct {
	answers  []string
	pos      int
	kinds    []Kind
	defaults []string
	fail     error
}

func (s *stubDriver) next(kind Kind, cfg InputConfig) (string, error) {
	if s.fail != nil {
		return "", s.fail
	}
	if s.pos >= len(s.answers) {
		return "", errors.New("no answer scripted")
	}
	s.kinds = append(s.kinds, kind)
	s.defaults = append(s.defaults, cfg.Default)
	val := s.answers[s.pos]
	s.pos++
	return val, nil
}

func (s *stubDriver) Input(_ context.Context, cfg InputConfig) (string, error) {
	return s.next(KindInput, cfg)
}

func (s *stubDriver) Password(_ context.Context, cfg InputConfig) (string, error) {
	return s.next(KindSecret, cfg)
}

func (s *stubDriver) TextArea(_ context.Context, cfg InputConfig) (string, error) {
	return s.next(KindTextArea, cfg)
}

func TestParseField(t *testing.T) {
	cases := map[string]Field{
		"topic":        {Path: "topic", Kind: KindInput},
		" meta.owner ": {Path: "meta.owner", Kind: KindInput},
		"token:secret": {Path: "token", Kind: KindSecret},
		"body:TEXT":    {Path: "body", Kind: KindTextArea},
		"title:input":  {Path: "title", Kind: KindInput},
	}
	for def, want := range cases {
		got, err := ParseField(def)
		if err != nil {
			t.Fatalf("ParseField(%q): %v", def, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("ParseField(%q) mismatch (-want +got):\n%s", def, diff)
		}
	}
	for _, bad := range []string{"", ":secret", "x:slider"} {
		if _, err := ParseField(bad); err == nil {
			t.Fatalf("ParseField(%q): expected error", bad)
		}
	}
}

func TestPrompter_Ask(t *testing.T) {
	driver := &stubDriver{answers: []string{"tides", "s3cr3t", "line one\nline two"}}
	p := New(WithDriver(driver))

	dst := map[string]any{"topic": "oceans", "meta": map[string]any{"count": 2}}
	fields := []Field{
		{Path: "topic", Kind: KindInput},
		{Path: "meta.token", Kind: KindSecret},
		{Path: "body", Kind: KindTextArea},
	}
	if err := p.Ask(context.Background(), fields, dst); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	want := map[string]any{
		"topic": "tides",
		"meta":  map[string]any{"count": 2, "token": "s3cr3t"},
		"body":  "line one\nline two",
	}
	if diff := cmp.Diff(want, dst); diff != "" {
		t.Fatalf("vars mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Kind{KindInput, KindSecret, KindTextArea}, driver.kinds); diff != "" {
		t.Fatalf("prompt kinds mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"oceans", "", ""}, driver.defaults); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestPrompter_AskAborted(t *testing.T) {
	p := New(WithDriver(&stubDriver{fail: ErrAborted}))
	err := p.Ask(context.Background(), []Field{{Path: "topic"}}, map[string]any{})
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
}

func TestCurrentValue(t *testing.T) {
	root := map[string]any{"n": 3, "meta": map[string]any{"name": "ana"}, "flat": "x"}
	cases := map[string]string{
		"n":           "3",
		"meta.name":   "ana",
		"missing":     "",
		"flat.nested": "",
	}
	for path, want := range cases {
		if got := currentValue(root, path); got != want {
			t.Fatalf("currentValue(%q) = %q, want %q", path, got, want)
		}
	}
}
