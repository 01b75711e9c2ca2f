package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/goliatone/go-gentpl/internal/prompter"
)

const productTemplate = "../../examples/templates/product.json.tpl"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--log-mode", "nop"))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestRender_MockBackendJSON(t *testing.T) {
	out, err := execute(t, "render", productTemplate,
		"--backend", "mock",
		"--set", "category=kettle",
		"--set", "features=[fast, quiet]",
		"--set", "price=25",
		"--json",
	)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	want := map[string]any{
		"name":    "[MOCK: A product name for a kettle]",
		"tagline": "[MOCK: A one-line tagline for a kettle]",
		"features": []any{
			"[MOCK: Describe the feature: fast]",
			"[MOCK: Describe the feature: quiet]",
		},
		"price": float64(25),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("rendered JSON mismatch (-want +got):\n%s", diff)
	}
}

func TestRender_WritesOutputFileWithVarsFile(t *testing.T) {
	dir := t.TempDir()
	varsPath := filepath.Join(dir, "vars.yaml")
	if err := os.WriteFile(varsPath, []byte("recipient: Ana\ntopic: tides\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	outPath := filepath.Join(dir, "email.txt")

	stdout, err := execute(t, "render", "../../examples/templates/email.txt.tpl",
		"--backend", "mock",
		"--mock-response", "  Hello there  ",
		"--vars", varsPath,
		"--output", outPath,
	)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if stdout != "" {
		t.Fatalf("expected nothing on stdout, got %q", stdout)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	got := string(data)
	for _, want := range []string{"Subject: Hello there\n", "Hi Ana,", "\n  Hello there  \n"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRender_DefaultFilterOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snippet.html.tpl")
	if err := os.WriteFile(path, []byte(`<p>{{ gen("x") }}</p>`), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "render", path, "--backend", "mock", "--mock-response", "<b>hi</b>")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got, want := strings.TrimSpace(out), "<p>&lt;b&gt;hi&lt;/b&gt;</p>"; got != want {
		t.Fatalf("html default: got %q want %q", got, want)
	}

	out, err = execute(t, "render", path, "--backend", "mock", "--mock-response", "<b>hi</b>", "--default-filter", "")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got, want := strings.TrimSpace(out), "<p><b>hi</b></p>"; got != want {
		t.Fatalf("no default: got %q want %q", got, want)
	}
}

func TestRender_Errors(t *testing.T) {
	t.Setenv("GENTPL_MODEL", "")
	cases := map[string][]string{
		"unknown backend": {"render", productTemplate, "--backend", "nope"},
		"missing model":   {"render", productTemplate},
		"missing file":    {"render", "does-not-exist.tpl", "--backend", "mock"},
		"bad set":         {"render", productTemplate, "--backend", "mock", "--set", "novalue"},
		"bad log level":   {"render", productTemplate, "--backend", "mock", "--log-level", "loud"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			if name == "bad log level" {
				// --log-mode nop would skip level parsing.
				cmd := newRootCmd()
				cmd.SetOut(&bytes.Buffer{})
				cmd.SetArgs(args)
				if err := cmd.Execute(); err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if _, err := execute(t, args...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestInspect_Text(t *testing.T) {
	out, err := execute(t, "inspect", productTemplate, "--rewritten")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	for _, want := range []string{
		"default filter: json",
		"call sites:     3",
		`truncate(80, "...") | json`,
		"(default) json",
		"--- rewritten source ---",
		`gentpl_gen(0, "A product name for a {category}", gentpl_kw("max_tokens", 12))`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("inspect output missing %q:\n%s", want, out)
		}
	}
}

func TestInspect_JSON(t *testing.T) {
	out, err := execute(t, "inspect", productTemplate, "--json")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var report inspectReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	if report.DefaultFilter != "json" {
		t.Fatalf("default filter = %q", report.DefaultFilter)
	}
	var chains [][]string
	for _, site := range report.CallSites {
		chains = append(chains, site.Filters)
	}
	want := [][]string{nil, {`truncate(80, "...")`, "json"}, nil}
	if diff := cmp.Diff(want, chains, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("chains mismatch (-want +got):\n%s", diff)
	}
	if report.Rewritten != "" {
		t.Fatal("rewritten source should be omitted without --rewritten")
	}
}

type scriptedDriver struct{ answers []string }

func (d *scriptedDriver) next() (string, error) {
	answer := d.answers[0]
	d.answers = d.answers[1:]
	return answer, nil
}

func (d *scriptedDriver) Input(context.Context, prompter.InputConfig) (string, error) {
	return d.next()
}

func (d *scriptedDriver) Password(context.Context, prompter.InputConfig) (string, error) {
	return d.next()
}

func (d *scriptedDriver) TextArea(context.Context, prompter.InputConfig) (string, error) {
	return d.next()
}

func TestCollectVariables_Order(t *testing.T) {
	dir := t.TempDir()
	varsPath := filepath.Join(dir, "vars.json")
	if err := os.WriteFile(varsPath, []byte(`{"topic": "file", "meta": {"a": 1}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	opts := &renderOptions{
		varFiles: []string{varsPath},
		sets:     []string{"topic=flag", "meta.b=2"},
		ask:      []string{"topic", "token:secret"},
		driver:   &scriptedDriver{answers: []string{"prompted", "abc"}},
	}
	got, err := collectVariables(context.Background(), opts)
	if err != nil {
		t.Fatalf("collectVariables: %v", err)
	}
	want := map[string]any{
		"topic": "prompted",
		"token": "abc",
		"meta":  map[string]any{"a": 1, "b": 2},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("variables mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerationDefaults(t *testing.T) {
	cmd := newRenderCmd(&rootOptions{})
	opts := &renderOptions{}
	if got := generationDefaults(cmd, opts); got.MaxTokens != nil || got.Temperature != nil {
		t.Fatalf("expected no defaults, got %+v", got)
	}

	if err := cmd.Flags().Set("max-tokens", "64"); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Flags().Set("temperature", "0"); err != nil {
		t.Fatal(err)
	}
	opts.maxTokens, opts.temperature = 64, 0
	got := generationDefaults(cmd, opts)
	if got.MaxTokens == nil || *got.MaxTokens != 64 {
		t.Fatalf("max tokens = %v", got.MaxTokens)
	}
	if got.Temperature == nil || *got.Temperature != 0 {
		t.Fatalf("temperature = %v", got.Temperature)
	}
}

func TestNewLogger(t *testing.T) {
	for _, mode := range []string{"dev", "prod", "nop", ""} {
		log, err := newLogger(mode, "debug")
		if err != nil {
			t.Fatalf("newLogger(%q): %v", mode, err)
		}
		if log == nil {
			t.Fatalf("newLogger(%q) returned nil", mode)
		}
	}
	if _, err := newLogger("loud", "info"); err == nil {
		t.Fatal("expected unknown mode error")
	}
	if _, err := newLogger("dev", "chatty"); err == nil {
		t.Fatal("expected bad level error")
	}
}

func TestTrimScheme(t *testing.T) {
	cases := map[string]string{
		"http://collector:4318/":  "collector:4318",
		"https://otel.example.io": "otel.example.io",
		"localhost:4318":          "localhost:4318",
	}
	for in, want := range cases {
		if got := trimScheme(in); got != want {
			t.Fatalf("trimScheme(%q) = %q, want %q", in, got, want)
		}
	}
}
