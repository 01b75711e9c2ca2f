package vars

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadFile_YAMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "vars.yaml")
	jsonPath := filepath.Join(dir, "vars.json")
	if err := os.WriteFile(yamlPath, []byte("topic: tides\nfeatures:\n  - fast\n  - cheap\nmeta:\n  draft: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(jsonPath, []byte(`{"topic": "tides", "features": ["fast", "cheap"], "meta": {"draft": true}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	want := map[string]any{
		"topic":    "tides",
		"features": []any{"fast", "cheap"},
		"meta":     map[string]any{"draft": true},
	}
	for _, path := range []string{yamlPath, jsonPath} {
		got, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile(%s): %v", filepath.Base(path), err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("LoadFile(%s) mismatch (-want +got):\n%s", filepath.Base(path), diff)
		}
	}
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file: expected os.ErrNotExist, got %v", err)
	}

	list := filepath.Join(dir, "list.yaml")
	if err := os.WriteFile(list, []byte("- a\n- b\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(list); !errors.Is(err, ErrNotAMap) {
		t.Fatalf("list document: expected ErrNotAMap, got %v", err)
	}
}

func TestParse_Empty(t *testing.T) {
	got, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
}

func TestSet(t *testing.T) {
	dst := map[string]any{"meta": "flat"}
	assignments := []string{
		"topic=tides",
		"count=3",
		"ratio=0.5",
		"draft=true",
		"features=[fast, cheap]",
		"meta.owner.name=ana",
		"note=key: value",
		"empty=",
		"spaced = padded",
	}
	for _, a := range assignments {
		if err := Set(dst, a); err != nil {
			t.Fatalf("Set(%q): %v", a, err)
		}
	}

	want := map[string]any{
		"topic":    "tides",
		"count":    3,
		"ratio":    0.5,
		"draft":    true,
		"features": []any{"fast", "cheap"},
		"meta":     map[string]any{"owner": map[string]any{"name": "ana"}},
		"note":     "key: value",
		"empty":    "",
		"spaced":   "padded",
	}
	if diff := cmp.Diff(want, dst); diff != "" {
		t.Fatalf("Set mismatch (-want +got):\n%s", diff)
	}
}

func TestSet_Invalid(t *testing.T) {
	for _, a := range []string{"novalue", "=x", " =x"} {
		if err := Set(map[string]any{}, a); !errors.Is(err, ErrInvalidAssignment) {
			t.Fatalf("Set(%q): expected ErrInvalidAssignment, got %v", a, err)
		}
	}
	if err := Set(map[string]any{}, "a..b=1"); err == nil {
		t.Fatal("expected error for empty path segment")
	}
}

func TestMerge(t *testing.T) {
	dst := map[string]any{
		"topic": "old",
		"meta":  map[string]any{"draft": true, "owner": "ana"},
	}
	src := map[string]any{
		"topic": "new",
		"meta":  map[string]any{"owner": "bo"},
		"extra": []any{1},
	}
	want := map[string]any{
		"topic": "new",
		"meta":  map[string]any{"draft": true, "owner": "bo"},
		"extra": []any{1},
	}
	if diff := cmp.Diff(want, Merge(dst, src)); diff != "" {
		t.Fatalf("Merge mismatch (-want +got):\n%s", diff)
	}
	if got := Merge(nil, map[string]any{"a": 1}); got["a"] != 1 {
		t.Fatalf("Merge into nil: %v", got)
	}
}
