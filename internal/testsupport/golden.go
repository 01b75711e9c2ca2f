// Package testsupport holds helpers shared by package tests: golden files
// under testdata/ (refreshed with UPDATE_GOLDENS=1) and output capture.
package testsupport

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// UpdateGoldens reports whether golden files should be rewritten.
func UpdateGoldens() bool {
	return os.Getenv("UPDATE_GOLDENS") != ""
}

// MustReadGolden reads a golden file and returns its raw bytes.
func MustReadGolden(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read golden: %v", err)
	}
	return data
}

// MustReadGoldenString reads a golden file and returns its string content.
func MustReadGoldenString(t *testing.T, path string) string {
	t.Helper()
	return string(MustReadGolden(t, path))
}

// WriteMaybeGolden updates a golden file when UPDATE_GOLDENS is set. Returns
// true if the golden was written (test should exit early).
func WriteMaybeGolden(t *testing.T, path string, data []byte) bool {
	t.Helper()
	if !UpdateGoldens() {
		return false
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir golden dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write golden: %v", err)
	}
	return true
}

// AssertGolden compares got with the golden file at path, rewriting the file
// instead when UPDATE_GOLDENS is set.
func AssertGolden(t *testing.T, path, got string) {
	t.Helper()
	if WriteMaybeGolden(t, path, []byte(got)) {
		return
	}
	want := MustReadGoldenString(t, path)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("golden %s mismatch (-want +got):\n%s", path, diff)
	}
}

// CaptureOutput runs fn with a buffer and returns what it wrote.
func CaptureOutput(t *testing.T, fn func(io.Writer) error) string {
	t.Helper()

	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		t.Fatalf("capture output: %v", err)
	}
	return buf.String()
}
