// Package treefs builds filesystem trees for tests from declarative specs.
//
// It is a test-support package: a File slice describes a tree, Sow creates
// it under a t.TempDir() root, and tests drive the real scheduler and engine
// against it.
package treefs

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// File describes one file to create. Content wins over Pattern+Size; with
// Content nil, Size bytes of Pattern are written.
type File struct {
	// Path is slash-separated and relative to the tree root. Parent
	// directories are created as needed.
	Path    string
	Content []byte
	Pattern byte
	Size    int
}

// Fill returns n bytes of pattern.
func Fill(pattern byte, n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = pattern
	}
	return buf
}

// Sow creates the described tree under a fresh temporary directory and
// returns its root.
func Sow(t *testing.T, files []File) string {
	t.Helper()
	root := t.TempDir()
	for _, f := range files {
		WriteFile(t, root, f)
	}
	return root
}

// WriteFile creates one file (and its parents) under root.
func WriteFile(t *testing.T, root string, f File) {
	t.Helper()
	content := f.Content
	if content == nil {
		content = Fill(f.Pattern, f.Size)
	}
	path := filepath.Join(root, filepath.FromSlash(f.Path))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", f.Path, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", f.Path, err)
	}
}

// Touch bumps a file's modification time past its current one, simulating a
// later write without changing content.
func Touch(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	later := info.ModTime().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}
