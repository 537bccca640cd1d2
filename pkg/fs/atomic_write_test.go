package fs_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/calvinalkan/metricstore/pkg/fs"
)

const testContentHello = "hello bucket"

func TestAtomicWriter_WriteWithDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "final.msdata")

	writer := fs.NewAtomicWriter(fs.NewReal())

	err := writer.WriteWithDefaults(path, strings.NewReader(testContentHello))
	if err != nil {
		t.Fatalf("WriteWithDefaults: %v", err)
	}

	got, err := fs.NewReal().ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != testContentHello {
		t.Fatalf("content=%q, want %q", string(got), testContentHello)
	}

	// No temp file left behind.
	entries, err := fs.NewReal().ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("dir entries=%d, want 1 (no leftover temp file); got %+v", len(entries), entries)
	}
}

func TestAtomicWriter_OverwritesExistingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "bucket.msdata")

	realFS := fs.NewReal()
	writer := fs.NewAtomicWriter(realFS)

	if err := writer.WriteWithDefaults(path, strings.NewReader("v1")); err != nil {
		t.Fatalf("first write: %v", err)
	}

	if err := writer.WriteWithDefaults(path, strings.NewReader("v2-longer")); err != nil {
		t.Fatalf("second write: %v", err)
	}

	got, err := realFS.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != "v2-longer" {
		t.Fatalf("content=%q, want %q", string(got), "v2-longer")
	}
}
