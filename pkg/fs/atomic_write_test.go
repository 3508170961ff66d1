package fs_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/castlecache/imagetable/pkg/fs"
)

const testContentHello = "hello, world"

func TestAtomicWriteFile_WritesContentAndLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "final.txt")

	writer := fs.NewAtomicWriter(fs.NewReal())

	err := writer.WriteWithDefaults(path, strings.NewReader(testContentHello))
	if err != nil {
		t.Fatalf("WriteWithDefaults: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != testContentHello {
		t.Fatalf("content=%q, want %q", string(got), testContentHello)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("dir has %d entries after write, want 1 (no leftover temp files)", len(entries))
	}
}

func TestAtomicWriteFile_OverwritesExistingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "final.txt")

	writer := fs.NewAtomicWriter(fs.NewReal())

	err := writer.WriteWithDefaults(path, strings.NewReader("first"))
	if err != nil {
		t.Fatalf("WriteWithDefaults (first): %v", err)
	}

	err = writer.WriteWithDefaults(path, strings.NewReader(testContentHello))
	if err != nil {
		t.Fatalf("WriteWithDefaults (second): %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != testContentHello {
		t.Fatalf("content=%q, want %q", string(got), testContentHello)
	}
}
