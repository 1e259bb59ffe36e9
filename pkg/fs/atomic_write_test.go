package fs_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/davrell/docstore/pkg/fs"
)

func TestAtomicWrite_ReplacesContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "doc.json")

	writeErr := os.WriteFile(target, []byte("old"), 0o644)
	if writeErr != nil {
		t.Fatalf("seed file: %v", writeErr)
	}

	writer := fs.NewAtomicWriter(fs.NewReal())

	err := writer.WriteWithDefaults(target, strings.NewReader("new"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, readErr := os.ReadFile(target)
	if readErr != nil {
		t.Fatalf("ReadFile: %v", readErr)
	}

	if string(got) != "new" {
		t.Fatalf("content=%q, want %q", got, "new")
	}
}

func TestAtomicWrite_CreatesMissingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "fresh.json")

	writer := fs.NewAtomicWriter(fs.NewReal())

	err := writer.WriteWithDefaults(target, strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, readErr := os.ReadFile(target)
	if readErr != nil {
		t.Fatalf("ReadFile: %v", readErr)
	}

	if string(got) != "hello" {
		t.Fatalf("content=%q, want %q", got, "hello")
	}
}

func TestAtomicWrite_LeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "doc.json")

	writer := fs.NewAtomicWriter(fs.NewReal())

	err := writer.WriteWithDefaults(target, strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		t.Fatalf("ReadDir: %v", readErr)
	}

	for _, e := range entries {
		if e.Name() != "doc.json" {
			t.Fatalf("unexpected leftover entry: %s", e.Name())
		}
	}
}

// renameFailFS injects a rename failure to exercise the failure path.
type renameFailFS struct {
	fs.FS
	err error
}

func (f *renameFailFS) Rename(oldpath, newpath string) error {
	return f.err
}

func TestAtomicWrite_RenameFailureLeavesOriginalIntact(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "doc.json")

	writeErr := os.WriteFile(target, []byte("original"), 0o644)
	if writeErr != nil {
		t.Fatalf("seed file: %v", writeErr)
	}

	injected := errors.New("injected rename failure")
	writer := fs.NewAtomicWriter(&renameFailFS{FS: fs.NewReal(), err: injected})

	err := writer.WriteWithDefaults(target, strings.NewReader("replacement"))
	if !errors.Is(err, injected) {
		t.Fatalf("err=%v, want injected rename failure", err)
	}

	got, readErr := os.ReadFile(target)
	if readErr != nil {
		t.Fatalf("ReadFile: %v", readErr)
	}

	if string(got) != "original" {
		t.Fatalf("content=%q, want %q", got, "original")
	}

	entries, dirErr := os.ReadDir(dir)
	if dirErr != nil {
		t.Fatalf("ReadDir: %v", dirErr)
	}

	if len(entries) != 1 {
		t.Fatalf("temp file not cleaned up: %d entries", len(entries))
	}
}

func TestAtomicWrite_RejectsInvalidArguments(t *testing.T) {
	t.Parallel()

	writer := fs.NewAtomicWriter(fs.NewReal())

	err := writer.WriteWithDefaults("", strings.NewReader("x"))
	if err == nil {
		t.Fatal("want error for empty path")
	}

	err = writer.Write("some/file", strings.NewReader("x"), fs.AtomicWriteOptions{SyncDir: true})
	if err == nil {
		t.Fatal("want error for zero Perm")
	}
}
