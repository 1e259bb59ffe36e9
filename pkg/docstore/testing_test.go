package docstore_test

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/davrell/docstore/pkg/docstore"
	"github.com/davrell/docstore/pkg/fs"
)

// newTestStore opens a store in a fresh temp dir.
func newTestStore(t *testing.T) *docstore.Store {
	t.Helper()

	store, err := docstore.New(t.TempDir(), docstore.Options{})
	if err != nil {
		t.Fatalf("docstore.New: %v", err)
	}

	return store
}

func newTestStoreWith(t *testing.T, opts docstore.Options) *docstore.Store {
	t.Helper()

	store, err := docstore.New(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("docstore.New: %v", err)
	}

	return store
}

// faultFS wraps a real filesystem and fails selected operations, so tests can
// exercise the store's error paths without a faulty disk.
type faultFS struct {
	fs.FS

	mu        sync.Mutex
	renameErr error
	createErr func(path string) error
	readErr   func(path string) error
}

func (f *faultFS) Rename(oldpath, newpath string) error {
	f.mu.Lock()
	err := f.renameErr
	f.mu.Unlock()

	if err != nil {
		return err
	}

	return f.FS.Rename(oldpath, newpath)
}

func (f *faultFS) Create(path string) (fs.File, error) {
	f.mu.Lock()
	hook := f.createErr
	f.mu.Unlock()

	if hook != nil {
		if err := hook(path); err != nil {
			return nil, err
		}
	}

	return f.FS.Create(path)
}

func (f *faultFS) ReadFile(path string) ([]byte, error) {
	f.mu.Lock()
	hook := f.readErr
	f.mu.Unlock()

	if hook != nil {
		if err := hook(path); err != nil {
			return nil, err
		}
	}

	return f.FS.ReadFile(path)
}

func (f *faultFS) setRenameErr(err error) {
	f.mu.Lock()
	f.renameErr = err
	f.mu.Unlock()
}

// logCapture is a slog.Handler that records every message for assertions.
type logCapture struct {
	mu       sync.Mutex
	messages []string
}

func (c *logCapture) Enabled(context.Context, slog.Level) bool {
	return true
}

func (c *logCapture) Handle(_ context.Context, r slog.Record) error {
	c.mu.Lock()
	c.messages = append(c.messages, r.Message)
	c.mu.Unlock()

	return nil
}

func (c *logCapture) WithAttrs([]slog.Attr) slog.Handler { return c }
func (c *logCapture) WithGroup(string) slog.Handler      { return c }

func (c *logCapture) contains(substr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, msg := range c.messages {
		if strings.Contains(msg, substr) {
			return true
		}
	}

	return false
}
