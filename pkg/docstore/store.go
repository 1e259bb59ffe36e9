package docstore

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/davrell/docstore/pkg/fs"
)

// Reserved subdirectories under the data root. Anything starting with a dot
// is invisible to document paths and to snapshot walks.
const (
	snapshotsDirName  = ".snapshots"
	quarantineDirName = ".quarantine"
)

// Internal log documents. They live inside the reserved areas and are capped
// so a permanent audit trail cannot become unbounded disk growth.
const (
	corruptionLogName     = "corruption_log.json"
	restoreHistoryName    = "restore_history.json"
	corruptionLogLockKey  = ".quarantine/corruption_log.json"
	restoreHistoryLockKey = ".snapshots/restore_history.json"
)

const (
	dirPerms  = 0o755
	filePerms = 0o644
)

// Options configures a [Store].
type Options struct {
	// FS is the filesystem implementation. Defaults to [fs.NewReal].
	FS fs.FS

	// Logger receives diagnostic events (quarantines, rotation deletions,
	// restore phases). Defaults to a logger that discards everything; the
	// store never logs through a logger the caller did not hand it.
	Logger *slog.Logger

	// LockTimeout bounds how long any operation waits for a document lock.
	// Default: 5s.
	LockTimeout time.Duration

	// Retention governs snapshot rotation. Zero-value fields fall back to the
	// defaults in [DefaultRetention].
	Retention RetentionPolicy

	// EssentialDocs lists document paths (relative to the data root) that
	// snapshot verification and post-restore consistency checks require.
	EssentialDocs []string

	// CorruptionLogMax caps the corruption log length. Default: 200.
	CorruptionLogMax int

	// RestoreHistoryMax caps the restore history length. Default: 100.
	RestoreHistoryMax int
}

// DefaultOptions returns the default store options.
func DefaultOptions() Options {
	return Options{
		LockTimeout:       5 * time.Second,
		Retention:         DefaultRetention(),
		CorruptionLogMax:  200,
		RestoreHistoryMax: 100,
	}
}

// Store is the durable document store rooted at a single data directory.
//
// All mutation funnels through the store; it is the sole writer of record for
// the document tree. Methods are safe for concurrent use.
type Store struct {
	root   string
	fs     fs.FS
	writer *fs.AtomicWriter
	locks  *LockRegistry
	log    *slog.Logger
	opts   Options
}

// New opens a store rooted at dataDir, creating the directory if needed.
func New(dataDir string, opts Options) (*Store, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data dir is empty")
	}

	defaults := DefaultOptions()

	if opts.FS == nil {
		opts.FS = fs.NewReal()
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaults.LockTimeout
	}

	opts.Retention = opts.Retention.withDefaults()

	if opts.CorruptionLogMax <= 0 {
		opts.CorruptionLogMax = defaults.CorruptionLogMax
	}

	if opts.RestoreHistoryMax <= 0 {
		opts.RestoreHistoryMax = defaults.RestoreHistoryMax
	}

	root := filepath.Clean(dataDir)

	mkdirErr := opts.FS.MkdirAll(root, dirPerms)
	if mkdirErr != nil {
		return nil, fmt.Errorf("create data dir: %w", mkdirErr)
	}

	return &Store{
		root:   root,
		fs:     opts.FS,
		writer: fs.NewAtomicWriter(opts.FS),
		locks:  NewLockRegistry(),
		log:    opts.Logger,
		opts:   opts,
	}, nil
}

// Root returns the data root directory.
func (s *Store) Root() string {
	return s.root
}

// Locks exposes the per-document lock registry, mainly for observability.
func (s *Store) Locks() *LockRegistry {
	return s.locks
}

// resolve canonicalizes a document path and returns (absolute path, canonical
// lock key). The canonical form uses forward slashes so lock keys and
// snapshot member names agree across platforms.
func (s *Store) resolve(relPath string) (string, string, error) {
	if relPath == "" {
		return "", "", fmt.Errorf("%w: empty path", ErrBadPath)
	}

	if filepath.IsAbs(relPath) {
		return "", "", fmt.Errorf("%w: %q is absolute", ErrBadPath, relPath)
	}

	clean := filepath.Clean(filepath.FromSlash(relPath))
	canonical := filepath.ToSlash(clean)

	if canonical == "." || canonical == ".." || strings.HasPrefix(canonical, "../") {
		return "", "", fmt.Errorf("%w: %q escapes the data root", ErrBadPath, relPath)
	}

	// Dotted components at any depth are reserved for the store itself
	// (snapshots, quarantine, temp files). Snapshot walks skip them, so a
	// document under one would silently fall outside the backup coverage.
	for _, part := range strings.Split(canonical, "/") {
		if strings.HasPrefix(part, ".") {
			return "", "", fmt.Errorf("%w: %q is in a reserved area", ErrBadPath, relPath)
		}
	}

	return filepath.Join(s.root, clean), canonical, nil
}

func (s *Store) snapshotsDir() string {
	return filepath.Join(s.root, snapshotsDirName)
}

func (s *Store) quarantineDir() string {
	return filepath.Join(s.root, quarantineDirName)
}
