package docstore

import (
	"errors"
	"strings"
)

var (
	// ErrLockTimeout is returned when a per-document lock cannot be acquired
	// before the configured timeout expires. No side effects have occurred.
	ErrLockTimeout = errors.New("lock timeout")

	// ErrNotFound is returned when an operation requires an existing document
	// and none exists at the given path.
	ErrNotFound = errors.New("document not found")

	// ErrBadShape is returned when a value is not representable as a document:
	// the top level must be a JSON object or array.
	ErrBadShape = errors.New("document must be a JSON object or array")

	// ErrBadPath is returned for document paths that are absolute, escape the
	// data root, or point into the store's reserved areas.
	ErrBadPath = errors.New("invalid document path")

	// ErrSnapshotNotFound is returned when a snapshot name does not resolve to
	// an archive plus metadata pair.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrVerifyFailed is returned when a snapshot archive fails its integrity
	// check.
	ErrVerifyFailed = errors.New("snapshot verification failed")

	// ErrHandleReleased is returned when a lock handle is re-entered after its
	// final release.
	ErrHandleReleased = errors.New("lock handle already released")
)

// Error is the uniform error type returned by the public store APIs.
//
// It appends document context (operation, path) to the underlying message:
//
//	unexpected end of JSON input (op=load doc=stats.json)
//
// Use [errors.As] to extract structured fields and [errors.Is] for the
// sentinel errors above.
type Error struct {
	// Op is the store operation that failed ("load", "save", "restore", ...).
	Op string

	// Path is the document's path relative to the data root. Empty for
	// operations that are not document-scoped.
	Path string

	// Err is the underlying cause.
	Err error
}

// Error formats as "<cause> (op=X doc=Y)".
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}

	suffix := e.suffix()
	if suffix == "" {
		return cause
	}

	if cause == "" {
		return suffix
	}

	return cause + " " + suffix
}

// Unwrap returns the underlying error for use with [errors.Is] and [errors.As].
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

func (e *Error) suffix() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}

	if e.Path != "" {
		parts = append(parts, "doc="+e.Path)
	}

	if len(parts) == 0 {
		return ""
	}

	return "(" + strings.Join(parts, " ") + ")"
}

// wrapErr attaches operation context at API boundaries and returns *Error.
// If err is already *Error, missing fields are filled in-place.
func wrapErr(err error, op, path string) error {
	if err == nil {
		return nil
	}

	existing := &Error{}
	if errors.As(err, &existing) {
		if existing.Op == "" && op != "" {
			existing.Op = op
		}

		if existing.Path == "" && path != "" {
			existing.Path = path
		}

		return existing
	}

	return &Error{Op: op, Path: path, Err: err}
}
