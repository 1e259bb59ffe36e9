package docstore

import (
	"fmt"
	"sync"
	"time"
)

// LockRegistry serializes access to documents, one lock per canonical path.
//
// Entries are created lazily on first reference and live for the process
// lifetime. That is an accepted trade-off: the key space is the finite set of
// managed document paths, not request-scoped values, so the registry stays
// small and lookups stay cheap.
//
// The registry-level mutex guards only entry creation. It is never held while
// a per-path lock is held, so operations on different documents never block
// each other.
type LockRegistry struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

// NewLockRegistry returns an empty registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{
		entries: make(map[string]*lockEntry),
	}
}

type lockEntry struct {
	// sem holds the lock token: a buffered send acquires, a receive releases.
	// Channel semantics give Acquire its timeout via select.
	sem chan struct{}

	mu         sync.Mutex
	acquiredAt time.Time
}

// LockHandle represents a held per-path lock.
//
// Re-entry is explicit: a caller chain that already holds the lock passes the
// handle down and calls [LockHandle.Acquire] instead of going back through
// the registry, which would deadlock. Each Acquire (including the registry
// one) must be paired with one [LockHandle.Release]; the lock is freed when
// the depth reaches zero.
type LockHandle struct {
	entry *lockEntry
	path  string

	mu    sync.Mutex
	depth int
}

// Acquire obtains the lock for path, waiting at most timeout.
//
// Returns a held handle on success. On expiry it returns an error satisfying
// errors.Is(err, ErrLockTimeout) with no side effects performed, so callers
// can retry, skip, or escalate instead of hanging.
func (r *LockRegistry) Acquire(path string, timeout time.Duration) (*LockHandle, error) {
	entry := r.entry(path)

	// Fast path: a free lock is taken without arming a timer, so a zero or
	// negative timeout never spuriously expires against an uncontended lock.
	select {
	case entry.sem <- struct{}{}:
	default:
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case entry.sem <- struct{}{}:
		case <-timer.C:
			return nil, fmt.Errorf("%w: %s after %s", ErrLockTimeout, path, timeout)
		}
	}

	entry.mu.Lock()
	entry.acquiredAt = time.Now()
	entry.mu.Unlock()

	return &LockHandle{entry: entry, path: path, depth: 1}, nil
}

// IsLocked reports whether the lock for path is currently held.
func (r *LockRegistry) IsLocked(path string) bool {
	r.mu.Lock()
	entry, ok := r.entries[path]
	r.mu.Unlock()

	if !ok {
		return false
	}

	return len(entry.sem) == 1
}

// AcquiredAt returns the time the lock for path was last acquired and whether
// the lock is currently held.
func (r *LockRegistry) AcquiredAt(path string) (time.Time, bool) {
	r.mu.Lock()
	entry, ok := r.entries[path]
	r.mu.Unlock()

	if !ok || len(entry.sem) == 0 {
		return time.Time{}, false
	}

	entry.mu.Lock()
	at := entry.acquiredAt
	entry.mu.Unlock()

	return at, true
}

// entry returns the lock entry for path, creating it on first reference.
func (r *LockRegistry) entry(path string) *lockEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[path]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		r.entries[path] = entry
	}

	return entry
}

// Path returns the canonical path this handle locks.
func (h *LockHandle) Path() string {
	return h.path
}

// Acquire re-enters an already-held lock without touching the registry.
//
// Returns ErrHandleReleased if the handle's final Release has already run.
func (h *LockHandle) Acquire() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.depth == 0 {
		return fmt.Errorf("%w: %s", ErrHandleReleased, h.path)
	}

	h.depth++

	return nil
}

// Release undoes one Acquire. The underlying lock is freed when the last
// Release runs. Releasing an already-released handle is a no-op.
func (h *LockHandle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.depth == 0 {
		return
	}

	h.depth--
	if h.depth == 0 {
		<-h.entry.sem
	}
}
