package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/davrell/docstore/pkg/fs"
)

// LoadResult is the outcome of a [Store.Load].
//
// Recovered lets callers observe that a corruption fallback occurred (for
// monitoring) without being forced to treat it as a hard error: the operation
// itself still succeeded and Value is usable.
type LoadResult struct {
	// Value is the document content: map[string]any or []any.
	Value any

	// Created reports that the file was absent and has been created with the
	// caller's default.
	Created bool

	// Recovered reports that the file existed but was unreadable; its bytes
	// were quarantined and the caller's default was written in its place.
	Recovered bool
}

// Load reads the document at relPath.
//
// If the file is absent it is atomically created with def and def is
// returned. If the content fails to parse, or its top level is not an object
// or array, the bytes are quarantined, def is written as the new content, and
// def is returned with Recovered set. The caller never sees a parse error:
// one feature's corrupted file must not crash the rest of the application.
//
// def itself must be a valid document value (object or array).
func (s *Store) Load(relPath string, def any) (LoadResult, error) {
	const op = "load"

	abs, canonical, resolveErr := s.resolve(relPath)
	if resolveErr != nil {
		return LoadResult{}, wrapErr(resolveErr, op, relPath)
	}

	normDef, defErr := normalizeValue(def)
	if defErr != nil {
		return LoadResult{}, wrapErr(fmt.Errorf("default: %w", defErr), op, canonical)
	}

	handle, lockErr := s.acquire(canonical)
	if lockErr != nil {
		return LoadResult{}, wrapErr(lockErr, op, canonical)
	}
	defer handle.Release()

	res, _, err := s.loadLocked(abs, canonical, normDef, true)
	if err != nil {
		return LoadResult{}, wrapErr(err, op, canonical)
	}

	return res, nil
}

// Save serializes value and atomically replaces the document at relPath.
//
// The write goes to a temp file in the target's own directory, is synced,
// and is renamed over the target, so a concurrent reader sees either the old
// or the new content in full. On failure the temp file is removed, the
// original document is untouched, and the error is returned; whether that is
// fatal is the caller's call.
func (s *Store) Save(relPath string, value any) error {
	const op = "save"

	abs, canonical, resolveErr := s.resolve(relPath)
	if resolveErr != nil {
		return wrapErr(resolveErr, op, relPath)
	}

	norm, valErr := normalizeValue(value)
	if valErr != nil {
		return wrapErr(valErr, op, canonical)
	}

	handle, lockErr := s.acquire(canonical)
	if lockErr != nil {
		return wrapErr(lockErr, op, canonical)
	}
	defer handle.Release()

	writeErr := s.writeLocked(abs, norm)
	if writeErr != nil {
		return wrapErr(writeErr, op, canonical)
	}

	return nil
}

// Update deep-merges partial into the document at relPath under a single lock
// hold, so the read-modify-write is race-free against concurrent Update/Save
// calls on the same path.
//
// Map values merge recursively; any other value in partial replaces the
// existing value wholesale. If the document is absent, createIfMissing
// decides between creating it from partial and returning [ErrNotFound].
func (s *Store) Update(relPath string, partial map[string]any, createIfMissing bool) error {
	const op = "update"

	abs, canonical, resolveErr := s.resolve(relPath)
	if resolveErr != nil {
		return wrapErr(resolveErr, op, relPath)
	}

	normPartial, valErr := normalizeValue(partial)
	if valErr != nil {
		return wrapErr(valErr, op, canonical)
	}

	handle, lockErr := s.acquire(canonical)
	if lockErr != nil {
		return wrapErr(lockErr, op, canonical)
	}
	defer handle.Release()

	res, found, loadErr := s.loadLocked(abs, canonical, map[string]any{}, false)
	if loadErr != nil {
		return wrapErr(loadErr, op, canonical)
	}

	if !found && !createIfMissing {
		return wrapErr(ErrNotFound, op, canonical)
	}

	var merged any
	if found {
		merged = deepMerge(res.Value, normPartial)
	} else {
		merged = normPartial
	}

	writeErr := s.writeLocked(abs, merged)
	if writeErr != nil {
		return wrapErr(writeErr, op, canonical)
	}

	return nil
}

// GetKeyPath returns the value at the dotted keyPath ("a.b.c") inside the
// document at relPath. def is returned when the document, or any step of the
// path, is absent. The document is not created.
func (s *Store) GetKeyPath(relPath, keyPath string, def any) (any, error) {
	const op = "get_key_path"

	abs, canonical, resolveErr := s.resolve(relPath)
	if resolveErr != nil {
		return nil, wrapErr(resolveErr, op, relPath)
	}

	keys, keyErr := splitKeyPath(keyPath)
	if keyErr != nil {
		return nil, wrapErr(keyErr, op, canonical)
	}

	handle, lockErr := s.acquire(canonical)
	if lockErr != nil {
		return nil, wrapErr(lockErr, op, canonical)
	}
	defer handle.Release()

	res, found, loadErr := s.loadLocked(abs, canonical, map[string]any{}, false)
	if loadErr != nil {
		return nil, wrapErr(loadErr, op, canonical)
	}

	if !found {
		return def, nil
	}

	value, ok := getKeyPath(res.Value, keys)
	if !ok {
		return def, nil
	}

	return cloneValue(value), nil
}

// SetKeyPath sets the value at the dotted keyPath inside the document at
// relPath, creating the document (as an empty object) and any intermediate
// maps as needed.
func (s *Store) SetKeyPath(relPath, keyPath string, value any) error {
	const op = "set_key_path"

	abs, canonical, resolveErr := s.resolve(relPath)
	if resolveErr != nil {
		return wrapErr(resolveErr, op, relPath)
	}

	keys, keyErr := splitKeyPath(keyPath)
	if keyErr != nil {
		return wrapErr(keyErr, op, canonical)
	}

	// Key-path values may be any JSON value, not only object/array, so they
	// bypass the document-shape check.
	raw, marshalErr := marshalAny(value)
	if marshalErr != nil {
		return wrapErr(marshalErr, op, canonical)
	}

	handle, lockErr := s.acquire(canonical)
	if lockErr != nil {
		return wrapErr(lockErr, op, canonical)
	}
	defer handle.Release()

	res, found, loadErr := s.loadLocked(abs, canonical, map[string]any{}, false)
	if loadErr != nil {
		return wrapErr(loadErr, op, canonical)
	}

	doc := map[string]any{}

	if found {
		m, ok := res.Value.(map[string]any)
		if !ok {
			return wrapErr(fmt.Errorf("%w: key paths require an object document", ErrBadShape), op, canonical)
		}

		doc = m
	}

	setKeyPath(doc, keys, raw)

	writeErr := s.writeLocked(abs, doc)
	if writeErr != nil {
		return wrapErr(writeErr, op, canonical)
	}

	return nil
}

// DeleteKeyPath removes the value at the dotted keyPath inside the document
// at relPath. Deleting an already-absent key (or key path into an absent
// document) succeeds and leaves the document untouched.
func (s *Store) DeleteKeyPath(relPath, keyPath string) error {
	const op = "delete_key_path"

	abs, canonical, resolveErr := s.resolve(relPath)
	if resolveErr != nil {
		return wrapErr(resolveErr, op, relPath)
	}

	keys, keyErr := splitKeyPath(keyPath)
	if keyErr != nil {
		return wrapErr(keyErr, op, canonical)
	}

	handle, lockErr := s.acquire(canonical)
	if lockErr != nil {
		return wrapErr(lockErr, op, canonical)
	}
	defer handle.Release()

	res, found, loadErr := s.loadLocked(abs, canonical, map[string]any{}, false)
	if loadErr != nil {
		return wrapErr(loadErr, op, canonical)
	}

	if !found {
		return nil
	}

	doc, ok := res.Value.(map[string]any)
	if !ok {
		return wrapErr(fmt.Errorf("%w: key paths require an object document", ErrBadShape), op, canonical)
	}

	removed := deleteKeyPath(doc, keys)
	if !removed {
		// Nothing changed; skip the rewrite.
		return nil
	}

	writeErr := s.writeLocked(abs, doc)
	if writeErr != nil {
		return wrapErr(writeErr, op, canonical)
	}

	return nil
}

// AppendToList appends item to the list document at relPath, creating it as
// an empty list if absent, and truncates it to the most recent maxItems
// entries (oldest dropped) before saving. maxItems <= 0 means no cap.
//
// Capped lists trade completeness of history for bounded file size; that is
// the intended use (activity logs, recent events).
func (s *Store) AppendToList(relPath string, item any, maxItems int) error {
	const op = "append_to_list"

	abs, canonical, resolveErr := s.resolve(relPath)
	if resolveErr != nil {
		return wrapErr(resolveErr, op, relPath)
	}

	normItem, itemErr := marshalAny(item)
	if itemErr != nil {
		return wrapErr(itemErr, op, canonical)
	}

	handle, lockErr := s.acquire(canonical)
	if lockErr != nil {
		return wrapErr(lockErr, op, canonical)
	}
	defer handle.Release()

	res, _, loadErr := s.loadLocked(abs, canonical, []any{}, true)
	if loadErr != nil {
		return wrapErr(loadErr, op, canonical)
	}

	list, ok := res.Value.([]any)
	if !ok {
		return wrapErr(fmt.Errorf("%w: append requires a list document", ErrBadShape), op, canonical)
	}

	list = append(list, normItem)
	list = capList(list, maxItems)

	writeErr := s.writeLocked(abs, list)
	if writeErr != nil {
		return wrapErr(writeErr, op, canonical)
	}

	return nil
}

// Delete removes the document at relPath. Returns [ErrNotFound] if no
// document exists there. Documents are never deleted implicitly; this is the
// only way content leaves the tree outside of restores.
func (s *Store) Delete(relPath string) error {
	const op = "delete"

	abs, canonical, resolveErr := s.resolve(relPath)
	if resolveErr != nil {
		return wrapErr(resolveErr, op, relPath)
	}

	handle, lockErr := s.acquire(canonical)
	if lockErr != nil {
		return wrapErr(lockErr, op, canonical)
	}
	defer handle.Release()

	removeErr := s.fs.Remove(abs)
	if removeErr != nil {
		if os.IsNotExist(removeErr) {
			return wrapErr(ErrNotFound, op, canonical)
		}

		return wrapErr(removeErr, op, canonical)
	}

	return nil
}

// Exists reports whether a document exists at relPath.
func (s *Store) Exists(relPath string) (bool, error) {
	const op = "exists"

	abs, canonical, resolveErr := s.resolve(relPath)
	if resolveErr != nil {
		return false, wrapErr(resolveErr, op, relPath)
	}

	ok, err := s.fs.Exists(abs)
	if err != nil {
		return false, wrapErr(err, op, canonical)
	}

	return ok, nil
}

// DocInfo describes a document on disk.
type DocInfo struct {
	// Path is the canonical document path relative to the data root.
	Path string

	// Size is the file size in bytes.
	Size int64

	// ModTime is the file's last modification time.
	ModTime time.Time

	// Valid reports whether the content currently parses as a document.
	Valid bool
}

// Stat returns size, modification time, and validity for the document at
// relPath. Returns [ErrNotFound] if it does not exist. Stat never quarantines;
// it only inspects.
func (s *Store) Stat(relPath string) (DocInfo, error) {
	const op = "stat"

	abs, canonical, resolveErr := s.resolve(relPath)
	if resolveErr != nil {
		return DocInfo{}, wrapErr(resolveErr, op, relPath)
	}

	handle, lockErr := s.acquire(canonical)
	if lockErr != nil {
		return DocInfo{}, wrapErr(lockErr, op, canonical)
	}
	defer handle.Release()

	info, statErr := s.fs.Stat(abs)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return DocInfo{}, wrapErr(ErrNotFound, op, canonical)
		}

		return DocInfo{}, wrapErr(statErr, op, canonical)
	}

	raw, readErr := s.fs.ReadFile(abs)
	if readErr != nil {
		return DocInfo{}, wrapErr(readErr, op, canonical)
	}

	_, parseErr := parseDocument(raw)

	return DocInfo{
		Path:    canonical,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Valid:   parseErr == nil,
	}, nil
}

// --- Internal helpers. All assume the caller holds the path lock. ---

// acquire takes the per-path lock with the store's configured timeout.
func (s *Store) acquire(canonical string) (*LockHandle, error) {
	return s.locks.Acquire(canonical, s.opts.LockTimeout)
}

// loadLocked reads and parses the document at abs.
//
// Absent file: when create is true, def is written and returned with Created
// set; otherwise found=false is returned with no write.
//
// Unparsable file: the raw bytes are quarantined, def is written as the new
// content, and def is returned with Recovered set. Corruption is recoverable
// by contract; only I/O errors propagate.
func (s *Store) loadLocked(abs, canonical string, def any, create bool) (LoadResult, bool, error) {
	raw, readErr := s.fs.ReadFile(abs)
	if readErr != nil {
		if !os.IsNotExist(readErr) {
			return LoadResult{}, false, fmt.Errorf("read document: %w", readErr)
		}

		if !create {
			return LoadResult{}, false, nil
		}

		writeErr := s.writeLocked(abs, def)
		if writeErr != nil {
			return LoadResult{}, false, writeErr
		}

		return LoadResult{Value: cloneValue(def), Created: true}, true, nil
	}

	parsed, parseErr := parseDocument(raw)
	if parseErr != nil {
		s.quarantine(canonical, raw, parseErr)

		writeErr := s.writeLocked(abs, def)
		if writeErr != nil {
			return LoadResult{}, false, writeErr
		}

		return LoadResult{Value: cloneValue(def), Recovered: true}, true, nil
	}

	return LoadResult{Value: parsed}, true, nil
}

// writeLocked serializes value and writes it atomically to abs, creating
// parent directories as needed.
func (s *Store) writeLocked(abs string, value any) error {
	raw, encodeErr := encodeDocument(value)
	if encodeErr != nil {
		return encodeErr
	}

	mkdirErr := s.fs.MkdirAll(filepath.Dir(abs), dirPerms)
	if mkdirErr != nil {
		return fmt.Errorf("create parent dir: %w", mkdirErr)
	}

	return s.writer.Write(abs, bytes.NewReader(raw), fs.AtomicWriteOptions{
		SyncDir: true,
		Perm:    filePerms,
	})
}

// capList drops the oldest entries so at most maxItems remain, preserving
// relative order.
func capList(list []any, maxItems int) []any {
	if maxItems <= 0 || len(list) <= maxItems {
		return list
	}

	return list[len(list)-maxItems:]
}

// marshalAny normalizes an arbitrary Go value into the canonical JSON value
// set without enforcing the top-level document shape.
func marshalAny(v any) (any, error) {
	raw, marshalErr := json.Marshal(v)
	if marshalErr != nil {
		return nil, fmt.Errorf("value is not JSON-serializable: %w", marshalErr)
	}

	var out any

	unmarshalErr := json.Unmarshal(raw, &out)
	if unmarshalErr != nil {
		return nil, unmarshalErr
	}

	return out, nil
}
