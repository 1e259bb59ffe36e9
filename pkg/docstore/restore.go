package docstore

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/davrell/docstore/pkg/fs"
)

// RestoreResult reports the outcome of a restore.
type RestoreResult struct {
	// Snapshot is the restored snapshot's name.
	Snapshot string `json:"snapshot"`

	// SafetySnapshot is the pre-restore safety snapshot, empty if taking it
	// failed (the restore proceeds regardless).
	SafetySnapshot string `json:"safety_snapshot,omitempty"`

	// Restored lists the documents written, as canonical relative paths.
	Restored []string `json:"restored"`

	// ConsistencyFailures lists essential documents that failed the
	// post-restore check. Non-empty failures do not trigger a rollback;
	// rolling back is an explicit Restore of the safety snapshot.
	ConsistencyFailures []string `json:"consistency_failures,omitempty"`

	// Partial reports whether this was a pattern-limited restore.
	Partial bool `json:"partial"`

	// CompletedAt is when the restore finished, UTC.
	CompletedAt time.Time `json:"completed_at"`
}

// Verify checks a snapshot archive without extracting it: every entry must
// decompress cleanly, and every configured essential document must be
// present. A size mismatch against the recorded metadata is only logged -
// compression ratios vary legitimately.
func (s *Store) Verify(name string) error {
	const op = "verify"

	ref, getErr := s.GetSnapshot(name)
	if getErr != nil {
		return wrapErr(getErr, op, "")
	}

	archivePath := filepath.Join(s.snapshotsDir(), ref.Name+archiveSuffix)

	info, statErr := s.fs.Stat(archivePath)
	if statErr != nil {
		return wrapErr(fmt.Errorf("%w: archive missing: %w", ErrVerifyFailed, statErr), op, "")
	}

	if info.Size() != ref.SizeBytes {
		s.log.Warn("snapshot size differs from metadata",
			"snapshot", ref.Name, "archive_bytes", info.Size(), "recorded_bytes", ref.SizeBytes)
	}

	members := make(map[string]bool)

	walkErr := s.walkArchive(archivePath, func(hdr *tar.Header, r io.Reader) error {
		// Reading every byte is the integrity check: a truncated or corrupted
		// gzip stream fails here.
		_, copyErr := io.Copy(io.Discard, r)
		if copyErr != nil {
			return copyErr
		}

		members[path.Clean(hdr.Name)] = true

		return nil
	})
	if walkErr != nil {
		return wrapErr(fmt.Errorf("%w: %w", ErrVerifyFailed, walkErr), op, "")
	}

	for _, essential := range s.opts.EssentialDocs {
		if !members[path.Clean(essential)] {
			return wrapErr(fmt.Errorf("%w: essential document %q missing", ErrVerifyFailed, essential), op, "")
		}
	}

	return nil
}

// Restore replaces the live document tree with the contents of a snapshot.
//
// Sequence: take a pre-restore safety snapshot (failure is logged but does
// not block - losing the safety net beats refusing a needed restore), stage
// the extraction into a scratch directory, then copy each staged file over
// its live counterpart atomically. A post-restore consistency pass re-reads
// the essential documents; failures are surfaced in the result, never
// auto-rolled-back.
//
// A restore interrupted mid-copy leaves a mixed tree; the recovery path is an
// explicit Restore of the safety snapshot.
func (s *Store) Restore(name string) (*RestoreResult, error) {
	const op = "restore"

	ref, getErr := s.GetSnapshot(name)
	if getErr != nil {
		return nil, wrapErr(getErr, op, "")
	}

	result := &RestoreResult{Snapshot: ref.Name}

	safety, safetyErr := s.CreateSnapshot(ClassPreRestore, "before restore of "+ref.Name)
	if safetyErr != nil {
		s.log.Error("pre-restore safety snapshot failed, proceeding without safety net",
			"snapshot", ref.Name, "error", safetyErr)
	} else {
		result.SafetySnapshot = safety.Name
	}

	staged, scratch, stageErr := s.stageExtraction(ref)
	if scratch != "" {
		defer func() { _ = s.fs.RemoveAll(scratch) }()
	}

	if stageErr != nil {
		// Extraction failed before any live file was touched.
		return nil, wrapErr(stageErr, op, "")
	}

	for _, member := range staged {
		copyErr := s.restoreFile(scratch, member)
		if copyErr != nil {
			s.recordRestore(result)

			return result, wrapErr(fmt.Errorf("copy phase: %q: %w", member, copyErr), op, "")
		}

		result.Restored = append(result.Restored, member)
	}

	result.ConsistencyFailures = s.consistencyCheck()
	result.CompletedAt = time.Now().UTC()

	s.recordRestore(result)

	s.log.Info("restore complete",
		"snapshot", ref.Name,
		"restored", len(result.Restored),
		"consistency_failures", len(result.ConsistencyFailures),
	)

	return result, nil
}

// PartialRestore restores only documents matching the given patterns
// (path.Match syntax against canonical relative paths; a pattern also matches
// everything under a directory it names). Each live file is renamed to a
// sibling ".backup" before being overwritten, so a partial restore is
// undoable file-by-file.
func (s *Store) PartialRestore(name string, patterns []string) (*RestoreResult, error) {
	const op = "partial_restore"

	if len(patterns) == 0 {
		return nil, wrapErr(errors.New("no patterns given"), op, "")
	}

	ref, getErr := s.GetSnapshot(name)
	if getErr != nil {
		return nil, wrapErr(getErr, op, "")
	}

	result := &RestoreResult{Snapshot: ref.Name, Partial: true}

	staged, scratch, stageErr := s.stageExtraction(ref)
	if scratch != "" {
		defer func() { _ = s.fs.RemoveAll(scratch) }()
	}

	if stageErr != nil {
		return nil, wrapErr(stageErr, op, "")
	}

	for _, member := range staged {
		if !matchesAny(member, patterns) {
			continue
		}

		backupErr := s.backupLiveFile(member)
		if backupErr != nil {
			s.recordRestore(result)

			return result, wrapErr(fmt.Errorf("backup %q: %w", member, backupErr), op, "")
		}

		copyErr := s.restoreFile(scratch, member)
		if copyErr != nil {
			s.recordRestore(result)

			return result, wrapErr(fmt.Errorf("copy phase: %q: %w", member, copyErr), op, "")
		}

		result.Restored = append(result.Restored, member)
	}

	result.CompletedAt = time.Now().UTC()

	s.recordRestore(result)

	s.log.Info("partial restore complete",
		"snapshot", ref.Name,
		"patterns", strings.Join(patterns, ","),
		"restored", len(result.Restored),
	)

	return result, nil
}

// RestoreHistory returns the audit log of past restores, oldest first.
func (s *Store) RestoreHistory() ([]RestoreResult, error) {
	raw, readErr := s.fs.ReadFile(filepath.Join(s.snapshotsDir(), restoreHistoryName))
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil, nil
		}

		return nil, wrapErr(readErr, "restore_history", "")
	}

	var records []RestoreResult

	unmarshalErr := json.Unmarshal(raw, &records)
	if unmarshalErr != nil {
		return nil, wrapErr(unmarshalErr, "restore_history", "")
	}

	return records, nil
}

// --- Internals ---

// stageExtraction extracts a snapshot archive into a fresh scratch directory
// inside the snapshot area. Returns the staged member list and the scratch
// path (which the caller removes).
func (s *Store) stageExtraction(ref *SnapshotRef) ([]string, string, error) {
	scratch := filepath.Join(s.snapshotsDir(), ".restore-"+uuid.NewString()[:8])

	mkdirErr := s.fs.MkdirAll(scratch, dirPerms)
	if mkdirErr != nil {
		return nil, "", fmt.Errorf("create scratch dir: %w", mkdirErr)
	}

	archivePath := filepath.Join(s.snapshotsDir(), ref.Name+archiveSuffix)

	var staged []string

	walkErr := s.walkArchive(archivePath, func(hdr *tar.Header, r io.Reader) error {
		member := path.Clean(hdr.Name)
		if member == "." || path.IsAbs(member) || strings.HasPrefix(member, "../") {
			return fmt.Errorf("unsafe archive entry %q", hdr.Name)
		}

		dest := filepath.Join(scratch, filepath.FromSlash(member))

		switch hdr.Typeflag {
		case tar.TypeDir:
			return s.fs.MkdirAll(dest, dirPerms)
		case tar.TypeReg:
			parentErr := s.fs.MkdirAll(filepath.Dir(dest), dirPerms)
			if parentErr != nil {
				return parentErr
			}

			out, createErr := s.fs.Create(dest)
			if createErr != nil {
				return createErr
			}

			_, copyErr := io.Copy(out, r)
			closeErr := out.Close()

			if err := errors.Join(copyErr, closeErr); err != nil {
				return fmt.Errorf("extract %q: %w", member, err)
			}

			staged = append(staged, member)

			return nil
		default:
			// Snapshots only ever contain regular files; ignore anything else.
			return nil
		}
	})
	if walkErr != nil {
		return nil, scratch, fmt.Errorf("extract archive: %w", walkErr)
	}

	return staged, scratch, nil
}

// restoreFile copies one staged member over its live counterpart, holding the
// member's document lock so the swap serializes with engine operations.
func (s *Store) restoreFile(scratch, member string) error {
	raw, readErr := s.fs.ReadFile(filepath.Join(scratch, filepath.FromSlash(member)))
	if readErr != nil {
		return fmt.Errorf("read staged file: %w", readErr)
	}

	handle, lockErr := s.locks.Acquire(member, s.opts.LockTimeout)
	if lockErr != nil {
		return lockErr
	}
	defer handle.Release()

	abs := filepath.Join(s.root, filepath.FromSlash(member))

	mkdirErr := s.fs.MkdirAll(filepath.Dir(abs), dirPerms)
	if mkdirErr != nil {
		return fmt.Errorf("create parent dir: %w", mkdirErr)
	}

	return s.writer.Write(abs, bytes.NewReader(raw), fs.AtomicWriteOptions{
		SyncDir: true,
		Perm:    filePerms,
	})
}

// backupLiveFile renames the live counterpart of member to "<name>.backup",
// replacing any previous backup. A missing live file needs no backup.
func (s *Store) backupLiveFile(member string) error {
	abs := filepath.Join(s.root, filepath.FromSlash(member))

	exists, existsErr := s.fs.Exists(abs)
	if existsErr != nil {
		return existsErr
	}

	if !exists {
		return nil
	}

	backup := abs + ".backup"

	removeErr := ignoreNotExist(s.fs.Remove(backup))
	if removeErr != nil {
		return removeErr
	}

	return s.fs.Rename(abs, backup)
}

// consistencyCheck re-reads every essential document and reports the paths
// that are missing or unparsable. Read-only: no quarantine, no healing.
func (s *Store) consistencyCheck() []string {
	var failures []string

	for _, essential := range s.opts.EssentialDocs {
		abs := filepath.Join(s.root, filepath.FromSlash(essential))

		raw, readErr := s.fs.ReadFile(abs)
		if readErr != nil {
			failures = append(failures, essential)

			continue
		}

		_, parseErr := parseDocument(raw)
		if parseErr != nil {
			failures = append(failures, essential)
		}
	}

	return failures
}

// recordRestore appends the result to the restore-history audit log.
// Best-effort: a history write failure must not fail the restore itself.
func (s *Store) recordRestore(result *RestoreResult) {
	historyErr := s.appendInternalLog(
		restoreHistoryLockKey,
		filepath.Join(s.snapshotsDir(), restoreHistoryName),
		result,
		s.opts.RestoreHistoryMax,
	)
	if historyErr != nil {
		s.log.Error("cannot append restore history", "snapshot", result.Snapshot, "error", historyErr)
	}
}

// walkArchive opens a tar.gz archive and invokes fn for every entry.
func (s *Store) walkArchive(archivePath string, fn func(hdr *tar.Header, r io.Reader) error) error {
	file, openErr := s.fs.Open(archivePath)
	if openErr != nil {
		return fmt.Errorf("open archive: %w", openErr)
	}
	defer func() { _ = file.Close() }()

	gz, gzErr := gzip.NewReader(file)
	if gzErr != nil {
		return fmt.Errorf("gzip reader: %w", gzErr)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)

	for {
		hdr, nextErr := tr.Next()
		if errors.Is(nextErr, io.EOF) {
			return nil
		}

		if nextErr != nil {
			return fmt.Errorf("archive entry: %w", nextErr)
		}

		fnErr := fn(hdr, tr)
		if fnErr != nil {
			return fnErr
		}
	}
}

// matchesAny reports whether member matches any pattern, either directly via
// path.Match or as a file under a directory the pattern names.
func matchesAny(member string, patterns []string) bool {
	for _, pattern := range patterns {
		cleaned := path.Clean(pattern)

		ok, matchErr := path.Match(cleaned, member)
		if matchErr == nil && ok {
			return true
		}

		if member == cleaned || strings.HasPrefix(member, cleaned+"/") {
			return true
		}
	}

	return false
}

func ignoreNotExist(err error) error {
	if err == nil || os.IsNotExist(err) {
		return nil
	}

	return err
}
