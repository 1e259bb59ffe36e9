package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
)

// QuarantineRecord describes one quarantined document. Records are immutable
// once written and accumulate in the corruption log (capped, newest kept).
type QuarantineRecord struct {
	// ID uniquely identifies the quarantine event.
	ID string `json:"id"`

	// Path is the document path relative to the data root.
	Path string `json:"path"`

	// QuarantineCopy is the preserved bad-bytes file, relative to the
	// quarantine directory.
	QuarantineCopy string `json:"quarantine_copy"`

	// Reason is the parse/validation failure message.
	Reason string `json:"reason"`

	// Time is when the quarantine happened, UTC.
	Time time.Time `json:"time"`

	// DefaultSubstituted reports that the caller's default replaced the
	// content (always true today; kept explicit for the audit trail).
	DefaultSubstituted bool `json:"default_substituted"`
}

// quarantine preserves the unreadable bytes of the document at canonical and
// records the event in the corruption log.
//
// Quarantine never fails the calling operation: the whole point is that one
// feature's corrupted file must not take anything else down. Failures in here
// are logged and swallowed.
func (s *Store) quarantine(canonical string, raw []byte, cause error) {
	now := time.Now().UTC()

	record := QuarantineRecord{
		ID:                 uuid.NewString(),
		Path:               canonical,
		Reason:             cause.Error(),
		Time:               now,
		DefaultSubstituted: true,
	}

	copyName := fmt.Sprintf("%s-%s-%s",
		now.Format("20060102T150405"),
		record.ID[:8],
		strings.ReplaceAll(canonical, "/", "_"),
	)
	record.QuarantineCopy = copyName

	mkdirErr := s.fs.MkdirAll(s.quarantineDir(), dirPerms)
	if mkdirErr != nil {
		s.log.Error("quarantine: cannot create quarantine dir",
			"doc", canonical, "error", mkdirErr)

		return
	}

	// Preserve the bad bytes first; the forensic copy matters more than the
	// log entry.
	copyErr := atomic.WriteFile(filepath.Join(s.quarantineDir(), copyName), bytes.NewReader(raw))
	if copyErr != nil {
		s.log.Error("quarantine: cannot preserve corrupted bytes",
			"doc", canonical, "error", copyErr)
	}

	logErr := s.appendInternalLog(
		corruptionLogLockKey,
		filepath.Join(s.quarantineDir(), corruptionLogName),
		record,
		s.opts.CorruptionLogMax,
	)
	if logErr != nil {
		// The corruption log's own failure must not cascade; diagnostics only.
		s.log.Error("quarantine: cannot append corruption log",
			"doc", canonical, "error", logErr)
	}

	s.log.Warn("document quarantined",
		"doc", canonical,
		"reason", record.Reason,
		"copy", copyName,
	)
}

// CorruptionLog returns the recorded quarantine events, oldest first. An
// absent log means no corruption has ever been seen and yields an empty
// slice.
func (s *Store) CorruptionLog() ([]QuarantineRecord, error) {
	raw, readErr := s.fs.ReadFile(filepath.Join(s.quarantineDir(), corruptionLogName))
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil, nil
		}

		return nil, wrapErr(readErr, "corruption_log", "")
	}

	var records []QuarantineRecord

	unmarshalErr := json.Unmarshal(raw, &records)
	if unmarshalErr != nil {
		return nil, wrapErr(unmarshalErr, "corruption_log", "")
	}

	return records, nil
}

// appendInternalLog appends item to a capped list document in a reserved
// area (corruption log, restore history).
//
// Unlike [Store.AppendToList] it never routes through the quarantine on a
// parse failure - the corruption log quarantining itself would recurse. A
// damaged internal log is reset to empty with a diagnostic.
func (s *Store) appendInternalLog(lockKey, absPath string, item any, maxItems int) error {
	normItem, itemErr := marshalAny(item)
	if itemErr != nil {
		return itemErr
	}

	handle, lockErr := s.locks.Acquire(lockKey, s.opts.LockTimeout)
	if lockErr != nil {
		return lockErr
	}
	defer handle.Release()

	list := []any{}

	raw, readErr := s.fs.ReadFile(absPath)
	if readErr == nil {
		parsed, parseErr := parseDocument(raw)
		if parseErr == nil {
			if existing, ok := parsed.([]any); ok {
				list = existing
			}
		} else {
			s.log.Warn("internal log unreadable, resetting",
				"log", absPath, "error", parseErr)
		}
	} else if !os.IsNotExist(readErr) {
		return fmt.Errorf("read internal log: %w", readErr)
	}

	list = append(list, normItem)
	list = capList(list, maxItems)

	return s.writeLocked(absPath, list)
}
