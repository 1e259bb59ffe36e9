package docstore

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/natefinch/atomic"
)

// Snapshot classifications. Daily/weekly/monthly snapshots rotate by count;
// manual and pre-restore snapshots age out (see [RetentionPolicy]).
const (
	ClassManual     = "manual"
	ClassDaily      = "daily"
	ClassWeekly     = "weekly"
	ClassMonthly    = "monthly"
	ClassPreRestore = "pre_restore"
)

const (
	archiveSuffix  = ".tar.gz"
	metadataSuffix = ".json"
)

// SnapshotRef is the metadata record of one snapshot. It is stored as a JSON
// sidecar next to the archive, not inside it, so listings never need to open
// archives.
type SnapshotRef struct {
	// Name is the unique snapshot name, also the archive's base name.
	Name string `json:"name"`

	// Classification is one of the Class* constants (free-form values are
	// allowed and rotate under the ad-hoc rule).
	Classification string `json:"classification"`

	// Description is free-form operator text.
	Description string `json:"description"`

	// CreatedAt is the creation time, UTC.
	CreatedAt time.Time `json:"created_at"`

	// SizeBytes is the archive size on disk.
	SizeBytes int64 `json:"size_bytes"`

	// Members lists every document captured, as canonical relative paths.
	Members []string `json:"members"`
}

// CreateSnapshot captures every managed document into a compressed archive
// under the snapshot area and writes its metadata sidecar. The snapshot
// storage area itself is excluded from the walk, so snapshots never contain
// snapshots.
//
// A snapshot is NOT a point-in-time-consistent view across documents: each
// file is read independently, without holding every document's lock, so
// in-flight writes can land between member reads. Locking the whole store for
// the duration of a backup would stall the application; this trade-off is
// deliberate. Any single member is still never a torn read, because writers
// only ever rename complete files into place.
//
// After a successful snapshot, [Store.Rotate] runs; rotation failures are
// logged, not returned.
func (s *Store) CreateSnapshot(classification, description string) (*SnapshotRef, error) {
	const op = "create_snapshot"

	if classification == "" {
		classification = ClassManual
	}

	now := time.Now().UTC()
	name := fmt.Sprintf("%s-%s-%s", classification, now.Format("20060102-150405"), uuid.NewString()[:8])

	members, walkErr := s.listDocuments()
	if walkErr != nil {
		return nil, wrapErr(walkErr, op, "")
	}

	mkdirErr := s.fs.MkdirAll(s.snapshotsDir(), dirPerms)
	if mkdirErr != nil {
		return nil, wrapErr(mkdirErr, op, "")
	}

	archivePath := filepath.Join(s.snapshotsDir(), name+archiveSuffix)

	archiveErr := s.writeArchive(archivePath, members)
	if archiveErr != nil {
		// Never leave a half-written archive behind.
		_ = s.fs.Remove(archivePath)

		return nil, wrapErr(archiveErr, op, "")
	}

	info, statErr := s.fs.Stat(archivePath)
	if statErr != nil {
		_ = s.fs.Remove(archivePath)

		return nil, wrapErr(statErr, op, "")
	}

	ref := &SnapshotRef{
		Name:           name,
		Classification: classification,
		Description:    description,
		CreatedAt:      now,
		SizeBytes:      info.Size(),
		Members:        members,
	}

	metaRaw, marshalErr := json.MarshalIndent(ref, "", "  ")
	if marshalErr != nil {
		_ = s.fs.Remove(archivePath)

		return nil, wrapErr(marshalErr, op, "")
	}

	metaErr := atomic.WriteFile(filepath.Join(s.snapshotsDir(), name+metadataSuffix), bytes.NewReader(metaRaw))
	if metaErr != nil {
		_ = s.fs.Remove(archivePath)

		return nil, wrapErr(metaErr, op, "")
	}

	s.log.Info("snapshot created",
		"snapshot", name,
		"classification", classification,
		"members", len(members),
		"bytes", ref.SizeBytes,
	)

	rotateErr := s.Rotate()
	if rotateErr != nil {
		s.log.Warn("snapshot rotation failed", "error", rotateErr)
	}

	return ref, nil
}

// ListSnapshots returns all snapshot metadata records, newest first.
// Sidecars that fail to parse are skipped with a diagnostic.
func (s *Store) ListSnapshots() ([]SnapshotRef, error) {
	const op = "list_snapshots"

	entries, readErr := s.fs.ReadDir(s.snapshotsDir())
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil, nil
		}

		return nil, wrapErr(readErr, op, "")
	}

	var refs []SnapshotRef

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, metadataSuffix) {
			continue
		}

		if name == restoreHistoryName || strings.HasPrefix(name, ".") {
			continue
		}

		raw, err := s.fs.ReadFile(filepath.Join(s.snapshotsDir(), name))
		if err != nil {
			s.log.Warn("unreadable snapshot metadata", "file", name, "error", err)

			continue
		}

		var ref SnapshotRef

		unmarshalErr := json.Unmarshal(raw, &ref)
		if unmarshalErr != nil || ref.Name == "" {
			s.log.Warn("invalid snapshot metadata", "file", name, "error", unmarshalErr)

			continue
		}

		refs = append(refs, ref)
	}

	sort.Slice(refs, func(i, j int) bool {
		return refs[i].CreatedAt.After(refs[j].CreatedAt)
	})

	return refs, nil
}

// GetSnapshot returns the metadata record for a snapshot by name.
// Returns [ErrSnapshotNotFound] if no such record exists.
func (s *Store) GetSnapshot(name string) (*SnapshotRef, error) {
	const op = "get_snapshot"

	raw, readErr := s.fs.ReadFile(filepath.Join(s.snapshotsDir(), name+metadataSuffix))
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil, wrapErr(fmt.Errorf("%w: %s", ErrSnapshotNotFound, name), op, "")
		}

		return nil, wrapErr(readErr, op, "")
	}

	var ref SnapshotRef

	unmarshalErr := json.Unmarshal(raw, &ref)
	if unmarshalErr != nil {
		return nil, wrapErr(unmarshalErr, op, "")
	}

	return &ref, nil
}

// listDocuments walks the data root and returns every document path in
// canonical (slash-separated, root-relative) form, sorted. Dotted entries -
// the snapshot area, the quarantine area, in-flight temp files - are skipped.
func (s *Store) listDocuments() ([]string, error) {
	var members []string

	var walk func(dir, rel string) error

	walk = func(dir, rel string) error {
		entries, readErr := s.fs.ReadDir(dir)
		if readErr != nil {
			return fmt.Errorf("read dir %q: %w", dir, readErr)
		}

		for _, entry := range entries {
			name := entry.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}

			childRel := name
			if rel != "" {
				childRel = rel + "/" + name
			}

			if entry.IsDir() {
				walkChildErr := walk(filepath.Join(dir, name), childRel)
				if walkChildErr != nil {
					return walkChildErr
				}

				continue
			}

			if !entry.Type().IsRegular() {
				continue
			}

			members = append(members, childRel)
		}

		return nil
	}

	walkErr := walk(s.root, "")
	if walkErr != nil {
		return nil, walkErr
	}

	sort.Strings(members)

	return members, nil
}

// writeArchive streams the given documents into a tar.gz archive at
// archivePath. Members that disappear between the walk and the read are
// skipped with a diagnostic rather than failing the whole snapshot.
func (s *Store) writeArchive(archivePath string, members []string) error {
	file, createErr := s.fs.Create(archivePath)
	if createErr != nil {
		return fmt.Errorf("create archive: %w", createErr)
	}

	gz := gzip.NewWriter(file)
	tw := tar.NewWriter(gz)

	addAll := func() error {
		for _, member := range members {
			abs := filepath.Join(s.root, filepath.FromSlash(member))

			raw, readErr := s.fs.ReadFile(abs)
			if readErr != nil {
				if os.IsNotExist(readErr) {
					s.log.Warn("document vanished during snapshot", "doc", member)

					continue
				}

				return fmt.Errorf("read member %q: %w", member, readErr)
			}

			info, statErr := s.fs.Stat(abs)

			modTime := time.Now().UTC()
			if statErr == nil {
				modTime = info.ModTime()
			}

			hdr := &tar.Header{
				Name:     member,
				Typeflag: tar.TypeReg,
				Mode:     int64(filePerms),
				Size:     int64(len(raw)),
				ModTime:  modTime,
			}

			headerErr := tw.WriteHeader(hdr)
			if headerErr != nil {
				return fmt.Errorf("write header %q: %w", member, headerErr)
			}

			_, writeErr := tw.Write(raw)
			if writeErr != nil {
				return fmt.Errorf("write member %q: %w", member, writeErr)
			}
		}

		return nil
	}

	addErr := addAll()

	twErr := tw.Close()
	gzErr := gz.Close()

	var syncErr error
	if addErr == nil && twErr == nil && gzErr == nil {
		syncErr = file.Sync()
	}

	closeErr := file.Close()

	return errors.Join(addErr, twErr, gzErr, syncErr, closeErr)
}
