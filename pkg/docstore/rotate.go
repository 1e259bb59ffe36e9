package docstore

import (
	"errors"
	"path/filepath"
	"time"
)

// RetentionPolicy governs how many snapshots of each class survive rotation.
type RetentionPolicy struct {
	// Daily is how many daily snapshots to keep. Default: 7.
	Daily int

	// Weekly is how many weekly snapshots to keep. Default: 4.
	Weekly int

	// Monthly is how many monthly snapshots to keep. Default: 6.
	Monthly int

	// AdHocMaxAge prunes manual, pre-restore, and unknown-class snapshots
	// older than this. Default: 30 days.
	AdHocMaxAge time.Duration
}

// DefaultRetention returns the default rotation policy: 7 daily, 4 weekly,
// 6 monthly, ad-hoc snapshots pruned after 30 days.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{
		Daily:       7,
		Weekly:      4,
		Monthly:     6,
		AdHocMaxAge: 30 * 24 * time.Hour,
	}
}

func (p RetentionPolicy) withDefaults() RetentionPolicy {
	defaults := DefaultRetention()

	if p.Daily <= 0 {
		p.Daily = defaults.Daily
	}

	if p.Weekly <= 0 {
		p.Weekly = defaults.Weekly
	}

	if p.Monthly <= 0 {
		p.Monthly = defaults.Monthly
	}

	if p.AdHocMaxAge <= 0 {
		p.AdHocMaxAge = defaults.AdHocMaxAge
	}

	return p
}

// keepCount returns the per-class retention count, or 0 for classes that age
// out instead of counting.
func (p RetentionPolicy) keepCount(classification string) int {
	switch classification {
	case ClassDaily:
		return p.Daily
	case ClassWeekly:
		return p.Weekly
	case ClassMonthly:
		return p.Monthly
	default:
		return 0
	}
}

// Rotate applies the retention policy to existing snapshots: each counted
// class keeps its newest N, everything else ages out past AdHocMaxAge. Both
// the archive and its metadata sidecar are deleted.
//
// Rotate is idempotent - running it again with no new snapshots is a no-op.
// It runs automatically after every successful [Store.CreateSnapshot].
func (s *Store) Rotate() error {
	const op = "rotate"

	refs, listErr := s.ListSnapshots()
	if listErr != nil {
		return wrapErr(listErr, op, "")
	}

	// ListSnapshots returns newest first, so per-class order is newest first
	// too and everything past the keep count is oldest.
	seen := make(map[string]int)
	cutoff := time.Now().UTC().Add(-s.opts.Retention.AdHocMaxAge)

	var errs []error

	for _, ref := range refs {
		keep := s.opts.Retention.keepCount(ref.Classification)

		var expired bool
		if keep > 0 {
			seen[ref.Classification]++
			expired = seen[ref.Classification] > keep
		} else {
			expired = ref.CreatedAt.Before(cutoff)
		}

		if !expired {
			continue
		}

		deleteErr := s.deleteSnapshot(ref)
		if deleteErr != nil {
			errs = append(errs, deleteErr)

			continue
		}

		s.log.Info("snapshot rotated out",
			"snapshot", ref.Name,
			"classification", ref.Classification,
			"created_at", ref.CreatedAt,
		)
	}

	if len(errs) > 0 {
		return wrapErr(errors.Join(errs...), op, "")
	}

	return nil
}

// DeleteSnapshot removes a snapshot's archive and metadata by name.
func (s *Store) DeleteSnapshot(name string) error {
	const op = "delete_snapshot"

	ref, getErr := s.GetSnapshot(name)
	if getErr != nil {
		return wrapErr(getErr, op, "")
	}

	deleteErr := s.deleteSnapshot(*ref)
	if deleteErr != nil {
		return wrapErr(deleteErr, op, "")
	}

	return nil
}

func (s *Store) deleteSnapshot(ref SnapshotRef) error {
	archiveErr := s.fs.Remove(filepath.Join(s.snapshotsDir(), ref.Name+archiveSuffix))
	metaErr := s.fs.Remove(filepath.Join(s.snapshotsDir(), ref.Name+metadataSuffix))

	return errors.Join(ignoreNotExist(archiveErr), ignoreNotExist(metaErr))
}
