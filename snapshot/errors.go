/*
errors.go - Sentinel errors for the snapshot store

PURPOSE:
  Write-path errors callers are expected to branch on. Read-path "does this
  exist" queries never return these; missing data surfaces as nil results.

SEE ALSO:
  - store.go: Where these are returned
*/
package snapshot

import "errors"

var (
	// ErrSnapshotExists is returned when writing a snapshot ID that already
	// holds a successful snapshot. Use RewriteSnapshot for versioned overwrites.
	ErrSnapshotExists = errors.New("snapshot already exists")

	// ErrRankingsExist is returned when writing rankings to a snapshot that
	// already has them. Rankings are read-only once written.
	ErrRankingsExist = errors.New("rankings already written for snapshot")

	// ErrSnapshotNotFound is returned by write-side operations that require an
	// existing snapshot (e.g. attaching rankings to an unknown ID).
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrInvalidSnapshot is returned when a snapshot fails validation before
	// any I/O happens (missing as-of date, bad status, count mismatch).
	ErrInvalidSnapshot = errors.New("invalid snapshot")

	// ErrSnapshotImmutable is returned when attempting to delete or mutate a
	// successful snapshot.
	ErrSnapshotImmutable = errors.New("successful snapshots are immutable")
)
