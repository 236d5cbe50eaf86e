/*
Package snapshot persists immutable per-district performance snapshots.

PURPOSE:
  One snapshot per as-of-date, laid out on disk as a directory of JSON files.
  "Latest" is always derived by scanning directory names (lexicographic ISO
  date order); there is deliberately no "current" pointer file to go stale.

KEY CONCEPTS IN THIS FILE (types.go):
  - Snapshot: The in-memory envelope (metadata + per-district records)
  - Metadata: Sidecar summary written alongside the payload
  - Manifest: Per-district file index with individual statuses
  - RankingsData: Optional all-districts ranking artifact

DESIGN PRINCIPLES:
  1. Immutability: a successful snapshot's payload bytes never change
  2. Self-healing: latest derived by scan, not by pointer files
  3. Versioned reads: schema/calculation/rankings versions travel with
     the metadata and are checked before consumption

SEE ALSO:
  - store.go: Persistence and the latest-successful cache
  - district/types.go: The payload record types
*/
package snapshot

import (
	"fmt"
	"time"

	"github.com/warp/district-engine/district"
)

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// =============================================================================
// SNAPSHOT - In-memory envelope
// =============================================================================

// Snapshot holds one as-of-date's district records plus the bookkeeping that
// ends up in the metadata sidecar. The storage key is derived from
// DataAsOfDate, never from the wall-clock write time.
type Snapshot struct {
	DataAsOfDate       time.Time
	CreatedAt          time.Time
	SchemaVersion      string
	CalculationVersion string
	Status             Status
	Errors             []string
	Districts          map[district.DistrictID]*district.PerformanceRecord

	// Failed maps districts whose collection failed to the failure message.
	// They appear in the manifest with a failed status and no payload file.
	Failed map[district.DistrictID]string
}

// ID returns the storage key for this snapshot: the UTC date component of
// DataAsOfDate in YYYY-MM-DD form.
func (s *Snapshot) ID() string {
	return district.DateKey(s.DataAsOfDate)
}

// =============================================================================
// METADATA - Sidecar summary (metadata.json)
// =============================================================================

type Metadata struct {
	SnapshotID         string    `json:"snapshotId"`
	CreatedAt          time.Time `json:"createdAt"`
	Status             Status    `json:"status"`
	SchemaVersion      string    `json:"schemaVersion"`
	CalculationVersion string    `json:"calculationVersion"`
	RankingsVersion    string    `json:"rankingsVersion,omitempty"`
	DistrictCount      int       `json:"districtCount"`
	ErrorCount         int       `json:"errorCount"`
	TotalSizeBytes     int64     `json:"totalSizeBytes"`
	Errors             []string  `json:"errors,omitempty"`
}

// =============================================================================
// MANIFEST - Per-district file index (manifest.json)
// =============================================================================

type Manifest struct {
	SnapshotID          string          `json:"snapshotId"`
	TotalDistricts      int             `json:"totalDistricts"`
	SuccessfulDistricts int             `json:"successfulDistricts"`
	FailedDistricts     int             `json:"failedDistricts"`
	Files               []ManifestEntry `json:"files"`
}

type ManifestEntry struct {
	DistrictID   district.DistrictID `json:"districtId"`
	FileName     string              `json:"fileName"`
	Status       Status              `json:"status"`
	FileSize     int64               `json:"fileSize"`
	LastModified time.Time           `json:"lastModified"`
}

// Validate checks the manifest count invariant.
func (m *Manifest) Validate() error {
	if m.TotalDistricts != m.SuccessfulDistricts+m.FailedDistricts {
		return fmt.Errorf("manifest counts inconsistent: total %d != successful %d + failed %d",
			m.TotalDistricts, m.SuccessfulDistricts, m.FailedDistricts)
	}
	return nil
}

// =============================================================================
// RANKINGS - Optional all-districts artifact (all-districts-rankings.json)
// =============================================================================

type RankingsData struct {
	Metadata RankingsMetadata  `json:"metadata"`
	Rankings []district.Ranking `json:"rankings"`
}

type RankingsMetadata struct {
	SnapshotID      string    `json:"snapshotId"`
	RankingsVersion string    `json:"rankingsVersion"`
	TotalDistricts  int       `json:"totalDistricts"`
	GeneratedAt     time.Time `json:"generatedAt"`
}

// Validate checks the rankings count invariant.
func (r *RankingsData) Validate() error {
	if r.Metadata.TotalDistricts != len(r.Rankings) {
		return fmt.Errorf("rankings count mismatch: metadata says %d, payload has %d",
			r.Metadata.TotalDistricts, len(r.Rankings))
	}
	return nil
}

// =============================================================================
// VERSION COMPATIBILITY
// =============================================================================

// Compatibility reports whether a stored snapshot can be consumed by the
// current build. Warnings are human-readable; flags are for branching.
type Compatibility struct {
	SchemaCompatible      bool     `json:"schemaCompatible"`
	CalculationCompatible bool     `json:"calculationCompatible"`
	RankingsCompatible    bool     `json:"rankingsCompatible"`
	Warnings              []string `json:"warnings,omitempty"`
}

// =============================================================================
// LISTING
// =============================================================================

// ListFilter narrows ListSnapshots results. Zero values mean "no bound".
type ListFilter struct {
	From   string // inclusive YYYY-MM-DD lower bound
	To     string // inclusive YYYY-MM-DD upper bound
	Status Status // empty = any status
}

// StorageStats summarizes the snapshot root for health reporting.
type StorageStats struct {
	SnapshotCount  int    `json:"snapshotCount"`
	TotalSizeBytes int64  `json:"totalSizeBytes"`
	OldestID       string `json:"oldestId,omitempty"`
	NewestID       string `json:"newestId,omitempty"`
}
