/*
store.go - Filesystem-backed snapshot persistence

PURPOSE:
  Writes one immutable snapshot directory per as-of-date and answers read
  queries against the snapshot root. The write path is atomic: all files are
  staged in a temp directory and the directory rename is the commit point, so
  concurrent readers observe either the pre-write or the fully-post-write
  state, never a partially written snapshot.

ON-DISK LAYOUT:
  snapshots/
    2024-02-29/
      metadata.json                 Sidecar summary
      manifest.json                 Per-district file index
      42.json, 15.json, ...         Per-district payload records
      all-districts-rankings.json   Optional ranking artifact

FAILURE SEMANTICS:
  Read-side "does this exist" queries swallow filesystem errors and return
  nil/empty results. Write failures return errors; the caller must react.

LATEST CACHE:
  GetLatestSuccessful caches its result. The cache is invalidated
  synchronously inside the same call that performs a successful write, before
  that call returns, so there is no stale window across the write's own
  completion. The cache mutex also serializes scans: concurrent callers of
  GetLatestSuccessful trigger at most one directory scan and all observe the
  same result.

SEE ALSO:
  - types.go: Snapshot, Metadata, Manifest, RankingsData
  - backfill/engine.go: Primary writer during reconciliation
*/
package snapshot

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/warp/district-engine/district"
	"github.com/warp/district-engine/metrics"
)

const (
	metadataFile = "metadata.json"
	manifestFile = "manifest.json"
	rankingsFile = "all-districts-rankings.json"
)

// Snapshot directories are named by ISO date; anything else in the root
// (temp staging dirs, stray files) is ignored by scans.
var dateDirPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Store persists snapshots under a single root directory.
// Writes are serialized (at-most-one-writer); reads are lock-free against the
// filesystem except for the latest-successful cache.
type Store struct {
	root string

	writeMu sync.Mutex

	cacheMu      sync.Mutex
	cachedLatest *Snapshot
	cacheValid   bool
}

// NewStore creates a store rooted at dir. The directory is created lazily on
// first write; a missing root is a valid empty store for reads.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the snapshot root directory.
func (s *Store) Root() string { return s.root }

// =============================================================================
// WRITE PATH
// =============================================================================

// WriteSnapshot persists a snapshot, deriving the storage key from the
// snapshot's as-of date. Returns ErrSnapshotExists if a successful snapshot
// already occupies that key; a previously failed snapshot is replaced.
func (s *Store) WriteSnapshot(snap *Snapshot, rankings *RankingsData) error {
	return s.write(snap, rankings, false)
}

// RewriteSnapshot is the explicitly-versioned overwrite path: it replaces an
// existing successful snapshot only when the incoming calculation version
// differs from the stored one. Used by backfills re-deriving history after a
// calculation change.
func (s *Store) RewriteSnapshot(snap *Snapshot, rankings *RankingsData) error {
	return s.write(snap, rankings, true)
}

func (s *Store) write(snap *Snapshot, rankings *RankingsData, versioned bool) error {
	if err := validateSnapshot(snap); err != nil {
		return err
	}
	if rankings != nil {
		if err := rankings.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
	}

	id := snap.ID()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if existing := s.readMetadata(id); existing != nil && existing.Status == StatusSuccess {
		if !versioned {
			return fmt.Errorf("%w: %s", ErrSnapshotExists, id)
		}
		if existing.CalculationVersion == snap.CalculationVersion {
			return fmt.Errorf("%w: %s already at calculation version %s",
				ErrSnapshotExists, id, snap.CalculationVersion)
		}
	}

	if err := s.stageAndCommit(id, snap, rankings); err != nil {
		metrics.SnapshotWriteFailuresTotal.Inc()
		return err
	}

	// Invalidate the latest cache before returning so no caller observes a
	// stale "latest" after this write completes.
	s.cacheMu.Lock()
	s.cachedLatest = nil
	s.cacheValid = false
	s.cacheMu.Unlock()

	metrics.SnapshotWritesTotal.Inc()
	return nil
}

// stageAndCommit writes every constituent file into a temp directory and
// renames it into place. The rename is the commit point.
func (s *Store) stageAndCommit(id string, snap *Snapshot, rankings *RankingsData) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot root: %w", err)
	}

	stage, err := os.MkdirTemp(s.root, ".stage-"+id+"-")
	if err != nil {
		return fmt.Errorf("failed to create staging dir: %w", err)
	}
	defer os.RemoveAll(stage)

	now := time.Now().UTC()
	manifest := Manifest{SnapshotID: id}
	var totalSize int64

	ids := make([]district.DistrictID, 0, len(snap.Districts))
	for did := range snap.Districts {
		ids = append(ids, did)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, did := range ids {
		name := string(did) + ".json"
		size, err := writeJSON(filepath.Join(stage, name), snap.Districts[did])
		if err != nil {
			return fmt.Errorf("failed to write district %s: %w", did, err)
		}
		totalSize += size
		manifest.Files = append(manifest.Files, ManifestEntry{
			DistrictID:   did,
			FileName:     name,
			Status:       StatusSuccess,
			FileSize:     size,
			LastModified: now,
		})
		manifest.SuccessfulDistricts++
	}

	failedIDs := make([]district.DistrictID, 0, len(snap.Failed))
	for did := range snap.Failed {
		failedIDs = append(failedIDs, did)
	}
	sort.Slice(failedIDs, func(i, j int) bool { return failedIDs[i] < failedIDs[j] })
	for _, did := range failedIDs {
		manifest.Files = append(manifest.Files, ManifestEntry{
			DistrictID: did,
			Status:     StatusFailed,
		})
		manifest.FailedDistricts++
	}
	manifest.TotalDistricts = manifest.SuccessfulDistricts + manifest.FailedDistricts

	if err := manifest.Validate(); err != nil {
		return err
	}
	if _, err := writeJSON(filepath.Join(stage, manifestFile), &manifest); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	meta := Metadata{
		SnapshotID:         id,
		CreatedAt:          snap.CreatedAt,
		Status:             snap.Status,
		SchemaVersion:      snap.SchemaVersion,
		CalculationVersion: snap.CalculationVersion,
		DistrictCount:      manifest.TotalDistricts,
		ErrorCount:         len(snap.Errors) + len(snap.Failed),
		TotalSizeBytes:     totalSize,
		Errors:             snap.Errors,
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}

	if rankings != nil {
		rankings.Metadata.SnapshotID = id
		if rankings.Metadata.GeneratedAt.IsZero() {
			rankings.Metadata.GeneratedAt = now
		}
		if _, err := writeJSON(filepath.Join(stage, rankingsFile), rankings); err != nil {
			return fmt.Errorf("failed to write rankings: %w", err)
		}
		meta.RankingsVersion = rankings.Metadata.RankingsVersion
	}

	// Metadata last: a readable metadata.json implies every other file landed.
	if _, err := writeJSON(filepath.Join(stage, metadataFile), &meta); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	final := filepath.Join(s.root, id)
	if _, err := os.Stat(final); err == nil {
		// Replacing a failed or version-superseded snapshot.
		if err := os.RemoveAll(final); err != nil {
			return fmt.Errorf("failed to remove superseded snapshot %s: %w", id, err)
		}
	}
	if err := os.Rename(stage, final); err != nil {
		return fmt.Errorf("failed to commit snapshot %s: %w", id, err)
	}
	return nil
}

func validateSnapshot(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", ErrInvalidSnapshot)
	}
	if snap.DataAsOfDate.IsZero() {
		return fmt.Errorf("%w: missing data as-of date", ErrInvalidSnapshot)
	}
	if snap.Status != StatusSuccess && snap.Status != StatusFailed {
		return fmt.Errorf("%w: status %q", ErrInvalidSnapshot, snap.Status)
	}
	if snap.Status == StatusSuccess && len(snap.Districts) == 0 {
		return fmt.Errorf("%w: successful snapshot has no district records", ErrInvalidSnapshot)
	}
	return nil
}

// =============================================================================
// LATEST-SUCCESSFUL READ
// =============================================================================

// GetLatestSuccessful returns the most recent snapshot with a successful
// status, or nil when the root is missing, empty, holds no snapshot
// directories, or holds only failed snapshots. It never returns an error for
// those conditions. Results are cached; the cache mutex ensures concurrent
// callers share one directory scan and observe identical results.
func (s *Store) GetLatestSuccessful() (*Snapshot, error) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	if s.cacheValid {
		return s.cachedLatest, nil
	}

	metrics.SnapshotLatestScansTotal.Inc()

	var latest *Snapshot
	for _, id := range s.listDateDirs() { // newest first
		meta := s.readMetadata(id)
		if meta == nil || meta.Status != StatusSuccess {
			continue
		}
		snap, err := s.loadSnapshot(id, meta)
		if err != nil {
			// A success metadata with an unloadable payload violates the
			// store invariant; skip it rather than fail the query.
			log.Printf("[SnapshotStore] Skipping unloadable snapshot %s: %v", id, err)
			continue
		}
		latest = snap
		break
	}

	s.cachedLatest = latest
	s.cacheValid = true
	return latest, nil
}

// loadSnapshot reconstructs a full snapshot from its directory, migrating
// records written under older schema versions.
func (s *Store) loadSnapshot(id string, meta *Metadata) (*Snapshot, error) {
	manifest := s.GetSnapshotManifest(id)
	if manifest == nil {
		return nil, fmt.Errorf("manifest missing for %s", id)
	}

	asOf, err := time.Parse("2006-01-02", id)
	if err != nil {
		return nil, fmt.Errorf("malformed snapshot id %s", id)
	}

	snap := &Snapshot{
		DataAsOfDate:       asOf,
		CreatedAt:          meta.CreatedAt,
		SchemaVersion:      meta.SchemaVersion,
		CalculationVersion: meta.CalculationVersion,
		Status:             meta.Status,
		Errors:             meta.Errors,
		Districts:          make(map[district.DistrictID]*district.PerformanceRecord),
	}

	for _, entry := range manifest.Files {
		if entry.Status != StatusSuccess {
			if snap.Failed == nil {
				snap.Failed = make(map[district.DistrictID]string)
			}
			snap.Failed[entry.DistrictID] = "collection failed"
			continue
		}
		rec, err := s.readRecord(id, entry.FileName, meta.SchemaVersion)
		if err != nil {
			return nil, fmt.Errorf("district %s: %w", entry.DistrictID, err)
		}
		snap.Districts[entry.DistrictID] = rec
	}
	return snap, nil
}

func (s *Store) readRecord(id, fileName, schemaVersion string) (*district.PerformanceRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.root, id, fileName))
	if err != nil {
		return nil, err
	}
	var rec district.PerformanceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unparsable record: %w", err)
	}
	return district.MigrateRecord(&rec, schemaVersion)
}

// =============================================================================
// METADATA / MANIFEST / LISTING READS
// =============================================================================

// GetSnapshotMetadata returns the metadata sidecar for a snapshot ID, or nil
// when the snapshot does not exist or its metadata is unreadable.
func (s *Store) GetSnapshotMetadata(id string) *Metadata {
	return s.readMetadata(id)
}

func (s *Store) readMetadata(id string) *Metadata {
	var meta Metadata
	if !readJSON(filepath.Join(s.root, id, metadataFile), &meta) {
		return nil
	}
	return &meta
}

// GetSnapshotManifest returns the per-district file index for a snapshot ID,
// or nil when absent.
func (s *Store) GetSnapshotManifest(id string) *Manifest {
	var m Manifest
	if !readJSON(filepath.Join(s.root, id, manifestFile), &m) {
		return nil
	}
	return &m
}

// ListSnapshots returns metadata for every snapshot matching the filter,
// newest first. A missing or empty root yields an empty slice.
func (s *Store) ListSnapshots(filter *ListFilter) []Metadata {
	var out []Metadata
	for _, id := range s.listDateDirs() {
		if filter != nil {
			if filter.From != "" && id < filter.From {
				continue
			}
			if filter.To != "" && id > filter.To {
				continue
			}
		}
		meta := s.readMetadata(id)
		if meta == nil {
			continue
		}
		if filter != nil && filter.Status != "" && meta.Status != filter.Status {
			continue
		}
		out = append(out, *meta)
	}
	return out
}

// listDateDirs returns snapshot directory names sorted newest first.
func (s *Store) listDateDirs() []string {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && dateDirPattern.MatchString(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	// ISO dates sort lexicographically; descending gives newest first.
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids
}

// ReadDistrictData returns one district's record from a snapshot, migrated to
// the current schema, or nil when the snapshot or the district file is absent
// or unreadable.
func (s *Store) ReadDistrictData(id string, did district.DistrictID) *district.PerformanceRecord {
	meta := s.readMetadata(id)
	if meta == nil {
		return nil
	}
	rec, err := s.readRecord(id, string(did)+".json", meta.SchemaVersion)
	if err != nil {
		return nil
	}
	return rec
}

// =============================================================================
// RANKINGS
// =============================================================================

// WriteAllDistrictsRankings attaches a ranking artifact to an existing
// snapshot. Rankings are write-once: a second write returns ErrRankingsExist.
func (s *Store) WriteAllDistrictsRankings(id string, rankings *RankingsData) error {
	if rankings == nil {
		return fmt.Errorf("%w: nil rankings", ErrInvalidSnapshot)
	}
	if err := rankings.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	meta := s.readMetadata(id)
	if meta == nil {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if s.HasAllDistrictsRankings(id) {
		return fmt.Errorf("%w: %s", ErrRankingsExist, id)
	}

	rankings.Metadata.SnapshotID = id
	if rankings.Metadata.GeneratedAt.IsZero() {
		rankings.Metadata.GeneratedAt = time.Now().UTC()
	}

	dir := filepath.Join(s.root, id)
	if err := writeJSONAtomic(filepath.Join(dir, rankingsFile), rankings); err != nil {
		return fmt.Errorf("failed to write rankings for %s: %w", id, err)
	}

	// Record the ranking version in the sidecar. The payload stays untouched.
	meta.RankingsVersion = rankings.Metadata.RankingsVersion
	if err := writeJSONAtomic(filepath.Join(dir, metadataFile), meta); err != nil {
		return fmt.Errorf("failed to update metadata for %s: %w", id, err)
	}
	return nil
}

// ReadAllDistrictsRankings returns the ranking artifact for a snapshot, or
// nil when absent.
func (s *Store) ReadAllDistrictsRankings(id string) *RankingsData {
	var r RankingsData
	if !readJSON(filepath.Join(s.root, id, rankingsFile), &r) {
		return nil
	}
	return &r
}

// HasAllDistrictsRankings reports whether a ranking artifact exists.
func (s *Store) HasAllDistrictsRankings(id string) bool {
	_, err := os.Stat(filepath.Join(s.root, id, rankingsFile))
	return err == nil
}

// =============================================================================
// VERSION COMPATIBILITY
// =============================================================================

// CheckVersionCompatibility reports whether a stored snapshot's schema,
// calculation, and rankings versions can be consumed by this build. Unknown
// IDs report all-false with a "metadata not found" warning.
func (s *Store) CheckVersionCompatibility(id string) Compatibility {
	meta := s.readMetadata(id)
	if meta == nil {
		return Compatibility{
			Warnings: []string{fmt.Sprintf("metadata not found for snapshot %s", id)},
		}
	}

	c := Compatibility{}

	switch meta.SchemaVersion {
	case district.CurrentSchemaVersion:
		c.SchemaCompatible = true
	case "1.0", "1.1":
		c.SchemaCompatible = true
		c.Warnings = append(c.Warnings, fmt.Sprintf(
			"schema %s predates current %s; records are migrated on read",
			meta.SchemaVersion, district.CurrentSchemaVersion))
	default:
		c.Warnings = append(c.Warnings, fmt.Sprintf(
			"schema %s is not readable by this build (current %s)",
			meta.SchemaVersion, district.CurrentSchemaVersion))
	}

	if meta.CalculationVersion == district.CurrentCalculationVersion {
		c.CalculationCompatible = true
	} else {
		c.Warnings = append(c.Warnings, fmt.Sprintf(
			"calculation version %s differs from current %s; derived fields may need re-derivation",
			meta.CalculationVersion, district.CurrentCalculationVersion))
	}

	switch meta.RankingsVersion {
	case "":
		c.Warnings = append(c.Warnings, "no rankings recorded for this snapshot")
	case district.CurrentRankingsVersion:
		c.RankingsCompatible = true
	default:
		c.Warnings = append(c.Warnings, fmt.Sprintf(
			"rankings version %s differs from current %s",
			meta.RankingsVersion, district.CurrentRankingsVersion))
	}

	return c
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// DeleteSnapshot removes a failed snapshot directory. Successful snapshots
// are immutable and cannot be deleted.
func (s *Store) DeleteSnapshot(id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	meta := s.readMetadata(id)
	if meta == nil {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if meta.Status == StatusSuccess {
		return fmt.Errorf("%w: %s", ErrSnapshotImmutable, id)
	}
	if err := os.RemoveAll(filepath.Join(s.root, id)); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", id, err)
	}

	s.cacheMu.Lock()
	s.cacheValid = false
	s.cachedLatest = nil
	s.cacheMu.Unlock()
	return nil
}

// Stats summarizes the snapshot root for health reporting.
func (s *Store) Stats() StorageStats {
	ids := s.listDateDirs()
	stats := StorageStats{SnapshotCount: len(ids)}
	if len(ids) > 0 {
		stats.NewestID = ids[0]
		stats.OldestID = ids[len(ids)-1]
	}
	for _, id := range ids {
		if meta := s.readMetadata(id); meta != nil {
			stats.TotalSizeBytes += meta.TotalSizeBytes
		}
	}
	return stats
}

// =============================================================================
// JSON HELPERS
// =============================================================================

func writeJSON(path string, v any) (int64, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// writeJSONAtomic writes via a temp file + rename for in-place sidecar
// updates inside an already-committed snapshot directory.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// readJSON loads a JSON file, returning false on any error. Read-side
// failures are indistinguishable from absence on purpose.
func readJSON(path string, v any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}
