/*
Package cache applies in-place updates to live dashboard cache entries with
backup-then-commit-then-rollback semantics.

PURPOSE:
  The live cache holds the most recently rendered view of each (district,
  date) pair. When reconciliation produces revised numbers for an entry that
  is already cached, the update must be all-or-nothing: after a failed write
  the entry must be byte-for-byte indistinguishable from its pre-update state.

DESIGN:
  - No-op short-circuit: when change detection reports no changes, storage is
    never touched (timestamps and content stay byte-identical)
  - Backup before write, restore on failure
  - Per-key mutexes: updates to different keys proceed concurrently; updates
    to the same key never interleave partial writes

SEE ALSO:
  - entrystore.go: The pluggable byte-level entry storage
  - backfill/engine.go: Drives cache updates during reconciliation
*/
package cache

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/warp/district-engine/district"
	"github.com/warp/district-engine/metrics"
)

// =============================================================================
// TYPES
// =============================================================================

// Entry is the cached live view for one (district, date) pair.
type Entry struct {
	DistrictID  district.DistrictID        `json:"districtId"`
	Date        string                     `json:"date"`
	Record      *district.PerformanceRecord `json:"record"`
	LastUpdated time.Time                  `json:"lastUpdated"`
	UpdateCount int                        `json:"updateCount"`
}

// DetectedChanges is the change-detection verdict computed by the caller
// before requesting an update.
type DetectedChanges struct {
	HasChanges    bool
	ChangedFields []string
}

// UpdateResult reports the outcome of an immediate cache update.
type UpdateResult struct {
	Success           bool
	Updated           bool
	BackupCreated     bool
	RollbackAvailable bool
	Error             string
}

// ConsistencyReport separates structural validity (CacheIntegrity) from value
// agreement (Consistent): a well-formed entry with stale numbers has
// integrity but is inconsistent.
type ConsistencyReport struct {
	Consistent     bool
	Issues         []string
	CacheIntegrity bool
	LastUpdateDate time.Time
}

// =============================================================================
// UPDATE MANAGER
// =============================================================================

// UpdateManager coordinates in-place cache entry updates.
type UpdateManager struct {
	store EntryStore

	mu      sync.Mutex
	keyLock map[string]*sync.Mutex
}

// NewUpdateManager creates a manager over the given entry storage.
func NewUpdateManager(store EntryStore) *UpdateManager {
	return &UpdateManager{
		store:   store,
		keyLock: make(map[string]*sync.Mutex),
	}
}

func (m *UpdateManager) lockForKey(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.keyLock[key]
	if !ok {
		l = &sync.Mutex{}
		m.keyLock[key] = l
	}
	return l
}

func entryKey(did district.DistrictID, date string) string {
	return string(did) + "/" + date
}

// UpdateCacheImmediately applies new data to the cached entry for
// (districtID, date). When detectedChanges reports no changes, the call
// succeeds without touching storage. Otherwise the current entry is backed up
// before the write; a failed write restores the backup and the result reports
// rollback availability.
func (m *UpdateManager) UpdateCacheImmediately(
	did district.DistrictID,
	date string,
	newData *district.PerformanceRecord,
	detectedChanges DetectedChanges,
) UpdateResult {
	if !detectedChanges.HasChanges {
		return UpdateResult{Success: true, Updated: false}
	}
	if newData == nil {
		return UpdateResult{Success: false, Error: "newData must not be nil when changes are detected"}
	}

	l := m.lockForKey(entryKey(did, date))
	l.Lock()
	defer l.Unlock()

	backup, err := m.store.Read(did, date)
	if err != nil {
		return UpdateResult{Success: false, Error: fmt.Sprintf("failed to read current entry: %v", err)}
	}

	entry := Entry{
		DistrictID:  did,
		Date:        date,
		Record:      newData,
		LastUpdated: time.Now().UTC(),
		UpdateCount: 1,
	}
	if backup != nil {
		var prev Entry
		if json.Unmarshal(backup, &prev) == nil {
			entry.UpdateCount = prev.UpdateCount + 1
		}
	}

	data, err := json.MarshalIndent(&entry, "", "  ")
	if err != nil {
		return UpdateResult{Success: false, BackupCreated: backup != nil, Error: err.Error()}
	}

	if err := m.store.Write(did, date, data); err != nil {
		res := UpdateResult{
			Success:       false,
			BackupCreated: backup != nil,
			Error:         fmt.Sprintf("write failed: %v", err),
		}
		if backup != nil {
			if restoreErr := m.store.Write(did, date, backup); restoreErr != nil {
				res.Error = fmt.Sprintf("%s; rollback also failed: %v", res.Error, restoreErr)
			} else {
				res.RollbackAvailable = true
				metrics.CacheRollbacksTotal.Inc()
			}
		}
		return res
	}

	metrics.CacheUpdatesTotal.Inc()
	return UpdateResult{Success: true, Updated: true, BackupCreated: backup != nil}
}

// CheckCacheConsistency compares the cached entry against expected data
// field by field. CacheIntegrity reflects only whether the stored structure
// is well-formed, independent of whether the values agree.
func (m *UpdateManager) CheckCacheConsistency(
	did district.DistrictID,
	date string,
	expected *district.PerformanceRecord,
) ConsistencyReport {
	report := ConsistencyReport{}

	data, err := m.store.Read(did, date)
	if err != nil {
		report.Issues = append(report.Issues, fmt.Sprintf("failed to read cache entry: %v", err))
		return report
	}
	if data == nil {
		report.Issues = append(report.Issues, "no cache entry for key")
		return report
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		report.Issues = append(report.Issues, fmt.Sprintf("cache entry is malformed: %v", err))
		return report
	}
	if entry.Record == nil {
		report.Issues = append(report.Issues, "cache entry has no record")
		return report
	}

	report.CacheIntegrity = true
	report.LastUpdateDate = entry.LastUpdated

	if expected == nil {
		report.Issues = append(report.Issues, "no expected data supplied")
		return report
	}

	report.Issues = append(report.Issues, diffRecords(entry.Record, expected)...)
	report.Consistent = len(report.Issues) == 0
	return report
}

func diffRecords(got, want *district.PerformanceRecord) []string {
	var issues []string
	intField := func(name string, g, w int) {
		if g != w {
			issues = append(issues, fmt.Sprintf("%s: cached %d, expected %d", name, g, w))
		}
	}
	intField("totalMembers", got.TotalMembers, want.TotalMembers)
	intField("membershipBase", got.MembershipBase, want.MembershipBase)
	intField("newMembers", got.NewMembers, want.NewMembers)
	intField("totalPayments", got.TotalPayments, want.TotalPayments)
	intField("totalClubs", got.TotalClubs, want.TotalClubs)
	intField("paidClubs", got.PaidClubs, want.PaidClubs)
	intField("activeClubs", got.ActiveClubs, want.ActiveClubs)
	intField("distinguishedClubs", got.DistinguishedClubs, want.DistinguishedClubs)

	if !got.PaidClubPct.Equal(want.PaidClubPct) {
		issues = append(issues, fmt.Sprintf("paidClubPct: cached %s, expected %s",
			got.PaidClubPct, want.PaidClubPct))
	}
	if !got.MembershipGrowthPct.Equal(want.MembershipGrowthPct) {
		issues = append(issues, fmt.Sprintf("membershipGrowthPct: cached %s, expected %s",
			got.MembershipGrowthPct, want.MembershipGrowthPct))
	}
	return issues
}
