/*
history.go - Reconciliation run records and the history store interface

PURPOSE:
  Every scheduled reconciliation is recorded durably so the scheduler can
  deduplicate on (district, target month) and operators can audit past runs.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite-backed history
  - MemoryHistory (this file): In-memory, for tests
*/
package reconcile

import (
	"sort"
	"sync"
	"time"

	"github.com/warp/district-engine/district"
)

// Run states follow the scheduled reconciliation state machine:
// scheduled -> processing -> {completed | failed | cancelled}.
const (
	RunScheduled  = "scheduled"
	RunProcessing = "processing"
	RunCompleted  = "completed"
	RunFailed     = "failed"
	RunCancelled  = "cancelled"
)

// Run is one scheduled reconciliation of a district for a target month.
type Run struct {
	ID          string              `json:"id"`
	DistrictID  district.DistrictID `json:"districtId"`
	TargetMonth string              `json:"targetMonth"` // YYYY-MM
	Status      string              `json:"status"`
	JobID       string              `json:"jobId,omitempty"`
	Error       string              `json:"error,omitempty"`
	ScheduledAt time.Time           `json:"scheduledAt"`
	StartedAt   *time.Time          `json:"startedAt,omitempty"`
	FinishedAt  *time.Time          `json:"finishedAt,omitempty"`
}

// HistoryStore persists reconciliation runs. HasReconciliation is the dedup
// check preventing duplicate scheduling of one (district, targetMonth) pair.
type HistoryStore interface {
	SaveRun(run *Run) error
	UpdateRun(run *Run) error
	GetRun(id string) (*Run, error)
	HasReconciliation(did district.DistrictID, targetMonth string) (bool, error)
	ListRuns(limit int) ([]*Run, error)
}

// =============================================================================
// MEMORY HISTORY
// =============================================================================

// MemoryHistory is an in-memory HistoryStore for tests and dev.
type MemoryHistory struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{runs: make(map[string]*Run)}
}

func (m *MemoryHistory) SaveRun(run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *MemoryHistory) UpdateRun(run *Run) error {
	return m.SaveRun(run)
}

func (m *MemoryHistory) GetRun(id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (m *MemoryHistory) HasReconciliation(did district.DistrictID, targetMonth string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, run := range m.runs {
		if run.DistrictID == did && run.TargetMonth == targetMonth && run.Status != RunCancelled {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryHistory) ListRuns(limit int) ([]*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		cp := *run
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.After(out[j].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
