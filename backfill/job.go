/*
job.go - Backfill job state and the job repository

PURPOSE:
  Jobs live in memory for the life of the process; durability is a non-goal
  for single-process deployments. The JobRepository interface isolates the
  rest of the engine from that choice so a durable store can replace the
  in-memory table without touching orchestration logic.

OWNERSHIP:
  The repository stores deep copies. The engine mutates its own live job
  instance and checkpoints it with Save(); readers get copies via Get()/List()
  and can never mutate a job's progress or trackers directly.
*/
package backfill

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/district-engine/district"
)

// =============================================================================
// JOB STATE
// =============================================================================

type JobStatus string

const (
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobCancelled  JobStatus = "cancelled"
	JobError      JobStatus = "error"
)

// Terminal reports whether a status is final.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobCancelled || s == JobError
}

// Progress tracks unit-of-work accounting for a job. A unit is one
// (period, district) pair.
type Progress struct {
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	Current   string `json:"current,omitempty"`
}

// PartialSnapshotResult records a period whose derivation succeeded for some
// but not all districts.
type PartialSnapshotResult struct {
	SnapshotID          string          `json:"snapshotId"`
	SuccessfulDistricts int             `json:"successfulDistricts"`
	FailedDistricts     int             `json:"failedDistricts"`
	SuccessRate         decimal.Decimal `json:"successRate"`
	IsPartial           bool            `json:"isPartial"`
}

// Job is the mutable, in-memory record of one backfill.
type Job struct {
	ID               string                                   `json:"id"`
	Status           JobStatus                                `json:"status"`
	Scope            *Scope                                   `json:"scope"`
	Progress         Progress                                 `json:"progress"`
	ErrorTrackers    map[district.DistrictID]*ErrorTracker    `json:"errorTrackers,omitempty"`
	PartialSnapshots []PartialSnapshotResult                  `json:"partialSnapshots,omitempty"`
	Errors           []string                                 `json:"errors,omitempty"`
	StartDate        time.Time                                `json:"startDate"`
	EndDate          time.Time                                `json:"endDate"`
	StartedAt        time.Time                                `json:"startedAt"`
	FinishedAt       time.Time                                `json:"finishedAt,omitempty"`
}

// tracker returns (creating on demand) the error tracker for a district.
func (j *Job) tracker(did district.DistrictID) *ErrorTracker {
	if j.ErrorTrackers == nil {
		j.ErrorTrackers = make(map[district.DistrictID]*ErrorTracker)
	}
	t, ok := j.ErrorTrackers[did]
	if !ok {
		t = newErrorTracker(did)
		j.ErrorTrackers[did] = t
	}
	return t
}

// clone deep-copies a job so repository readers never alias engine state.
func (j *Job) clone() *Job {
	out := *j
	if j.Scope != nil {
		scope := *j.Scope
		scope.ValidDistricts = append([]district.DistrictID(nil), j.Scope.ValidDistricts...)
		scope.InvalidDistricts = append([]district.DistrictID(nil), j.Scope.InvalidDistricts...)
		scope.ConfiguredDistricts = append([]district.DistrictID(nil), j.Scope.ConfiguredDistricts...)
		scope.Violations = append([]ScopeViolation(nil), j.Scope.Violations...)
		out.Scope = &scope
	}
	if j.ErrorTrackers != nil {
		out.ErrorTrackers = make(map[district.DistrictID]*ErrorTracker, len(j.ErrorTrackers))
		for did, t := range j.ErrorTrackers {
			tc := *t
			tc.Errors = append([]TrackedError(nil), t.Errors...)
			if t.LastSuccessAt != nil {
				at := *t.LastSuccessAt
				tc.LastSuccessAt = &at
			}
			out.ErrorTrackers[did] = &tc
		}
	}
	out.PartialSnapshots = append([]PartialSnapshotResult(nil), j.PartialSnapshots...)
	out.Errors = append([]string(nil), j.Errors...)
	return &out
}

// =============================================================================
// JOB REPOSITORY
// =============================================================================

// JobRepository holds job state. Implementations must copy on both write and
// read so callers cannot mutate stored jobs.
type JobRepository interface {
	Save(job *Job)
	Get(id string) *Job
	List() []*Job
	Delete(id string)
}

// MemoryJobRepository is the default in-process implementation.
type MemoryJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[string]*Job)}
}

func (r *MemoryJobRepository) Save(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job.clone()
}

func (r *MemoryJobRepository) Get(id string) *Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil
	}
	return job.clone()
}

func (r *MemoryJobRepository) List() []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.clone())
	}
	return out
}

func (r *MemoryJobRepository) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}
