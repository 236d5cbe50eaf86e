/*
engine.go - Backfill job engine

PURPOSE:
  Re-derives historical snapshots over a date range: validates scope, selects
  a collection strategy, walks periods in chronological order, isolates
  per-district failures, records partial-success periods, and supports
  cooperative cancellation and job cleanup.

PROCESSING ORDER:
  The snapshot listing is newest-first; the engine explicitly sorts periods
  oldest-first before iterating. This is a correctness requirement, not
  cosmetics: later periods depend on earlier ones for rank deltas.

CANCELLATION:
  Cooperative. The cancellation flag is checked between units of work (per
  district within a period, and between periods); the unit already started
  always completes. This is the one deterministic rule replacing the
  timing-dependent behavior of racing a cancel against the last unit.

RESUMABILITY:
  Before fetching a (period, district) unit, the engine asks the analytics
  reader whether derived analytics already exist for it. If so, the unit is
  skipped. Re-running a backfill over an unchanged range therefore re-fetches
  nothing.

SEE ALSO:
  - scope.go, strategy.go, tracker.go, job.go
  - reconcile/scheduler.go: Triggers backfills at month transitions
*/
package backfill

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/district-engine/cache"
	"github.com/warp/district-engine/closing"
	"github.com/warp/district-engine/district"
	"github.com/warp/district-engine/metrics"
	"github.com/warp/district-engine/snapshot"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

type Config struct {
	// BlacklistThreshold is the consecutive-failure count that blacklists a
	// district within a job.
	BlacklistThreshold int
	// BlacklistCooldown is how long a blacklisted district is skipped.
	BlacklistCooldown time.Duration
	// JobRetention is how long terminal jobs stay queryable before
	// CleanupOldJobs removes them.
	JobRetention time.Duration
	// TargetedStrategyMax bounds the targeted-multi strategy heuristic.
	TargetedStrategyMax int
	// Now is the clock; overridable in tests.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.BlacklistThreshold <= 0 {
		c.BlacklistThreshold = 5
	}
	if c.BlacklistCooldown <= 0 {
		c.BlacklistCooldown = 30 * time.Minute
	}
	if c.JobRetention <= 0 {
		c.JobRetention = 24 * time.Hour
	}
	if c.TargetedStrategyMax <= 0 {
		c.TargetedStrategyMax = defaultTargetedMax
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// =============================================================================
// REQUEST
// =============================================================================

// Request describes a backfill over [StartDate, EndDate].
type Request struct {
	StartDate       time.Time
	EndDate         time.Time
	TargetDistricts []district.DistrictID
	// Strategy forces a collection strategy; empty selects by heuristics.
	Strategy Strategy
	// ForceRecalculation disables the resumability skip so every unit is
	// re-fetched (used after a calculation-version bump).
	ForceRecalculation bool
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store     *snapshot.Store
	cacheMgr  *cache.UpdateManager
	collector Collector
	analytics AnalyticsReader
	jobs      JobRepository
	cfg       Config

	mu         sync.Mutex
	configured []district.DistrictID
	running    map[string]*jobHandle
}

// jobHandle pairs a live job with its cancellation flag and done signal.
// The flag lives here, not on the Job, so repository copies stay plain data.
type jobHandle struct {
	cancelled atomic.Bool
	done      chan struct{}
}

// NewEngine wires the job engine. cacheMgr and analytics may be nil; a nil
// analytics reader disables the resumability skip.
func NewEngine(
	store *snapshot.Store,
	cacheMgr *cache.UpdateManager,
	collector Collector,
	analytics AnalyticsReader,
	jobs JobRepository,
	configured []district.DistrictID,
	cfg Config,
) *Engine {
	return &Engine{
		store:      store,
		cacheMgr:   cacheMgr,
		collector:  collector,
		analytics:  analytics,
		jobs:       jobs,
		cfg:        cfg.withDefaults(),
		configured: append([]district.DistrictID(nil), configured...),
		running:    make(map[string]*jobHandle),
	}
}

// SetConfiguredDistricts replaces the configured district set used for scope
// validation of subsequent requests.
func (e *Engine) SetConfiguredDistricts(districts []district.DistrictID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configured = append([]district.DistrictID(nil), districts...)
}

// StartBackfill validates the request, registers a job, and runs it in the
// background. Validation errors surface synchronously before any I/O.
func (e *Engine) StartBackfill(ctx context.Context, req Request) (string, error) {
	job, handle, err := e.prepare(req)
	if err != nil {
		return "", err
	}
	go e.run(ctx, job, handle, req)
	return job.ID, nil
}

// RunBackfill is the synchronous variant: it returns the terminal job state.
func (e *Engine) RunBackfill(ctx context.Context, req Request) (*Job, error) {
	job, handle, err := e.prepare(req)
	if err != nil {
		return nil, err
	}
	e.run(ctx, job, handle, req)
	return e.jobs.Get(job.ID), nil
}

func (e *Engine) prepare(req Request) (*Job, *jobHandle, error) {
	now := e.cfg.Now()

	if req.StartDate.IsZero() || req.EndDate.IsZero() {
		return nil, nil, fmt.Errorf("startDate and endDate are required")
	}
	if req.StartDate.After(req.EndDate) {
		return nil, nil, fmt.Errorf("startDate %s is after endDate %s",
			district.DateKey(req.StartDate), district.DateKey(req.EndDate))
	}
	// Source data is always 1-2 days stale; today cannot be reconciled yet.
	// Reject rather than silently truncate.
	today := district.DateKey(now)
	if district.DateKey(req.EndDate) >= today {
		return nil, nil, fmt.Errorf("endDate %s must be before today (%s): source data lags by 1-2 days",
			district.DateKey(req.EndDate), today)
	}

	e.mu.Lock()
	configured := append([]district.DistrictID(nil), e.configured...)
	e.mu.Unlock()

	scope, err := ValidateScope(req.TargetDistricts, configured)
	if err != nil {
		return nil, nil, err
	}

	job := &Job{
		ID:        fmt.Sprintf("backfill-%d", now.UnixNano()),
		Status:    JobProcessing,
		Scope:     scope,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		StartedAt: now,
	}
	handle := &jobHandle{done: make(chan struct{})}

	e.mu.Lock()
	e.running[job.ID] = handle
	e.mu.Unlock()

	e.jobs.Save(job)
	metrics.BackfillJobsStartedTotal.Inc()
	metrics.ActiveBackfillJobs.Inc()
	log.Printf("[Backfill] Job %s started: scope=%s districts=%d range=%s..%s",
		job.ID, scope.Type, len(scope.ValidDistricts),
		district.DateKey(req.StartDate), district.DateKey(req.EndDate))
	return job, handle, nil
}

// =============================================================================
// RUN LOOP
// =============================================================================

func (e *Engine) run(ctx context.Context, job *Job, handle *jobHandle, req Request) {
	defer func() {
		e.mu.Lock()
		delete(e.running, job.ID)
		e.mu.Unlock()
		close(handle.done)
		metrics.ActiveBackfillJobs.Dec()
		metrics.BackfillJobsCompletedTotal.WithLabelValues(string(job.Status)).Inc()
	}()

	periods := e.collectPeriods(req)
	strategy := SelectStrategy(job.Scope, req.Strategy, e.cfg.TargetedStrategyMax)

	job.Progress.Total = len(periods) * len(job.Scope.ValidDistricts)
	e.jobs.Save(job)

	cancelled := false

periodLoop:
	for _, period := range periods {
		if handle.cancelled.Load() {
			cancelled = true
			break
		}

		snapshotID := district.DateKey(period)
		collected := make(map[district.DistrictID]*district.PerformanceRecord)
		failed := make(map[district.DistrictID]string)

		var bulk map[district.DistrictID]*district.PerformanceRecord
		var bulkErr error
		if strategy == StrategySystemWide {
			bulk, bulkErr = e.collector.FetchAllDistricts(ctx, period)
			if bulkErr != nil {
				log.Printf("[Backfill] Job %s: bulk fetch for %s failed: %v", job.ID, snapshotID, bulkErr)
			}
		}

		for _, did := range job.Scope.ValidDistricts {
			// Cancellation takes effect only between units of work.
			if handle.cancelled.Load() {
				cancelled = true
				break periodLoop
			}
			now := e.cfg.Now()
			job.Progress.Current = snapshotID + "/" + string(did)

			tracker := job.tracker(did)
			if tracker.Blacklisted(now) {
				job.Progress.Skipped++
				continue
			}

			// Resumability: derived analytics already present means this
			// unit was completed by an earlier run.
			if !req.ForceRecalculation && e.analytics != nil {
				if e.analytics.GetAnalyticsSummary(did, snapshotID) != nil {
					job.Progress.Skipped++
					metrics.BackfillPeriodsSkippedTotal.Inc()
					continue
				}
			}

			rec, err := e.fetchDistrict(ctx, strategy, did, period, bulk, bulkErr)
			if err != nil {
				tracker.RecordFailure(now, err, e.cfg.BlacklistThreshold, e.cfg.BlacklistCooldown)
				failed[did] = err.Error()
				job.Progress.Failed++
				e.jobs.Save(job)
				continue
			}

			tracker.RecordSuccess(now)
			collected[did] = rec
			job.Progress.Completed++
			e.jobs.Save(job)
		}

		e.finishPeriod(job, period, snapshotID, collected, failed)
		e.jobs.Save(job)
	}

	job.FinishedAt = e.cfg.Now()
	job.Progress.Current = ""
	switch {
	case cancelled:
		job.Status = JobCancelled
	case job.Progress.Completed == 0 && job.Progress.Skipped == 0 && job.Progress.Failed > 0:
		job.Status = JobError
	default:
		job.Status = JobCompleted
	}
	e.jobs.Save(job)
	log.Printf("[Backfill] Job %s finished: status=%s completed=%d skipped=%d failed=%d",
		job.ID, job.Status, job.Progress.Completed, job.Progress.Skipped, job.Progress.Failed)
}

func (e *Engine) fetchDistrict(
	ctx context.Context,
	strategy Strategy,
	did district.DistrictID,
	period time.Time,
	bulk map[district.DistrictID]*district.PerformanceRecord,
	bulkErr error,
) (*district.PerformanceRecord, error) {
	if strategy == StrategySystemWide {
		if bulkErr != nil {
			return nil, fmt.Errorf("bulk fetch failed: %w", bulkErr)
		}
		rec, ok := bulk[did]
		if !ok {
			return nil, fmt.Errorf("district %s missing from bulk fetch", did)
		}
		return rec, nil
	}
	return e.collector.FetchDistrictPerformance(ctx, did, period)
}

// finishPeriod persists the period's snapshot and records partial-success
// accounting. A period with zero fetched records writes nothing.
func (e *Engine) finishPeriod(
	job *Job,
	period time.Time,
	snapshotID string,
	collected map[district.DistrictID]*district.PerformanceRecord,
	failed map[district.DistrictID]string,
) {
	if len(collected) == 0 {
		if len(failed) > 0 {
			job.Errors = append(job.Errors,
				fmt.Sprintf("period %s: all %d districts failed", snapshotID, len(failed)))
		}
		return
	}

	snap := &snapshot.Snapshot{
		DataAsOfDate:       period,
		CreatedAt:          e.cfg.Now(),
		SchemaVersion:      district.CurrentSchemaVersion,
		CalculationVersion: district.CurrentCalculationVersion,
		Status:             snapshot.StatusSuccess,
		Districts:          collected,
		Failed:             failed,
	}
	if err := e.store.RewriteSnapshot(snap, nil); err != nil {
		job.Errors = append(job.Errors, fmt.Sprintf("period %s: snapshot write failed: %v", snapshotID, err))
		return
	}

	e.refreshCache(snapshotID, collected)

	if len(failed) > 0 {
		total := len(collected) + len(failed)
		job.PartialSnapshots = append(job.PartialSnapshots, PartialSnapshotResult{
			SnapshotID:          snapshotID,
			SuccessfulDistricts: len(collected),
			FailedDistricts:     len(failed),
			SuccessRate: decimal.NewFromInt(int64(len(collected))).
				Div(decimal.NewFromInt(int64(total))).
				Round(4),
			IsPartial: true,
		})
	}
}

// refreshCache pushes revised records into already-cached live views. Entries
// never cached before are left alone; populating the cache is the dashboard's
// job, not the backfill's.
func (e *Engine) refreshCache(snapshotID string, records map[district.DistrictID]*district.PerformanceRecord) {
	if e.cacheMgr == nil {
		return
	}
	for did, rec := range records {
		report := e.cacheMgr.CheckCacheConsistency(did, snapshotID, rec)
		if !report.CacheIntegrity || report.Consistent {
			continue
		}
		res := e.cacheMgr.UpdateCacheImmediately(did, snapshotID, rec, cache.DetectedChanges{
			HasChanges:    true,
			ChangedFields: report.Issues,
		})
		if !res.Success {
			log.Printf("[Backfill] Cache update failed for %s/%s: %s", did, snapshotID, res.Error)
		}
	}
}

// collectPeriods resolves the set of as-of dates to re-derive. Existing
// snapshot IDs in range come back newest-first from the store listing; with
// no snapshots in range, the month-end dates inside the range are used.
// Either way the result is explicitly sorted oldest-first.
func (e *Engine) collectPeriods(req Request) []time.Time {
	from := district.DateKey(req.StartDate)
	to := district.DateKey(req.EndDate)

	var ids []string
	for _, meta := range e.store.ListSnapshots(&snapshot.ListFilter{From: from, To: to}) {
		ids = append(ids, meta.SnapshotID)
	}
	if len(ids) == 0 {
		ids = monthEndsBetween(req.StartDate, req.EndDate)
	}

	sort.Strings(ids) // chronological, oldest first

	periods := make([]time.Time, 0, len(ids))
	for _, id := range ids {
		t, err := time.Parse("2006-01-02", id)
		if err != nil {
			continue
		}
		periods = append(periods, t)
	}
	return periods
}

// monthEndsBetween lists the last-day-of-month dates inside [start, end].
func monthEndsBetween(start, end time.Time) []string {
	var out []string
	year, month := start.UTC().Year(), int(start.UTC().Month())
	for {
		day := closing.LastDayOfMonth(year, month)
		t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		if t.After(end.UTC()) {
			break
		}
		if !t.Before(start.UTC()) {
			out = append(out, district.DateKey(t))
		}
		month++
		if month > 12 {
			month = 1
			year++
		}
	}
	return out
}

// =============================================================================
// JOB CONTROL
// =============================================================================

// CancelBackfill requests cancellation of a running job. Returns false for
// unknown or already-terminal jobs. The in-flight loop stops after finishing
// its current unit of work.
func (e *Engine) CancelBackfill(jobID string) bool {
	e.mu.Lock()
	handle, ok := e.running[jobID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	if handle.cancelled.Swap(true) {
		return false // already cancelled
	}
	log.Printf("[Backfill] Job %s cancellation requested", jobID)
	return true
}

// Wait blocks until the job's run loop exits. Returns immediately for
// unknown (already finished or never started) job IDs.
func (e *Engine) Wait(jobID string) {
	e.mu.Lock()
	handle, ok := e.running[jobID]
	e.mu.Unlock()
	if !ok {
		return
	}
	<-handle.done
}

// GetJob returns the current best-known state of a job, or nil for unknown
// IDs. Never fails, even mid-failure of the underlying job.
func (e *Engine) GetJob(jobID string) *Job {
	return e.jobs.Get(jobID)
}

// ListJobs returns all known jobs, newest first.
func (e *Engine) ListJobs() []*Job {
	jobs := e.jobs.List()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.After(jobs[j].StartedAt) })
	return jobs
}

// CleanupOldJobs removes terminal jobs older than the retention window from
// the job table. Returns the number removed.
func (e *Engine) CleanupOldJobs() int {
	cutoff := e.cfg.Now().Add(-e.cfg.JobRetention)
	removed := 0
	for _, job := range e.jobs.List() {
		if job.Status.Terminal() && !job.FinishedAt.IsZero() && job.FinishedAt.Before(cutoff) {
			e.jobs.Delete(job.ID)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("[Backfill] Cleaned up %d old jobs", removed)
	}
	return removed
}
