/*
scheduler.go - Month-transition reconciliation scheduler

PURPOSE:
  During the first days of each month the dashboard is still finalizing the
  previous month's numbers. This scheduler detects the transition, schedules
  one reconciliation per (district, previous month) pair - deduplicated
  against the run history - and drives the backfill engine to re-derive the
  closing month's snapshots.

STATE MACHINE (per scheduled reconciliation):
  scheduled -> processing -> {completed | failed | cancelled}

ERROR ESCALATION:
  Dashboard and cache calls run under circuit breakers keyed by operation
  class. Orchestrator-level consecutive failures (separate from per-district
  backfill tracking) raise a high-severity alert at the configured threshold;
  alerts also fire on run failure, on run duration exceeding the ceiling, and
  on complete dashboard unavailability. Disabled alerting skips delivery but
  never skips error tracking.

SEE ALSO:
  - breaker.go: ErrorHandler and circuit breakers
  - backfill/engine.go: The job engine this scheduler drives
  - store/sqlite: Durable run history
*/
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/warp/district-engine/backfill"
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
	// GraceWindowDays bounds the early-month window (days 1..N) in which
	// month-transition scheduling is allowed.
	GraceWindowDays int
	// FailureThreshold is the orchestrator-level consecutive-failure count
	// that triggers a high-severity alert.
	FailureThreshold int
	// JobTimeout is the run-duration ceiling; longer runs raise an alert.
	JobTimeout time.Duration
	// CheckInterval is how often the background loop re-checks.
	CheckInterval time.Duration
	// AlertingEnabled toggles alert delivery globally.
	AlertingEnabled bool
	// Now is the clock; overridable in tests.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.GraceWindowDays <= 0 {
		c.GraceWindowDays = 5
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Minute
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 1 * time.Hour
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// =============================================================================
// SCHEDULER
// =============================================================================

type Scheduler struct {
	history  HistoryStore
	engine   *backfill.Engine
	errs     *ErrorHandler
	alerts   *Alerter
	store    *snapshot.Store
	cacheMgr *cache.UpdateManager
	cfg      Config

	// Districts supplies the configured district set for auto-scheduling.
	Districts func() []district.DistrictID

	mu                  sync.Mutex
	consecutiveFailures int

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler wires the orchestrator. The ErrorHandler and Alerter are
// injected, never global.
func NewScheduler(
	history HistoryStore,
	engine *backfill.Engine,
	errs *ErrorHandler,
	alerts *Alerter,
	store *snapshot.Store,
	cacheMgr *cache.UpdateManager,
	cfg Config,
) *Scheduler {
	return &Scheduler{
		history:  history,
		engine:   engine,
		errs:     errs,
		alerts:   alerts,
		store:    store,
		cacheMgr: cacheMgr,
		cfg:      cfg.withDefaults(),
		stop:     make(chan struct{}),
	}
}

// =============================================================================
// BACKGROUND LOOP
// =============================================================================

// Start begins the periodic month-transition check.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		return
	}
	s.ticker = time.NewTicker(s.cfg.CheckInterval)
	s.wg.Add(1)
	go s.run()
	log.Printf("[Scheduler] Started with check interval: %v", s.cfg.CheckInterval)
}

// Stop halts the background loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	log.Println("[Scheduler] Stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	s.checkOnce()
	for {
		select {
		case <-s.ticker.C:
			s.checkOnce()
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) checkOnce() {
	if s.Districts == nil {
		return
	}
	count, err := s.AutoScheduleForMonthTransition(context.Background(), s.Districts())
	if err != nil {
		log.Printf("[Scheduler] Auto-schedule check failed: %v", err)
		return
	}
	if count > 0 {
		log.Printf("[Scheduler] Scheduled %d reconciliations", count)
	}
}

// =============================================================================
// MONTH-TRANSITION SCHEDULING
// =============================================================================

// AutoScheduleForMonthTransition schedules one reconciliation per district
// for the previous calendar month, returning the number scheduled. Outside
// the grace window (days 1..GraceWindowDays) it schedules nothing. A
// district already having a run for (district, targetMonth) is skipped.
func (s *Scheduler) AutoScheduleForMonthTransition(ctx context.Context, districts []district.DistrictID) (int, error) {
	now := s.cfg.Now()
	if now.Day() > s.cfg.GraceWindowDays {
		return 0, nil
	}

	targetMonth := closing.PreviousMonth(now)
	scheduled := 0

	for _, did := range districts {
		exists, err := s.history.HasReconciliation(did, targetMonth)
		if err != nil {
			return scheduled, fmt.Errorf("dedup check for district %s failed: %w", did, err)
		}
		if exists {
			continue
		}

		run := &Run{
			ID:          fmt.Sprintf("recon-%s-%s-%d", did, targetMonth, now.UnixNano()),
			DistrictID:  did,
			TargetMonth: targetMonth,
			Status:      RunScheduled,
			ScheduledAt: now,
		}
		if err := s.history.SaveRun(run); err != nil {
			return scheduled, fmt.Errorf("failed to record run for district %s: %w", did, err)
		}
		scheduled++
		metrics.ReconciliationsScheduledTotal.Inc()

		s.process(ctx, run)
	}
	return scheduled, nil
}

// process drives one scheduled run through the state machine. Failures are
// tracked and escalated but returned to the caller as run state, never as a
// panic or error crossing the orchestration boundary.
func (s *Scheduler) process(ctx context.Context, run *Run) {
	started := s.cfg.Now()
	run.Status = RunProcessing
	run.StartedAt = &started
	if err := s.history.UpdateRun(run); err != nil {
		log.Printf("[Scheduler] Failed to mark run %s processing: %v", run.ID, err)
	}

	start, end, err := closing.MonthBounds(run.TargetMonth)
	if err != nil {
		s.finishRun(run, started, err)
		return
	}

	var job *backfill.Job
	err = s.errs.Execute(OpDashboard, func() error {
		j, runErr := s.engine.RunBackfill(ctx, backfill.Request{
			StartDate:       start,
			EndDate:         end,
			TargetDistricts: []district.DistrictID{run.DistrictID},
		})
		if runErr != nil {
			return runErr
		}
		job = j
		if j.Status == backfill.JobError {
			return fmt.Errorf("backfill job %s ended in error: %v", j.ID, j.Errors)
		}
		return nil
	})
	if job != nil {
		run.JobID = job.ID
	}
	if err != nil {
		s.finishRun(run, started, err)
		return
	}

	s.verifyCache(run)
	s.finishRun(run, started, nil)
}

// verifyCache checks the refreshed snapshot against the live cache through
// the cache breaker. Inconsistencies are logged, not fatal.
func (s *Scheduler) verifyCache(run *Run) {
	if s.cacheMgr == nil || s.store == nil {
		return
	}
	_, end, err := closing.MonthBounds(run.TargetMonth)
	if err != nil {
		return
	}
	snapshotID := district.DateKey(end)

	err = s.errs.Execute(OpCache, func() error {
		rec := s.store.ReadDistrictData(snapshotID, run.DistrictID)
		if rec == nil {
			return nil // nothing reconciled for this district
		}
		report := s.cacheMgr.CheckCacheConsistency(run.DistrictID, snapshotID, rec)
		if report.CacheIntegrity && !report.Consistent {
			log.Printf("[Scheduler] Cache inconsistency for %s/%s: %v",
				run.DistrictID, snapshotID, report.Issues)
		}
		return nil
	})
	if err != nil {
		log.Printf("[Scheduler] Cache verification skipped for run %s: %v", run.ID, err)
	}
}

func (s *Scheduler) finishRun(run *Run, started time.Time, cause error) {
	finished := s.cfg.Now()
	run.FinishedAt = &finished
	took := finished.Sub(started)

	if cause != nil {
		run.Status = RunFailed
		run.Error = cause.Error()
		s.recordFailure(run, cause)
	} else {
		run.Status = RunCompleted
		s.mu.Lock()
		s.consecutiveFailures = 0
		s.mu.Unlock()
		if took > s.cfg.JobTimeout {
			s.alerts.SendReconciliationTimeoutAlert(run.DistrictID, run.TargetMonth, took, s.cfg.JobTimeout)
		}
	}

	if err := s.history.UpdateRun(run); err != nil {
		log.Printf("[Scheduler] Failed to finalize run %s: %v", run.ID, err)
	}
	log.Printf("[Scheduler] Run %s finished: district=%s month=%s status=%s (%v)",
		run.ID, run.DistrictID, run.TargetMonth, run.Status, took)
}

// recordFailure tracks orchestrator-level consecutive failures and escalates.
// Tracking happens regardless of the alerting toggle.
func (s *Scheduler) recordFailure(run *Run, cause error) {
	s.mu.Lock()
	s.consecutiveFailures++
	count := s.consecutiveFailures
	s.mu.Unlock()

	s.alerts.SendReconciliationFailureAlert(run.DistrictID, run.TargetMonth, cause)
	if errors.Is(cause, ErrBreakerOpen) {
		s.alerts.SendDashboardUnavailableAlert(run.TargetMonth)
	}
	if count == s.cfg.FailureThreshold {
		s.alerts.SendConsecutiveFailureAlert(count, s.cfg.FailureThreshold)
	}
}

// =============================================================================
// OPERATOR CONTROLS
// =============================================================================

// CancelScheduled cancels a run that has not started processing. Returns
// false for unknown runs or runs past the scheduled state.
func (s *Scheduler) CancelScheduled(runID string) bool {
	run, err := s.history.GetRun(runID)
	if err != nil || run == nil || run.Status != RunScheduled {
		return false
	}
	run.Status = RunCancelled
	if err := s.history.UpdateRun(run); err != nil {
		log.Printf("[Scheduler] Failed to cancel run %s: %v", runID, err)
		return false
	}
	return true
}

// ResetErrorState clears all circuit breakers and the consecutive-failure
// counter, and records the reset with an informational alert.
func (s *Scheduler) ResetErrorState() {
	s.errs.Reset()
	s.mu.Lock()
	s.consecutiveFailures = 0
	s.mu.Unlock()
	s.alerts.SendErrorStateResetAlert()
	log.Println("[Scheduler] Error state reset")
}

// ConsecutiveFailures returns the current orchestrator-level failure streak.
func (s *Scheduler) ConsecutiveFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveFailures
}

// BreakerStates exposes breaker state for the health endpoint.
func (s *Scheduler) BreakerStates() map[string]string {
	return s.errs.States()
}

// ListRuns returns recent reconciliation runs, newest first.
func (s *Scheduler) ListRuns(limit int) ([]*Run, error) {
	return s.history.ListRuns(limit)
}
