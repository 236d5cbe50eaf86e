/*
handlers.go - HTTP API handlers for the snapshot engine

PURPOSE:
  Exposes snapshot inspection, backfill control, and reconciliation history
  over REST. Handles HTTP request/response and JSON serialization, and
  delegates everything else to the engine packages.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 500: Internal errors
  Store-level "not found" reads surface as 404s here even though the store
  itself reports them as nil results.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/district-engine/backfill"
	"github.com/warp/district-engine/district"
	"github.com/warp/district-engine/reconcile"
	"github.com/warp/district-engine/snapshot"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *snapshot.Store
	Engine    *backfill.Engine
	Scheduler *reconcile.Scheduler

	// Districts supplies the configured district set for manual triggers.
	Districts func() []district.DistrictID
}

// NewHandler creates a new handler with the given dependencies.
func NewHandler(store *snapshot.Store, engine *backfill.Engine, scheduler *reconcile.Scheduler) *Handler {
	return &Handler{Store: store, Engine: engine, Scheduler: scheduler}
}

// =============================================================================
// SNAPSHOT HANDLERS
// =============================================================================

// ListSnapshots returns snapshot metadata, newest first.
// Query params: from, to (YYYY-MM-DD), status (success|failed).
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	filter := &snapshot.ListFilter{
		From:   r.URL.Query().Get("from"),
		To:     r.URL.Query().Get("to"),
		Status: snapshot.Status(r.URL.Query().Get("status")),
	}
	metas := h.Store.ListSnapshots(filter)
	out := make([]SnapshotSummaryDTO, 0, len(metas))
	for _, m := range metas {
		out = append(out, toSnapshotSummaryDTO(m))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetLatestSnapshot returns the most recent successful snapshot's metadata
// and district IDs, or 404 when the store is empty.
func (h *Handler) GetLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Store.GetLatestSuccessful()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if snap == nil {
		writeError(w, http.StatusNotFound, "no successful snapshot available")
		return
	}

	districts := make([]string, 0, len(snap.Districts))
	for did := range snap.Districts {
		districts = append(districts, string(did))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshotId":         snap.ID(),
		"createdAt":          snap.CreatedAt.Format(time.RFC3339),
		"schemaVersion":      snap.SchemaVersion,
		"calculationVersion": snap.CalculationVersion,
		"districts":          districts,
	})
}

func (h *Handler) GetSnapshotMetadata(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	meta := h.Store.GetSnapshotMetadata(id)
	if meta == nil {
		writeError(w, http.StatusNotFound, "snapshot not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (h *Handler) GetSnapshotManifest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	manifest := h.Store.GetSnapshotManifest(id)
	if manifest == nil {
		writeError(w, http.StatusNotFound, "manifest not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, manifest)
}

func (h *Handler) CheckCompatibility(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Store.CheckVersionCompatibility(chi.URLParam(r, "id")))
}

func (h *Handler) GetRankings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rankings := h.Store.ReadAllDistrictsRankings(id)
	if rankings == nil {
		writeError(w, http.StatusNotFound, "rankings not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, rankings)
}

func (h *Handler) GetDistrictData(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	did := district.DistrictID(chi.URLParam(r, "districtID"))
	rec := h.Store.ReadDistrictData(id, did)
	if rec == nil {
		writeError(w, http.StatusNotFound, "no data for district "+string(did)+" in snapshot "+id)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// =============================================================================
// BACKFILL HANDLERS
// =============================================================================

// StartBackfill validates and launches a backfill job, returning its ID.
func (h *Handler) StartBackfill(w http.ResponseWriter, r *http.Request) {
	var req StartBackfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid startDate: "+req.StartDate)
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endDate: "+req.EndDate)
		return
	}

	targets := make([]district.DistrictID, 0, len(req.TargetDistricts))
	for _, d := range req.TargetDistricts {
		targets = append(targets, district.DistrictID(d))
	}

	jobID, err := h.Engine.StartBackfill(r.Context(), backfill.Request{
		StartDate:          start,
		EndDate:            end,
		TargetDistricts:    targets,
		Strategy:           backfill.Strategy(req.Strategy),
		ForceRecalculation: req.ForceRecalc,
	})
	if err != nil {
		// Validation failures happen before any I/O; everything here is 400.
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (h *Handler) ListBackfillJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.Engine.ListJobs()
	out := make([]BackfillJobDTO, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, toBackfillJobDTO(job))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetBackfillJob always succeeds for known jobs, even mid-failure.
func (h *Handler) GetBackfillJob(w http.ResponseWriter, r *http.Request) {
	job := h.Engine.GetJob(chi.URLParam(r, "id"))
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, toBackfillJobDTO(job))
}

func (h *Handler) CancelBackfill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.Engine.CancelBackfill(id) {
		writeError(w, http.StatusNotFound, "job not found or already terminal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"jobId": id, "status": "cancellation requested"})
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := h.Scheduler.ListRuns(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// TriggerMonthTransition runs the month-transition check immediately.
func (h *Handler) TriggerMonthTransition(w http.ResponseWriter, r *http.Request) {
	var req TriggerScheduleRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	var districts []district.DistrictID
	if len(req.Districts) > 0 {
		for _, d := range req.Districts {
			districts = append(districts, district.DistrictID(d))
		}
	} else if h.Districts != nil {
		districts = h.Districts()
	}

	count, err := h.Scheduler.AutoScheduleForMonthTransition(r.Context(), districts)
	if err != nil {
		if errors.Is(err, reconcile.ErrBreakerOpen) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"scheduled": count})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

func (h *Handler) ResetErrorState(w http.ResponseWriter, r *http.Request) {
	h.Scheduler.ResetErrorState()
	writeJSON(w, http.StatusOK, map[string]string{"status": "error state reset"})
}

func (h *Handler) CleanupJobs(w http.ResponseWriter, r *http.Request) {
	removed := h.Engine.CleanupOldJobs()
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health := HealthDTO{Status: "ok", Storage: h.Store.Stats()}
	if h.Scheduler != nil {
		health.Breakers = h.Scheduler.BreakerStates()
	}
	writeJSON(w, http.StatusOK, health)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorDTO{Error: msg})
}
