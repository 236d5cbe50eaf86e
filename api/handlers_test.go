package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/district-engine/api"
	"github.com/warp/district-engine/backfill"
	"github.com/warp/district-engine/district"
	"github.com/warp/district-engine/reconcile"
	"github.com/warp/district-engine/snapshot"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type okCollector struct{}

func (okCollector) FetchDistrictPerformance(ctx context.Context, did district.DistrictID, date time.Time) (*district.PerformanceRecord, error) {
	return &district.PerformanceRecord{
		DistrictID:   did,
		AsOfDate:     district.DateKey(date),
		Month:        district.MonthKey(date),
		TotalMembers: 1100,
		TotalClubs:   35,
		PaidClubs:    30,
		PaidClubPct:  decimal.NewFromFloat(85.7),
	}, nil
}

func (c okCollector) FetchAllDistricts(ctx context.Context, date time.Time) (map[district.DistrictID]*district.PerformanceRecord, error) {
	rec, _ := c.FetchDistrictPerformance(ctx, "42", date)
	return map[district.DistrictID]*district.PerformanceRecord{"42": rec}, nil
}

type apiFixture struct {
	router http.Handler
	store  *snapshot.Store
	engine *backfill.Engine
}

func newAPIFixture(t *testing.T) *apiFixture {
	store := snapshot.NewStore(filepath.Join(t.TempDir(), "snapshots"))
	engine := backfill.NewEngine(store, nil, okCollector{}, nil,
		backfill.NewMemoryJobRepository(), ids("42", "15"), backfill.Config{})

	errs := reconcile.NewErrorHandler(3, 5*time.Minute, nil)
	alerts := reconcile.NewAlerter(reconcile.NoopSink{}, false)
	scheduler := reconcile.NewScheduler(reconcile.NewMemoryHistory(), engine, errs, alerts,
		store, nil, reconcile.Config{})

	h := api.NewHandler(store, engine, scheduler)
	return &apiFixture{router: api.NewRouter(h), store: store, engine: engine}
}

func ids(ss ...string) []district.DistrictID {
	out := make([]district.DistrictID, 0, len(ss))
	for _, s := range ss {
		out = append(out, district.DistrictID(s))
	}
	return out
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) seedSnapshot(t *testing.T) {
	snap := &snapshot.Snapshot{
		DataAsOfDate:       time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC),
		SchemaVersion:      district.CurrentSchemaVersion,
		CalculationVersion: district.CurrentCalculationVersion,
		Status:             snapshot.StatusSuccess,
		Districts: map[district.DistrictID]*district.PerformanceRecord{
			"42": {DistrictID: "42", AsOfDate: "2024-02-29", TotalMembers: 900},
		},
	}
	require.NoError(t, f.store.WriteSnapshot(snap, nil))
}

// =============================================================================
// SNAPSHOT ENDPOINTS
// =============================================================================

func TestAPI_Health(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/healthz", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
}

func TestAPI_LatestSnapshot_EmptyStore404(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/api/snapshots/latest", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_SnapshotReads(t *testing.T) {
	f := newAPIFixture(t)
	f.seedSnapshot(t)

	w := f.do(t, http.MethodGet, "/api/snapshots/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "2024-02-29", list[0]["snapshotId"])

	w = f.do(t, http.MethodGet, "/api/snapshots/latest", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/snapshots/2024-02-29", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/snapshots/2024-02-29/manifest", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/snapshots/2024-02-29/districts/42", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rec district.PerformanceRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, 900, rec.TotalMembers)

	w = f.do(t, http.MethodGet, "/api/snapshots/2024-02-29/districts/99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/snapshots/2024-02-29/rankings", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "no rankings attached")
}

func TestAPI_Compatibility_UnknownSnapshotStill200(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/api/snapshots/2030-01-01/compatibility", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var c snapshot.Compatibility
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
	assert.False(t, c.SchemaCompatible)
	assert.NotEmpty(t, c.Warnings)
}

// =============================================================================
// BACKFILL ENDPOINTS
// =============================================================================

func TestAPI_StartBackfill_Validation(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/backfill/", map[string]string{
		"startDate": "not-a-date", "endDate": "2024-01-31",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/backfill/", map[string]string{
		"startDate": "2024-03-01", "endDate": "2024-01-01",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_BackfillLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/backfill/", api.StartBackfillRequest{
		StartDate:       "2024-01-01",
		EndDate:         "2024-01-31",
		TargetDistricts: []string{"42"},
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	jobID := resp["jobId"]
	require.NotEmpty(t, jobID)

	f.engine.Wait(jobID)

	w = f.do(t, http.MethodGet, "/api/backfill/"+jobID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var job api.BackfillJobDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, string(backfill.JobCompleted), job.Status)
	assert.Equal(t, []string{"42"}, job.ValidDistricts)

	w = f.do(t, http.MethodGet, "/api/backfill/", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Terminal jobs cannot be cancelled.
	w = f.do(t, http.MethodDelete, "/api/backfill/"+jobID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_GetBackfillJob_Unknown404(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/api/backfill/backfill-nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =============================================================================
// RECONCILIATION AND ADMIN ENDPOINTS
// =============================================================================

func TestAPI_ReconciliationRunsAndAdmin(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/reconciliation/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/admin/reset-errors", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/admin/cleanup-jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, 0, out["removed"])
}
