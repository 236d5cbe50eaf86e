package sqlite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/district-engine/reconcile"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestHistory(t *testing.T) *History {
	h, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

// =============================================================================
// CRUD
// =============================================================================

func TestHistory_SaveAndGetRun(t *testing.T) {
	h := newTestHistory(t)
	started := time.Date(2025, time.January, 3, 10, 5, 0, 0, time.UTC)

	run := &reconcile.Run{
		ID:          "recon-42-2024-12-1",
		DistrictID:  "42",
		TargetMonth: "2024-12",
		Status:      reconcile.RunProcessing,
		JobID:       "backfill-123",
		ScheduledAt: time.Date(2025, time.January, 3, 10, 0, 0, 0, time.UTC),
		StartedAt:   &started,
	}
	require.NoError(t, h.SaveRun(run))

	got, err := h.GetRun(run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, run.DistrictID, got.DistrictID)
	assert.Equal(t, "2024-12", got.TargetMonth)
	assert.Equal(t, reconcile.RunProcessing, got.Status)
	assert.Equal(t, "backfill-123", got.JobID)
	assert.True(t, got.ScheduledAt.Equal(run.ScheduledAt))
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(started))
	assert.Nil(t, got.FinishedAt)
}

func TestHistory_GetRun_UnknownID_ReturnsNil(t *testing.T) {
	h := newTestHistory(t)
	got, err := h.GetRun("recon-nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHistory_UpdateRun(t *testing.T) {
	h := newTestHistory(t)
	run := &reconcile.Run{
		ID:          "recon-42-2024-12-1",
		DistrictID:  "42",
		TargetMonth: "2024-12",
		Status:      reconcile.RunScheduled,
		ScheduledAt: time.Now().UTC(),
	}
	require.NoError(t, h.SaveRun(run))

	finished := time.Now().UTC().Truncate(time.Second)
	run.Status = reconcile.RunFailed
	run.Error = "dashboard down"
	run.FinishedAt = &finished
	require.NoError(t, h.UpdateRun(run))

	got, err := h.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, reconcile.RunFailed, got.Status)
	assert.Equal(t, "dashboard down", got.Error)
	require.NotNil(t, got.FinishedAt)

	// Updating a missing row is an error, not a silent no-op.
	missing := &reconcile.Run{ID: "recon-missing", Status: reconcile.RunFailed}
	assert.Error(t, h.UpdateRun(missing))
}

// =============================================================================
// DEDUP INDEX
// =============================================================================

func TestHistory_HasReconciliation_ExcludesCancelled(t *testing.T) {
	h := newTestHistory(t)
	run := &reconcile.Run{
		ID:          "recon-42-2024-12-1",
		DistrictID:  "42",
		TargetMonth: "2024-12",
		Status:      reconcile.RunScheduled,
		ScheduledAt: time.Now().UTC(),
	}
	require.NoError(t, h.SaveRun(run))

	exists, err := h.HasReconciliation("42", "2024-12")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = h.HasReconciliation("42", "2024-11")
	require.NoError(t, err)
	assert.False(t, exists, "different month")

	// Cancelling releases the (district, month) pair.
	run.Status = reconcile.RunCancelled
	require.NoError(t, h.UpdateRun(run))

	exists, err = h.HasReconciliation("42", "2024-12")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHistory_UniqueIndexRejectsDuplicateLiveRuns(t *testing.T) {
	h := newTestHistory(t)
	base := time.Now().UTC()

	first := &reconcile.Run{
		ID: "recon-1", DistrictID: "42", TargetMonth: "2024-12",
		Status: reconcile.RunCompleted, ScheduledAt: base,
	}
	require.NoError(t, h.SaveRun(first))

	// A second live run for the same pair violates the partial unique index.
	dup := &reconcile.Run{
		ID: "recon-2", DistrictID: "42", TargetMonth: "2024-12",
		Status: reconcile.RunScheduled, ScheduledAt: base.Add(time.Minute),
	}
	assert.Error(t, h.SaveRun(dup))

	// A cancelled row does not occupy the pair.
	cancelled := &reconcile.Run{
		ID: "recon-3", DistrictID: "15", TargetMonth: "2024-12",
		Status: reconcile.RunCancelled, ScheduledAt: base,
	}
	require.NoError(t, h.SaveRun(cancelled))
	replacement := &reconcile.Run{
		ID: "recon-4", DistrictID: "15", TargetMonth: "2024-12",
		Status: reconcile.RunScheduled, ScheduledAt: base.Add(time.Minute),
	}
	assert.NoError(t, h.SaveRun(replacement))
}

// =============================================================================
// LISTING
// =============================================================================

func TestHistory_ListRuns_NewestFirstWithLimit(t *testing.T) {
	h := newTestHistory(t)
	base := time.Date(2025, time.January, 3, 10, 0, 0, 0, time.UTC)
	months := []string{"2024-10", "2024-11", "2024-12"}
	for i, month := range months {
		run := &reconcile.Run{
			ID:          "recon-" + month,
			DistrictID:  "42",
			TargetMonth: month,
			Status:      reconcile.RunCompleted,
			ScheduledAt: base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, h.SaveRun(run))
	}

	runs, err := h.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "2024-12", runs[0].TargetMonth)
	assert.Equal(t, "2024-10", runs[2].TargetMonth)

	limited, err := h.ListRuns(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
