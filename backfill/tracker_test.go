package backfill

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var trackerEpoch = time.Date(2024, time.June, 1, 10, 0, 0, 0, time.UTC)

func TestErrorTracker_BlacklistAtThreshold(t *testing.T) {
	tr := newErrorTracker("42")
	err := errors.New("connection refused")

	for i := 0; i < 4; i++ {
		tr.RecordFailure(trackerEpoch.Add(time.Duration(i)*time.Minute), err, 5, 30*time.Minute)
		assert.False(t, tr.IsBlacklisted, "failure %d should not blacklist yet", i+1)
	}

	// Fifth consecutive failure crosses the threshold.
	at := trackerEpoch.Add(4 * time.Minute)
	tr.RecordFailure(at, err, 5, 30*time.Minute)
	assert.True(t, tr.IsBlacklisted)
	assert.Equal(t, at.Add(30*time.Minute), tr.BlacklistUntil)
	assert.Equal(t, 5, tr.ConsecutiveFailures)
	assert.Len(t, tr.Errors, 5)

	assert.True(t, tr.Blacklisted(at.Add(10*time.Minute)))
	assert.False(t, tr.Blacklisted(at.Add(31*time.Minute)), "cooldown elapsed")
}

func TestErrorTracker_SuccessResetsStreakAndBlacklist(t *testing.T) {
	tr := newErrorTracker("42")
	err := errors.New("timeout")
	for i := 0; i < 5; i++ {
		tr.RecordFailure(trackerEpoch, err, 5, 30*time.Minute)
	}
	assert.True(t, tr.IsBlacklisted)

	tr.RecordSuccess(trackerEpoch.Add(time.Minute))

	assert.False(t, tr.IsBlacklisted)
	assert.Equal(t, 0, tr.ConsecutiveFailures)
	assert.False(t, tr.Blacklisted(trackerEpoch.Add(2*time.Minute)))
	assert.NotNil(t, tr.LastSuccessAt)
	// History is kept for diagnostics even after the reset.
	assert.Len(t, tr.Errors, 5)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err       error
		wantType  string
		retryable bool
	}{
		{context.DeadlineExceeded, "timeout", true},
		{errors.New("dial tcp: connection refused"), "network", true},
		{errors.New("district not found"), "not_found", false},
		{errors.New("unknown district 99"), "not_found", false},
		{errors.New("something odd"), "fetch_error", true},
	}
	for _, tt := range tests {
		gotType, gotRetry := classifyError(tt.err)
		assert.Equal(t, tt.wantType, gotType, "error %v", tt.err)
		assert.Equal(t, tt.retryable, gotRetry, "error %v", tt.err)
	}
}
