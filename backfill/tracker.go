/*
tracker.go - Per-district error tracking and blacklisting

PURPOSE:
  Isolates one district's failures from the rest of a backfill job. Reaching
  the consecutive-failure threshold blacklists the district for a cooldown
  window; any recorded success resets the streak and clears the blacklist.
*/
package backfill

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"time"

	"github.com/warp/district-engine/district"
	"github.com/warp/district-engine/metrics"
)

// TrackedError is one recorded failure for a district within a job.
type TrackedError struct {
	At        time.Time `json:"at"`
	ErrorType string    `json:"errorType"`
	Message   string    `json:"message"`
	Retryable bool      `json:"isRetryable"`
}

// ErrorTracker accumulates one district's failures within a single job.
// Mutated only by the job's own execution path.
type ErrorTracker struct {
	DistrictID          district.DistrictID `json:"districtId"`
	Errors              []TrackedError      `json:"errors"`
	ConsecutiveFailures int                 `json:"consecutiveFailures"`
	IsBlacklisted       bool                `json:"isBlacklisted"`
	BlacklistUntil      time.Time           `json:"blacklistUntil,omitempty"`
	LastSuccessAt       *time.Time          `json:"lastSuccessAt,omitempty"`
}

func newErrorTracker(did district.DistrictID) *ErrorTracker {
	return &ErrorTracker{DistrictID: did}
}

// RecordFailure registers a failure. Crossing the threshold blacklists the
// district until the cooldown elapses.
func (t *ErrorTracker) RecordFailure(at time.Time, err error, threshold int, cooldown time.Duration) {
	errType, retryable := classifyError(err)
	t.Errors = append(t.Errors, TrackedError{
		At:        at,
		ErrorType: errType,
		Message:   err.Error(),
		Retryable: retryable,
	})
	t.ConsecutiveFailures++
	if !t.IsBlacklisted && t.ConsecutiveFailures >= threshold {
		t.IsBlacklisted = true
		t.BlacklistUntil = at.Add(cooldown)
		metrics.DistrictsBlacklistedTotal.Inc()
	}
}

// RecordSuccess resets the failure streak and clears any blacklist.
func (t *ErrorTracker) RecordSuccess(at time.Time) {
	t.ConsecutiveFailures = 0
	t.IsBlacklisted = false
	t.BlacklistUntil = time.Time{}
	success := at
	t.LastSuccessAt = &success
}

// Blacklisted reports whether the district should be skipped at the given
// instant. An expired blacklist no longer blocks processing.
func (t *ErrorTracker) Blacklisted(now time.Time) bool {
	return t.IsBlacklisted && now.Before(t.BlacklistUntil)
}

// classifyError buckets a fetch error for tracking. Network-shaped failures
// are retryable; hard "no such district" responses are not.
func classifyError(err error) (errType string, retryable bool) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout", true
	case errors.Is(err, os.ErrNotExist):
		return "not_found", false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout", true
		}
		return "network", true
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection"):
		return "network", true
	case strings.Contains(msg, "not found"), strings.Contains(msg, "unknown district"):
		return "not_found", false
	default:
		return "fetch_error", true
	}
}
