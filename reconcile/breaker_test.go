package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHandler_SuccessPassesThrough(t *testing.T) {
	h := NewErrorHandler(3, time.Minute, nil)

	called := false
	err := h.Execute(OpDashboard, func() error {
		called = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, called)
	assert.False(t, h.BreakerOpen(OpDashboard))
}

func TestErrorHandler_OpensAtThresholdAndFailsFast(t *testing.T) {
	now := time.Date(2025, time.January, 3, 10, 0, 0, 0, time.UTC)
	h := NewErrorHandler(3, time.Minute, func() time.Time { return now })
	boom := errors.New("dashboard down")

	// GIVEN: Three consecutive failures
	for i := 0; i < 3; i++ {
		err := h.Execute(OpDashboard, func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}
	require.True(t, h.BreakerOpen(OpDashboard))

	// WHEN: Another call arrives while the breaker is open
	called := false
	err := h.Execute(OpDashboard, func() error {
		called = true
		return nil
	})

	// THEN: It fails fast; the wrapped function is never invoked
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.False(t, called)
}

func TestErrorHandler_HalfOpenProbeAfterCooldown(t *testing.T) {
	now := time.Date(2025, time.January, 3, 10, 0, 0, 0, time.UTC)
	h := NewErrorHandler(2, time.Minute, func() time.Time { return now })
	boom := errors.New("down")

	h.Execute(OpDashboard, func() error { return boom })
	h.Execute(OpDashboard, func() error { return boom })
	require.True(t, h.BreakerOpen(OpDashboard))

	// Cooldown elapses: one probe is let through.
	now = now.Add(2 * time.Minute)
	err := h.Execute(OpDashboard, func() error { return nil })
	assert.NoError(t, err)
	assert.False(t, h.BreakerOpen(OpDashboard), "successful probe closes the breaker")

	// A failed probe re-opens immediately.
	h.Execute(OpDashboard, func() error { return boom })
	h.Execute(OpDashboard, func() error { return boom })
	require.True(t, h.BreakerOpen(OpDashboard))
	now = now.Add(2 * time.Minute)
	err = h.Execute(OpDashboard, func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.True(t, h.BreakerOpen(OpDashboard))
}

func TestErrorHandler_BreakersAreIndependent(t *testing.T) {
	h := NewErrorHandler(1, time.Minute, nil)
	h.Execute(OpDashboard, func() error { return errors.New("down") })

	assert.True(t, h.BreakerOpen(OpDashboard))
	assert.False(t, h.BreakerOpen(OpCache))

	err := h.Execute(OpCache, func() error { return nil })
	assert.NoError(t, err)
}

func TestErrorHandler_ResetAndStates(t *testing.T) {
	h := NewErrorHandler(1, time.Minute, nil)
	h.Execute(OpDashboard, func() error { return errors.New("down") })
	h.Execute(OpCache, func() error { return nil })

	states := h.States()
	assert.Equal(t, "open", states[OpDashboard])
	assert.Equal(t, "closed", states[OpCache])

	h.Reset()
	assert.False(t, h.BreakerOpen(OpDashboard))
	assert.Equal(t, "closed", h.States()[OpDashboard])
}
