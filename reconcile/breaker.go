/*
breaker.go - Circuit breakers keyed by operation class

PURPOSE:
  Guards outbound calls to the dashboard data source and the cache layer.
  After a failure threshold is crossed the breaker opens and calls fail fast
  with ErrBreakerOpen - no network or disk I/O is attempted - until the
  cooldown elapses.

DESIGN:
  No process-wide state. The ErrorHandler is constructed explicitly and
  injected into the scheduler; breakers live in a map it owns, keyed by
  operation name.
*/
package reconcile

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/warp/district-engine/metrics"
)

// Operation classes guarded by breakers.
const (
	OpDashboard = "reconciliation-dashboard"
	OpCache     = "reconciliation-cache"
)

// ErrBreakerOpen is returned when a call is rejected without being attempted.
var ErrBreakerOpen = errors.New("circuit breaker open")

// CircuitBreaker tracks consecutive failures for one operation class.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	failures int
	openedAt time.Time
	open     bool
}

func newCircuitBreaker(name string, threshold int, cooldown time.Duration, now func() time.Time) *CircuitBreaker {
	return &CircuitBreaker{name: name, threshold: threshold, cooldown: cooldown, now: now}
}

// Allow reports whether a call may proceed. An open breaker whose cooldown
// has elapsed lets one probe through; its outcome re-opens or closes it.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	if b.now().Sub(b.openedAt) >= b.cooldown {
		// Half-open probe.
		b.open = false
		b.failures = b.threshold - 1
		return true
	}
	return false
}

func (b *CircuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.open = false
}

func (b *CircuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold && !b.open {
		b.open = true
		b.openedAt = b.now()
		metrics.BreakerOpenTotal.WithLabelValues(b.name).Inc()
	}
}

// Open reports whether the breaker is currently open.
func (b *CircuitBreaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open && b.now().Sub(b.openedAt) < b.cooldown
}

func (b *CircuitBreaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.open = false
	b.openedAt = time.Time{}
}

// =============================================================================
// ERROR HANDLER
// =============================================================================

// ErrorHandler owns the breaker map. One instance per scheduler/engine wiring;
// injected, never global.
type ErrorHandler struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewErrorHandler creates a handler whose breakers open after threshold
// consecutive failures and stay open for cooldown.
func NewErrorHandler(threshold int, cooldown time.Duration, now func() time.Time) *ErrorHandler {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &ErrorHandler{
		threshold: threshold,
		cooldown:  cooldown,
		now:       now,
		breakers:  make(map[string]*CircuitBreaker),
	}
}

func (h *ErrorHandler) breaker(op string) *CircuitBreaker {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.breakers[op]
	if !ok {
		b = newCircuitBreaker(op, h.threshold, h.cooldown, h.now)
		h.breakers[op] = b
	}
	return b
}

// Execute runs fn under the breaker for the given operation class. When the
// breaker is open the call fails fast without invoking fn.
func (h *ErrorHandler) Execute(op string, fn func() error) error {
	b := h.breaker(op)
	if !b.Allow() {
		return fmt.Errorf("%w: %s", ErrBreakerOpen, op)
	}
	if err := fn(); err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// BreakerOpen reports whether the breaker for an operation class is open.
func (h *ErrorHandler) BreakerOpen(op string) bool {
	return h.breaker(op).Open()
}

// Reset clears every breaker.
func (h *ErrorHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, b := range h.breakers {
		b.reset()
	}
}

// States returns op -> "open"/"closed" for inspection endpoints.
func (h *ErrorHandler) States() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]string, len(h.breakers))
	for op, b := range h.breakers {
		state := "closed"
		if b.Open() {
			state = "open"
		}
		out[op] = state
	}
	return out
}
