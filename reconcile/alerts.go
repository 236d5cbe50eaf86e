/*
alerts.go - Alert escalation interface

PURPOSE:
  The scheduler raises alerts on reconciliation failure, timeout, dashboard
  unavailability, and consecutive-failure escalation. Delivery transport
  (e-mail, webhook) lives outside this module; this file defines the sink
  interface and the enable/disable wrapper.

DISABLED ALERTING:
  When alerting is disabled by configuration, every Send* call is skipped but
  error tracking in the scheduler still occurs.
*/
package reconcile

import (
	"fmt"
	"log"
	"time"

	"github.com/warp/district-engine/district"
	"github.com/warp/district-engine/metrics"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityHigh    Severity = "high"
)

// Sink delivers alerts. Implementations must be safe to call concurrently.
type Sink interface {
	SendAlert(severity Severity, category, title, body string, context map[string]string) error
}

// NoopSink drops all alerts; used under test and when no transport is wired.
type NoopSink struct{}

func (NoopSink) SendAlert(Severity, string, string, string, map[string]string) error { return nil }

// LogSink writes alerts to the process log.
type LogSink struct{}

func (LogSink) SendAlert(severity Severity, category, title, body string, ctx map[string]string) error {
	log.Printf("[Alert:%s] %s: %s - %s %v", severity, category, title, body, ctx)
	return nil
}

// =============================================================================
// ALERTER - enable/disable wrapper with specialized variants
// =============================================================================

// Alerter wraps a sink with the global alerting toggle.
type Alerter struct {
	sink    Sink
	enabled bool
}

func NewAlerter(sink Sink, enabled bool) *Alerter {
	if sink == nil {
		sink = NoopSink{}
	}
	return &Alerter{sink: sink, enabled: enabled}
}

func (a *Alerter) send(severity Severity, category, title, body string, ctx map[string]string) {
	if !a.enabled {
		return
	}
	metrics.AlertsSentTotal.WithLabelValues(string(severity)).Inc()
	if err := a.sink.SendAlert(severity, category, title, body, ctx); err != nil {
		log.Printf("[Alerter] Failed to deliver alert %q: %v", title, err)
	}
}

// SendReconciliationFailureAlert reports one district's failed reconciliation.
func (a *Alerter) SendReconciliationFailureAlert(did district.DistrictID, targetMonth string, cause error) {
	a.send(SeverityWarning, "reconciliation", "Reconciliation failed",
		fmt.Sprintf("district %s, month %s: %v", did, targetMonth, cause),
		map[string]string{"districtId": string(did), "targetMonth": targetMonth})
}

// SendReconciliationTimeoutAlert reports a reconciliation that exceeded the
// configured duration ceiling.
func (a *Alerter) SendReconciliationTimeoutAlert(did district.DistrictID, targetMonth string, took, ceiling time.Duration) {
	a.send(SeverityWarning, "reconciliation", "Reconciliation exceeded time ceiling",
		fmt.Sprintf("district %s, month %s took %v (ceiling %v)", did, targetMonth, took, ceiling),
		map[string]string{"districtId": string(did), "targetMonth": targetMonth})
}

// SendDashboardUnavailableAlert reports complete dashboard unavailability.
func (a *Alerter) SendDashboardUnavailableAlert(targetMonth string) {
	a.send(SeverityHigh, "dashboard", "Dashboard unavailable",
		fmt.Sprintf("dashboard circuit breaker open while reconciling %s", targetMonth),
		map[string]string{"targetMonth": targetMonth})
}

// SendConsecutiveFailureAlert escalates after the orchestrator-level
// consecutive-failure threshold is crossed.
func (a *Alerter) SendConsecutiveFailureAlert(count, threshold int) {
	a.send(SeverityHigh, "reconciliation", "Consecutive reconciliation failures",
		fmt.Sprintf("%d consecutive failures (threshold %d)", count, threshold),
		map[string]string{"count": fmt.Sprintf("%d", count)})
}

// SendErrorStateResetAlert records a manual error-state reset.
func (a *Alerter) SendErrorStateResetAlert() {
	a.send(SeverityInfo, "reconciliation", "Error state reset",
		"circuit breakers and failure counters cleared by operator", nil)
}
