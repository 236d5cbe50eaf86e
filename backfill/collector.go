/*
collector.go - External collaborator interfaces for the backfill engine

PURPOSE:
  The engine never talks to the dashboard or the analytics pipeline directly;
  it consumes these narrow interfaces. The real implementations (scraping
  client, analytics reader) live outside this module.

FAILURE CONTRACT:
  Collector calls may fail; the engine treats each call's error as a
  per-district failure, never as a fatal job error. A nil analytics summary
  means "not yet computed" and disables the resumability skip for that unit.
*/
package backfill

import (
	"context"
	"time"

	"github.com/warp/district-engine/district"
)

// Collector fetches raw per-district performance records from the upstream
// dashboard for a given as-of date.
type Collector interface {
	// FetchDistrictPerformance fetches one district's record.
	FetchDistrictPerformance(ctx context.Context, did district.DistrictID, date time.Time) (*district.PerformanceRecord, error)

	// FetchAllDistricts fetches every district's record in one pull.
	FetchAllDistricts(ctx context.Context, date time.Time) (map[district.DistrictID]*district.PerformanceRecord, error)
}

// AnalyticsSummary is the derived-analytics marker consulted for
// resumability. Its contents are opaque to the engine; existence is what
// matters.
type AnalyticsSummary struct {
	DistrictID  district.DistrictID `json:"districtId"`
	SnapshotID  string              `json:"snapshotId"`
	ComputedAt  time.Time           `json:"computedAt"`
	HealthScore string              `json:"healthScore,omitempty"`
}

// AnalyticsReader answers "has analytics already been derived for this
// (district, snapshot)?". A nil summary means not yet computed, so the
// backfill must not skip that unit.
type AnalyticsReader interface {
	GetAnalyticsSummary(did district.DistrictID, snapshotID string) *AnalyticsSummary
}
