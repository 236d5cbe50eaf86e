/*
Package district defines the per-district performance records stored in snapshots.

PURPOSE:
  Closed, versioned record types for district performance data. The upstream
  dashboard exposes loosely-typed CSV rows; this package pins them to concrete
  structs per schema version with an explicit migration path between versions.

KEY CONCEPTS IN THIS FILE (types.go):
  - PerformanceRecord: One district's metrics as of a calendar date
  - ClubPerformance: One club's row inside a district record
  - Ranking: A district's position in the all-districts ranking
  - Schema versioning: CurrentSchemaVersion + MigrateRecord

DESIGN PRINCIPLES:
  1. Closed structs: no map[string]interface{} field bags; unknown upstream
     columns are dropped at ingest, not smuggled through
  2. Precision: percentage metrics use decimal.Decimal, never float64
  3. Explicit migration: reads of older schema versions go through
     MigrateRecord rather than ad hoc optional-field access

SEE ALSO:
  - snapshot/types.go: Snapshot envelope around these records
  - snapshot/store.go: Persistence
*/
package district

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SCHEMA VERSIONING
// =============================================================================

const (
	// CurrentSchemaVersion is the version written by this build.
	// v1: membership + club counts only
	// v2: adds payment totals and distinguished-club percentages
	CurrentSchemaVersion = "2.0"

	// CurrentCalculationVersion identifies the derivation algorithm used to
	// compute derived fields (percentages, deltas). Bumped when the math
	// changes so backfills know which snapshots to re-derive.
	CurrentCalculationVersion = "1.3"

	// CurrentRankingsVersion identifies the all-districts ranking algorithm.
	CurrentRankingsVersion = "2.1"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type DistrictID string

func (d DistrictID) String() string { return string(d) }

// =============================================================================
// PERFORMANCE RECORD - One district's metrics as of a date
// =============================================================================

// PerformanceRecord is the payload stored per district inside a snapshot.
// Immutable once persisted with a successful status.
type PerformanceRecord struct {
	DistrictID DistrictID `json:"districtId"`
	AsOfDate   string     `json:"asOfDate"` // YYYY-MM-DD
	Month      string     `json:"month"`    // YYYY-MM reporting month

	// Membership
	TotalMembers   int `json:"totalMembers"`
	MembershipBase int `json:"membershipBase"`
	NewMembers     int `json:"newMembers"`

	// Payments
	AprilPayments   int `json:"aprilPayments"`
	OctoberPayments int `json:"octoberPayments"`
	TotalPayments   int `json:"totalPayments"`

	// Clubs
	TotalClubs         int `json:"totalClubs"`
	PaidClubs          int `json:"paidClubs"`
	ActiveClubs        int `json:"activeClubs"`
	DistinguishedClubs int `json:"distinguishedClubs"`

	// Derived percentages (calculation-version dependent)
	PaidClubPct          decimal.Decimal `json:"paidClubPct"`
	DistinguishedClubPct decimal.Decimal `json:"distinguishedClubPct"`
	MembershipGrowthPct  decimal.Decimal `json:"membershipGrowthPct"`

	Clubs []ClubPerformance `json:"clubs,omitempty"`
}

// ClubPerformance is a single club row within a district record.
type ClubPerformance struct {
	ClubID       string          `json:"clubId"`
	ClubName     string          `json:"clubName"`
	Area         string          `json:"area"`
	Division     string          `json:"division"`
	Members      int             `json:"members"`
	GoalsMet     int             `json:"goalsMet"`
	GoalProgress decimal.Decimal `json:"goalProgress"`
}

// =============================================================================
// RANKING - A district's position in the all-districts ranking
// =============================================================================

type Ranking struct {
	DistrictID    DistrictID      `json:"districtId"`
	Rank          int             `json:"rank"`
	Score         decimal.Decimal `json:"score"`
	PaidClubPct   decimal.Decimal `json:"paidClubPct"`
	MemberGrowth  decimal.Decimal `json:"memberGrowth"`
	PreviousRank  int             `json:"previousRank,omitempty"`
	RankDelta     int             `json:"rankDelta,omitempty"`
}

// =============================================================================
// SCHEMA MIGRATION
// =============================================================================

// MigrateRecord upgrades a record read under an older schema version to the
// current schema. Unknown future versions are rejected rather than guessed at.
func MigrateRecord(rec *PerformanceRecord, fromVersion string) (*PerformanceRecord, error) {
	switch fromVersion {
	case CurrentSchemaVersion:
		return rec, nil
	case "1.0", "1.1":
		migrated := *rec
		// v1 had no payment totals; derive the total from the halves so
		// downstream consumers see a populated field.
		if migrated.TotalPayments == 0 {
			migrated.TotalPayments = migrated.AprilPayments + migrated.OctoberPayments
		}
		// v1 never computed distinguished percentages.
		if migrated.DistinguishedClubPct.IsZero() && migrated.TotalClubs > 0 {
			migrated.DistinguishedClubPct = decimal.NewFromInt(int64(migrated.DistinguishedClubs)).
				Div(decimal.NewFromInt(int64(migrated.TotalClubs))).
				Mul(decimal.NewFromInt(100)).
				Round(2)
		}
		return &migrated, nil
	default:
		return nil, fmt.Errorf("unsupported schema version %q", fromVersion)
	}
}

// =============================================================================
// DATE HELPERS
// =============================================================================

// DateKey converts an instant to the ISO date key used throughout the store.
// The date component is taken in UTC regardless of the input offset.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// MonthKey converts an instant to the YYYY-MM reporting-month key.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
