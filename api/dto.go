/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for the HTTP surface. These types decouple the internal
  domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and in the engine (which validates before
  any I/O). DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/district-engine/backfill"
	"github.com/warp/district-engine/snapshot"
)

// =============================================================================
// BACKFILL
// =============================================================================

// StartBackfillRequest starts a backfill over [startDate, endDate].
type StartBackfillRequest struct {
	StartDate       string   `json:"startDate"` // YYYY-MM-DD
	EndDate         string   `json:"endDate"`   // YYYY-MM-DD
	TargetDistricts []string `json:"targetDistricts,omitempty"`
	Strategy        string   `json:"strategy,omitempty"`
	ForceRecalc     bool     `json:"forceRecalculation,omitempty"`
}

// BackfillJobDTO is the externally visible job state.
type BackfillJobDTO struct {
	ID               string                           `json:"id"`
	Status           string                           `json:"status"`
	ScopeType        string                           `json:"scopeType"`
	ValidDistricts   []string                         `json:"validDistricts"`
	InvalidDistricts []string                         `json:"invalidDistricts,omitempty"`
	Progress         backfill.Progress                `json:"progress"`
	PartialSnapshots []backfill.PartialSnapshotResult `json:"partialSnapshots,omitempty"`
	Errors           []string                         `json:"errors,omitempty"`
	StartedAt        time.Time                        `json:"startedAt"`
	FinishedAt       *time.Time                       `json:"finishedAt,omitempty"`
}

func toBackfillJobDTO(job *backfill.Job) BackfillJobDTO {
	dto := BackfillJobDTO{
		ID:               job.ID,
		Status:           string(job.Status),
		Progress:         job.Progress,
		PartialSnapshots: job.PartialSnapshots,
		Errors:           job.Errors,
		StartedAt:        job.StartedAt,
	}
	if job.Scope != nil {
		dto.ScopeType = string(job.Scope.Type)
		for _, d := range job.Scope.ValidDistricts {
			dto.ValidDistricts = append(dto.ValidDistricts, string(d))
		}
		for _, d := range job.Scope.InvalidDistricts {
			dto.InvalidDistricts = append(dto.InvalidDistricts, string(d))
		}
	}
	if !job.FinishedAt.IsZero() {
		t := job.FinishedAt
		dto.FinishedAt = &t
	}
	return dto
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// SnapshotSummaryDTO is a listing row.
type SnapshotSummaryDTO struct {
	SnapshotID         string `json:"snapshotId"`
	Status             string `json:"status"`
	CreatedAt          string `json:"createdAt"`
	SchemaVersion      string `json:"schemaVersion"`
	CalculationVersion string `json:"calculationVersion"`
	DistrictCount      int    `json:"districtCount"`
	ErrorCount         int    `json:"errorCount"`
}

func toSnapshotSummaryDTO(m snapshot.Metadata) SnapshotSummaryDTO {
	return SnapshotSummaryDTO{
		SnapshotID:         m.SnapshotID,
		Status:             string(m.Status),
		CreatedAt:          m.CreatedAt.Format(time.RFC3339),
		SchemaVersion:      m.SchemaVersion,
		CalculationVersion: m.CalculationVersion,
		DistrictCount:      m.DistrictCount,
		ErrorCount:         m.ErrorCount,
	}
}

// =============================================================================
// MISC
// =============================================================================

// TriggerScheduleRequest forces a month-transition check for the given
// districts (empty = all configured).
type TriggerScheduleRequest struct {
	Districts []string `json:"districts,omitempty"`
}

// ErrorDTO is the uniform error envelope.
type ErrorDTO struct {
	Error string `json:"error"`
}

// HealthDTO reports liveness plus storage and breaker state.
type HealthDTO struct {
	Status   string                `json:"status"`
	Storage  snapshot.StorageStats `json:"storage"`
	Breakers map[string]string     `json:"breakers,omitempty"`
}
