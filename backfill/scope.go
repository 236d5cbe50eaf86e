/*
scope.go - Scope validation for backfill requests

PURPOSE:
  Classifies a request's target districts against the configured district set
  and rejects or narrows out-of-scope requests before any I/O begins.

RULES:
  - Empty target list        => system-wide scope over all configured districts
  - Zero configured districts => every requested district is in scope
  - All targets invalid       => validation error ("no valid districts to process")
  - Some targets invalid      => invalid ones dropped and recorded as scope
                                 violations, never silently ignored
*/
package backfill

import (
	"errors"
	"fmt"

	"github.com/warp/district-engine/district"
)

// ErrNoValidDistricts is returned when scope validation leaves nothing to do.
var ErrNoValidDistricts = errors.New("no valid districts to process")

type ScopeType string

const (
	ScopeSingleDistrict ScopeType = "single-district"
	ScopeTargeted       ScopeType = "targeted"
	ScopeSystemWide     ScopeType = "system-wide"
)

// ViolationNotConfigured marks a requested district absent from the
// configured set.
const ViolationNotConfigured = "not_configured"

type ScopeViolation struct {
	DistrictID district.DistrictID `json:"districtId"`
	Type       string              `json:"type"`
	Message    string              `json:"message"`
}

// Scope is the validated extent of a backfill job. ConfiguredDistricts is a
// point-in-time copy of the configuration the scope was validated against.
type Scope struct {
	Type                ScopeType             `json:"type"`
	ValidDistricts      []district.DistrictID `json:"validDistricts"`
	InvalidDistricts    []district.DistrictID `json:"invalidDistricts,omitempty"`
	ConfiguredDistricts []district.DistrictID `json:"configuredDistricts"`
	Violations          []ScopeViolation      `json:"violations,omitempty"`
}

// ValidateScope classifies and narrows the requested targets.
func ValidateScope(targets, configured []district.DistrictID) (*Scope, error) {
	scope := &Scope{
		ConfiguredDistricts: append([]district.DistrictID(nil), configured...),
	}

	if len(targets) == 0 {
		scope.Type = ScopeSystemWide
		scope.ValidDistricts = append([]district.DistrictID(nil), configured...)
		if len(scope.ValidDistricts) == 0 {
			return nil, fmt.Errorf("%w: system-wide scope with no configured districts", ErrNoValidDistricts)
		}
		return scope, nil
	}

	if len(configured) == 0 {
		// Nothing configured: trust the request.
		scope.ValidDistricts = append([]district.DistrictID(nil), targets...)
	} else {
		known := make(map[district.DistrictID]bool, len(configured))
		for _, d := range configured {
			known[d] = true
		}
		for _, d := range targets {
			if known[d] {
				scope.ValidDistricts = append(scope.ValidDistricts, d)
				continue
			}
			scope.InvalidDistricts = append(scope.InvalidDistricts, d)
			scope.Violations = append(scope.Violations, ScopeViolation{
				DistrictID: d,
				Type:       ViolationNotConfigured,
				Message:    fmt.Sprintf("district %s is not in the configured district set", d),
			})
		}
	}

	if len(scope.ValidDistricts) == 0 {
		return nil, fmt.Errorf("%w: requested districts %v are not configured", ErrNoValidDistricts, targets)
	}

	switch len(scope.ValidDistricts) {
	case 1:
		scope.Type = ScopeSingleDistrict
	default:
		scope.Type = ScopeTargeted
	}
	return scope, nil
}

// Contains reports whether a district is inside the validated scope.
func (s *Scope) Contains(did district.DistrictID) bool {
	for _, d := range s.ValidDistricts {
		if d == did {
			return true
		}
	}
	return false
}
