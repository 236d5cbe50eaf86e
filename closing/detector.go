/*
Package closing classifies whether a data pull belongs to a still-closing
reporting month.

PURPOSE:
  The upstream dashboard keeps publishing revised numbers for a month during
  the first days of the following month. A pull made on March 5th whose data
  month is February is therefore a "closing period" pull: it represents
  February, and its snapshot must be dated to the last calendar day of
  February, not to the pull date.

DESIGN:
  Pure calendar arithmetic. No I/O, no state across calls. Invalid inputs
  never panic or return an error; they fall back to "not a closing period"
  with the inputs echoed back and a warning attached to the result.

USAGE:
  det := closing.Detect("2024-03-05", "2024-02")
  // det.IsClosingPeriod == true, det.SnapshotDate == "2024-02-29"

SEE ALSO:
  - reconcile/scheduler.go: Uses the same previous-month arithmetic
  - snapshot/store.go: Snapshot IDs derived from SnapshotDate
*/
package closing

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Detection is the result of classifying a pull against its data month.
type Detection struct {
	IsClosingPeriod bool
	DataMonth       string // normalized YYYY-MM
	AsOfDate        string // the date the data represents
	SnapshotDate    string // the date the snapshot should be keyed by
	CollectionDate  string // the pull date
	Warning         string // non-empty when inputs were invalid and echoed back
}

// MonthRef is a resolved (year, month) pair.
type MonthRef struct {
	Year  int
	Month int
}

// Detect classifies a pull. pullDate must be YYYY-MM-DD; dataMonth may be
// YYYY-MM or a bare MM (resolved against the pull month: a bare month less
// than or equal to the pull month is the same year, otherwise the previous
// year, which handles December data collected in January).
func Detect(pullDate, dataMonth string) Detection {
	fallback := Detection{
		IsClosingPeriod: false,
		DataMonth:       dataMonth,
		AsOfDate:        pullDate,
		SnapshotDate:    pullDate,
		CollectionDate:  pullDate,
	}

	pull, err := time.Parse("2006-01-02", pullDate)
	if err != nil {
		fallback.Warning = fmt.Sprintf("invalid pull date %q", pullDate)
		return fallback
	}

	ref := ParseDataMonth(dataMonth, pull.Year(), int(pull.Month()))
	if ref == nil {
		fallback.Warning = fmt.Sprintf("unparsable data month %q", dataMonth)
		return fallback
	}

	normalized := fmt.Sprintf("%04d-%02d", ref.Year, ref.Month)

	// Closing period: the data month is strictly earlier than the pull month.
	isClosing := ref.Year < pull.Year() ||
		(ref.Year == pull.Year() && ref.Month < int(pull.Month()))

	det := Detection{
		IsClosingPeriod: isClosing,
		DataMonth:       normalized,
		AsOfDate:        pullDate,
		SnapshotDate:    pullDate,
		CollectionDate:  pullDate,
	}

	if isClosing {
		last := LastDayOfMonth(ref.Year, ref.Month)
		det.SnapshotDate = fmt.Sprintf("%04d-%02d-%02d", ref.Year, ref.Month, last)
		det.AsOfDate = det.SnapshotDate
	}

	return det
}

// ParseDataMonth resolves a raw data-month string against a reference pull
// month. Returns nil for unparsable or out-of-range input.
func ParseDataMonth(raw string, refYear, refMonth int) *MonthRef {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if strings.Contains(raw, "-") {
		parts := strings.SplitN(raw, "-", 2)
		year, err := strconv.Atoi(parts[0])
		if err != nil || year < 1 {
			return nil
		}
		month, err := strconv.Atoi(parts[1])
		if err != nil || month < 1 || month > 12 {
			return nil
		}
		return &MonthRef{Year: year, Month: month}
	}

	month, err := strconv.Atoi(raw)
	if err != nil || month < 1 || month > 12 {
		return nil
	}

	// Bare month: same year if it does not lie ahead of the pull month,
	// otherwise it must be from the previous year.
	year := refYear
	if month > refMonth {
		year--
	}
	return &MonthRef{Year: year, Month: month}
}

// LastDayOfMonth returns the last calendar day of the given month, applying
// the Gregorian leap rule for February (divisible by 4, not by 100 unless
// also by 400).
func LastDayOfMonth(year, month int) int {
	switch month {
	case 1, 3, 5, 7, 8, 10, 12:
		return 31
	case 4, 6, 9, 11:
		return 30
	case 2:
		if isLeapYear(year) {
			return 29
		}
		return 28
	default:
		return 0
	}
}

func isLeapYear(year int) bool {
	if year%400 == 0 {
		return true
	}
	if year%100 == 0 {
		return false
	}
	return year%4 == 0
}

// PreviousMonth returns the calendar month immediately preceding the given
// instant, as a YYYY-MM key. January rolls back to the prior December.
func PreviousMonth(t time.Time) string {
	year, month := t.UTC().Year(), int(t.UTC().Month())
	month--
	if month == 0 {
		month = 12
		year--
	}
	return fmt.Sprintf("%04d-%02d", year, month)
}

// MonthBounds returns the first and last calendar day of a YYYY-MM key.
// Returns an error for malformed keys.
func MonthBounds(monthKey string) (start, end time.Time, err error) {
	t, err := time.Parse("2006-01", monthKey)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid month key %q: %w", monthKey, err)
	}
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = time.Date(t.Year(), t.Month(), LastDayOfMonth(t.Year(), int(t.Month())), 0, 0, 0, 0, time.UTC)
	return start, end, nil
}
