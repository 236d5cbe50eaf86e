package closing

import (
	"testing"
	"time"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name         string
		pullDate     string
		dataMonth    string
		wantClosing  bool
		wantMonth    string
		wantSnapshot string
		wantWarning  bool
	}{
		{
			name:         "pull during closing period",
			pullDate:     "2024-03-05",
			dataMonth:    "2024-02",
			wantClosing:  true,
			wantMonth:    "2024-02",
			wantSnapshot: "2024-02-29", // 2024 is a leap year
		},
		{
			name:         "non-leap february",
			pullDate:     "2023-03-02",
			dataMonth:    "2023-02",
			wantClosing:  true,
			wantMonth:    "2023-02",
			wantSnapshot: "2023-02-28",
		},
		{
			name:         "current month is not closing",
			pullDate:     "2024-03-15",
			dataMonth:    "2024-03",
			wantClosing:  false,
			wantMonth:    "2024-03",
			wantSnapshot: "2024-03-15",
		},
		{
			name:         "december data collected in january",
			pullDate:     "2025-01-03",
			dataMonth:    "2024-12",
			wantClosing:  true,
			wantMonth:    "2024-12",
			wantSnapshot: "2024-12-31",
		},
		{
			name:         "bare month resolves to same year",
			pullDate:     "2024-03-05",
			dataMonth:    "2",
			wantClosing:  true,
			wantMonth:    "2024-02",
			wantSnapshot: "2024-02-29",
		},
		{
			name:         "bare month ahead of pull month resolves to previous year",
			pullDate:     "2025-01-03",
			dataMonth:    "12",
			wantClosing:  true,
			wantMonth:    "2024-12",
			wantSnapshot: "2024-12-31",
		},
		{
			name:         "thirty day month",
			pullDate:     "2024-05-02",
			dataMonth:    "2024-04",
			wantClosing:  true,
			wantMonth:    "2024-04",
			wantSnapshot: "2024-04-30",
		},
		{
			name:         "invalid pull date falls back with warning",
			pullDate:     "not-a-date",
			dataMonth:    "2024-02",
			wantClosing:  false,
			wantMonth:    "2024-02",
			wantSnapshot: "not-a-date",
			wantWarning:  true,
		},
		{
			name:         "unparsable data month falls back with warning",
			pullDate:     "2024-03-05",
			dataMonth:    "banana",
			wantClosing:  false,
			wantMonth:    "banana",
			wantSnapshot: "2024-03-05",
			wantWarning:  true,
		},
		{
			name:         "month out of range falls back with warning",
			pullDate:     "2024-03-05",
			dataMonth:    "2024-13",
			wantClosing:  false,
			wantMonth:    "2024-13",
			wantSnapshot: "2024-03-05",
			wantWarning:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := Detect(tt.pullDate, tt.dataMonth)
			if det.IsClosingPeriod != tt.wantClosing {
				t.Errorf("IsClosingPeriod = %v, want %v", det.IsClosingPeriod, tt.wantClosing)
			}
			if det.DataMonth != tt.wantMonth {
				t.Errorf("DataMonth = %q, want %q", det.DataMonth, tt.wantMonth)
			}
			if det.SnapshotDate != tt.wantSnapshot {
				t.Errorf("SnapshotDate = %q, want %q", det.SnapshotDate, tt.wantSnapshot)
			}
			if det.CollectionDate != tt.pullDate {
				t.Errorf("CollectionDate = %q, want %q", det.CollectionDate, tt.pullDate)
			}
			if (det.Warning != "") != tt.wantWarning {
				t.Errorf("Warning = %q, wantWarning %v", det.Warning, tt.wantWarning)
			}
		})
	}
}

func TestDetect_ClosingAsOfDateMatchesSnapshotDate(t *testing.T) {
	det := Detect("2024-03-05", "2024-02")
	if det.AsOfDate != det.SnapshotDate {
		t.Errorf("AsOfDate %q should equal SnapshotDate %q during closing", det.AsOfDate, det.SnapshotDate)
	}
}

func TestLastDayOfMonth(t *testing.T) {
	tests := []struct {
		year, month, want int
	}{
		{2024, 2, 29}, // divisible by 4
		{2023, 2, 28},
		{2000, 2, 29}, // divisible by 400
		{1900, 2, 28}, // divisible by 100 but not 400
		{2024, 1, 31},
		{2024, 4, 30},
		{2024, 12, 31},
		{2024, 0, 0}, // invalid month
	}
	for _, tt := range tests {
		if got := LastDayOfMonth(tt.year, tt.month); got != tt.want {
			t.Errorf("LastDayOfMonth(%d, %d) = %d, want %d", tt.year, tt.month, got, tt.want)
		}
	}
}

func TestPreviousMonth(t *testing.T) {
	tests := []struct {
		in   time.Time
		want string
	}{
		{time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), "2024-02"},
		{time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), "2024-12"}, // January rolls back a year
		{time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), "2024-11"},
	}
	for _, tt := range tests {
		if got := PreviousMonth(tt.in); got != tt.want {
			t.Errorf("PreviousMonth(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMonthBounds(t *testing.T) {
	start, end, err := MonthBounds("2024-02")
	if err != nil {
		t.Fatalf("MonthBounds: %v", err)
	}
	if got := start.Format("2006-01-02"); got != "2024-02-01" {
		t.Errorf("start = %s, want 2024-02-01", got)
	}
	if got := end.Format("2006-01-02"); got != "2024-02-29" {
		t.Errorf("end = %s, want 2024-02-29", got)
	}

	if _, _, err := MonthBounds("nope"); err == nil {
		t.Error("expected error for malformed month key")
	}
}
