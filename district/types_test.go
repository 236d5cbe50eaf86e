package district

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateRecord_CurrentVersionPassesThrough(t *testing.T) {
	rec := &PerformanceRecord{DistrictID: "42", TotalPayments: 10}
	got, err := MigrateRecord(rec, CurrentSchemaVersion)
	require.NoError(t, err)
	assert.Same(t, rec, got)
}

func TestMigrateRecord_V1DerivesPaymentTotalsAndPercentages(t *testing.T) {
	rec := &PerformanceRecord{
		DistrictID:         "42",
		AprilPayments:      120,
		OctoberPayments:    80,
		TotalClubs:         40,
		DistinguishedClubs: 10,
	}

	got, err := MigrateRecord(rec, "1.0")
	require.NoError(t, err)

	assert.Equal(t, 200, got.TotalPayments)
	assert.True(t, got.DistinguishedClubPct.Equal(decimal.NewFromInt(25)),
		"got %s", got.DistinguishedClubPct)

	// The input record is left untouched.
	assert.Equal(t, 0, rec.TotalPayments)
}

func TestMigrateRecord_V1WithExistingValuesKeepsThem(t *testing.T) {
	rec := &PerformanceRecord{
		TotalPayments:        300,
		DistinguishedClubPct: decimal.NewFromInt(50),
		TotalClubs:           40,
		DistinguishedClubs:   10,
	}
	got, err := MigrateRecord(rec, "1.1")
	require.NoError(t, err)
	assert.Equal(t, 300, got.TotalPayments)
	assert.True(t, got.DistinguishedClubPct.Equal(decimal.NewFromInt(50)))
}

func TestMigrateRecord_UnknownVersionRejected(t *testing.T) {
	_, err := MigrateRecord(&PerformanceRecord{}, "7.0")
	assert.Error(t, err)
}

func TestDateKey_UsesUTCDateComponent(t *testing.T) {
	// 23:30 in UTC-5 is already the next day in UTC.
	loc := time.FixedZone("EST", -5*3600)
	at := time.Date(2024, time.February, 29, 23, 30, 0, 0, loc)

	assert.Equal(t, "2024-03-01", DateKey(at))
	assert.Equal(t, "2024-03", MonthKey(at))
}
