package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Backfill.BlacklistThreshold)
	assert.Equal(t, 5, cfg.Reconciliation.GraceWindowDays)
	assert.True(t, cfg.Reconciliation.AlertingEnabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	raw := `
server:
  port: 9000
backfill:
  blacklist_threshold: 2
  blacklist_cooldown: 10m
reconciliation:
  grace_window_days: 7
districts: ["42", "15"]
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Backfill.BlacklistThreshold)
	assert.Equal(t, 10*time.Minute, cfg.Backfill.BlacklistCooldown)
	assert.Equal(t, 7, cfg.Reconciliation.GraceWindowDays)
	assert.Equal(t, []string{"42", "15"}, cfg.Districts)

	// Untouched sections keep their defaults.
	assert.Equal(t, 24*time.Hour, cfg.Backfill.JobRetention)
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"port out of range", "server:\n  port: 70000\n"},
		{"zero blacklist threshold", "backfill:\n  blacklist_threshold: -1\n"},
		{"grace window too large", "reconciliation:\n  grace_window_days: 31\n"},
		{"malformed yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "engine.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.raw), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
