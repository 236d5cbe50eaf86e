/*
Package config loads the engine configuration from a YAML file.

PURPOSE:
  Operational knobs in one place: storage paths, blacklist policy, job
  retention, the reconciliation grace window, breaker thresholds, and the
  alerting toggle. Command-line flags in cmd/server override the file.

USAGE:
  cfg, err := config.Load("./district-engine.yaml")  // missing file = defaults
*/
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Storage struct {
		SnapshotDir string `yaml:"snapshot_dir"`
		CacheDir    string `yaml:"cache_dir"`
		HistoryDB   string `yaml:"history_db"`
	} `yaml:"storage"`

	Backfill struct {
		BlacklistThreshold  int           `yaml:"blacklist_threshold"`
		BlacklistCooldown   time.Duration `yaml:"blacklist_cooldown"`
		JobRetention        time.Duration `yaml:"job_retention"`
		TargetedStrategyMax int           `yaml:"targeted_strategy_max"`
	} `yaml:"backfill"`

	Reconciliation struct {
		GraceWindowDays  int           `yaml:"grace_window_days"`
		FailureThreshold int           `yaml:"failure_threshold"`
		JobTimeout       time.Duration `yaml:"job_timeout"`
		CheckInterval    time.Duration `yaml:"check_interval"`
		AlertingEnabled  bool          `yaml:"alerting_enabled"`
	} `yaml:"reconciliation"`

	// Districts is the configured district set scope validation runs against.
	Districts []string `yaml:"districts"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Storage.SnapshotDir = "./data/snapshots"
	cfg.Storage.CacheDir = "./data/cache"
	cfg.Storage.HistoryDB = "./data/reconciliation.db"
	cfg.Backfill.BlacklistThreshold = 5
	cfg.Backfill.BlacklistCooldown = 30 * time.Minute
	cfg.Backfill.JobRetention = 24 * time.Hour
	cfg.Backfill.TargetedStrategyMax = 8
	cfg.Reconciliation.GraceWindowDays = 5
	cfg.Reconciliation.FailureThreshold = 3
	cfg.Reconciliation.JobTimeout = 10 * time.Minute
	cfg.Reconciliation.CheckInterval = 1 * time.Hour
	cfg.Reconciliation.AlertingEnabled = true
	return cfg
}

// Load reads a YAML config file, applying defaults for anything unset.
// A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Backfill.BlacklistThreshold < 1 {
		return fmt.Errorf("backfill.blacklist_threshold must be at least 1")
	}
	if c.Reconciliation.GraceWindowDays < 1 || c.Reconciliation.GraceWindowDays > 28 {
		return fmt.Errorf("reconciliation.grace_window_days %d out of range (1-28)", c.Reconciliation.GraceWindowDays)
	}
	return nil
}
