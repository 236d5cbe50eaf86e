/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the district snapshot engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load YAML config
  2. Initialize snapshot store, cache, and SQLite run history
  3. Wire backfill engine and reconciliation scheduler
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config     Config file path (default: district-engine.yaml; missing = defaults)
  -port       HTTP server port (overrides config)
  -dashboard  Base URL of the upstream dashboard to collect from

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the reconciliation scheduler loop
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the run-history database
  5. Exit

EXAMPLES:
  # Run with defaults
  ./server

  # Run against a staging dashboard on a different port
  ./server -port=3000 -dashboard=https://staging.example.org

SEE ALSO:
  - config/config.go: YAML config schema and defaults
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/district-engine/api"
	"github.com/warp/district-engine/backfill"
	"github.com/warp/district-engine/cache"
	"github.com/warp/district-engine/config"
	"github.com/warp/district-engine/district"
	"github.com/warp/district-engine/reconcile"
	"github.com/warp/district-engine/snapshot"
	"github.com/warp/district-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "district-engine.yaml", "config file path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dashboardURL := flag.String("dashboard", "", "upstream dashboard base URL")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	districts := make([]district.DistrictID, 0, len(cfg.Districts))
	for _, d := range cfg.Districts {
		districts = append(districts, district.DistrictID(d))
	}

	// Storage
	store := snapshot.NewStore(cfg.Storage.SnapshotDir)
	cacheMgr := cache.NewUpdateManager(cache.NewFileEntryStore(cfg.Storage.CacheDir))

	history, err := sqlite.New(cfg.Storage.HistoryDB)
	if err != nil {
		log.Fatalf("Failed to initialize run history database: %v", err)
	}
	defer history.Close()

	// Backfill engine
	collector := newDashboardCollector(*dashboardURL)
	engine := backfill.NewEngine(store, cacheMgr, collector, nil,
		backfill.NewMemoryJobRepository(), districts,
		backfill.Config{
			BlacklistThreshold:  cfg.Backfill.BlacklistThreshold,
			BlacklistCooldown:   cfg.Backfill.BlacklistCooldown,
			JobRetention:        cfg.Backfill.JobRetention,
			TargetedStrategyMax: cfg.Backfill.TargetedStrategyMax,
		})

	// Reconciliation scheduler
	errs := reconcile.NewErrorHandler(cfg.Reconciliation.FailureThreshold, 5*time.Minute, nil)
	alerts := reconcile.NewAlerter(reconcile.LogSink{}, cfg.Reconciliation.AlertingEnabled)
	scheduler := reconcile.NewScheduler(history, engine, errs, alerts, store, cacheMgr,
		reconcile.Config{
			GraceWindowDays:  cfg.Reconciliation.GraceWindowDays,
			FailureThreshold: cfg.Reconciliation.FailureThreshold,
			JobTimeout:       cfg.Reconciliation.JobTimeout,
			CheckInterval:    cfg.Reconciliation.CheckInterval,
			AlertingEnabled:  cfg.Reconciliation.AlertingEnabled,
		})
	scheduler.Districts = func() []district.DistrictID { return districts }
	scheduler.Start()

	// HTTP surface
	handler := api.NewHandler(store, engine, scheduler)
	handler.Districts = func() []district.DistrictID { return districts }
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", cfg.Server.Port)
		log.Printf("📊 API available at http://localhost:%d/api", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// =============================================================================
// DASHBOARD COLLECTOR
// =============================================================================

// dashboardCollector is a thin HTTP client for the upstream dashboard's JSON
// export endpoints. With no base URL configured every fetch fails, which the
// engine records as per-district failures rather than crashing.
type dashboardCollector struct {
	base   string
	client *http.Client
}

func newDashboardCollector(base string) *dashboardCollector {
	return &dashboardCollector{
		base:   base,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *dashboardCollector) FetchDistrictPerformance(ctx context.Context, did district.DistrictID, date time.Time) (*district.PerformanceRecord, error) {
	var rec district.PerformanceRecord
	path := fmt.Sprintf("/api/export/districts/%s?date=%s", url.PathEscape(string(did)), district.DateKey(date))
	if err := c.getJSON(ctx, path, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *dashboardCollector) FetchAllDistricts(ctx context.Context, date time.Time) (map[district.DistrictID]*district.PerformanceRecord, error) {
	out := make(map[district.DistrictID]*district.PerformanceRecord)
	path := "/api/export/districts?date=" + district.DateKey(date)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *dashboardCollector) getJSON(ctx context.Context, path string, out any) error {
	if c.base == "" {
		return fmt.Errorf("no dashboard URL configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("not_found: %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dashboard returned %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
