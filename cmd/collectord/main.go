package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"rectrack-backend/lib/browser"
	"rectrack-backend/lib/configutil"
	configsqlite "rectrack-backend/lib/configutil/sqlite"
	"rectrack-backend/lib/scrapers/recwell"
	"rectrack-backend/lib/serviceutil"
	"rectrack-backend/lib/telemetry"
	"rectrack-backend/services/tracker"
	trackerdb "rectrack-backend/services/tracker/db"
)

type ScraperConfig struct {
	Url           string   `json:"url"`
	FacilityNames []string `json:"facility_names"`
	SnapshotDir   string   `json:"snapshot_dir"`
	Headless      *bool    `json:"headless"`
}

type Config struct {
	Database        configsqlite.Struct `json:"database"`
	Scraper         ScraperConfig       `json:"scraper"`
	IntervalMinutes int                 `json:"interval_minutes"`
}

func main() {
	ctx := serviceutil.SignalContext()

	config, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	if config.Scraper.Url == "" {
		config.Scraper.Url = "https://www.purdue.edu/recwell/facility-usage/index.php"
	}
	if config.IntervalMinutes <= 0 {
		config.IntervalMinutes = 15
	}

	db, err := config.Database.OpenDB(trackerdb.Schema)
	if err != nil {
		serviceutil.Fatal("failed to open database", err)
	}

	t, err := telemetry.SetupFromEnv(ctx, "collectord")
	if err != nil && !os.IsNotExist(err) {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	if err == nil {
		defer t.Shutdown(context.Background())
		telemetry.InstrumentPerfStats(ctx)
	}

	headless := true
	if config.Scraper.Headless != nil {
		headless = *config.Scraper.Headless
	}
	scraper := recwell.NewScraper(recwell.Options{
		Url:           config.Scraper.Url,
		FacilityNames: config.Scraper.FacilityNames,
		SnapshotDir:   config.Scraper.SnapshotDir,
		Browser:       browser.NewChrome(browser.ChromeOptions{Headless: headless}),
	})
	collector := tracker.NewCollector(scraper, tracker.NewStore(db))

	interval := time.Duration(config.IntervalMinutes) * time.Minute
	slog.Info("collector running", "url", config.Scraper.Url, "interval", interval)

	runCycle(ctx, collector)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCycle(ctx, collector)
		case <-ctx.Done():
			collector.Stop()
			slog.Info("stopping collector")
			return
		}
	}
}

func runCycle(ctx context.Context, collector *tracker.Collector) {
	// a failed cycle is transient, the next tick retries with a fresh
	// render session
	_, err := collector.RunCycle(ctx)
	if err != nil {
		slog.Error("collection cycle failed", "err", err)
	}
}
