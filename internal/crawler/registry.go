package crawler

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ScraperStatus is the scraper_registry row's last_status value.
type ScraperStatus string

const (
	StatusNeverRun ScraperStatus = "never_run"
	StatusHealthy  ScraperStatus = "healthy"
	StatusDegraded ScraperStatus = "degraded"
	StatusDisabled ScraperStatus = "disabled"
)

// Scraper is the minimal interface CrawlAll drives: each scraper family
// (C2 adapter) discovers and ingests whatever new documents it finds for
// its jurisdiction.
type Scraper interface {
	Name() string
	Jurisdiction() string
	Run(ctx context.Context) (recordsProduced int, err error)
}

// ScraperRegistry tracks each scraper's run history in the scraper_registry
// table and auto-disables sources whose consecutive-failure count exceeds
// a threshold, the same transition logic the teacher's health.HealthChecker
// applies to degraded agent endpoints — adapted here from endpoint probes
// to scraper run outcomes, since this system has scrapers to police
// instead of a fleet of agent health checks.
type ScraperRegistry struct {
	db            *sql.DB
	failThreshold int
	logger        *zap.Logger
}

// NewScraperRegistry builds a ScraperRegistry. failThreshold of 0 defaults
// to 3 consecutive failures before auto-disable.
func NewScraperRegistry(db *sql.DB, failThreshold int, logger *zap.Logger) *ScraperRegistry {
	if failThreshold == 0 {
		failThreshold = 3
	}
	return &ScraperRegistry{db: db, failThreshold: failThreshold, logger: logger}
}

// Register upserts a scraper's registry row, leaving run history intact
// if the row already exists.
func (r *ScraperRegistry) Register(ctx context.Context, name, jurisdiction string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scraper_registry (scraper_name, jurisdiction, last_status)
		VALUES (?, ?, 'never_run')
		ON CONFLICT(scraper_name) DO NOTHING`,
		name, jurisdiction,
	)
	if err != nil {
		return fmt.Errorf("register scraper %s: %w", name, err)
	}
	return nil
}

// Enabled reports whether name is currently enabled for crawling.
func (r *ScraperRegistry) Enabled(ctx context.Context, name string) (bool, error) {
	var enabled int
	err := r.db.QueryRowContext(ctx, "SELECT enabled FROM scraper_registry WHERE scraper_name = ?", name).Scan(&enabled)
	if err != nil {
		return false, fmt.Errorf("lookup scraper %s: %w", name, err)
	}
	return enabled != 0, nil
}

// RecordResult updates run history for a single scraper invocation,
// disabling the scraper once consecutive_fails reaches failThreshold.
func (r *ScraperRegistry) RecordResult(ctx context.Context, name string, recordsProduced int, runErr error) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if runErr == nil {
		_, err := r.db.ExecContext(ctx, `
			UPDATE scraper_registry
			SET last_run_at = ?, last_status = 'healthy', records_produced = ?, consecutive_fails = 0
			WHERE scraper_name = ?`,
			now, recordsProduced, name,
		)
		return err
	}

	var fails int
	if err := r.db.QueryRowContext(ctx,
		"SELECT consecutive_fails FROM scraper_registry WHERE scraper_name = ?", name,
	).Scan(&fails); err != nil {
		return fmt.Errorf("read fail count for %s: %w", name, err)
	}
	fails++

	status := StatusDegraded
	enabled := 1
	reason := ""
	if fails >= r.failThreshold {
		status = StatusDisabled
		enabled = 0
		reason = fmt.Sprintf("%d consecutive failures: %v", fails, runErr)
		r.logger.Warn("scraper auto-disabled", zap.String("scraper", name), zap.Int("consecutive_fails", fails))
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE scraper_registry
		SET last_run_at = ?, last_status = ?, consecutive_fails = ?, enabled = ?, disabled_reason = ?
		WHERE scraper_name = ?`,
		now, string(status), fails, enabled, reason, name,
	)
	return err
}

// CrawlAll runs every enabled scraper with bounded concurrency, mirroring
// the teacher's HealthChecker.CheckAll semaphore-gated fan-out.
func CrawlAll(ctx context.Context, registry *ScraperRegistry, scrapers []Scraper, maxConcurrent int, logger *zap.Logger) {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup

	for _, s := range scrapers {
		enabled, err := registry.Enabled(ctx, s.Name())
		if err != nil {
			logger.Warn("crawl: registry lookup failed", zap.String("scraper", s.Name()), zap.Error(err))
			continue
		}
		if !enabled {
			continue
		}

		wg.Add(1)
		go func(scraper Scraper) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			n, err := scraper.Run(ctx)
			if err != nil {
				logger.Warn("scraper run failed", zap.String("scraper", scraper.Name()), zap.Error(err))
			} else {
				logger.Info("scraper run complete", zap.String("scraper", scraper.Name()), zap.Int("records", n))
			}
			if recErr := registry.RecordResult(ctx, scraper.Name(), n, err); recErr != nil {
				logger.Error("crawl: record result failed", zap.String("scraper", scraper.Name()), zap.Error(recErr))
			}
		}(s)
	}

	wg.Wait()
}
