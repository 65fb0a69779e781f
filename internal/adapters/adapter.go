// Package adapters implements the Platform Adapters (C2): one Discover/
// Download/FetchStructured implementation per county source platform
// family, each wired through the Polite Crawler's Fetcher and deduped
// against the lead store's download_index before ever reaching the
// Extraction Engine.
package adapters

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/surplustrust/platform/internal/crawler"
	"github.com/surplustrust/platform/internal/extraction"
)

// Adapter is the capability set every platform family exposes, per
// spec.md §4.2: discover candidate document URLs, download their bytes,
// and turn those bytes into extraction-ready text.
type Adapter interface {
	// Discover returns the URLs of documents the adapter has not yet
	// seen this run (calendar entries, search-result rows, listing
	// pages — whatever the platform exposes).
	Discover(ctx context.Context) ([]string, error)
	// Download fetches the raw bytes at url.
	Download(ctx context.Context, url string) ([]byte, error)
	// FetchStructured turns raw bytes into plain text the parser
	// registry can run Detect/Extract over.
	FetchStructured(ctx context.Context, url string, raw []byte) (string, error)
}

// DocumentSink is the extraction surface adapters feed into. Satisfied
// by (*extraction.Engine).ProcessDocument.
type DocumentSink interface {
	ProcessDocument(ctx context.Context, text, sourceURL, sourceHash string) ([]extraction.Outcome, error)
}

// downloadIndex deduplicates document bytes against the lead store's
// download_index table: before persisting anything, compute its SHA-256
// and skip if already present, per spec.md §4.2.
type downloadIndex struct {
	db      *sql.DB
	dataDir string
}

func newDownloadIndex(db *sql.DB, dataDir string) *downloadIndex {
	return &downloadIndex{db: db, dataDir: dataDir}
}

// seen reports whether hash is already recorded, without persisting
// anything.
func (d *downloadIndex) seen(ctx context.Context, hash string) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM download_index WHERE sha256 = ?", hash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check download_index: %w", err)
	}
	return n > 0, nil
}

// record persists raw to disk under dataDir/county/hash and indexes it.
func (d *downloadIndex) record(ctx context.Context, county string, raw []byte) (string, error) {
	hash := contentHash(raw)

	dir := filepath.Join(d.dataDir, county)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, hash)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO download_index (sha256, county, path, downloaded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(sha256) DO NOTHING`,
		hash, county, path, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert download_index: %w", err)
	}
	return hash, nil
}

func contentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Scraper adapts an Adapter into a crawler.Scraper: CrawlAll drives Run,
// which discovers candidate documents, skips already-indexed bytes, and
// hands everything new to sink for parsing.
type Scraper struct {
	name         string
	jurisdiction string
	adapter      Adapter
	index        *downloadIndex
	sink         DocumentSink
	logger       *zap.Logger
}

// NewScraper builds a Scraper. dataDir is where deduplicated raw
// documents are persisted (the download_index row points back at it).
func NewScraper(name, jurisdiction string, adapter Adapter, db *sql.DB, sink DocumentSink, dataDir string, logger *zap.Logger) *Scraper {
	return &Scraper{
		name:         name,
		jurisdiction: jurisdiction,
		adapter:      adapter,
		index:        newDownloadIndex(db, dataDir),
		sink:         sink,
		logger:       logger,
	}
}

func (s *Scraper) Name() string         { return s.name }
func (s *Scraper) Jurisdiction() string { return s.jurisdiction }

// Run implements crawler.Scraper: discover, dedup, download, extract.
func (s *Scraper) Run(ctx context.Context) (int, error) {
	urls, err := s.adapter.Discover(ctx)
	if err != nil {
		return 0, fmt.Errorf("discover: %w", err)
	}

	produced := 0
	for _, u := range urls {
		raw, err := s.adapter.Download(ctx, u)
		if err != nil {
			s.logger.Warn("adapter download failed", zap.String("scraper", s.name), zap.String("url", u), zap.Error(err))
			continue
		}

		hash := contentHash(raw)
		seen, err := s.index.seen(ctx, hash)
		if err != nil {
			s.logger.Warn("dedup check failed", zap.String("scraper", s.name), zap.Error(err))
			continue
		}
		if seen {
			continue
		}

		text, err := s.adapter.FetchStructured(ctx, u, raw)
		if err != nil {
			s.logger.Warn("adapter structuring failed", zap.String("scraper", s.name), zap.String("url", u), zap.Error(err))
			continue
		}

		if _, err := s.index.record(ctx, s.jurisdiction, raw); err != nil {
			s.logger.Warn("download_index record failed", zap.String("scraper", s.name), zap.Error(err))
			continue
		}

		outcomes, err := s.sink.ProcessDocument(ctx, text, u, hash)
		if err != nil {
			s.logger.Warn("process document failed", zap.String("scraper", s.name), zap.String("url", u), zap.Error(err))
			continue
		}
		produced += len(outcomes)
	}
	return produced, nil
}

var _ crawler.Scraper = (*Scraper)(nil)
