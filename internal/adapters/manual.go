package adapters

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/surplustrust/platform/internal/extraction"
)

// ManualIngest is the exempt "manual" family from spec.md §4.2: an
// operator uploads document bytes directly (via surplusctl or an admin
// route) instead of a platform being crawled for them. It shares the
// same download_index dedup and DocumentSink handoff as the crawled
// families but has no Discover loop — Ingest is called once per upload.
type ManualIngest struct {
	index  *downloadIndex
	sink   DocumentSink
	logger *zap.Logger
}

// NewManualIngest builds a ManualIngest backed by db's download_index
// table, persisting accepted bytes under dataDir.
func NewManualIngest(db *sql.DB, sink DocumentSink, dataDir string, logger *zap.Logger) *ManualIngest {
	return &ManualIngest{index: newDownloadIndex(db, dataDir), sink: sink, logger: logger}
}

// Ingest records raw under county in download_index (skipping it if
// already seen) and, for new content, converts it to text and runs it
// through the document sink. sourceLabel identifies the submission for
// provenance (an operator note, filename, or case reference).
func (m *ManualIngest) Ingest(ctx context.Context, county string, raw []byte, text, sourceLabel string) ([]extraction.Outcome, error) {
	hash := contentHash(raw)
	seen, err := m.index.seen(ctx, hash)
	if err != nil {
		return nil, err
	}
	if seen {
		return nil, nil
	}

	if _, err := m.index.record(ctx, county, raw); err != nil {
		return nil, err
	}

	return m.sink.ProcessDocument(ctx, text, sourceLabel, hash)
}
