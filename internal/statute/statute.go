// Package statute looks up claim-window authority for a jurisdiction and
// asset type, backing the lifecycle engine's claim_deadline computation.
package statute

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when no statute row matches the jurisdiction/asset pair.
var ErrNotFound = errors.New("statute authority not found")

// Authority is one (jurisdiction, asset_type) row from statute_authority.
type Authority struct {
	Jurisdiction    string
	AssetType       string
	StatuteYears    float64
	TriggeringEvent string
	Citation        string
	FeeCapPct       *float64
	FeeCapFlat      *float64
	KnownIssues     string
	VerifiedAt      string
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Lookup resolves human-curated claim-window authority for the platform's
// reference table. It is deliberately read-only: StatuteAuthority rows are
// maintained out of band by a human curator, never by the pipeline.
type Lookup struct {
	db querier
}

// NewLookup wraps db (typically (*store.Store).DB).
func NewLookup(db querier) *Lookup {
	return &Lookup{db: db}
}

// Get returns the authority row for jurisdiction/assetType, or ErrNotFound.
func (l *Lookup) Get(ctx context.Context, jurisdiction, assetType string) (*Authority, error) {
	var a Authority
	var feeCapPct, feeCapFlat sql.NullFloat64
	err := l.db.QueryRowContext(ctx, `
		SELECT jurisdiction, asset_type, statute_years, triggering_event, citation,
			fee_cap_pct, fee_cap_flat, known_issues, verified_at
		FROM statute_authority WHERE jurisdiction = ? AND asset_type = ?`,
		jurisdiction, assetType,
	).Scan(&a.Jurisdiction, &a.AssetType, &a.StatuteYears, &a.TriggeringEvent, &a.Citation,
		&feeCapPct, &feeCapFlat, &a.KnownIssues, &a.VerifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query statute_authority: %w", err)
	}
	if feeCapPct.Valid {
		a.FeeCapPct = &feeCapPct.Float64
	}
	if feeCapFlat.Valid {
		a.FeeCapFlat = &feeCapFlat.Float64
	}
	return &a, nil
}
