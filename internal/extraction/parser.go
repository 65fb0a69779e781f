package extraction

import (
	"math"

	"github.com/surplustrust/platform/internal/lead"
)

// Parser detects whether it can handle a document's text, extracts
// RawRecords from it, and scores/grades each one. Implementations are
// pure functions of the input text — no I/O, no shared state — so the
// extraction engine can run a single worker per document safely.
type Parser interface {
	Name() string
	Detect(text string) bool
	Extract(text string) ([]RawRecord, error)
	Score(r RawRecord) float64
	Grade(r RawRecord, score float64) lead.DataGrade
}

// Registry holds parsers in declared priority order; the first one whose
// Detect returns true wins. The registry's last entry should always be a
// permissive generic parser so no document is silently dropped.
type Registry struct {
	parsers []Parser
}

// NewRegistry builds a Registry from parsers in priority order.
func NewRegistry(parsers ...Parser) *Registry {
	return &Registry{parsers: parsers}
}

// Select returns the first parser whose Detect matches text.
func (r *Registry) Select(text string) Parser {
	for _, p := range r.parsers {
		if p.Detect(text) {
			return p
		}
	}
	return nil
}

// Confidence implements spec.md §4.3's default confidence function C.
// Parsers for county-verified sources may override Score instead of
// calling this directly.
func Confidence(r RawRecord) float64 {
	if r.WinningBid == 0 && r.TotalDebt == 0 && r.VerifiedSurplus != nil {
		return 0.05
	}

	var c float64
	if r.WinningBid > 0 {
		c += 0.25
	}
	if r.TotalDebt > 0 {
		c += 0.25
	}
	if r.SaleDate != nil {
		c += 0.15
	}
	if len(r.PropertyAddress) > 5 {
		c += 0.15
	}
	if len(r.OwnerName) > 2 {
		c += 0.10
	}

	surplus := lead.Surplus(r.WinningBid, r.TotalDebt)
	reported := surplus
	if r.VerifiedSurplus != nil {
		reported = *r.VerifiedSurplus
	}
	delta := math.Abs(reported - surplus)
	switch {
	case delta <= 5:
		c += 0.10
	case delta <= 50:
		c += 0.05
	}

	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}

// surplusAmount returns the record's best-known surplus figure: the
// verified value when present, else the computed bid-minus-debt formula.
func surplusAmount(r RawRecord) float64 {
	if r.VerifiedSurplus != nil {
		return *r.VerifiedSurplus
	}
	return lead.Surplus(r.WinningBid, r.TotalDebt)
}

// Grade implements spec.md §4.3's default grade mapping.
func Grade(r RawRecord, score float64) lead.DataGrade {
	surplus := surplusAmount(r)
	switch {
	case surplus >= 10000 && score >= 0.8:
		return lead.GradeGold
	case surplus >= 5000 && score >= 0.6:
		return lead.GradeSilver
	case surplus > 0:
		return lead.GradeBronze
	default:
		return lead.GradeIron
	}
}
