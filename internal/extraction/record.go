// Package extraction implements the Parser Registry (C3) and Extraction
// Engine (C4): parser interface, confidence scoring, grade mapping,
// threshold-routed persistence, and PDF text extraction.
package extraction

import "time"

// RawRecord is what a Parser.Extract call (or an adapter's
// FetchStructured) produces from one source document: the normalized,
// pre-score fields of a candidate lead.
type RawRecord struct {
	County          string
	CaseNumber      string
	OwnerName       string
	PropertyAddress string
	WinningBid      float64
	TotalDebt       float64
	// VerifiedSurplus is set directly by county-curated excess-funds
	// lists that publish a surplus amount without exposing bid/debt.
	VerifiedSurplus *float64
	SaleDate        *time.Time

	SourceURL  string
	SourceHash string
	ParserName string
}
