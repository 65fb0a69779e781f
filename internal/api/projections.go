// Package api implements the HTTP API (C10): SafeLead/FullLead
// projections, the preview and sample-dossier endpoints, unlock/download
// routes, auth routes, and the billing webhook intake, composed with the
// access gates from internal/access.
package api

import (
	"strings"
	"time"

	"github.com/surplustrust/platform/internal/lead"
	"github.com/surplustrust/platform/internal/lifecycle"
)

// SafeLead is the public projection: no owner name, no street address,
// surplus rounded to the nearest $100.
type SafeLead struct {
	ID            string          `json:"id"`
	County        string          `json:"county"`
	CityHint      string          `json:"city_hint"`
	SurplusAmount float64         `json:"surplus_amount"`
	DataGrade     lead.DataGrade  `json:"data_grade"`
	Status        string          `json:"status"`
	DaysRemaining int             `json:"days_remaining"`
}

// FullLead is every field, served only by a successful unlock response
// and by cached re-reads from the unlocking user.
type FullLead struct {
	ID                  string         `json:"id"`
	County              string         `json:"county"`
	CaseNumber          string         `json:"case_number"`
	OwnerName           string         `json:"owner_name"`
	PropertyAddress     string         `json:"property_address"`
	WinningBid          float64        `json:"winning_bid"`
	TotalDebt           float64        `json:"total_debt"`
	SurplusAmount       float64        `json:"surplus_amount"`
	SaleDate            *time.Time     `json:"sale_date,omitempty"`
	ClaimDeadline       *time.Time     `json:"claim_deadline,omitempty"`
	ConfidenceScore     float64        `json:"confidence_score"`
	DataGrade           lead.DataGrade `json:"data_grade"`
	Status              string         `json:"status"`
	DaysRemaining       int            `json:"days_remaining"`
	AttorneyPacketReady bool           `json:"attorney_packet_ready"`
}

// roundToNearest100 implements SafeLead's surplus-rounding rule.
func roundToNearest100(v float64) float64 {
	return float64(int64((v+50)/100)) * 100
}

// cityHint extracts the last comma-delimited segment of a full street
// address (typically "City, ST ZIP" -> "ST ZIP", or "City" alone), the
// only geographic detail SafeLead exposes.
func cityHint(address string) string {
	parts := strings.Split(address, ",")
	if len(parts) == 0 {
		return ""
	}
	return strings.TrimSpace(parts[len(parts)-1])
}

// ToSafeLead builds the public projection of l as of now.
func ToSafeLead(l *lead.Lead, now time.Time, restrictionMonths int) SafeLead {
	return SafeLead{
		ID:            l.ID,
		County:        l.County,
		CityHint:      cityHint(l.PropertyAddress),
		SurplusAmount: roundToNearest100(l.SurplusAmount),
		DataGrade:     l.DataGrade,
		Status:        string(lifecycle.Status(l, now, restrictionMonths)),
		DaysRemaining: lifecycle.DaysRemaining(l, now),
	}
}

// ToFullLead builds the unlocked projection of l as of now.
func ToFullLead(l *lead.Lead, now time.Time, restrictionMonths int) FullLead {
	return FullLead{
		ID:                  l.ID,
		County:              l.County,
		CaseNumber:          l.CaseNumber,
		OwnerName:           l.OwnerName,
		PropertyAddress:     l.PropertyAddress,
		WinningBid:          l.WinningBid,
		TotalDebt:           l.TotalDebt,
		SurplusAmount:       l.SurplusAmount,
		SaleDate:            l.SaleDate,
		ClaimDeadline:       l.ClaimDeadline,
		ConfidenceScore:     l.ConfidenceScore,
		DataGrade:           l.DataGrade,
		Status:              string(lifecycle.Status(l, now, restrictionMonths)),
		DaysRemaining:       lifecycle.DaysRemaining(l, now),
		AttorneyPacketReady: l.AttorneyPacketReady,
	}
}
