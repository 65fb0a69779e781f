// Package lead defines the canonical Lead entity: its fields, grading
// enums, content-hash identity, and the field-level merge semantics the
// extraction engine and lifecycle engine both rely on.
package lead

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DataGrade is the quality label assigned during extraction and revised
// by the lifecycle engine's batch re-scoring pass.
type DataGrade string

const (
	GradeGold            DataGrade = "GOLD"
	GradeSilver          DataGrade = "SILVER"
	GradeBronze          DataGrade = "BRONZE"
	GradeIron            DataGrade = "IRON"
	GradeReject          DataGrade = "REJECT"
	GradePipelineStaging DataGrade = "PIPELINE_STAGING"
)

// gradeRank orders grades so re-grading can apply a max-of rule without
// ever silently downgrading a lead during extraction.
var gradeRank = map[DataGrade]int{
	GradeReject:          0,
	GradeIron:            1,
	GradePipelineStaging: 2,
	GradeBronze:          3,
	GradeSilver:          4,
	GradeGold:            5,
}

// Rank returns g's position in the grade ordering, used by MaxGrade.
func (g DataGrade) Rank() int { return gradeRank[g] }

// MaxGrade returns whichever of a, b ranks higher.
func MaxGrade(a, b DataGrade) DataGrade {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Status is the lifecycle state written to storage. RuntimeStatus below
// is a distinct, never-persisted derivation used by the access gate.
type Status string

const (
	StatusStaged          Status = "STAGED"
	StatusEnriched        Status = "ENRICHED"
	StatusReviewRequired  Status = "REVIEW_REQUIRED"
	StatusQuarantined     Status = "QUARANTINED"
)

// RuntimeStatus is derived from dates at read time, never stored.
type RuntimeStatus string

const (
	RuntimeExpired    RuntimeStatus = "EXPIRED"
	RuntimeRestricted RuntimeStatus = "RESTRICTED"
	RuntimeActionable RuntimeStatus = "ACTIONABLE"
)

// BSFlag is a recorded-but-non-blocking data-quality signal raised by the
// lifecycle engine's BS detector.
type BSFlag string

const (
	FlagWhaleCap    BSFlag = "WHALE_CAP"
	FlagDateGlitch  BSFlag = "DATE_GLITCH"
	FlagRatioTest   BSFlag = "RATIO_TEST"
)

// Lead is the canonical object the whole platform revolves around. Field
// names mirror the leads table 1:1.
type Lead struct {
	ID                  string
	County              string
	CaseNumber          string
	OwnerName           string
	PropertyAddress     string
	WinningBid          float64
	TotalDebt           float64
	SurplusAmount       float64
	OverbidAmount       float64
	EstimatedSurplus    float64
	SaleDate            *time.Time
	ClaimDeadline       *time.Time
	ConfidenceScore     float64
	DataGrade           DataGrade
	SourceURL           string
	SourceHash          string
	ParserName          string
	ExtractedAt         *time.Time
	Status              Status
	AttorneyPacketReady bool
	RecordHash          string
	UpdatedAt           time.Time
	CreatedAt           time.Time

	// ProvenanceCount is populated by the store on read; it is not a
	// persisted Lead column but is needed to evaluate AttorneyPacketReady.
	ProvenanceCount int
}

// Surplus computes max(0, winningBid - totalDebt), the formula the
// extraction engine and lifecycle engine both use for SurplusAmount.
func Surplus(winningBid, totalDebt float64) float64 {
	s := winningBid - totalDebt
	if s < 0 {
		return 0
	}
	return s
}

// placeholders lists values that count as "empty" for completeness and
// attorney-packet-readiness checks.
var placeholders = map[string]bool{
	"": true, "unknown": true, "n/a": true, "na": true, "tbd": true, "-": true,
}

func isPlaceholder(s string) bool {
	return placeholders[strings.ToLower(strings.TrimSpace(s))]
}

// EligibleForPacket reports whether l satisfies the attorney-packet
// readiness invariant: non-empty county/case_number/owner_name/sale_date,
// surplus_amount > 0, and at least one provenance row.
func (l *Lead) EligibleForPacket() bool {
	if isPlaceholder(l.County) || isPlaceholder(l.CaseNumber) || isPlaceholder(l.OwnerName) {
		return false
	}
	if l.SaleDate == nil {
		return false
	}
	if l.SurplusAmount <= 0 {
		return false
	}
	return l.ProvenanceCount >= 1
}

// DeriveID computes the deterministic lead identifier {county, content_hash[:12]}.
func DeriveID(county, recordHash string) string {
	hashPrefix := recordHash
	if len(hashPrefix) > 12 {
		hashPrefix = hashPrefix[:12]
	}
	return fmt.Sprintf("%s-%s", strings.ToLower(strings.TrimSpace(county)), hashPrefix)
}

// canonicalFields is the JCS-like stable projection hashed to produce
// RecordHash. Only normalized, extraction-derived fields participate;
// lifecycle-assigned fields (grade, status, confidence) do not, since a
// lead's identity must survive re-grading.
type canonicalFields struct {
	County          string  `json:"county"`
	CaseNumber      string  `json:"case_number"`
	OwnerName       string  `json:"owner_name"`
	PropertyAddress string  `json:"property_address"`
	WinningBid      float64 `json:"winning_bid"`
	TotalDebt       float64 `json:"total_debt"`
	SurplusAmount   float64 `json:"surplus_amount"`
	SaleDate        string  `json:"sale_date"`
}

// CanonicalHash computes record_hash = SHA-256(canonical(record)).
// canonical is a stable serialization: fixed field order (via the struct
// above, which json.Marshal always emits in declaration order), trimmed
// strings, and a fixed date format.
func CanonicalHash(l *Lead) string {
	cf := canonicalFields{
		County:          strings.TrimSpace(strings.ToLower(l.County)),
		CaseNumber:      strings.TrimSpace(l.CaseNumber),
		OwnerName:       strings.TrimSpace(strings.ToUpper(l.OwnerName)),
		PropertyAddress: strings.TrimSpace(l.PropertyAddress),
		WinningBid:      l.WinningBid,
		TotalDebt:       l.TotalDebt,
		SurplusAmount:   l.SurplusAmount,
	}
	if l.SaleDate != nil {
		cf.SaleDate = l.SaleDate.UTC().Format("2006-01-02")
	}
	b, err := json.Marshal(cf)
	if err != nil {
		// canonicalFields contains only primitives; Marshal cannot fail.
		panic(fmt.Sprintf("lead: canonical marshal: %v", err))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Merge applies field-level COALESCE-on-null semantics: next's non-empty
// fields overwrite base's, but a zero/empty value in next never clobbers
// a present value in base. Confidence and grade use max-of. Returns the
// merged lead; base and next are not mutated.
func Merge(base, next *Lead) *Lead {
	out := *base

	if next.CaseNumber != "" {
		out.CaseNumber = next.CaseNumber
	}
	if next.OwnerName != "" {
		out.OwnerName = next.OwnerName
	}
	if next.PropertyAddress != "" {
		out.PropertyAddress = next.PropertyAddress
	}
	if next.WinningBid != 0 {
		out.WinningBid = next.WinningBid
	}
	if next.TotalDebt != 0 {
		out.TotalDebt = next.TotalDebt
	}
	if next.SurplusAmount != 0 {
		out.SurplusAmount = next.SurplusAmount
	}
	if next.OverbidAmount != 0 {
		out.OverbidAmount = next.OverbidAmount
	}
	if next.EstimatedSurplus != 0 {
		out.EstimatedSurplus = next.EstimatedSurplus
	}
	if next.SaleDate != nil {
		out.SaleDate = next.SaleDate
	}
	if next.ClaimDeadline != nil {
		out.ClaimDeadline = next.ClaimDeadline
	}
	if next.SourceURL != "" {
		out.SourceURL = next.SourceURL
	}
	if next.SourceHash != "" {
		out.SourceHash = next.SourceHash
	}
	if next.ParserName != "" {
		out.ParserName = next.ParserName
	}
	if next.ExtractedAt != nil {
		out.ExtractedAt = next.ExtractedAt
	}
	if next.Status != "" {
		out.Status = next.Status
	}

	// Never downgrade during extraction.
	if next.ConfidenceScore > out.ConfidenceScore {
		out.ConfidenceScore = next.ConfidenceScore
	}
	out.DataGrade = MaxGrade(out.DataGrade, next.DataGrade)

	out.RecordHash = CanonicalHash(&out)
	out.AttorneyPacketReady = out.EligibleForPacket()
	return &out
}
