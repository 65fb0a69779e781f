package extraction

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/surplustrust/platform/internal/lead"
)

// GenericParser is the registry's terminal, always-match fallback: it
// looks for loosely-labeled "case", "bid"/"sale price", and "debt" fields
// in free text and scores the result with the default Confidence formula.
// Every registry should end with one of these so no document is silently
// dropped for lack of a dedicated parser.
type GenericParser struct {
	county string
}

func NewGenericParser(county string) *GenericParser {
	return &GenericParser{county: county}
}

func (p *GenericParser) Name() string { return "generic" }

// Detect always matches; callers must order the registry so more
// specific parsers run first.
func (p *GenericParser) Detect(text string) bool { return true }

var (
	genericCaseRe    = regexp.MustCompile(`(?i)case\s*(?:no\.?|number)?\s*[:#]?\s*([A-Z0-9\-]{4,})`)
	genericOwnerRe   = regexp.MustCompile(`(?i)(?:owner|defendant)\s*[:#]?\s*([A-Za-z ,.'\-]{3,60})`)
	genericAddressRe = regexp.MustCompile(`(?i)(?:property address|address)\s*[:#]?\s*([0-9][^\n]{5,80})`)
	genericBidRe     = regexp.MustCompile(`(?i)(?:winning bid|sale price|sold for)\s*[:#]?\s*\$?([\d,]+\.?\d*)`)
	genericDebtRe    = regexp.MustCompile(`(?i)(?:total debt|judgment amount|amount owed)\s*[:#]?\s*\$?([\d,]+\.?\d*)`)
	genericDateRe    = regexp.MustCompile(`(?i)(?:sale date|auction date)\s*[:#]?\s*(\d{1,2}/\d{1,2}/\d{2,4})`)
)

func (p *GenericParser) Extract(text string) ([]RawRecord, error) {
	r := RawRecord{County: p.county}

	if m := genericCaseRe.FindStringSubmatch(text); m != nil {
		r.CaseNumber = strings.TrimSpace(m[1])
	}
	if m := genericOwnerRe.FindStringSubmatch(text); m != nil {
		r.OwnerName = strings.TrimSpace(m[1])
	}
	if m := genericAddressRe.FindStringSubmatch(text); m != nil {
		r.PropertyAddress = strings.TrimSpace(m[1])
	}
	if m := genericBidRe.FindStringSubmatch(text); m != nil {
		r.WinningBid = parseMoney(m[1])
	}
	if m := genericDebtRe.FindStringSubmatch(text); m != nil {
		r.TotalDebt = parseMoney(m[1])
	}
	if m := genericDateRe.FindStringSubmatch(text); m != nil {
		if t, err := parseLooseDate(m[1]); err == nil {
			r.SaleDate = &t
		}
	}

	if r.CaseNumber == "" && r.OwnerName == "" {
		return nil, fmt.Errorf("generic parser found no recognizable fields")
	}
	return []RawRecord{r}, nil
}

func (p *GenericParser) Score(r RawRecord) float64 {
	return Confidence(r)
}

func (p *GenericParser) Grade(r RawRecord, score float64) lead.DataGrade {
	return Grade(r, score)
}

func parseMoney(s string) float64 {
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseLooseDate(s string) (time.Time, error) {
	for _, layout := range []string{"1/2/2006", "01/02/2006", "1/2/06"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %s", s)
}
