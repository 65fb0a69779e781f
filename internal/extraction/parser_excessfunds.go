package extraction

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/surplustrust/platform/internal/lead"
)

// ExcessFundsListParser handles county-published excess-funds/surplus
// lists: tab- or comma-delimited rows of case_number, owner_name,
// surplus_amount with no bid/debt breakdown, published directly by the
// clerk's office as an authoritative claim list. Because the surplus
// figure itself is county-verified rather than derived, this parser
// overrides Score to award high confidence despite the missing
// bid/debt fields the default formula expects.
type ExcessFundsListParser struct {
	county string
}

func NewExcessFundsListParser(county string) *ExcessFundsListParser {
	return &ExcessFundsListParser{county: county}
}

func (p *ExcessFundsListParser) Name() string { return "excess_funds_list" }

func (p *ExcessFundsListParser) Detect(text string) bool {
	upper := strings.ToUpper(text)
	return strings.Contains(upper, "EXCESS FUNDS") || strings.Contains(upper, "SURPLUS FUNDS LIST") ||
		strings.Contains(upper, "UNCLAIMED FUNDS")
}

func (p *ExcessFundsListParser) Extract(text string) ([]RawRecord, error) {
	var records []RawRecord
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := splitListLine(line)
		if len(fields) < 3 {
			continue
		}
		caseNumber := strings.TrimSpace(fields[0])
		owner := strings.TrimSpace(fields[1])
		amountField := strings.TrimSpace(fields[len(fields)-1])

		amount, err := strconv.ParseFloat(strings.NewReplacer("$", "", ",", "").Replace(amountField), 64)
		if err != nil {
			continue
		}
		if !looksLikeCaseNumber(caseNumber) {
			continue
		}

		amt := amount
		records = append(records, RawRecord{
			County:          p.county,
			CaseNumber:      caseNumber,
			OwnerName:       owner,
			VerifiedSurplus: &amt,
		})
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("excess funds list parser found no rows in %d lines", strings.Count(text, "\n")+1)
	}
	return records, nil
}

// Score overrides the default Confidence: a county-verified surplus
// figure with a case number and owner name is trustworthy even without
// the bid/debt breakdown the default formula rewards.
func (p *ExcessFundsListParser) Score(r RawRecord) float64 {
	if r.VerifiedSurplus == nil {
		return Confidence(r)
	}
	score := 0.70
	if r.CaseNumber != "" {
		score += 0.15
	}
	if len(r.OwnerName) > 2 {
		score += 0.15
	}
	if score > 1 {
		score = 1
	}
	return score
}

func (p *ExcessFundsListParser) Grade(r RawRecord, score float64) lead.DataGrade {
	return Grade(r, score)
}

func splitListLine(line string) []string {
	if strings.Contains(line, "\t") {
		return strings.Split(line, "\t")
	}
	return strings.Split(line, ",")
}

func looksLikeCaseNumber(s string) bool {
	if len(s) < 4 {
		return false
	}
	hasDigit := false
	for _, r := range s {
		if r >= '0' && r <= '9' {
			hasDigit = true
			break
		}
	}
	return hasDigit
}
