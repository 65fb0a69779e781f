package extraction_test

import (
	"testing"

	"github.com/surplustrust/platform/internal/extraction"
	"github.com/surplustrust/platform/internal/lead"
)

func TestGenericParser_extractsLabeledFields(t *testing.T) {
	p := extraction.NewGenericParser("Cook")
	text := "Case No: 2024-CV-00123\nOwner: Jane Smith\nProperty Address: 123 Main St\nWinning Bid: $150,000.00\nTotal Debt: $120,000.00\nSale Date: 03/15/2024"

	records, err := p.Extract(text)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r.CaseNumber != "2024-CV-00123" {
		t.Errorf("case number mismatch: %q", r.CaseNumber)
	}
	if r.WinningBid != 150000 {
		t.Errorf("winning bid mismatch: %v", r.WinningBid)
	}
	if r.TotalDebt != 120000 {
		t.Errorf("total debt mismatch: %v", r.TotalDebt)
	}
	if r.SaleDate == nil {
		t.Fatal("expected sale date to be parsed")
	}
}

func TestGenericParser_noFieldsReturnsError(t *testing.T) {
	p := extraction.NewGenericParser("Cook")
	if _, err := p.Extract("nothing useful here"); err == nil {
		t.Error("expected error for text with no recognizable fields")
	}
}

func TestExcessFundsListParser_detectsAndParsesRows(t *testing.T) {
	p := extraction.NewExcessFundsListParser("Travis")
	text := "TRAVIS COUNTY EXCESS FUNDS LIST\n2023-FC-00456,John Doe,$12345.67\n2023-FC-00789,Mary Jones,$890.00"

	if !p.Detect(text) {
		t.Fatal("expected Detect to match excess funds list header")
	}
	records, err := p.Extract(text)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].VerifiedSurplus == nil || *records[0].VerifiedSurplus != 12345.67 {
		t.Errorf("verified surplus mismatch: %+v", records[0].VerifiedSurplus)
	}
}

func TestExcessFundsListParser_scoreRewardsVerifiedSurplus(t *testing.T) {
	p := extraction.NewExcessFundsListParser("Travis")
	amt := 12345.67
	r := extraction.RawRecord{CaseNumber: "2023-FC-00456", OwnerName: "John Doe", VerifiedSurplus: &amt}
	score := p.Score(r)
	if score < 0.8 {
		t.Errorf("expected high score for verified surplus with case number and owner, got %v", score)
	}
}

func TestConfidence_lowWhenOnlyVerifiedSurplusPresent(t *testing.T) {
	amt := 5000.0
	r := extraction.RawRecord{VerifiedSurplus: &amt}
	if got := extraction.Confidence(r); got != 0.05 {
		t.Errorf("expected 0.05 partial credit, got %v", got)
	}
}

func TestGrade_thresholds(t *testing.T) {
	cases := []struct {
		surplus float64
		score   float64
		want    lead.DataGrade
	}{
		{12000, 0.85, lead.GradeGold},
		{6000, 0.65, lead.GradeSilver},
		{100, 0.30, lead.GradeBronze},
		{0, 0.90, lead.GradeIron},
	}
	for _, tc := range cases {
		bid := tc.surplus
		r := extraction.RawRecord{WinningBid: bid, TotalDebt: 0}
		if got := extraction.Grade(r, tc.score); got != tc.want {
			t.Errorf("surplus=%v score=%v: got %s, want %s", tc.surplus, tc.score, got, tc.want)
		}
	}
}

func TestRegistry_selectsFirstMatchingParser(t *testing.T) {
	reg := extraction.NewRegistry(
		extraction.NewExcessFundsListParser("Travis"),
		extraction.NewGenericParser("Travis"),
	)
	if got := reg.Select("TRAVIS COUNTY EXCESS FUNDS LIST\nrow"); got.Name() != "excess_funds_list" {
		t.Errorf("expected excess_funds_list to win, got %s", got.Name())
	}
	if got := reg.Select("Case No: 123\nOwner: Jane"); got.Name() != "generic" {
		t.Errorf("expected generic fallback, got %s", got.Name())
	}
}
