package lifecycle

import (
	"testing"
	"time"

	"github.com/surplustrust/platform/internal/lead"
)

func mustDate(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestStatusTransitionsAtBoundaries(t *testing.T) {
	// spec.md §8 concrete scenario 6:
	// at sale_date+179d: RESTRICTED. At sale_date+181d with
	// claim_deadline=sale_date+180d: EXPIRED.
	saleDate := mustDate("2025-01-01")

	l := &lead.Lead{SaleDate: saleDate, ClaimDeadline: ptrAdd(*saleDate, 180)}

	now179 := saleDate.AddDate(0, 0, 179)
	if got := Status(l, now179, 6); got != lead.RuntimeRestricted {
		t.Errorf("at +179d status = %s, want RESTRICTED", got)
	}

	now181 := saleDate.AddDate(0, 0, 181)
	if got := Status(l, now181, 6); got != lead.RuntimeExpired {
		t.Errorf("at +181d status = %s, want EXPIRED", got)
	}
}

func ptrAdd(t time.Time, days int) *time.Time {
	d := t.AddDate(0, 0, days)
	return &d
}

func TestStatusExpiredTakesPrecedenceOverRestricted(t *testing.T) {
	saleDate := mustDate("2025-01-01")
	deadline := saleDate.AddDate(0, 0, -1) // already expired despite recent sale
	l := &lead.Lead{SaleDate: saleDate, ClaimDeadline: &deadline}

	if got := Status(l, *saleDate, 6); got != lead.RuntimeExpired {
		t.Errorf("status = %s, want EXPIRED", got)
	}
}

func TestStatusActionableAfterRestriction(t *testing.T) {
	saleDate := mustDate("2025-01-01")
	deadline := saleDate.AddDate(5, 0, 0)
	l := &lead.Lead{SaleDate: saleDate, ClaimDeadline: &deadline}

	now := saleDate.AddDate(0, 7, 0) // past the 6-calendar-month restriction
	if got := Status(l, now, 6); got != lead.RuntimeActionable {
		t.Errorf("status = %s, want ACTIONABLE", got)
	}
}

func TestRegradeGoldScenario(t *testing.T) {
	// spec.md §8 concrete scenario 2.
	saleDate := mustDate("2025-08-15")
	deadline := saleDate.AddDate(1, 0, 0)
	now := saleDate.AddDate(0, 0, 1)

	l := &lead.Lead{
		CaseNumber: "2025CV1", OwnerName: "SMITH, JOHN", PropertyAddress: "1234 Main St, Brighton, CO",
		WinningBid: 285000, TotalDebt: 210000, SurplusAmount: 75000,
		SaleDate: saleDate, ClaimDeadline: &deadline,
		ConfidenceScore: 1.0, UpdatedAt: now,
	}

	if got := Regrade(l, now); got != lead.GradeGold {
		t.Errorf("grade = %s, want GOLD", got)
	}
}

func TestRegradeRejectsPastDeadline(t *testing.T) {
	saleDate := mustDate("2020-01-01")
	deadline := saleDate.AddDate(0, 0, -1)
	l := &lead.Lead{SurplusAmount: 1000, ConfidenceScore: 0.9, ClaimDeadline: &deadline, UpdatedAt: *saleDate}

	if got := Regrade(l, *saleDate); got != lead.GradeReject {
		t.Errorf("grade = %s, want REJECT (deadline passed)", got)
	}
}

func TestAgeAdjustedConfidencePenalizesStaleLeads(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := &lead.Lead{ConfidenceScore: 0.9, UpdatedAt: now.AddDate(0, 0, -21)}

	// 21 days stale: (21-7)/7 = 2 weeks * 0.05 = 0.10 penalty.
	got := AgeAdjustedConfidence(l, now)
	want := 0.8
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("AgeAdjustedConfidence = %v, want %v", got, want)
	}
}

func TestQuarantineCheckPortalDebtOnly(t *testing.T) {
	l := &lead.Lead{TotalDebt: 50000, SurplusAmount: 0}
	if got := QuarantineCheck(l, true); got != ReasonPortalDebtOnlyNoSurplus {
		t.Errorf("reason = %q, want PORTAL_DEBT_ONLY_NO_SURPLUS", got)
	}
	if got := QuarantineCheck(l, false); got != "" {
		t.Errorf("reason = %q, want empty for non-portal county", got)
	}
}

func TestShouldDemoteGoldWithNoBidAndZeroSurplus(t *testing.T) {
	l := &lead.Lead{DataGrade: lead.GradeGold, WinningBid: 0, SurplusAmount: 0}
	if !ShouldDemote(l) {
		t.Error("expected GOLD lead with no bid/surplus to be demoted")
	}
}

func TestFlagsWhaleCap(t *testing.T) {
	l := &lead.Lead{SurplusAmount: 1_500_000}
	flags := Flags(l)
	found := false
	for _, f := range flags {
		if f == lead.FlagWhaleCap {
			found = true
		}
	}
	if !found {
		t.Error("expected WHALE_CAP flag for surplus > $1M")
	}
}

func TestFlagsRatioTest(t *testing.T) {
	l := &lead.Lead{SurplusAmount: 60000, TotalDebt: 100000}
	flags := Flags(l)
	found := false
	for _, f := range flags {
		if f == lead.FlagRatioTest {
			found = true
		}
	}
	if !found {
		t.Error("expected RATIO_TEST flag when surplus > 0.5*debt")
	}
}
