package lead

import (
	"testing"
	"time"
)

func TestSurplus(t *testing.T) {
	cases := []struct {
		bid, debt, want float64
	}{
		{285000, 210000, 75000},
		{100, 500, 0},
		{0, 0, 0},
	}
	for _, c := range cases {
		if got := Surplus(c.bid, c.debt); got != c.want {
			t.Errorf("Surplus(%v, %v) = %v, want %v", c.bid, c.debt, got, c.want)
		}
	}
}

func TestCanonicalHashStableAcrossGradeChanges(t *testing.T) {
	saleDate := time.Date(2025, 8, 15, 0, 0, 0, 0, time.UTC)
	base := &Lead{
		County: "Brighton", CaseNumber: "2025CV001", OwnerName: "smith, john",
		PropertyAddress: "1234 Main St", WinningBid: 285000, TotalDebt: 210000,
		SurplusAmount: 75000, SaleDate: &saleDate,
		ConfidenceScore: 0.5, DataGrade: GradeBronze,
	}
	h1 := CanonicalHash(base)

	regraded := *base
	regraded.ConfidenceScore = 0.95
	regraded.DataGrade = GradeGold
	h2 := CanonicalHash(&regraded)

	if h1 != h2 {
		t.Fatalf("record_hash changed across grade-only mutation: %s != %s", h1, h2)
	}
}

func TestCanonicalHashCaseAndWhitespaceInsensitive(t *testing.T) {
	a := &Lead{County: "Brighton", OwnerName: "Smith, John"}
	b := &Lead{County: "  brighton ", OwnerName: "  smith, john  "}
	if CanonicalHash(a) != CanonicalHash(b) {
		t.Fatal("canonical hash should be case/whitespace insensitive on county and owner")
	}
}

func TestDeriveID(t *testing.T) {
	id := DeriveID("Brighton", "abcdef0123456789")
	want := "brighton-abcdef012345"
	if id != want {
		t.Fatalf("DeriveID = %q, want %q", id, want)
	}
}

func TestMergeNeverOverwritesWithEmpty(t *testing.T) {
	base := &Lead{County: "co", OwnerName: "SMITH, JOHN", SurplusAmount: 1000, DataGrade: GradeBronze}
	next := &Lead{County: "co", OwnerName: "", SurplusAmount: 0, DataGrade: GradeIron}

	merged := Merge(base, next)
	if merged.OwnerName != "SMITH, JOHN" {
		t.Errorf("owner_name was clobbered by empty next value: %q", merged.OwnerName)
	}
	if merged.SurplusAmount != 1000 {
		t.Errorf("surplus_amount was clobbered by zero next value: %v", merged.SurplusAmount)
	}
}

func TestMergeGradeIsMaxOf(t *testing.T) {
	base := &Lead{County: "co", DataGrade: GradeBronze}
	next := &Lead{County: "co", DataGrade: GradeGold}
	if got := Merge(base, next).DataGrade; got != GradeGold {
		t.Errorf("merge grade = %s, want GOLD (max-of)", got)
	}

	base2 := &Lead{County: "co", DataGrade: GradeGold}
	next2 := &Lead{County: "co", DataGrade: GradeBronze}
	if got := Merge(base2, next2).DataGrade; got != GradeGold {
		t.Errorf("merge grade = %s, want GOLD (never downgrade during extraction)", got)
	}
}

func TestMergeConfidenceNeverDecreases(t *testing.T) {
	base := &Lead{County: "co", ConfidenceScore: 0.8}
	next := &Lead{County: "co", ConfidenceScore: 0.3}
	if got := Merge(base, next).ConfidenceScore; got != 0.8 {
		t.Errorf("merged confidence = %v, want 0.8 (max-of)", got)
	}
}

func TestEligibleForPacket(t *testing.T) {
	saleDate := time.Now()
	complete := &Lead{
		County: "co", CaseNumber: "123", OwnerName: "SMITH",
		SaleDate: &saleDate, SurplusAmount: 500, ProvenanceCount: 1,
	}
	if !complete.EligibleForPacket() {
		t.Error("expected complete lead to be packet-eligible")
	}

	noProvenance := *complete
	noProvenance.ProvenanceCount = 0
	if noProvenance.EligibleForPacket() {
		t.Error("lead with zero provenance rows must not be packet-eligible")
	}

	zeroSurplus := *complete
	zeroSurplus.SurplusAmount = 0
	if zeroSurplus.EligibleForPacket() {
		t.Error("lead with zero surplus must not be packet-eligible")
	}

	placeholderOwner := *complete
	placeholderOwner.OwnerName = "unknown"
	if placeholderOwner.EligibleForPacket() {
		t.Error("placeholder owner_name must not be packet-eligible")
	}
}
