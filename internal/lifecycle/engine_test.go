package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/surplustrust/platform/internal/auditlog"
	"github.com/surplustrust/platform/internal/lead"
	"go.uber.org/zap"
)

type stubRepo struct {
	leads       map[string]*lead.Lead
	quarantined map[string]string
}

func newStubRepo() *stubRepo {
	return &stubRepo{leads: map[string]*lead.Lead{}, quarantined: map[string]string{}}
}

func (s *stubRepo) List(_ context.Context, _ lead.ListFilter) ([]*lead.Lead, error) {
	var out []*lead.Lead
	for _, l := range s.leads {
		out = append(out, l)
	}
	return out, nil
}

func (s *stubRepo) Get(_ context.Context, id string) (*lead.Lead, error) {
	l, ok := s.leads[id]
	if !ok {
		return nil, lead.ErrNotFound
	}
	return l, nil
}

func (s *stubRepo) Quarantine(_ context.Context, id string, reason string) error {
	s.quarantined[id] = reason
	delete(s.leads, id)
	return nil
}

func (s *stubRepo) SetGrade(_ context.Context, id string, grade lead.DataGrade) error {
	s.leads[id].DataGrade = grade
	return nil
}

func TestSweepDemotesGoldWithNoSurplus(t *testing.T) {
	repo := newStubRepo()
	repo.leads["l1"] = &lead.Lead{ID: "l1", DataGrade: lead.GradeGold, WinningBid: 0, SurplusAmount: 0, UpdatedAt: time.Now()}

	eng := New(repo, auditlog.NewMemoryLog(), RealClock{}, PortalCounties{}, Config{}, zap.NewNop())
	if err := eng.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if repo.leads["l1"].DataGrade != lead.GradePipelineStaging {
		t.Errorf("grade = %s, want PIPELINE_STAGING", repo.leads["l1"].DataGrade)
	}
}

func TestSweepQuarantinesPortalCounty(t *testing.T) {
	repo := newStubRepo()
	repo.leads["l2"] = &lead.Lead{ID: "l2", County: "jefferson", TotalDebt: 10000, SurplusAmount: 0, UpdatedAt: time.Now()}

	eng := New(repo, auditlog.NewMemoryLog(), RealClock{}, PortalCounties{"jefferson": true}, Config{}, zap.NewNop())
	if err := eng.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if _, ok := repo.leads["l2"]; ok {
		t.Error("expected lead to be removed from leads after quarantine")
	}
	if repo.quarantined["l2"] != string(ReasonPortalDebtOnlyNoSurplus) {
		t.Errorf("quarantine reason = %q, want %q", repo.quarantined["l2"], ReasonPortalDebtOnlyNoSurplus)
	}
}

func TestSweepEmitsPipelineEventOnGradeChange(t *testing.T) {
	repo := newStubRepo()
	saleDate := time.Now().AddDate(0, 0, -1)
	deadline := saleDate.AddDate(1, 0, 0)
	repo.leads["l3"] = &lead.Lead{
		ID: "l3", CaseNumber: "1", OwnerName: "SMITH", PropertyAddress: "1 Main St",
		SaleDate: &saleDate, ClaimDeadline: &deadline,
		SurplusAmount: 50000, ConfidenceScore: 0.95, DataGrade: lead.GradeBronze, UpdatedAt: time.Now(),
	}

	audit := auditlog.NewMemoryLog()
	eng := New(repo, audit, RealClock{}, PortalCounties{}, Config{}, zap.NewNop())
	if err := eng.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	events, err := audit.ForTarget(context.Background(), "l3")
	if err != nil {
		t.Fatalf("ForTarget: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 pipeline event, got %d", len(events))
	}
	if events[0].Type != auditlog.TypeGradeChange {
		t.Errorf("event type = %s, want GRADE_CHANGE", events[0].Type)
	}
}
