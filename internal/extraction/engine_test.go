package extraction_test

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/surplustrust/platform/internal/auditlog"
	"github.com/surplustrust/platform/internal/extraction"
	"github.com/surplustrust/platform/internal/lead"
	"go.uber.org/zap"
)

type fakeLeadRepo struct {
	leads      map[string]*lead.Lead
	provenance int
}

func newFakeLeadRepo() *fakeLeadRepo {
	return &fakeLeadRepo{leads: map[string]*lead.Lead{}}
}

func (f *fakeLeadRepo) Upsert(ctx context.Context, l *lead.Lead) (*lead.Lead, lead.UpsertOutcome, error) {
	l.RecordHash = lead.CanonicalHash(l)
	if l.ID == "" {
		l.ID = lead.DeriveID(l.County, l.RecordHash)
	}
	if existing, ok := f.leads[l.ID]; ok {
		merged := lead.Merge(existing, l)
		f.leads[l.ID] = merged
		return merged, lead.Updated, nil
	}
	f.leads[l.ID] = l
	return l, lead.Inserted, nil
}

func (f *fakeLeadRepo) AddProvenance(ctx context.Context, id, leadID, sourceURL, sourceHash, parserName string) error {
	f.provenance++
	return nil
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE anomaly_log (
		id TEXT PRIMARY KEY, source_url TEXT NOT NULL, reason TEXT NOT NULL,
		payload TEXT NOT NULL, created_at TEXT NOT NULL)`); err != nil {
		t.Fatalf("create anomaly_log: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEngine_highConfidenceRecordPersistsAsEnriched(t *testing.T) {
	db := openTestDB(t)
	repo := newFakeLeadRepo()
	registry := extraction.NewRegistry(extraction.NewGenericParser("Cook"))
	engine := extraction.NewEngine(registry, repo, db, auditlog.NewMemoryLog(), zap.NewNop())

	text := "Case No: 2024-CV-00123\nOwner: Jane Smith\nProperty Address: 123 Main St Springfield\nWinning Bid: $150,000.00\nTotal Debt: $120,000.00\nSale Date: 03/15/2024"

	outcomes, err := engine.ProcessDocument(context.Background(), text, "https://example.gov/doc1", "hash1")
	if err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(outcomes))
	}
	if outcomes[0].Dropped {
		t.Fatal("expected record to persist, not drop")
	}
	if outcomes[0].Status != lead.StatusEnriched && outcomes[0].Status != lead.StatusReviewRequired {
		t.Errorf("unexpected status: %s", outcomes[0].Status)
	}
	if repo.provenance != 1 {
		t.Errorf("expected 1 provenance row, got %d", repo.provenance)
	}
}

func TestEngine_lowConfidenceRecordDropsToAnomalyLog(t *testing.T) {
	db := openTestDB(t)
	repo := newFakeLeadRepo()

	lowParser := &stubParser{name: "low", record: extraction.RawRecord{CaseNumber: "1", County: "Cook"}, score: 0.1}
	registry := extraction.NewRegistry(lowParser)
	engine := extraction.NewEngine(registry, repo, db, auditlog.NewMemoryLog(), zap.NewNop())

	outcomes, err := engine.ProcessDocument(context.Background(), "anything", "https://example.gov/doc2", "hash2")
	if err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}
	if len(outcomes) != 1 || !outcomes[0].Dropped {
		t.Fatalf("expected dropped outcome, got %+v", outcomes)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM anomaly_log").Scan(&count); err != nil {
		t.Fatalf("query anomaly_log: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 anomaly_log row, got %d", count)
	}
	if len(repo.leads) != 0 {
		t.Error("expected low confidence record not to be persisted to the lead repository")
	}
}

// stubParser lets tests pin an exact score/grade independent of Confidence.
type stubParser struct {
	name   string
	record extraction.RawRecord
	score  float64
}

func (p *stubParser) Name() string            { return p.name }
func (p *stubParser) Detect(text string) bool { return true }
func (p *stubParser) Extract(text string) ([]extraction.RawRecord, error) {
	return []extraction.RawRecord{p.record}, nil
}
func (p *stubParser) Score(r extraction.RawRecord) float64 { return p.score }
func (p *stubParser) Grade(r extraction.RawRecord, score float64) lead.DataGrade {
	return extraction.Grade(r, score)
}
