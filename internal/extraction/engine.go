package extraction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/surplustrust/platform/internal/auditlog"
	"github.com/surplustrust/platform/internal/lead"
	"github.com/surplustrust/platform/internal/statute"
	"go.uber.org/zap"
)

// defaultAssetType is the statute_authority asset_type every surplus
// lead is looked up under; the platform tracks one asset class today.
const defaultAssetType = "foreclosure_surplus"

// Routing thresholds from spec.md §4.4: confidence above 0.80 is good
// enough to serve, 0.50-0.80 needs a human look, anything lower never
// touches the leads table at all.
const (
	thresholdEnriched = 0.80
	thresholdReview   = 0.50
)

// leadRepo is the storage surface the engine needs from lead.Repository.
type leadRepo interface {
	Upsert(ctx context.Context, l *lead.Lead) (*lead.Lead, lead.UpsertOutcome, error)
	AddProvenance(ctx context.Context, id, leadID, sourceURL, sourceHash, parserName string) error
}

// Notifier fans a newly matched lead out to interested subscribers. It is
// satisfied by (*webhooks.Service).Dispatch; extraction depends only on
// this minimal surface to avoid importing the webhooks package directly.
type Notifier interface {
	Dispatch(ctx context.Context, eventType string, l *lead.Lead)
}

// EventLeadMatched mirrors webhooks.EventLeadMatched's wire value.
const EventLeadMatched = "lead.matched"

// Engine is the Extraction Engine (C4): it runs a document's text through
// the parser registry, scores and grades the result, and routes the
// record by confidence threshold — persisting, holding for review, or
// dropping to the anomaly log. Persisted records are logged as a
// PipelineEvent; dropped records are written to anomaly_log only.
type Engine struct {
	registry *Registry
	repo     leadRepo
	db       *sql.DB
	audit    auditlog.Log
	notifier Notifier
	statutes *statute.Lookup
	logger   *zap.Logger
}

// NewEngine builds an Engine. db is used only for anomaly_log writes
// (records below the review threshold never reach the lead repository).
func NewEngine(registry *Registry, repo leadRepo, db *sql.DB, audit auditlog.Log, logger *zap.Logger) *Engine {
	return &Engine{registry: registry, repo: repo, db: db, audit: audit, logger: logger}
}

// SetNotifier configures the engine to dispatch EventLeadMatched whenever
// a document persists a brand-new ENRICHED lead.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// SetStatuteLookup configures the engine to derive claim_deadline from
// the curated statute_authority table at persist time. Without one,
// persisted leads carry no claim deadline unless a parser set it
// directly on the record.
func (e *Engine) SetStatuteLookup(l *statute.Lookup) {
	e.statutes = l
}

// Outcome describes what the engine did with one document.
type Outcome struct {
	Parser     string
	Confidence float64
	Grade      lead.DataGrade
	LeadID     string
	Status     lead.Status
	Dropped    bool
}

// ProcessDocument extracts records from text, scores and routes each one.
// sourceURL/sourceHash identify the document that produced text, for
// provenance tracking; text is typically the output of ExtractPDFText or
// an adapter's raw HTML/plaintext capture.
func (e *Engine) ProcessDocument(ctx context.Context, text, sourceURL, sourceHash string) ([]Outcome, error) {
	parser := e.registry.Select(text)
	if parser == nil {
		return nil, fmt.Errorf("no parser matched document %s", sourceURL)
	}

	records, err := parser.Extract(text)
	if err != nil {
		return nil, fmt.Errorf("parser %s extract: %w", parser.Name(), err)
	}

	outcomes := make([]Outcome, 0, len(records))
	for _, r := range records {
		r.SourceURL = sourceURL
		r.SourceHash = sourceHash
		r.ParserName = parser.Name()

		outcome, err := e.routeOne(ctx, parser, r)
		if err != nil {
			e.logger.Error("extraction: route record failed",
				zap.String("parser", parser.Name()), zap.String("source_url", sourceURL), zap.Error(err))
			continue
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (e *Engine) routeOne(ctx context.Context, parser Parser, r RawRecord) (Outcome, error) {
	score := parser.Score(r)
	grade := parser.Grade(r, score)

	out := Outcome{Parser: parser.Name(), Confidence: score, Grade: grade}

	switch {
	case score > thresholdEnriched:
		return e.persist(ctx, r, score, grade, lead.StatusEnriched, out)
	case score > thresholdReview:
		return e.persist(ctx, r, score, grade, lead.StatusReviewRequired, out)
	default:
		if err := e.dropToAnomalyLog(ctx, r, score); err != nil {
			return out, err
		}
		out.Dropped = true
		return out, nil
	}
}

func (e *Engine) persist(ctx context.Context, r RawRecord, score float64, grade lead.DataGrade, status lead.Status, out Outcome) (Outcome, error) {
	now := time.Now().UTC()
	l := &lead.Lead{
		County:          r.County,
		CaseNumber:      r.CaseNumber,
		OwnerName:       r.OwnerName,
		PropertyAddress: r.PropertyAddress,
		WinningBid:      r.WinningBid,
		TotalDebt:       r.TotalDebt,
		SurplusAmount:   surplusAmount(r),
		SaleDate:        r.SaleDate,
		ConfidenceScore: score,
		DataGrade:       grade,
		SourceURL:       r.SourceURL,
		SourceHash:      r.SourceHash,
		ParserName:      r.ParserName,
		ExtractedAt:     &now,
		Status:          status,
	}
	if r.VerifiedSurplus != nil {
		l.EstimatedSurplus = *r.VerifiedSurplus
	}

	if e.statutes != nil && l.SaleDate != nil {
		if a, err := e.statutes.Get(ctx, r.County, defaultAssetType); err == nil {
			deadline := l.SaleDate.AddDate(0, 0, int(a.StatuteYears*365))
			l.ClaimDeadline = &deadline
		} else if !errors.Is(err, statute.ErrNotFound) {
			e.logger.Warn("statute lookup failed", zap.String("county", r.County), zap.Error(err))
		}
	}

	saved, upsertOutcome, err := e.repo.Upsert(ctx, l)
	if err != nil {
		return out, fmt.Errorf("upsert lead: %w", err)
	}

	provID := uuid.NewString()
	if err := e.repo.AddProvenance(ctx, provID, saved.ID, r.SourceURL, r.SourceHash, r.ParserName); err != nil {
		return out, fmt.Errorf("add provenance: %w", err)
	}

	out.LeadID = saved.ID
	out.Status = saved.Status

	if _, err := e.audit.Append(ctx, saved.ID, auditlog.TypeExtraction,
		"", string(upsertOutcome), "extraction_engine",
		fmt.Sprintf("parser=%s confidence=%.2f grade=%s", r.ParserName, score, grade),
		map[string]any{"source_url": r.SourceURL, "status": string(status)},
	); err != nil {
		e.logger.Warn("extraction: audit append failed", zap.String("lead_id", saved.ID), zap.Error(err))
	}

	if e.notifier != nil && upsertOutcome == lead.Inserted && status == lead.StatusEnriched {
		e.notifier.Dispatch(ctx, EventLeadMatched, saved)
	}

	return out, nil
}

func (e *Engine) dropToAnomalyLog(ctx context.Context, r RawRecord, score float64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO anomaly_log (id, source_url, reason, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), r.SourceURL,
		fmt.Sprintf("confidence %.2f below review threshold", score),
		anomalyPayload(r), now,
	)
	if err != nil {
		return fmt.Errorf("insert anomaly_log: %w", err)
	}
	return nil
}

func anomalyPayload(r RawRecord) string {
	return fmt.Sprintf(
		`{"county":%q,"case_number":%q,"owner_name":%q,"source_hash":%q,"parser":%q}`,
		r.County, r.CaseNumber, r.OwnerName, r.SourceHash, r.ParserName,
	)
}
