// Package lifecycle implements the Lead Lifecycle Engine (C6): batch
// re-scoring, re-grading, quarantine and demotion sweeps, and the
// runtime-only status derivation used by the access gate.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/surplustrust/platform/internal/auditlog"
	"github.com/surplustrust/platform/internal/lead"
	"go.uber.org/zap"
)

// QuarantineReason is a recorded cause for moving a lead out of leads
// into quarantine.
type QuarantineReason string

const (
	ReasonVertexGhostZeroValue   QuarantineReason = "VERTEX_GHOST_ZERO_VALUE"
	ReasonPortalDebtOnlyNoSurplus QuarantineReason = "PORTAL_DEBT_ONLY_NO_SURPLUS"
)

// tier2Fields are the fields Completeness checks for non-placeholder
// content; order is irrelevant, only membership matters.
var tier2Fields = []string{"case_number", "owner_name", "property_address", "sale_date"}

var placeholderValues = map[string]bool{
	"": true, "unknown": true, "n/a": true, "na": true, "tbd": true, "-": true,
}

func isPlaceholder(s string) bool {
	return placeholderValues[strings.ToLower(strings.TrimSpace(s))]
}

// Completeness returns the fraction of Tier-2 fields that are non-empty
// and non-placeholder.
func Completeness(l *lead.Lead) float64 {
	present := 0
	if !isPlaceholder(l.CaseNumber) {
		present++
	}
	if !isPlaceholder(l.OwnerName) {
		present++
	}
	if !isPlaceholder(l.PropertyAddress) {
		present++
	}
	if l.SaleDate != nil {
		present++
	}
	return float64(present) / float64(len(tier2Fields))
}

// AgeAdjustedConfidence applies spec.md §4.6's age penalty: confidence'
// = max(0, confidence - age_penalty) where age_penalty grows 0.05 per
// week beyond the first 7 days since the lead was last updated.
func AgeAdjustedConfidence(l *lead.Lead, now time.Time) float64 {
	daysSinceUpdated := now.Sub(l.UpdatedAt).Hours() / 24
	agePenalty := 0.0
	if daysSinceUpdated > 7 {
		weeks := (daysSinceUpdated - 7) / 7
		agePenalty = weeks * 0.05
	}
	c := l.ConfidenceScore - agePenalty
	if c < 0 {
		return 0
	}
	return c
}

// Regrade computes the pipeline re-grade matrix from spec.md §4.6. It
// does not mutate l; the caller decides whether and how to persist the
// result and log the PipelineEvent.
func Regrade(l *lead.Lead, now time.Time) lead.DataGrade {
	completeness := Completeness(l)
	confidence := AgeAdjustedConfidence(l, now)
	daysToDeadline := 0
	if l.ClaimDeadline != nil {
		daysToDeadline = int(l.ClaimDeadline.Sub(now).Hours() / 24)
	}

	switch {
	case daysToDeadline <= 0 || confidence < 0.2 || l.SurplusAmount <= 0:
		return lead.GradeReject
	case completeness == 1.0 && confidence >= 0.7 && l.SurplusAmount > 0 && daysToDeadline > 30:
		return lead.GradeGold
	case completeness >= 0.8 && confidence >= 0.5 && l.SurplusAmount > 0:
		return lead.GradeSilver
	default:
		return lead.GradeBronze
	}
}

// QuarantineCheck reports the reason l should be quarantined, or ""
// if it should remain in leads. portalCounty identifies counties whose
// source platform reports debt without a surplus figure — decided
// permanent policy, see the project's design notes.
func QuarantineCheck(l *lead.Lead, isPortalCounty bool) QuarantineReason {
	if l.ConfidenceScore <= 0.15 && l.SurplusAmount == 0 && l.ParserName == "presale_continuance" {
		return ReasonVertexGhostZeroValue
	}
	if isPortalCounty && l.TotalDebt > 0 && l.SurplusAmount == 0 {
		return ReasonPortalDebtOnlyNoSurplus
	}
	return ""
}

// ShouldDemote reports whether a GOLD lead with no bid data and zero
// surplus should fall back to PIPELINE_STAGING rather than quarantine.
func ShouldDemote(l *lead.Lead) bool {
	return l.DataGrade == lead.GradeGold && l.WinningBid == 0 && l.SurplusAmount == 0
}

// Repository is the subset of lead.Repository the sweep needs.
type Repository interface {
	List(ctx context.Context, f lead.ListFilter) ([]*lead.Lead, error)
	Get(ctx context.Context, id string) (*lead.Lead, error)
	Quarantine(ctx context.Context, id string, reason string) error
	SetGrade(ctx context.Context, id string, grade lead.DataGrade) error
}

// PortalCounties identifies counties whose source platform exposes debt
// without surplus, per the project's permanent quarantine policy.
type PortalCounties map[string]bool

// Notifier fans a lifecycle event out to interested subscribers. It is
// satisfied by (*webhooks.Service).Dispatch; lifecycle depends only on
// this minimal surface to avoid importing the webhooks package directly.
type Notifier interface {
	Dispatch(ctx context.Context, eventType string, l *lead.Lead)
}

// EventLeadRestricted mirrors webhooks.EventLeadRestricted's wire value.
const EventLeadRestricted = "lead.restricted"

// Engine runs the periodic batch re-scoring, quarantine, and demotion
// sweeps over the lead store.
type Engine struct {
	repo     Repository
	audit    auditlog.Log
	clock    Clock
	portals  PortalCounties
	notifier Notifier
	logger   *zap.Logger

	restrictionMonths int
	concurrency       int
}

// SetNotifier configures the engine to dispatch EventLeadRestricted for
// every lead the sweep finds in RESTRICTED runtime status.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// Config tunes Engine's sweep behavior.
type Config struct {
	RestrictionMonths int
	Concurrency       int
	SweepInterval     time.Duration
}

// New constructs an Engine.
func New(repo Repository, audit auditlog.Log, clock Clock, portals PortalCounties, cfg Config, logger *zap.Logger) *Engine {
	if cfg.RestrictionMonths == 0 {
		cfg.RestrictionMonths = DefaultRestrictionMonths
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 8
	}
	return &Engine{
		repo: repo, audit: audit, clock: clock, portals: portals,
		logger: logger, restrictionMonths: cfg.RestrictionMonths, concurrency: cfg.Concurrency,
	}
}

// Start runs Sweep every interval until ctx is cancelled.
func (e *Engine) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := e.Sweep(ctx); err != nil {
				e.logger.Error("lifecycle sweep failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Sweep re-scores every lead with bounded concurrency, applying re-grade,
// quarantine, and demotion rules. Pure computation runs in parallel;
// writes are serialized by the repository's own transaction discipline.
func (e *Engine) Sweep(ctx context.Context) error {
	now := e.clock.Now()

	leads, err := e.repo.List(ctx, lead.ListFilter{PageSize: 10000})
	if err != nil {
		return fmt.Errorf("list leads for sweep: %w", err)
	}

	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup
	for _, l := range leads {
		wg.Add(1)
		go func(l *lead.Lead) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			e.processOne(ctx, l, now)
		}(l)
	}
	wg.Wait()
	return nil
}

func (e *Engine) processOne(ctx context.Context, l *lead.Lead, now time.Time) {
	if ShouldDemote(l) {
		if err := e.repo.SetGrade(ctx, l.ID, lead.GradePipelineStaging); err != nil {
			e.logger.Error("demote lead", zap.String("lead_id", l.ID), zap.Error(err))
			return
		}
		e.logEvent(ctx, l.ID, auditlog.TypeDemote, string(l.DataGrade), string(lead.GradePipelineStaging), "no bid data, zero surplus")
		return
	}

	reason := QuarantineCheck(l, e.portals[strings.ToLower(l.County)])
	if reason != "" {
		if err := e.repo.Quarantine(ctx, l.ID, string(reason)); err != nil {
			e.logger.Error("quarantine lead", zap.String("lead_id", l.ID), zap.Error(err))
			return
		}
		e.logEvent(ctx, l.ID, auditlog.TypeQuarantine, string(l.Status), "QUARANTINED", string(reason))
		return
	}

	newGrade := Regrade(l, now)
	if newGrade != l.DataGrade {
		if err := e.repo.SetGrade(ctx, l.ID, newGrade); err != nil {
			e.logger.Error("regrade lead", zap.String("lead_id", l.ID), zap.Error(err))
			return
		}
		e.logEvent(ctx, l.ID, auditlog.TypeGradeChange, string(l.DataGrade), string(newGrade), "periodic re-scoring sweep")
	}

	for _, f := range Flags(l) {
		e.logger.Info("bs-detector flag", zap.String("lead_id", l.ID), zap.String("flag", string(f)))
	}

	if e.notifier != nil && Status(l, now, e.restrictionMonths) == lead.RuntimeRestricted {
		e.notifier.Dispatch(ctx, EventLeadRestricted, l)
	}
}

func (e *Engine) logEvent(ctx context.Context, leadID, typ, old, new, reason string) {
	if _, err := e.audit.Append(ctx, leadID, typ, old, new, "lifecycle-engine", reason, nil); err != nil {
		e.logger.Error("append pipeline event", zap.String("lead_id", leadID), zap.Error(err))
	}
}
