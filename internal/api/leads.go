package api

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/surplustrust/platform/internal/lead"
	"github.com/surplustrust/platform/internal/lifecycle"
)

// leadLister is the subset of *lead.Repository the public listing
// endpoints need.
type leadLister interface {
	leadGetter
	List(ctx context.Context, f lead.ListFilter) ([]*lead.Lead, error)
}

// LeadsHandler serves the unauthenticated lead-discovery surface:
// paginated SafeLeads, a single SafeLead, the HMAC-keyed preview list,
// the non-PII sample dossier, and the admin raw listing.
type LeadsHandler struct {
	leads             leadLister
	db                *sql.DB
	previewSecret     string
	restrictionMonths int
	clock             lifecycle.Clock
	logger            *zap.Logger
}

func NewLeadsHandler(leads leadLister, db *sql.DB, previewSecret string, restrictionMonths int, clock lifecycle.Clock, logger *zap.Logger) *LeadsHandler {
	if clock == nil {
		clock = lifecycle.RealClock{}
	}
	return &LeadsHandler{leads: leads, db: db, previewSecret: previewSecret, restrictionMonths: restrictionMonths, clock: clock, logger: logger}
}

// Register mounts the public lead routes.
func (h *LeadsHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/leads", h.ListLeads)
	rg.GET("/lead/:id", h.GetLead)
	rg.GET("/preview/leads", h.PreviewLeads)
	rg.GET("/dossier/sample/:key", h.SampleDossier)
}

// RegisterAdmin mounts the admin-key-gated routes.
func (h *LeadsHandler) RegisterAdmin(rg *gin.RouterGroup) {
	rg.GET("/leads", h.AdminListLeads)
}

func parsePageParams(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.Query("page"))
	pageSize, _ = strconv.Atoi(c.Query("page_size"))
	return page, pageSize
}

// ListLeads handles GET /api/leads.
func (h *LeadsHandler) ListLeads(c *gin.Context) {
	page, pageSize := parsePageParams(c)
	f := lead.ListFilter{
		County:     c.Query("county"),
		DataGrade:  lead.DataGrade(c.Query("grade")),
		Page:       page,
		PageSize:   pageSize,
	}
	if min, err := strconv.ParseFloat(c.Query("min_surplus"), 64); err == nil {
		f.MinSurplus = min
	}

	leads, err := h.leads.List(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("list leads", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal", "message": "failed to list leads"})
		return
	}

	now := h.clock.Now()
	out := make([]SafeLead, 0, len(leads))
	for _, l := range leads {
		out = append(out, ToSafeLead(l, now, h.restrictionMonths))
	}
	c.JSON(http.StatusOK, gin.H{"leads": out, "page": f.Page, "page_size": f.PageSize})
}

// GetLead handles GET /api/lead/:id.
func (h *LeadsHandler) GetLead(c *gin.Context) {
	l, err := h.leads.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "NotFound", "message": "lead not found"})
		return
	}
	c.JSON(http.StatusOK, ToSafeLead(l, h.clock.Now(), h.restrictionMonths))
}

// PreviewLeads handles GET /api/preview/leads: same SafeLead projection
// as ListLeads, but keyed by preview_key rather than raw lead id, and
// lazily registers each returned lead's preview key so SampleDossier can
// resolve it in O(1).
func (h *LeadsHandler) PreviewLeads(c *gin.Context) {
	page, pageSize := parsePageParams(c)
	f := lead.ListFilter{Page: page, PageSize: pageSize}

	leads, err := h.leads.List(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("preview list leads", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal", "message": "failed to list leads"})
		return
	}

	now := h.clock.Now()
	type previewLead struct {
		SafeLead
		PreviewKey string `json:"preview_key"`
	}
	out := make([]previewLead, 0, len(leads))
	for _, l := range leads {
		key := PreviewKey(h.previewSecret, l.ID)
		if err := h.registerPreviewKey(c.Request.Context(), key, l.ID); err != nil {
			h.logger.Warn("register preview key", zap.String("lead_id", l.ID), zap.Error(err))
		}
		out = append(out, previewLead{SafeLead: ToSafeLead(l, now, h.restrictionMonths), PreviewKey: key})
	}
	c.JSON(http.StatusOK, gin.H{"leads": out})
}

func (h *LeadsHandler) registerPreviewKey(ctx context.Context, key, leadID string) error {
	_, err := h.db.ExecContext(ctx,
		"INSERT INTO preview_keys (preview_key, lead_id) VALUES (?, ?) ON CONFLICT(preview_key) DO NOTHING",
		key, leadID,
	)
	return err
}

func (h *LeadsHandler) resolvePreviewKey(ctx context.Context, key string) (string, error) {
	var leadID string
	err := h.db.QueryRowContext(ctx, "SELECT lead_id FROM preview_keys WHERE preview_key = ?", key).Scan(&leadID)
	return leadID, err
}

// SampleDossier handles GET /api/dossier/sample/:key. Eligibility is a
// pure function of id-only fields and is re-checked here, not cached
// from the preview listing, so a lead that slipped past its claim
// deadline between the two calls is correctly rejected. Every failure
// mode — unknown key, unknown lead, ineligible lead — returns the same
// 404 so the endpoint offers no oracle.
func (h *LeadsHandler) SampleDossier(c *gin.Context) {
	leadID, err := h.resolvePreviewKey(c.Request.Context(), c.Param("key"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "NotFound", "message": "not found"})
		return
	}
	l, err := h.leads.Get(c.Request.Context(), leadID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "NotFound", "message": "not found"})
		return
	}
	if l.SurplusAmount <= 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "NotFound", "message": "not found"})
		return
	}
	if lifecycle.Status(l, h.clock.Now(), h.restrictionMonths) == lead.RuntimeExpired {
		c.JSON(http.StatusNotFound, gin.H{"error": "NotFound", "message": "not found"})
		return
	}

	safe := ToSafeLead(l, h.clock.Now(), h.restrictionMonths)
	c.Header("Content-Disposition", "attachment; filename=\"sample-dossier.json\"")
	c.Header("Cache-Control", "no-store")
	c.Header("X-Content-Type-Options", "nosniff")
	c.JSON(http.StatusOK, gin.H{
		"notice":    "sample dossier — unlock the full record for attorney-ready detail",
		"lead":      safe,
		"generated": h.clock.Now().Format(time.RFC3339),
	})
}

// AdminListLeads handles GET /api/admin/leads: raw, unprojected lead
// rows for operator tooling.
func (h *LeadsHandler) AdminListLeads(c *gin.Context) {
	page, pageSize := parsePageParams(c)
	f := lead.ListFilter{
		County:    c.Query("county"),
		DataGrade: lead.DataGrade(c.Query("grade")),
		Page:      page,
		PageSize:  pageSize,
	}
	leads, err := h.leads.List(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal", "message": "failed to list leads"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"leads": leads})
}
