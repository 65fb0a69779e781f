package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/surplustrust/platform/internal/access"
	"github.com/surplustrust/platform/internal/lead"
	"github.com/surplustrust/platform/internal/lifecycle"
	"github.com/surplustrust/platform/internal/wallet"
)

// UnlockHandler serves the credit-gated unlock and dossier-download
// routes, the only place FullLead ever leaves the server.
type UnlockHandler struct {
	leads             leadLister
	db                *sql.DB
	walletE           *wallet.Engine
	restrictionMonths int
	clock             lifecycle.Clock
	logger            *zap.Logger
}

func NewUnlockHandler(leads leadLister, db *sql.DB, walletE *wallet.Engine, restrictionMonths int, clock lifecycle.Clock, logger *zap.Logger) *UnlockHandler {
	if clock == nil {
		clock = lifecycle.RealClock{}
	}
	return &UnlockHandler{leads: leads, db: db, walletE: walletE, restrictionMonths: restrictionMonths, clock: clock, logger: logger}
}

func (h *UnlockHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/unlock/:id", h.Unlock)
	rg.GET("/dossier/:id", h.Dossier)
}

// Unlock handles POST /api/unlock/:id: the atomic credit-deduction path.
// Route composition applies AuthRequired, EmailVerified, TierAtLeast,
// and RestrictedUnlock ahead of this handler.
func (h *UnlockHandler) Unlock(c *gin.Context) {
	acct := access.AccountFromCtx(c)
	leadID := c.Param("id")

	l, err := h.leads.Get(c.Request.Context(), leadID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "NotFound", "message": "lead not found"})
		return
	}

	result, err := h.walletE.Unlock(c.Request.Context(), acct.ID, l, acct.Tier, c.ClientIP())
	if err != nil {
		if errors.Is(err, wallet.ErrInsufficientFunds) {
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "InsufficientFunds", "message": "not enough credits to unlock this lead"})
			return
		}
		h.logger.Error("unlock", zap.String("user_id", acct.ID), zap.String("lead_id", leadID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal", "message": "unlock failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"lead":             ToFullLead(l, h.clock.Now(), h.restrictionMonths),
		"already_unlocked": result.AlreadyUnlocked,
		"credits_spent":    result.CreditsSpent,
		"balance":          result.Balance,
	})
}

// Dossier handles GET /api/dossier/:id: streams the full document for a
// lead the caller has already unlocked. Route composition applies
// AuthRequired ahead of this handler; the unlock check below enforces
// "AuthRequired+unlocked" per spec.md §6.1.
func (h *UnlockHandler) Dossier(c *gin.Context) {
	acct := access.AccountFromCtx(c)
	leadID := c.Param("id")

	unlocked, err := h.hasUnlocked(c.Request.Context(), acct.ID, leadID)
	if err != nil {
		h.logger.Error("check unlock", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal", "message": "dossier lookup failed"})
		return
	}
	if !unlocked {
		c.JSON(http.StatusForbidden, gin.H{"error": "TierTooLow", "message": "unlock this lead before downloading its dossier"})
		return
	}

	l, err := h.leads.Get(c.Request.Context(), leadID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "NotFound", "message": "lead not found"})
		return
	}

	body := renderDossierText(l, h.clock.Now(), h.restrictionMonths)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"dossier-%s.txt\"", l.ID))
	c.Header("Cache-Control", "no-store")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(body))
}

func (h *UnlockHandler) hasUnlocked(ctx context.Context, userID, leadID string) (bool, error) {
	var n int
	err := h.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM unlocks WHERE user_id = ? AND lead_id = ?", userID, leadID,
	).Scan(&n)
	return n > 0, err
}

func renderDossierText(l *lead.Lead, now time.Time, restrictionMonths int) string {
	fl := ToFullLead(l, now, restrictionMonths)
	return fmt.Sprintf(
		"SURPLUS TRUST ATTORNEY DOSSIER\n\nCounty: %s\nCase Number: %s\nOwner: %s\nProperty Address: %s\nWinning Bid: $%.2f\nTotal Debt: $%.2f\nSurplus Amount: $%.2f\nData Grade: %s\nStatus: %s\nDays Remaining: %d\nAttorney Packet Ready: %t\n",
		fl.County, fl.CaseNumber, fl.OwnerName, fl.PropertyAddress,
		l.WinningBid, l.TotalDebt, fl.SurplusAmount, fl.DataGrade, fl.Status, fl.DaysRemaining, fl.AttorneyPacketReady,
	)
}
