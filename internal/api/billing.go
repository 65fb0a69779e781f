package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/surplustrust/platform/internal/billing"
)

// BillingHandler serves the checkout-initiation and webhook-intake
// routes.
type BillingHandler struct {
	bridge        *billing.Bridge
	webhookSecret string
	checkoutBase  string
	logger        *zap.Logger
}

func NewBillingHandler(bridge *billing.Bridge, webhookSecret, checkoutBase string, logger *zap.Logger) *BillingHandler {
	return &BillingHandler{bridge: bridge, webhookSecret: webhookSecret, checkoutBase: checkoutBase, logger: logger}
}

func (h *BillingHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/billing/checkout", h.Checkout)
	rg.POST("/webhook", h.Webhook)
}

type checkoutRequest struct {
	Tier      string `json:"tier" binding:"required"`
	PriceKind string `json:"price_kind"`
}

// Checkout handles POST /api/billing/checkout: returns an opaque
// checkout URL the client redirects to. The payment provider integration
// itself is out of scope here; this endpoint only mints the redirect.
func (h *BillingHandler) Checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BadRequest", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"checkout_url": h.checkoutBase + "?tier=" + req.Tier,
	})
}

type webhookPayload struct {
	ProviderEventID string `json:"id"`
	Type            string `json:"type"`
	BillingReason   string `json:"billing_reason"`
	UserID          string `json:"user_id"`
	Tier            string `json:"tier"`
	PriceKind       string `json:"price_kind"`
}

// Webhook handles POST /api/webhook: signature-verified, idempotent
// payment-event ingest. Per spec.md §7, a failure here must return a
// 5xx so the provider retries rather than silently dropping the event;
// it never returns 2xx on a partial failure.
func (h *BillingHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BadRequest", "message": "failed to read body"})
		return
	}

	sig := c.GetHeader("X-Webhook-Signature")
	if err := billing.VerifySignature(body, sig, h.webhookSecret); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "AuthRequired", "message": "invalid webhook signature"})
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BadRequest", "message": "malformed webhook payload"})
		return
	}

	ev := billing.Event{
		ProviderEventID: payload.ProviderEventID,
		Type:            payload.Type,
		BillingReason:   payload.BillingReason,
		UserID:          payload.UserID,
		Tier:            payload.Tier,
		PriceKind:       payload.PriceKind,
	}

	outcome, err := h.bridge.Process(c.Request.Context(), ev)
	if err != nil {
		h.logger.Error("process webhook", zap.String("provider_event_id", ev.ProviderEventID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "BillingUnavailable", "message": "processing failed, retry"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}
