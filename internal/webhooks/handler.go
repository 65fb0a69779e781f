package webhooks

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/surplustrust/platform/internal/access"
)

// Handler serves the attorney-facing lead-alert subscription routes,
// mounted behind access.AuthRequired + access.AttorneyVerified.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a new webhook Handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the subscription routes. Callers apply
// access.AuthRequired and access.AttorneyVerified to rg before calling
// Register, since only verified attorneys may register lead alerts.
func (h *Handler) Register(rg *gin.RouterGroup) {
	wh := rg.Group("/webhooks")
	wh.POST("", h.CreateSubscription)
	wh.GET("", h.ListSubscriptions)
	wh.DELETE("/:id", h.DeleteSubscription)
}

// CreateSubscription handles POST /api/webhooks.
func (h *Handler) CreateSubscription(c *gin.Context) {
	acct := access.AccountFromCtx(c)
	if acct == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "AuthRequired", "message": "authentication required"})
		return
	}

	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BadRequest", "message": err.Error()})
		return
	}

	sub, err := h.svc.Subscribe(c.Request.Context(), acct.ID, &req)
	if err != nil {
		h.logger.Error("create webhook subscription", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal", "message": "failed to create subscription"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"subscription": sub,
		"secret":       sub.Secret,
		"note":         "store the secret securely, it will not be shown again",
	})
}

// ListSubscriptions handles GET /api/webhooks.
func (h *Handler) ListSubscriptions(c *gin.Context) {
	acct := access.AccountFromCtx(c)
	if acct == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "AuthRequired", "message": "authentication required"})
		return
	}

	subs, err := h.svc.ListByUser(c.Request.Context(), acct.ID)
	if err != nil {
		h.logger.Error("list webhook subscriptions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal", "message": "failed to list subscriptions"})
		return
	}
	if subs == nil {
		subs = []*Subscription{}
	}

	c.JSON(http.StatusOK, gin.H{"subscriptions": subs, "count": len(subs)})
}

// DeleteSubscription handles DELETE /api/webhooks/:id.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	acct := access.AccountFromCtx(c)
	if acct == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "AuthRequired", "message": "authentication required"})
		return
	}

	if err := h.svc.Unsubscribe(c.Request.Context(), acct.ID, c.Param("id")); err != nil {
		h.logger.Error("delete webhook subscription", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal", "message": "failed to delete subscription"})
		return
	}

	c.Status(http.StatusNoContent)
}
