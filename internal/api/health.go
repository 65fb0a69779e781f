package api

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
)

const engineVersion = "1.0.0"

// HealthHandler serves the unauthenticated liveness/readiness endpoint.
type HealthHandler struct {
	db *sql.DB
}

func NewHealthHandler(db *sql.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
}

// Health handles GET /health: pings the store and reports basic
// connection-pool stats alongside the engine version.
func (h *HealthHandler) Health(c *gin.Context) {
	status := "ok"
	if err := h.db.PingContext(c.Request.Context()); err != nil {
		status = "degraded"
	}
	stats := h.db.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"engine_version": engineVersion,
		"open_conns":     stats.OpenConnections,
		"in_use":         stats.InUse,
	})
}
