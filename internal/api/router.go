// Package api implements the HTTP API (C10): the
// public lead-discovery endpoints, the credit-gated unlock and dossier
// routes, account/auth routes, the billing webhook bridge, and the
// admin listing — composed with internal/access's gates per spec.md
// §6.1's route table.
package api

import (
	"database/sql"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/surplustrust/platform/internal/access"
	"github.com/surplustrust/platform/internal/billing"
	"github.com/surplustrust/platform/internal/lifecycle"
	"github.com/surplustrust/platform/internal/users"
	"github.com/surplustrust/platform/internal/wallet"
	"github.com/surplustrust/platform/internal/webhooks"
)

// Config carries the deployment knobs router wiring needs beyond the
// already-constructed engines.
type Config struct {
	CORSOrigins       []string
	AdminAPIKey       string
	PreviewSecret     string
	WebhookSecret     string
	CheckoutBaseURL   string
	RestrictionMonths int
	FoundersCap       int
	RateLimitRPS      int
	SessionTTL        time.Duration
}

// Deps are the already-constructed engines and repositories the router
// composes into handlers.
type Deps struct {
	DB       *sql.DB
	Leads    leadLister
	Users    *users.Service
	UserRepo *users.Repository
	WalletE  *wallet.Engine
	Tokens   *access.TokenIssuer
	Billing  *billing.Bridge
	Webhooks *webhooks.Service
	WithTx   txRunner
	Clock    lifecycle.Clock
	Counter  access.Counter
	Gauge    access.Gauge
	Logger   *zap.Logger
}

// New builds the gin engine implementing spec.md §6.1's full route
// table: public discovery, auth, credit-gated unlock, billing, and
// admin, each composed with the access gates the section specifies.
func New(cfg Config, d Deps) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", access.AdminSimHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(bodySizeLimit(1 << 20))
	if cfg.RateLimitRPS > 0 {
		r.Use(ipRateLimiter(cfg.RateLimitRPS, cfg.RateLimitRPS*2))
	}
	r.Use(requestLogger(d.Logger))

	accounts := newAccountLookup(d.Users)
	leadStatus := newLeadStatusLookup(d.Leads, cfg.RestrictionMonths, d.Clock)
	authRequired := access.AuthRequired(d.Tokens, accounts)
	emailVerified := access.EmailVerified()
	attorneyVerified := access.AttorneyVerified()
	restrictedUnlock := access.RestrictedUnlock(leadStatus)
	dailyViewLimit := access.DailyViewLimit(d.Counter)
	sessionLimit := access.SessionLimit(d.Gauge, cfg.SessionTTL)

	health := NewHealthHandler(d.DB)
	health.Register(r)
	registerMetrics(r)

	leadsH := NewLeadsHandler(d.Leads, d.DB, cfg.PreviewSecret, cfg.RestrictionMonths, d.Clock, d.Logger)
	authH := NewAuthHandler(d.Users, d.UserRepo, d.WalletE, d.Tokens, d.WithTx, cfg.FoundersCap, d.Logger)
	unlockH := NewUnlockHandler(d.Leads, d.DB, d.WalletE, cfg.RestrictionMonths, d.Clock, d.Logger)
	billingH := NewBillingHandler(d.Billing, cfg.WebhookSecret, cfg.CheckoutBaseURL, d.Logger)
	webhooksH := webhooks.NewHandler(d.Webhooks, d.Logger)

	api := r.Group("/api")

	// Public discovery surface — no gate.
	leadsH.Register(api)

	// Auth: register/login sit behind the global per-IP limiter above
	// and nothing else; everything past them requires a verified
	// session.
	authH.Register(api)
	protected := api.Group("")
	protected.Use(authRequired, sessionLimit)
	authH.RegisterProtected(protected)

	// Credit-gated unlock. RestrictedUnlock itself enforces the
	// operator-tier-plus-attorney-verification rule, but only for leads
	// whose runtime status is RESTRICTED — scout-tier callers may still
	// unlock bronze/iron leads that aren't. DailyViewLimit enforces the
	// per-tier daily quota on every view regardless of lead status.
	unlock := api.Group("")
	unlock.Use(authRequired, sessionLimit, emailVerified, dailyViewLimit, restrictedUnlock)
	unlockH.Register(unlock)

	// Billing: checkout requires a session; the webhook is gated by
	// signature verification inside the handler itself, not middleware,
	// since the caller is the payment provider, not a session holder.
	billingProtected := api.Group("/billing")
	billingProtected.Use(authRequired)
	billingProtected.POST("/checkout", billingH.Checkout)
	api.POST("/webhook", billingH.Webhook)

	// Lead-alert subscriptions: verified attorneys only.
	alerts := api.Group("")
	alerts.Use(authRequired, sessionLimit, emailVerified, attorneyVerified)
	webhooksH.Register(alerts)

	// Admin — static API key, never a session token.
	admin := api.Group("/admin")
	admin.Use(adminKeyRequired(cfg.AdminAPIKey))
	leadsH.RegisterAdmin(admin)

	return r
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

func bodySizeLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}

func adminKeyRequired(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" || c.GetHeader("X-Admin-Key") != key {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "AuthRequired", "message": "admin API key required"})
			return
		}
		c.Next()
	}
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipRateLimiter enforces per-IP token-bucket rate limiting. rps is the
// steady-state requests per second; burst is the maximum burst size.
// Stale entries are swept every 5 minutes.
func ipRateLimiter(rps, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*ipLimiter)

	go func() {
		for {
			time.Sleep(5 * time.Minute)
			mu.Lock()
			for ip, l := range limiters {
				if time.Since(l.lastSeen) > 10*time.Minute {
					delete(limiters, ip)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		l, ok := limiters[ip]
		if !ok {
			l = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			limiters[ip] = l
		}
		l.lastSeen = time.Now()
		mu.Unlock()

		if !l.limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "RateLimited", "message": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
