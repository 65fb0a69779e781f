package access

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

const (
	ctxClaims  = "access_claims"
	ctxAccount = "access_account"
)

// AdminSimHeader is the header name an admin can send to have the gate
// treat the request as non-admin for that request only, per spec.md
// §4.9. Every response's Vary set includes this header alongside
// Authorization.
const AdminSimHeader = "X-Admin-Simulate-User"

// tierRank orders subscription tiers for TierAtLeast comparisons.
var tierRank = map[string]int{
	"scout":     0,
	"operator":  1,
	"sovereign": 2,
}

// Account is the subset of user state the access gates need to make
// authorization decisions. Implementations live in internal/users.
type Account struct {
	ID             string
	Tier           string
	Active         bool
	EmailVerified  bool
	AttorneyStatus string // "none", "pending", "verified"
	BarNumber      string
	IsAdmin        bool
}

// AccountLookup resolves the account behind a verified session subject.
type AccountLookup interface {
	GetAccount(ctx context.Context, userID string) (*Account, error)
}

func varyAuth(c *gin.Context) {
	c.Header("Vary", "Authorization, "+AdminSimHeader)
}

func bearerToken(c *gin.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(h, "Bearer "), true
}

// AuthRequired verifies the session bearer token, resolves the account,
// rejects deactivated accounts, and injects the claims and account into
// the request context. It also honors AdminSimHeader: when present and
// the account is an admin, the account injected into context for this
// request has IsAdmin forced false.
func AuthRequired(tokens *TokenIssuer, accounts AccountLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		varyAuth(c)
		tokStr, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "AuthRequired", "message": "bearer session token required"})
			return
		}

		claims, err := tokens.Verify(tokStr)
		if err != nil {
			kind := "TokenMalformed"
			if err == ErrTokenExpired {
				kind = "TokenExpired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": kind, "message": err.Error()})
			return
		}

		acct, err := accounts.GetAccount(c.Request.Context(), claims.Subject)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "AuthRequired", "message": ErrUnknownSubject.Error()})
			return
		}
		if !acct.Active {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "AuthRequired", "message": ErrDeactivated.Error()})
			return
		}

		if acct.IsAdmin && c.GetHeader(AdminSimHeader) != "" {
			sim := *acct
			sim.IsAdmin = false
			acct = &sim
		}

		c.Set(ctxClaims, claims)
		c.Set(ctxAccount, acct)
		c.Next()
	}
}

// AccountFromCtx retrieves the account injected by AuthRequired.
func AccountFromCtx(c *gin.Context) *Account {
	v, _ := c.Get(ctxAccount)
	a, _ := v.(*Account)
	return a
}

// ClaimsFromCtx retrieves the session claims injected by AuthRequired.
func ClaimsFromCtx(c *gin.Context) *SessionClaims {
	v, _ := c.Get(ctxClaims)
	cl, _ := v.(*SessionClaims)
	return cl
}

// EmailVerified requires AuthRequired to have already run; it rejects
// accounts with email_verified = false.
func EmailVerified() gin.HandlerFunc {
	return func(c *gin.Context) {
		acct := AccountFromCtx(c)
		if acct == nil || !acct.EmailVerified {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "EmailNotVerified", "message": "email verification required"})
			return
		}
		c.Next()
	}
}

// TierAtLeast requires the authenticated account's tier to be at least
// min in the scout < operator < sovereign ordering.
func TierAtLeast(min string) gin.HandlerFunc {
	want := tierRank[min]
	return func(c *gin.Context) {
		acct := AccountFromCtx(c)
		if acct == nil || tierRank[acct.Tier] < want {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "TierTooLow", "message": "requires " + min + " tier or above"})
			return
		}
		c.Next()
	}
}

// AttorneyVerified requires attorney_status = verified and a non-empty
// bar_number.
func AttorneyVerified() gin.HandlerFunc {
	return func(c *gin.Context) {
		acct := AccountFromCtx(c)
		if acct == nil || acct.AttorneyStatus != "verified" || acct.BarNumber == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "AttorneyNotVerified", "message": "verified attorney status required"})
			return
		}
		c.Next()
	}
}

// LeadStatusLookup resolves the runtime status of a lead by ID, as
// computed by the lifecycle engine's Status function.
type LeadStatusLookup interface {
	RuntimeStatus(ctx context.Context, leadID string) (status string, err error)
}

type restrictedUnlockRequest struct {
	DisclaimerAccepted bool `json:"disclaimer_accepted"`
}

// RestrictedUnlock enforces spec.md §4.9's rule for RESTRICTED leads: if
// status(lead)=RESTRICTED, the caller must be AttorneyVerified,
// TierAtLeast(operator), and must set disclaimer_accepted=true in the
// request body. EXPIRED leads are rejected unconditionally with a
// dedicated "gone" status, never reaching the unlock path.
func RestrictedUnlock(leads LeadStatusLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		leadID := c.Param("id")
		status, err := leads.RuntimeStatus(c.Request.Context(), leadID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "NotFound", "message": "lead not found"})
			return
		}

		if status == "EXPIRED" {
			c.AbortWithStatusJSON(http.StatusGone, gin.H{"error": "LeadExpired", "message": "lead past claim deadline"})
			return
		}
		if status != "RESTRICTED" {
			c.Next()
			return
		}

		acct := AccountFromCtx(c)
		if acct == nil || acct.AttorneyStatus != "verified" || acct.BarNumber == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "AttorneyNotVerified", "message": "restricted leads require verified attorney status"})
			return
		}
		if tierRank[acct.Tier] < tierRank["operator"] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "TierTooLow", "message": "restricted leads require operator tier or above"})
			return
		}

		var body restrictedUnlockRequest
		if err := c.ShouldBindBodyWith(&body, binding.JSON); err != nil || !body.DisclaimerAccepted {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "DisclaimerRequired", "message": "disclaimer_accepted must be true for restricted leads"})
			return
		}

		c.Next()
	}
}
