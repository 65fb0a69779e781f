package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/surplustrust/platform/internal/access"
	"github.com/surplustrust/platform/internal/users"
	"github.com/surplustrust/platform/internal/wallet"
)

// txRunner matches (*store.Store).Tx's signature without importing
// store, keeping this package's auth handler free of a dependency on
// the store package's exact type beyond what it needs.
type txRunner func(ctx context.Context, fn func(conn *sql.Conn) error) error

// AuthHandler serves account-management routes: registration, login,
// profile, and email verification.
type AuthHandler struct {
	svc         *users.Service
	userRepo    *users.Repository
	walletE     *wallet.Engine
	tokens      *access.TokenIssuer
	withTx      txRunner
	foundersCap int
	logger      *zap.Logger
}

func NewAuthHandler(svc *users.Service, userRepo *users.Repository, walletE *wallet.Engine, tokens *access.TokenIssuer, withTx txRunner, foundersCap int, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, userRepo: userRepo, walletE: walletE, tokens: tokens, withTx: withTx, foundersCap: foundersCap, logger: logger}
}

func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	auth := rg.Group("/auth")
	auth.POST("/register", h.RegisterUser)
	auth.POST("/login", h.Login)
}

// RegisterProtected mounts routes that require AuthRequired to already
// have run (e.g. behind a gin group with access.AuthRequired applied).
func (h *AuthHandler) RegisterProtected(rg *gin.RouterGroup) {
	rg.GET("/auth/me", h.Me)
	rg.POST("/auth/send-verification", h.SendVerification)
	rg.POST("/auth/verify-email", h.VerifyEmail)
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterUser handles POST /api/auth/register: creates the user row and
// its wallet atomically, then attempts a founders-slot claim (a
// best-effort step run after the registration transaction commits,
// since ClaimFoundersSlot manages its own write transaction and SQLite
// does not allow nested BEGIN IMMEDIATE on the same logical write).
func (h *AuthHandler) RegisterUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BadRequest", "message": err.Error()})
		return
	}
	if len(req.Password) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BadRequest", "message": "password must be at least 8 characters"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("hash password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal", "message": "registration failed"})
		return
	}

	var created *users.User
	err = h.withTx(c.Request.Context(), func(conn *sql.Conn) error {
		repo := h.userRepo.WithConn(conn)
		u := &users.User{Email: req.Email, PasswordHash: string(hash), Tier: users.TierScout}
		if err := repo.Create(c.Request.Context(), u); err != nil {
			return err
		}
		if err := h.walletE.CreateWallet(c.Request.Context(), conn, u.ID); err != nil {
			return err
		}
		created = u
		return nil
	})
	if err != nil {
		if errors.Is(err, users.ErrDuplicateEmail) {
			c.JSON(http.StatusConflict, gin.H{"error": "Conflict", "message": "email already registered"})
			return
		}
		h.logger.Error("register user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal", "message": "registration failed"})
		return
	}

	if err := h.walletE.ClaimFoundersSlot(c.Request.Context(), created.ID, h.foundersCap); err != nil && !errors.Is(err, wallet.ErrFoundersCapReached) {
		h.logger.Warn("claim founders slot", zap.String("user_id", created.ID), zap.Error(err))
	}

	token, _, err := h.tokens.Issue(created.ID, string(created.Tier))
	if err != nil {
		h.logger.Error("issue token after register", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal", "message": "registration succeeded but token issuance failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": created, "token": token})
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BadRequest", "message": err.Error()})
		return
	}
	u, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "AuthRequired", "message": "invalid credentials"})
		return
	}
	token, _, err := h.tokens.Issue(u.ID, string(u.Tier))
	if err != nil {
		h.logger.Error("issue token after login", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal", "message": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u, "token": token})
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	acct := access.AccountFromCtx(c)
	u, err := h.svc.GetByID(c.Request.Context(), acct.ID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "NotFound", "message": "account not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// SendVerification handles POST /api/auth/send-verification.
func (h *AuthHandler) SendVerification(c *gin.Context) {
	acct := access.AccountFromCtx(c)
	if err := h.svc.SendVerification(c.Request.Context(), acct.ID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BadRequest", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "verification code sent"})
}

type verifyEmailRequest struct {
	Code string `json:"code" binding:"required"`
}

// VerifyEmail handles POST /api/auth/verify-email.
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	acct := access.AccountFromCtx(c)
	var req verifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BadRequest", "message": err.Error()})
		return
	}
	u, err := h.svc.VerifyEmail(c.Request.Context(), acct.ID, req.Code)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BadRequest", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}
