package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/surplustrust/platform/internal/access"
	"github.com/surplustrust/platform/internal/auditlog"
	"github.com/surplustrust/platform/internal/email"
	"github.com/surplustrust/platform/internal/store"
	"github.com/surplustrust/platform/internal/users"
	"github.com/surplustrust/platform/internal/wallet"
)

func newAuthFixture(t *testing.T) (*AuthHandler, *gin.Engine, *store.Store) {
	t.Helper()
	s := newTestStore(t)
	walletE := wallet.New(s, auditlog.NewMemoryLog())
	userRepo := users.NewRepository(s.DB)
	svc := users.NewService(userRepo, email.NewNoopSender(zap.NewNop()), zap.NewNop())
	tokens := access.NewHMACTokenIssuer("test-signing-secret", 0)

	withTx := func(ctx context.Context, fn func(conn *sql.Conn) error) error {
		return s.Tx(ctx, fn)
	}

	h := NewAuthHandler(svc, userRepo, walletE, tokens, withTx, 100, zap.NewNop())
	r := gin.New()
	h.Register(r.Group("/api"))
	return h, r, s
}

func TestAuthHandler_RegisterCreatesUserWalletAndFoundersSlot(t *testing.T) {
	_, r, s := newAuthFixture(t)

	body := bytes.NewBufferString(`{"email":"new@example.com","password":"hunter22"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"ID"`
		} `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Token == "" {
		t.Fatalf("expected a session token in the response")
	}

	var walletCount int
	if err := s.DB.QueryRow("SELECT COUNT(*) FROM wallets").Scan(&walletCount); err != nil {
		t.Fatalf("count wallets: %v", err)
	}
	if walletCount != 1 {
		t.Fatalf("wallet count = %d, want 1", walletCount)
	}

	var slotCount int
	if err := s.DB.QueryRow("SELECT COUNT(*) FROM founders_slots WHERE user_id = ?", resp.User.ID).Scan(&slotCount); err != nil {
		t.Fatalf("count founders_slots: %v", err)
	}
	if slotCount != 1 {
		t.Fatalf("founders slot count = %d, want 1", slotCount)
	}
}

func TestAuthHandler_RegisterRejectsShortPassword(t *testing.T) {
	_, r, _ := newAuthFixture(t)

	body := bytes.NewBufferString(`{"email":"new@example.com","password":"short"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", w.Code, w.Body.String())
	}
}

func TestAuthHandler_RegisterRejectsDuplicateEmail(t *testing.T) {
	_, r, _ := newAuthFixture(t)

	for i := 0; i < 2; i++ {
		body := bytes.NewBufferString(`{"email":"dup@example.com","password":"hunter22"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/auth/register", body)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if i == 0 && w.Code != http.StatusCreated {
			t.Fatalf("first register status = %d, body = %s", w.Code, w.Body.String())
		}
		if i == 1 && w.Code != http.StatusConflict {
			t.Fatalf("second register status = %d, want 409, body = %s", w.Code, w.Body.String())
		}
	}
}

func TestAuthHandler_LoginRejectsBadCredentials(t *testing.T) {
	_, r, _ := newAuthFixture(t)

	registerBody := bytes.NewBufferString(`{"email":"login@example.com","password":"hunter22"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", registerBody)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(httptest.NewRecorder(), req)

	loginBody := bytes.NewBufferString(`{"email":"login@example.com","password":"wrongpassword"}`)
	loginReq := httptest.NewRequest(http.MethodPost, "/api/auth/login", loginBody)
	loginReq.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, loginReq)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401, body = %s", w.Code, w.Body.String())
	}
}
