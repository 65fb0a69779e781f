package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/surplustrust/platform/internal/auditlog"
	"github.com/surplustrust/platform/internal/billing"
	"github.com/surplustrust/platform/internal/users"
	"github.com/surplustrust/platform/internal/wallet"
)

func signWebhook(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newTestBillingHandler(t *testing.T) (*BillingHandler, *gin.Engine, string) {
	t.Helper()
	s := newTestStore(t)
	walletE := wallet.New(s, auditlog.NewMemoryLog())
	bridge := billing.New(s, walletE, auditlog.NewMemoryLog())

	userRepo := users.NewRepository(s.DB)
	u := &users.User{Email: "attorney@example.com", PasswordHash: "hash"}
	if err := userRepo.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	conn, err := s.DB.Conn(context.Background())
	if err != nil {
		t.Fatalf("conn: %v", err)
	}
	defer conn.Close()
	if err := walletE.CreateWallet(context.Background(), conn, u.ID); err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	h := NewBillingHandler(bridge, "whsec_test", "https://billing.example.com/checkout", zap.NewNop())
	r := gin.New()
	h.Register(r.Group("/api"))
	return h, r, u.ID
}

func TestBillingHandler_CheckoutReturnsURL(t *testing.T) {
	_, r, _ := newTestBillingHandler(t)

	body := bytes.NewBufferString(`{"tier":"operator"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/billing/checkout", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestBillingHandler_WebhookRejectsBadSignature(t *testing.T) {
	_, r, userID := newTestBillingHandler(t)

	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","billing_reason":"subscription_create","user_id":"` + userID + `","tier":"operator","price_kind":"subscription"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewReader(payload))
	req.Header.Set("X-Webhook-Signature", "sha256=deadbeef")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401, body = %s", w.Code, w.Body.String())
	}
}

func TestBillingHandler_WebhookAcceptsValidSignature(t *testing.T) {
	_, r, userID := newTestBillingHandler(t)

	payload := []byte(`{"id":"evt_2","type":"checkout.session.completed","billing_reason":"subscription_create","user_id":"` + userID + `","tier":"operator","price_kind":"subscription"}`)
	sig := signWebhook(payload, "whsec_test")

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewReader(payload))
	req.Header.Set("X-Webhook-Signature", sig)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}
