package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/surplustrust/platform/internal/auditlog"
	"github.com/surplustrust/platform/internal/access"
	"github.com/surplustrust/platform/internal/lead"
	"github.com/surplustrust/platform/internal/lifecycle"
	"github.com/surplustrust/platform/internal/users"
	"github.com/surplustrust/platform/internal/wallet"
)

func newUnlockFixture(t *testing.T) (*UnlockHandler, *gin.Engine, string) {
	t.Helper()
	s := newTestStore(t)
	walletE := wallet.New(s, auditlog.NewMemoryLog())

	userRepo := users.NewRepository(s.DB)
	u := &users.User{Email: "acct@example.com", PasswordHash: "hash", Tier: users.TierOperator, EmailVerified: true}
	if err := userRepo.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	conn, err := s.DB.Conn(context.Background())
	if err != nil {
		t.Fatalf("conn: %v", err)
	}
	if err := walletE.CreateWallet(context.Background(), conn, u.ID); err != nil {
		conn.Close()
		t.Fatalf("create wallet: %v", err)
	}
	conn.Close()
	if _, err := s.DB.Exec("UPDATE wallets SET subscription_credits = 5 WHERE user_id = ?", u.ID); err != nil {
		t.Fatalf("seed credits: %v", err)
	}

	repo := lead.NewRepository(s.DB)
	saved, _, err := repo.Upsert(context.Background(), &lead.Lead{
		County: "Pima", CaseNumber: "CV-9", OwnerName: "Sam Lee",
		PropertyAddress: "9 Oak Ave, Tucson, AZ", WinningBid: 40000, TotalDebt: 10000,
		DataGrade: lead.GradeGold, Status: lead.StatusEnriched,
	})
	if err != nil {
		t.Fatalf("seed lead: %v", err)
	}

	clock := lifecycle.FixedClock{At: time.Now()}
	h := NewUnlockHandler(repo, s.DB, walletE, 6, clock, zap.NewNop())

	r := gin.New()
	acct := &access.Account{ID: u.ID, Tier: string(u.Tier), Active: true, EmailVerified: true}
	injectAccount := func(c *gin.Context) {
		c.Set("access_account", acct)
		c.Next()
	}
	grp := r.Group("/api")
	grp.Use(injectAccount)
	h.Register(grp)

	return h, r, saved.ID
}

func TestUnlockHandler_UnlockSpendsCredit(t *testing.T) {
	_, r, leadID := newUnlockFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/unlock/"+leadID, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestUnlockHandler_DossierRejectsUnunlockedLead(t *testing.T) {
	_, r, leadID := newUnlockFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/dossier/"+leadID, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403, body = %s", w.Code, w.Body.String())
	}
}

func TestUnlockHandler_DossierServesAfterUnlock(t *testing.T) {
	_, r, leadID := newUnlockFixture(t)

	unlockReq := httptest.NewRequest(http.MethodPost, "/api/unlock/"+leadID, nil)
	unlockW := httptest.NewRecorder()
	r.ServeHTTP(unlockW, unlockReq)
	if unlockW.Code != http.StatusOK {
		t.Fatalf("unlock status = %d, body = %s", unlockW.Code, unlockW.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/dossier/"+leadID, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("dossier status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct == "" {
		t.Fatalf("expected a content type header")
	}
	if w.Header().Get("Content-Disposition") == "" {
		t.Fatalf("expected Content-Disposition header on dossier download")
	}
}
