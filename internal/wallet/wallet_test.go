package wallet_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/surplustrust/platform/internal/auditlog"
	"github.com/surplustrust/platform/internal/lead"
	"github.com/surplustrust/platform/internal/store"
	"github.com/surplustrust/platform/internal/wallet"
)

func newTestEngine(t *testing.T) (*wallet.Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "leads.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return wallet.New(s, auditlog.NewMemoryLog()), s
}

func seedUserAndWallet(t *testing.T, s *store.Store, e *wallet.Engine, userID string, sub, purchased int) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.DB.ExecContext(ctx,
		"INSERT INTO users (id, email, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		userID, userID+"@example.com", "hash", "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z"); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	conn, err := s.DB.Conn(ctx)
	if err != nil {
		t.Fatalf("conn: %v", err)
	}
	defer conn.Close()
	if err := e.CreateWallet(ctx, conn, userID); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	if _, err := s.DB.ExecContext(ctx,
		"UPDATE wallets SET subscription_credits = ?, purchased_credits = ? WHERE user_id = ?",
		sub, purchased, userID); err != nil {
		t.Fatalf("seed wallet balances: %v", err)
	}
}

// TestUnlockGoldScenario matches spec.md §8 concrete scenario 4.
func TestUnlockGoldScenario(t *testing.T) {
	e, s := newTestEngine(t)
	seedUserAndWallet(t, s, e, "u1", 3, 0)

	l := &lead.Lead{ID: "lead-1", DataGrade: lead.GradeGold}

	result, err := e.Unlock(context.Background(), "u1", l, "operator", "127.0.0.1")
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if result.CreditsSpent != 3 {
		t.Errorf("credits spent = %d, want 3", result.CreditsSpent)
	}
	if result.Balance.SubscriptionCredits != 0 || result.Balance.PurchasedCredits != 0 {
		t.Errorf("balance = %+v, want (0,0)", result.Balance)
	}

	var debitCount int
	if err := s.DB.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM transactions WHERE user_id = 'u1' AND kind = 'debit'").Scan(&debitCount); err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	if debitCount != 1 {
		t.Errorf("expected 1 debit row (all from subscription bucket), got %d", debitCount)
	}
}

// TestUnlockInsufficientFunds matches spec.md §8 boundary scenario:
// subscription_credits=0, purchased_credits=1 on a GOLD (cost 3) fails.
func TestUnlockInsufficientFunds(t *testing.T) {
	e, s := newTestEngine(t)
	seedUserAndWallet(t, s, e, "u2", 0, 1)

	l := &lead.Lead{ID: "lead-2", DataGrade: lead.GradeGold}
	_, err := e.Unlock(context.Background(), "u2", l, "scout", "127.0.0.1")
	if !errors.Is(err, wallet.ErrInsufficientFunds) {
		t.Fatalf("Unlock error = %v, want ErrInsufficientFunds", err)
	}

	bal, err := e.GetBalance(context.Background(), "u2")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal.SubscriptionCredits != 0 || bal.PurchasedCredits != 1 {
		t.Errorf("balance changed on failed unlock: %+v", bal)
	}

	var n int
	if err := s.DB.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM transactions WHERE user_id = 'u2'").Scan(&n); err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no transaction rows on failed unlock, got %d", n)
	}
}

func TestUnlockIsIdempotentForSameUserAndLead(t *testing.T) {
	e, s := newTestEngine(t)
	seedUserAndWallet(t, s, e, "u3", 5, 0)

	l := &lead.Lead{ID: "lead-3", DataGrade: lead.GradeSilver}
	first, err := e.Unlock(context.Background(), "u3", l, "scout", "127.0.0.1")
	if err != nil {
		t.Fatalf("first Unlock: %v", err)
	}

	second, err := e.Unlock(context.Background(), "u3", l, "scout", "127.0.0.1")
	if err != nil {
		t.Fatalf("second Unlock: %v", err)
	}
	if !second.AlreadyUnlocked {
		t.Error("expected second unlock to report AlreadyUnlocked")
	}
	if second.CreditsSpent != first.CreditsSpent {
		t.Errorf("second unlock credits_spent = %d, want %d (no new debit)", second.CreditsSpent, first.CreditsSpent)
	}

	var debitCount int
	if err := s.DB.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM transactions WHERE user_id = 'u3' AND kind = 'debit'").Scan(&debitCount); err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	if debitCount != 1 {
		t.Errorf("expected exactly one debit across both unlocks, got %d", debitCount)
	}
}

func TestClaimFoundersSlotRespectsCap(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		userID := "founder-" + string(rune('a'+i))
		if _, err := s.DB.ExecContext(ctx,
			"INSERT INTO users (id, email, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
			userID, userID+"@example.com", "hash", "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z"); err != nil {
			t.Fatalf("insert user: %v", err)
		}
		if err := e.ClaimFoundersSlot(ctx, userID, 2); err != nil && i < 2 {
			t.Fatalf("claim %d: %v", i, err)
		} else if i >= 2 && !errors.Is(err, wallet.ErrFoundersCapReached) {
			t.Fatalf("claim %d: expected ErrFoundersCapReached, got %v", i, err)
		}
	}

	var n int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM founders_slots").Scan(&n); err != nil {
		t.Fatalf("count founders_slots: %v", err)
	}
	if n != 2 {
		t.Fatalf("founders_slots count = %d, want 2", n)
	}
}
