package billing_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/surplustrust/platform/internal/auditlog"
	"github.com/surplustrust/platform/internal/billing"
	"github.com/surplustrust/platform/internal/store"
	"github.com/surplustrust/platform/internal/wallet"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	if err := billing.VerifySignature(body, "sha256="+sig, secret); err != nil {
		t.Errorf("expected valid signature to verify, got %v", err)
	}
	if err := billing.VerifySignature(body, "sha256=deadbeef", secret); err == nil {
		t.Error("expected bad signature to fail verification")
	}
}

func TestIdempotentWebhookDelivery(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "leads.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	ctx := context.Background()
	if _, err := s.DB.ExecContext(ctx,
		"INSERT INTO users (id, email, password_hash, tier, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		"u1", "u1@example.com", "hash", "scout", "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z"); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if _, err := s.DB.ExecContext(ctx,
		"INSERT INTO wallets (user_id, subscription_credits, purchased_credits, updated_at) VALUES (?, 0, 0, ?)",
		"u1", "2026-01-01T00:00:00Z"); err != nil {
		t.Fatalf("insert wallet: %v", err)
	}

	wEngine := wallet.New(s, auditlog.NewMemoryLog())
	bridge := billing.New(s, wEngine, auditlog.NewMemoryLog())

	ev := billing.Event{
		ProviderEventID: "evt_1", Type: "invoice.paid", BillingReason: "subscription_create",
		UserID: "u1", Tier: "scout",
	}

	o1, err := bridge.Process(ctx, ev)
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if o1 != billing.OutcomeProcessed {
		t.Errorf("first outcome = %s, want processed", o1)
	}

	o2, err := bridge.Process(ctx, ev)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if o2 != billing.OutcomeDuplicate {
		t.Errorf("second outcome = %s, want duplicate", o2)
	}

	bal, err := wEngine.GetBalance(ctx, "u1")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal.SubscriptionCredits != 25 {
		t.Errorf("subscription_credits = %d, want 25 (single refill despite duplicate delivery)", bal.SubscriptionCredits)
	}

	var n int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM payment_events").Scan(&n); err != nil {
		t.Fatalf("count payment_events: %v", err)
	}
	if n != 1 {
		t.Errorf("payment_events count = %d, want 1", n)
	}
}

func TestSubscriptionUpdateDoesNotGrantCredits(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "leads.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	ctx := context.Background()
	if _, err := s.DB.ExecContext(ctx,
		"INSERT INTO users (id, email, password_hash, tier, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		"u2", "u2@example.com", "hash", "scout", "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z"); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if _, err := s.DB.ExecContext(ctx,
		"INSERT INTO wallets (user_id, subscription_credits, purchased_credits, updated_at) VALUES (?, 25, 0, ?)",
		"u2", "2026-01-01T00:00:00Z"); err != nil {
		t.Fatalf("insert wallet: %v", err)
	}

	wEngine := wallet.New(s, auditlog.NewMemoryLog())
	bridge := billing.New(s, wEngine, auditlog.NewMemoryLog())

	ev := billing.Event{
		ProviderEventID: "evt_2", Type: "invoice.paid", BillingReason: "subscription_update",
		UserID: "u2", Tier: "operator",
	}
	if _, err := bridge.Process(ctx, ev); err != nil {
		t.Fatalf("Process: %v", err)
	}

	bal, err := wEngine.GetBalance(ctx, "u2")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal.SubscriptionCredits != 25 {
		t.Errorf("subscription_credits = %d, want unchanged 25 on subscription_update", bal.SubscriptionCredits)
	}

	var tier string
	if err := s.DB.QueryRowContext(ctx, "SELECT tier FROM users WHERE id = 'u2'").Scan(&tier); err != nil {
		t.Fatalf("read tier: %v", err)
	}
	if tier != "operator" {
		t.Errorf("tier = %q, want operator (tier sync still happens)", tier)
	}
}
