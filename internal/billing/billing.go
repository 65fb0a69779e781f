// Package billing implements the Billing Bridge (C8): signature
// verification, the PaymentEvent idempotency barrier, and the
// (event_type, billing_reason) dispatch table that drives wallet
// refills and tier transitions.
package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/surplustrust/platform/internal/auditlog"
	"github.com/surplustrust/platform/internal/store"
	"github.com/surplustrust/platform/internal/wallet"
)

// ErrBadSignature is returned when the computed HMAC over the raw body
// does not match the provider-supplied signature header.
var ErrBadSignature = errors.New("webhook signature mismatch")

// Event is the normalized shape of a payment-provider webhook, after
// signature verification and JSON decoding at the HTTP boundary.
type Event struct {
	ProviderEventID string
	Type            string // e.g. "checkout.session.completed", "invoice.paid"
	BillingReason   string // e.g. "subscription_create", "subscription_cycle", "subscription_update"
	UserID          string
	Tier            string
	PriceKind       string // "subscription" or "starter_pack"
}

// VerifySignature computes HMAC-SHA256 over body with secret and
// compares it to the provider's "sha256=<hex>"-formatted header value
// using a constant-time comparison.
func VerifySignature(body []byte, header, secret string) error {
	const prefix = "sha256="
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, prefix) {
		return ErrBadSignature
	}
	want, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	got := mac.Sum(nil)

	if !hmac.Equal(got, want) {
		return ErrBadSignature
	}
	return nil
}

// Outcome is recorded on the PaymentEvent row once processing completes.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

// Bridge processes verified webhook events.
type Bridge struct {
	db     *store.Store
	wallet *wallet.Engine
	audit  auditlog.Log
}

// New constructs a Bridge.
func New(db *store.Store, walletEngine *wallet.Engine, audit auditlog.Log) *Bridge {
	return &Bridge{db: db, wallet: walletEngine, audit: audit}
}

// Process runs the idempotency barrier and dispatch table from spec.md
// §4.8. All state changes happen in the same transaction as the
// PaymentEvent row update; a duplicate provider_event_id is treated as
// already processed and returns (OutcomeDuplicate, nil).
func (b *Bridge) Process(ctx context.Context, ev Event) (Outcome, error) {
	var outcome Outcome

	err := b.db.Tx(ctx, func(conn *sql.Conn) error {
		now := time.Now().UTC().Format(time.RFC3339Nano)
		_, err := conn.ExecContext(ctx,
			"INSERT INTO payment_events (provider_event_id, type, received_at, outcome) VALUES (?, ?, ?, 'pending')",
			ev.ProviderEventID, ev.Type, now,
		)
		if err != nil {
			if isUniqueViolation(err) {
				outcome = OutcomeDuplicate
				return nil
			}
			return fmt.Errorf("insert payment_event: %w", err)
		}

		if err := b.dispatch(ctx, conn, ev); err != nil {
			return fmt.Errorf("dispatch %s/%s: %w", ev.Type, ev.BillingReason, err)
		}

		outcome = OutcomeProcessed
		if _, err := conn.ExecContext(ctx,
			"UPDATE payment_events SET processed_at = ?, outcome = ? WHERE provider_event_id = ?",
			time.Now().UTC().Format(time.RFC3339Nano), string(outcome), ev.ProviderEventID,
		); err != nil {
			return fmt.Errorf("update payment_event: %w", err)
		}
		return nil
	})
	if err != nil {
		return OutcomeFailed, err
	}

	if outcome == OutcomeProcessed {
		if _, err := b.audit.Append(ctx, ev.UserID, auditlog.TypePaymentEvent, "", ev.Type, "billing-bridge",
			fmt.Sprintf("reason=%s", ev.BillingReason), ev); err != nil {
			return outcome, fmt.Errorf("append payment event: %w", err)
		}
	}
	return outcome, nil
}

// dispatch implements the (event_type, billing_reason) table from
// spec.md §4.8. It runs inside the same BEGIN IMMEDIATE transaction as
// the PaymentEvent row so a crash mid-dispatch never leaves a processed
// event with unapplied effects.
func (b *Bridge) dispatch(ctx context.Context, conn *sql.Conn, ev Event) error {
	switch {
	case ev.Type == "checkout.session.completed" && ev.PriceKind == "subscription":
		if _, err := conn.ExecContext(ctx, "UPDATE users SET tier = ?, updated_at = ? WHERE id = ?",
			ev.Tier, time.Now().UTC().Format(time.RFC3339Nano), ev.UserID); err != nil {
			return fmt.Errorf("activate subscription: %w", err)
		}
		return refillWithinTx(ctx, conn, ev.UserID, ev.Tier)

	case ev.Type == "invoice.paid" && (ev.BillingReason == "subscription_create" || ev.BillingReason == "subscription_cycle"):
		return refillWithinTx(ctx, conn, ev.UserID, ev.Tier)

	case ev.Type == "invoice.paid" && ev.BillingReason == "subscription_update":
		// Tier sync only — no credit grant, to prevent double-credit on upgrade.
		_, err := conn.ExecContext(ctx, "UPDATE users SET tier = ?, updated_at = ? WHERE id = ?",
			ev.Tier, time.Now().UTC().Format(time.RFC3339Nano), ev.UserID)
		return err

	case ev.Type == "checkout.session.completed" && ev.PriceKind == "starter_pack":
		return starterPackWithinTx(ctx, conn, ev.UserID)

	case ev.Type == "customer.subscription.deleted":
		_, err := conn.ExecContext(ctx, "UPDATE users SET tier = 'scout', active = 0, updated_at = ? WHERE id = ?",
			time.Now().UTC().Format(time.RFC3339Nano), ev.UserID)
		return err

	default:
		return fmt.Errorf("unrecognized event %s/%s", ev.Type, ev.BillingReason)
	}
}

// refillWithinTx and starterPackWithinTx update the wallet balance
// columns directly and write no transactions ledger row, unlike
// wallet.Engine's refill and starter-pack methods. They do not call
// wallet.Engine because wallet.Engine.RefillSubscription opens
// its own BEGIN IMMEDIATE transaction and SQLite forbids nested writer
// transactions on the same connection; the billing bridge's "all state
// changes in the same transaction as the event-row update" invariant
// (spec.md §4.8) requires running on the connection already pinned by
// Process's own Tx call.
func refillWithinTx(ctx context.Context, conn *sql.Conn, userID, tier string) error {
	allocation := wallet.TierAllocation[tier]
	var current int
	if err := conn.QueryRowContext(ctx,
		"SELECT subscription_credits FROM wallets WHERE user_id = ?", userID,
	).Scan(&current); err != nil {
		return fmt.Errorf("load wallet: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := conn.ExecContext(ctx,
		"UPDATE wallets SET subscription_credits = ?, updated_at = ? WHERE user_id = ?",
		allocation, now, userID,
	); err != nil {
		return fmt.Errorf("refill wallet: %w", err)
	}
	return nil
}

func starterPackWithinTx(ctx context.Context, conn *sql.Conn, userID string) error {
	var current int
	if err := conn.QueryRowContext(ctx,
		"SELECT purchased_credits FROM wallets WHERE user_id = ?", userID,
	).Scan(&current); err != nil {
		return fmt.Errorf("load wallet: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := conn.ExecContext(ctx,
		"UPDATE wallets SET purchased_credits = ?, updated_at = ? WHERE user_id = ?",
		current+10, now, userID,
	)
	return err
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
