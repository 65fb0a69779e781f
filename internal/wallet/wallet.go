// Package wallet implements the Wallet & Ledger (C7): dual-bucket
// credit wallets, the atomic unlock algorithm, refill policies, and the
// founders-cap claim.
package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/surplustrust/platform/internal/auditlog"
	"github.com/surplustrust/platform/internal/lead"
	"github.com/surplustrust/platform/internal/store"
)

// ErrInsufficientFunds is returned when a user's combined credit buckets
// cannot cover a lead's unlock cost. No balance change occurs.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrFoundersCapReached is returned when a founders-slot claim is
// attempted after the cap has already been filled.
var ErrFoundersCapReached = errors.New("founders cap reached")

// Bucket names a wallet credit bucket.
type Bucket string

const (
	BucketSubscription Bucket = "subscription"
	BucketPurchased    Bucket = "purchased"
)

// TransactionKind classifies a ledger row.
type TransactionKind string

const (
	KindCredit     TransactionKind = "credit"
	KindDebit      TransactionKind = "debit"
	KindRefund     TransactionKind = "refund"
	KindAdjustment TransactionKind = "adjustment"
)

// Balance holds a user's two credit buckets.
type Balance struct {
	SubscriptionCredits int
	PurchasedCredits    int
}

// Total returns the sum of both buckets.
func (b Balance) Total() int { return b.SubscriptionCredits + b.PurchasedCredits }

// TierAllocation is the monthly subscription-credit grant per tier.
var TierAllocation = map[string]int{
	"scout":     25,
	"operator":  100,
	"sovereign": 500,
}

// UnlockCost maps a lead's grade to the credits required to unlock it.
func UnlockCost(grade lead.DataGrade) int {
	switch grade {
	case lead.GradeGold:
		return 3
	case lead.GradeSilver:
		return 2
	default:
		return 1
	}
}

// UnlockResult describes the outcome of Engine.Unlock.
type UnlockResult struct {
	AlreadyUnlocked bool
	CreditsSpent    int
	Balance         Balance
}

// Engine mediates every wallet mutation against the store's BEGIN
// IMMEDIATE transaction discipline (spec.md §4.7 and §9: "any
// implementation must use the underlying store's strongest write
// isolation at BEGIN").
type Engine struct {
	db    *store.Store
	audit auditlog.Log
}

// New constructs an Engine.
func New(db *store.Store, audit auditlog.Log) *Engine {
	return &Engine{db: db, audit: audit}
}

// CreateWallet inserts a zero-balance wallet for userID, called
// atomically with user creation.
func (e *Engine) CreateWallet(ctx context.Context, conn execer, userID string) error {
	_, err := conn.ExecContext(ctx,
		"INSERT INTO wallets (user_id, subscription_credits, purchased_credits, updated_at) VALUES (?, 0, 0, ?)",
		userID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create wallet: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetBalance reads a user's current balance outside of any transaction.
// Per spec.md §5, reads outside of unlock may return stale-but-committed
// values.
func (e *Engine) GetBalance(ctx context.Context, userID string) (Balance, error) {
	var b Balance
	err := e.db.DB.QueryRowContext(ctx,
		"SELECT subscription_credits, purchased_credits FROM wallets WHERE user_id = ?", userID,
	).Scan(&b.SubscriptionCredits, &b.PurchasedCredits)
	if err != nil {
		return Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return b, nil
}

// Unlock runs the unlock algorithm from spec.md §4.7 inside a single
// write-serialized transaction:
//  1. Load wallet FOR UPDATE (BEGIN IMMEDIATE acquires the write lock).
//  2. If (user, lead) already unlocked, return the cached result, no debit.
//  3. Determine credits_required from the lead's grade.
//  4. Debit subscription_credits first, then purchased_credits.
//  5. Insert one Transaction per bucket touched, insert the Unlock row,
//     emit PipelineEvent(LEAD_UNLOCK).
func (e *Engine) Unlock(ctx context.Context, userID string, l *lead.Lead, tier, clientIP string) (*UnlockResult, error) {
	var result *UnlockResult

	err := e.db.Tx(ctx, func(conn *sql.Conn) error {
		var already int
		if err := conn.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM unlocks WHERE user_id = ? AND lead_id = ?", userID, l.ID,
		).Scan(&already); err != nil {
			return fmt.Errorf("check existing unlock: %w", err)
		}
		if already > 0 {
			var spent int
			if err := conn.QueryRowContext(ctx,
				"SELECT credits_spent FROM unlocks WHERE user_id = ? AND lead_id = ?", userID, l.ID,
			).Scan(&spent); err != nil {
				return fmt.Errorf("read cached unlock: %w", err)
			}
			bal, err := e.balanceConn(ctx, conn, userID)
			if err != nil {
				return err
			}
			result = &UnlockResult{AlreadyUnlocked: true, CreditsSpent: spent, Balance: bal}
			return nil
		}

		var sub, purchased int
		if err := conn.QueryRowContext(ctx,
			"SELECT subscription_credits, purchased_credits FROM wallets WHERE user_id = ?", userID,
		).Scan(&sub, &purchased); err != nil {
			return fmt.Errorf("load wallet for update: %w", err)
		}

		cost := UnlockCost(l.DataGrade)
		if sub+purchased < cost {
			return ErrInsufficientFunds
		}

		fromSub := cost
		if fromSub > sub {
			fromSub = sub
		}
		fromPurchased := cost - fromSub

		newSub := sub - fromSub
		newPurchased := purchased - fromPurchased
		now := time.Now().UTC().Format(time.RFC3339Nano)

		if _, err := conn.ExecContext(ctx,
			"UPDATE wallets SET subscription_credits = ?, purchased_credits = ?, updated_at = ? WHERE user_id = ?",
			newSub, newPurchased, now, userID,
		); err != nil {
			return fmt.Errorf("update wallet: %w", err)
		}

		if fromSub > 0 {
			if err := insertTransaction(ctx, conn, userID, KindDebit, BucketSubscription, fromSub,
				fmt.Sprintf("cost=%d, grade=%s", cost, l.DataGrade), l.ID); err != nil {
				return err
			}
		}
		if fromPurchased > 0 {
			if err := insertTransaction(ctx, conn, userID, KindDebit, BucketPurchased, fromPurchased,
				fmt.Sprintf("cost=%d, grade=%s", cost, l.DataGrade), l.ID); err != nil {
				return err
			}
		}

		if _, err := conn.ExecContext(ctx,
			"INSERT INTO unlocks (user_id, lead_id, unlocked_at, credits_spent, client_ip, tier_at_time) VALUES (?, ?, ?, ?, ?, ?)",
			userID, l.ID, now, cost, clientIP, tier,
		); err != nil {
			return fmt.Errorf("insert unlock: %w", err)
		}

		result = &UnlockResult{
			CreditsSpent: cost,
			Balance:      Balance{SubscriptionCredits: newSub, PurchasedCredits: newPurchased},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.AlreadyUnlocked {
		if _, err := e.audit.Append(ctx, l.ID, auditlog.TypeLeadUnlock, "", "unlocked", userID,
			fmt.Sprintf("cost=%d, grade=%s", result.CreditsSpent, l.DataGrade), nil); err != nil {
			return result, fmt.Errorf("append unlock event: %w", err)
		}
	}
	return result, nil
}

func (e *Engine) balanceConn(ctx context.Context, conn *sql.Conn, userID string) (Balance, error) {
	var b Balance
	if err := conn.QueryRowContext(ctx,
		"SELECT subscription_credits, purchased_credits FROM wallets WHERE user_id = ?", userID,
	).Scan(&b.SubscriptionCredits, &b.PurchasedCredits); err != nil {
		return Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return b, nil
}

func insertTransaction(ctx context.Context, conn *sql.Conn, userID string, kind TransactionKind, bucket Bucket, amount int, reason, refID string) error {
	_, err := conn.ExecContext(ctx,
		"INSERT INTO transactions (id, user_id, kind, bucket, amount, reason, ref_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		uuid.NewString(), userID, string(kind), string(bucket), amount, reason, refID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// RefillSubscription sets subscription_credits to tier's monthly
// allocation (spec.md §4.7: unused subscription credits never roll
// over; purchased credits are untouched).
func (e *Engine) RefillSubscription(ctx context.Context, userID, tier string) error {
	allocation := TierAllocation[tier]
	return e.db.Tx(ctx, func(conn *sql.Conn) error {
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

		delta := allocation - current
		if delta > 0 {
			return insertTransaction(ctx, conn, userID, KindCredit, BucketSubscription, delta, "monthly refill: "+tier, "")
		}
		if delta < 0 {
			return insertTransaction(ctx, conn, userID, KindAdjustment, BucketSubscription, -delta, "tier downgrade reset: "+tier, "")
		}
		return nil
	})
}

// UpgradeTier tops subscription_credits up to newTier's allocation,
// never decreasing mid-cycle (spec.md §4.7).
func (e *Engine) UpgradeTier(ctx context.Context, userID, newTier string) error {
	allocation := TierAllocation[newTier]
	return e.db.Tx(ctx, func(conn *sql.Conn) error {
		var current int
		if err := conn.QueryRowContext(ctx,
			"SELECT subscription_credits FROM wallets WHERE user_id = ?", userID,
		).Scan(&current); err != nil {
			return fmt.Errorf("load wallet: %w", err)
		}
		if current >= allocation {
			return nil
		}

		now := time.Now().UTC().Format(time.RFC3339Nano)
		if _, err := conn.ExecContext(ctx,
			"UPDATE wallets SET subscription_credits = ?, updated_at = ? WHERE user_id = ?",
			allocation, now, userID,
		); err != nil {
			return fmt.Errorf("top up wallet: %w", err)
		}
		return insertTransaction(ctx, conn, userID, KindCredit, BucketSubscription, allocation-current, "tier upgrade: "+newTier, "")
	})
}

// GrantStarterPack increments purchased_credits by 10 for a one-time
// $19 starter-pack purchase.
func (e *Engine) GrantStarterPack(ctx context.Context, userID string) error {
	return e.db.Tx(ctx, func(conn *sql.Conn) error {
		var current int
		if err := conn.QueryRowContext(ctx,
			"SELECT purchased_credits FROM wallets WHERE user_id = ?", userID,
		).Scan(&current); err != nil {
			return fmt.Errorf("load wallet: %w", err)
		}
		now := time.Now().UTC().Format(time.RFC3339Nano)
		if _, err := conn.ExecContext(ctx,
			"UPDATE wallets SET purchased_credits = ?, updated_at = ? WHERE user_id = ?",
			current+10, now, userID,
		); err != nil {
			return fmt.Errorf("update wallet: %w", err)
		}
		return insertTransaction(ctx, conn, userID, KindCredit, BucketPurchased, 10, "starter pack purchase", "")
	})
}

// ClaimFoundersSlot attempts to claim a rate-locked founders slot for
// userID. It reads the current claim count and inserts iff count < cap,
// all inside a single BEGIN IMMEDIATE transaction, so concurrent
// registrations never oversell the cap (spec.md §9).
func (e *Engine) ClaimFoundersSlot(ctx context.Context, userID string, capacity int) error {
	return e.db.Tx(ctx, func(conn *sql.Conn) error {
		var count int
		if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM founders_slots").Scan(&count); err != nil {
			return fmt.Errorf("count founders_slots: %w", err)
		}
		if count >= capacity {
			return ErrFoundersCapReached
		}
		if _, err := conn.ExecContext(ctx,
			"INSERT INTO founders_slots (user_id, claimed_at) VALUES (?, ?)",
			userID, time.Now().UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert founders_slots: %w", err)
		}
		return nil
	})
}
