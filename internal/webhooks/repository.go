package webhooks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a subscription lookup finds no match.
var ErrNotFound = errors.New("webhook subscription not found")

// execer is satisfied by both *sql.DB and a *sql.Conn from store.Store.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Repository persists webhook subscriptions and delivery records against
// the platform's SQLite store.
type Repository struct {
	db execer
}

// NewRepository wraps db.
func NewRepository(db execer) *Repository {
	return &Repository{db: db}
}

// Create inserts a new subscription.
func (r *Repository) Create(ctx context.Context, sub *Subscription) error {
	sub.ID = uuid.NewString()
	sub.CreatedAt = time.Now().UTC()
	sub.Active = true

	eventsJSON, err := json.Marshal(sub.Events)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (id, user_id, url, events, county, min_grade, secret, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.UserID, sub.URL, string(eventsJSON), sub.County, string(sub.MinGrade),
		sub.Secret, boolToInt(sub.Active), sub.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (r *Repository) scanOne(row *sql.Row) (*Subscription, error) {
	var sub Subscription
	var eventsJSON, createdAt string
	var active int
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.URL, &eventsJSON, &sub.County, &sub.MinGrade,
		&sub.Secret, &active, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sub.Active = active != 0
	sub.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	_ = json.Unmarshal([]byte(eventsJSON), &sub.Events)
	return &sub, nil
}

// GetByID retrieves a subscription by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*Subscription, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, url, events, county, min_grade, secret, active, created_at
		FROM webhook_subscriptions WHERE id = ?`, id)
	return r.scanOne(row)
}

// ListByUser returns all of a user's subscriptions.
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]*Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, url, events, county, min_grade, secret, active, created_at
		FROM webhook_subscriptions WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubs(rows)
}

// ListActiveByEvent returns every active subscription listening for
// eventType, for the dispatch loop to filter by county/grade itself via
// Subscription.Matches.
func (r *Repository) ListActiveByEvent(ctx context.Context, eventType string) ([]*Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, url, events, county, min_grade, secret, active, created_at
		FROM webhook_subscriptions WHERE active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	all, err := scanSubs(rows)
	if err != nil {
		return nil, err
	}
	out := make([]*Subscription, 0, len(all))
	for _, s := range all {
		for _, e := range s.Events {
			if e == eventType {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func scanSubs(rows *sql.Rows) ([]*Subscription, error) {
	var subs []*Subscription
	for rows.Next() {
		var sub Subscription
		var eventsJSON, createdAt string
		var active int
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.URL, &eventsJSON, &sub.County, &sub.MinGrade,
			&sub.Secret, &active, &createdAt); err != nil {
			return nil, err
		}
		sub.Active = active != 0
		sub.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		_ = json.Unmarshal([]byte(eventsJSON), &sub.Events)
		subs = append(subs, &sub)
	}
	return subs, rows.Err()
}

// Delete removes a subscription.
func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM webhook_subscriptions WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordDelivery records a single delivery attempt.
func (r *Repository) RecordDelivery(ctx context.Context, d *Delivery) error {
	d.ID = uuid.NewString()
	d.DeliveredAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, subscription_id, event_type, status_code, attempt, success, error_message, delivered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SubscriptionID, d.EventType, d.StatusCode, d.Attempt, boolToInt(d.Success), d.ErrorMessage,
		d.DeliveredAt.Format(time.RFC3339Nano),
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
