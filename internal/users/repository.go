package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a user lookup finds no matching record.
var ErrNotFound = errors.New("user not found")

// ErrDuplicateEmail is returned when a signup attempts to use an
// already-registered email.
var ErrDuplicateEmail = errors.New("email already registered")

// execer is satisfied by both *sql.DB and the *sql.Conn handed out by
// store.Store.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Repository provides CRUD operations for users against the platform's
// SQLite store.
type Repository struct {
	db execer
}

// NewRepository wraps db.
func NewRepository(db execer) *Repository {
	return &Repository{db: db}
}

// WithConn returns a Repository bound to conn, for use inside a
// store.Store.Tx callback.
func (r *Repository) WithConn(conn execer) *Repository {
	return &Repository{db: conn}
}

// Create inserts a new user record. Sets ID, CreatedAt, UpdatedAt.
func (r *Repository) Create(ctx context.Context, u *User) error {
	u.ID = uuid.NewString()
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	if u.Tier == "" {
		u.Tier = TierScout
	}
	if u.AttorneyStatus == "" {
		u.AttorneyStatus = AttorneyNone
	}
	u.Active = true

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (
			id, email, password_hash, tier, email_verified,
			attorney_status, bar_number, is_admin, active, created_at, updated_at
		) VALUES (?,?,?,?,?, ?,?,?,?,?,?)`,
		u.ID, u.Email, u.PasswordHash, string(u.Tier), boolToInt(u.EmailVerified),
		string(u.AttorneyStatus), nullStr(u.BarNumber), boolToInt(u.IsAdmin), boolToInt(u.Active),
		u.CreatedAt.Format(time.RFC3339Nano), u.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

const selectCols = `
	SELECT id, email, password_hash, tier, email_verified,
		attorney_status, bar_number, is_admin, active, created_at, updated_at
	FROM users`

// GetByID retrieves a user by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, selectCols+" WHERE id = ?", id))
}

// GetByEmail retrieves a user by email address.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, selectCols+" WHERE email = ?", email))
}

// SetEmailVerified marks the user's email as verified.
func (r *Repository) SetEmailVerified(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE users SET email_verified = 1, updated_at = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339Nano), userID,
	)
	return err
}

// SetPasswordHash updates a user's password hash.
func (r *Repository) SetPasswordHash(ctx context.Context, userID, hash string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?",
		hash, time.Now().UTC().Format(time.RFC3339Nano), userID,
	)
	return err
}

// SetTier updates a user's subscription tier.
func (r *Repository) SetTier(ctx context.Context, userID string, tier Tier) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE users SET tier = ?, updated_at = ? WHERE id = ?",
		string(tier), time.Now().UTC().Format(time.RFC3339Nano), userID,
	)
	return err
}

// SetAttorneyStatus updates a user's bar-verification status and number.
func (r *Repository) SetAttorneyStatus(ctx context.Context, userID string, status AttorneyStatus, barNumber string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE users SET attorney_status = ?, bar_number = ?, updated_at = ? WHERE id = ?",
		string(status), nullStr(barNumber), time.Now().UTC().Format(time.RFC3339Nano), userID,
	)
	return err
}

// SetActive toggles an account's active flag. Deactivated accounts fail
// AuthRequired even with a still-valid session token (spec.md §4.9).
func (r *Repository) SetActive(ctx context.Context, userID string, active bool) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE users SET active = ?, updated_at = ? WHERE id = ?",
		boolToInt(active), time.Now().UTC().Format(time.RFC3339Nano), userID,
	)
	return err
}

// CreateVerificationCode stores a new 6-digit email-verification code
// under a fresh opaque token, superseding any prior unused code for the
// user.
func (r *Repository) CreateVerificationCode(ctx context.Context, userID, code string, expires time.Time) (string, error) {
	token := uuid.NewString()
	if _, err := r.db.ExecContext(ctx,
		"UPDATE email_verifications SET used_at = ? WHERE user_id = ? AND used_at IS NULL",
		time.Now().UTC().Format(time.RFC3339Nano), userID,
	); err != nil {
		return "", fmt.Errorf("supersede verification codes: %w", err)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_verifications (token, user_id, code, expires_at, used_at)
		VALUES (?, ?, ?, ?, NULL)`,
		token, userID, code, expires.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert verification code: %w", err)
	}
	return token, nil
}

// ErrCodeInvalid is returned when a verification code does not match any
// live, unused row for the user.
var ErrCodeInvalid = errors.New("verification code invalid or expired")

// ConsumeVerificationCode atomically marks the most recent matching code
// as used and sets email_verified = true, returning the verified user.
func (r *Repository) ConsumeVerificationCode(ctx context.Context, userID, code string) (*User, error) {
	var token string
	var expiresAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT token, expires_at FROM email_verifications
		WHERE user_id = ? AND code = ? AND used_at IS NULL
		ORDER BY expires_at DESC LIMIT 1`,
		userID, code,
	).Scan(&token, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCodeInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("query verification code: %w", err)
	}

	expiry, err := time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	if time.Now().UTC().After(expiry) {
		return nil, ErrCodeInvalid
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := r.db.ExecContext(ctx,
		"UPDATE email_verifications SET used_at = ? WHERE token = ?", now, token,
	); err != nil {
		return nil, fmt.Errorf("mark code used: %w", err)
	}
	if _, err := r.db.ExecContext(ctx,
		"UPDATE users SET email_verified = 1, updated_at = ? WHERE id = ?", now, userID,
	); err != nil {
		return nil, fmt.Errorf("set email verified: %w", err)
	}
	return r.GetByID(ctx, userID)
}

func (r *Repository) scanOne(row *sql.Row) (*User, error) {
	var u User
	var tier, attorneyStatus string
	var barNumber sql.NullString
	var emailVerified, isAdmin, active int
	var createdAt, updatedAt string

	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &tier, &emailVerified,
		&attorneyStatus, &barNumber, &isAdmin, &active, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}

	u.Tier = Tier(tier)
	u.EmailVerified = emailVerified != 0
	u.AttorneyStatus = AttorneyStatus(attorneyStatus)
	u.BarNumber = barNumber.String
	u.IsAdmin = isAdmin != 0
	u.Active = active != 0

	if u.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if u.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &u, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
