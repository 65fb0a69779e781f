package users

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/surplustrust/platform/internal/email"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// userRepo is the storage interface consumed by Service.
type userRepo interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	SetEmailVerified(ctx context.Context, userID string) error
	SetPasswordHash(ctx context.Context, userID, hash string) error
	SetTier(ctx context.Context, userID string, tier Tier) error
	SetAttorneyStatus(ctx context.Context, userID string, status AttorneyStatus, barNumber string) error
	SetActive(ctx context.Context, userID string, active bool) error
	CreateVerificationCode(ctx context.Context, userID, code string, expires time.Time) (string, error)
	ConsumeVerificationCode(ctx context.Context, userID, code string) (*User, error)
}

// Service implements business logic for account management: signup,
// login, email verification, and attorney status transitions.
type Service struct {
	repo   userRepo
	mailer email.EmailSender
	logger *zap.Logger
}

// NewService creates a Service.
func NewService(repo userRepo, mailer email.EmailSender, logger *zap.Logger) *Service {
	return &Service{repo: repo, mailer: mailer, logger: logger}
}

// Signup creates a new user with email/password authentication. Wallet
// creation happens in the HTTP handler, inside the same store.Store.Tx as
// the user row, since Repository.Create here runs standalone; the handler
// claims a founders slot after that transaction commits.
func (s *Service) Signup(ctx context.Context, emailAddr, password string) (*User, error) {
	if emailAddr == "" || password == "" {
		return nil, fmt.Errorf("email and password are required")
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		Email:        emailAddr,
		PasswordHash: string(hash),
		Tier:         TierScout,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Login verifies email/password credentials and returns the user on
// success.
func (s *Service) Login(ctx context.Context, emailAddr, password string) (*User, error) {
	u, err := s.repo.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("invalid credentials")
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !u.Active {
		return nil, fmt.Errorf("account deactivated")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}
	return u, nil
}

// GetByID retrieves a user by ID.
func (s *Service) GetByID(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// SendVerification generates a fresh 6-digit code, persists it, and
// emails it to the user. Rate-limiting the resend is the caller's
// responsibility (spec.md §9 Open Question (c): 1 per 60s per user).
func (s *Service) SendVerification(ctx context.Context, userID string) error {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if u.EmailVerified {
		return fmt.Errorf("email already verified")
	}

	code, err := generateSixDigitCode()
	if err != nil {
		return fmt.Errorf("generate verification code: %w", err)
	}

	expires := time.Now().UTC().Add(15 * time.Minute)
	if _, err := s.repo.CreateVerificationCode(ctx, u.ID, code, expires); err != nil {
		return fmt.Errorf("persist verification code: %w", err)
	}

	body := fmt.Sprintf(
		"Your Surplus Trust verification code is %s.\n\nThis code expires in 15 minutes. If you did not request this, ignore this email.\n",
		code,
	)
	if err := s.mailer.Send(ctx, u.Email, "Your verification code", body); err != nil {
		s.logger.Warn("send verification email", zap.String("user_id", u.ID), zap.Error(err))
		return fmt.Errorf("send verification email: %w", err)
	}
	return nil
}

// VerifyEmail consumes a 6-digit code and marks the user's email as
// verified.
func (s *Service) VerifyEmail(ctx context.Context, userID, code string) (*User, error) {
	u, err := s.repo.ConsumeVerificationCode(ctx, userID, code)
	if err != nil {
		return nil, err
	}
	s.logger.Info("email verified", zap.String("user_id", u.ID))
	return u, nil
}

// RequestAttorneyVerification moves a user into pending bar-verification
// status. An admin later approves or rejects via SetAttorneyStatus.
func (s *Service) RequestAttorneyVerification(ctx context.Context, userID, barNumber string) error {
	if barNumber == "" {
		return fmt.Errorf("bar number is required")
	}
	return s.repo.SetAttorneyStatus(ctx, userID, AttorneyPending, barNumber)
}

// ApproveAttorney marks a user's bar-verification request as verified.
func (s *Service) ApproveAttorney(ctx context.Context, userID string) error {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	return s.repo.SetAttorneyStatus(ctx, userID, AttorneyVerified, u.BarNumber)
}

// RejectAttorney marks a user's bar-verification request as rejected.
func (s *Service) RejectAttorney(ctx context.Context, userID string) error {
	return s.repo.SetAttorneyStatus(ctx, userID, AttorneyRejected, "")
}

// generateSixDigitCode returns a cryptographically random 6-digit code,
// zero-padded.
func generateSixDigitCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
