// Package access implements the Access Gate (C9): JWT session issuance
// and verification, and the composable gin middleware gates
// (AuthRequired, EmailVerified, TierAtLeast, AttorneyVerified,
// RestrictedUnlock, DailyViewLimit, SessionLimit).
package access

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrTokenExpired, ErrTokenMalformed, ErrUnknownSubject, and
// ErrDeactivated are the distinct verification failure kinds spec.md
// §4.9 requires.
var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token malformed")
	ErrUnknownSubject = errors.New("unknown subject")
	ErrDeactivated    = errors.New("account deactivated")
)

// MaxSessionTTL is the hard ceiling spec.md §4.9 places on session
// tokens: "short-lived (≤72h)".
const MaxSessionTTL = 72 * time.Hour

const sessionKeyBits = 2048

// SessionClaims are the JWT claims carried by a session token:
// {sub, tier, iat, exp} plus a jti used for SessionLimit bookkeeping.
type SessionClaims struct {
	jwt.RegisteredClaims
	Tier string `json:"tier"`
}

// TokenIssuer issues and verifies session tokens. It signs RS256 when an
// RSA keypair is configured (production) and falls back to HS256 with a
// shared secret when only JWT_SECRET is set (dev mode), per SPEC_FULL.md
// §7's config table.
type TokenIssuer struct {
	key    *rsa.PrivateKey
	pub    *rsa.PublicKey
	hmac   []byte
	ttl    time.Duration
}

// NewRSATokenIssuer constructs a TokenIssuer that signs RS256 tokens
// using key. ttl is clamped to MaxSessionTTL.
func NewRSATokenIssuer(key *rsa.PrivateKey, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{key: key, pub: &key.PublicKey, ttl: clampTTL(ttl)}
}

// NewHMACTokenIssuer constructs a TokenIssuer that signs HS256 tokens
// using secret. Intended for development when no RSA keypair is
// configured.
func NewHMACTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{hmac: []byte(secret), ttl: clampTTL(ttl)}
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > MaxSessionTTL {
		return MaxSessionTTL
	}
	return ttl
}

// LoadOrCreateRSAKey reads a PEM-encoded PKCS1 RSA private key from path,
// generating and persisting a new 2048-bit keypair if the file does not
// exist. This mirrors the teacher's CA key bootstrap (generate once,
// persist to disk, reload on restart).
func LoadOrCreateRSAKey(path string) (*rsa.PrivateKey, error) {
	if data, err := os.ReadFile(path); err == nil {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("decode PEM at %s: no block found", path)
		}
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse RSA key at %s: %w", path, err)
		}
		return key, nil
	}

	key, err := rsa.GenerateKey(rand.Reader, sessionKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate session signing key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(path, keyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("persist session signing key to %s: %w", path, err)
	}
	return key, nil
}

// Issue creates a signed session token for userID at the given tier.
func (t *TokenIssuer) Issue(userID, tier string) (string, string, error) {
	now := time.Now().UTC()
	jti := uuid.NewString()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        jti,
		},
		Tier: tier,
	}

	var token *jwt.Token
	var signed string
	var err error
	if t.key != nil {
		token = jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		signed, err = token.SignedString(t.key)
	} else {
		token = jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err = token.SignedString(t.hmac)
	}
	if err != nil {
		return "", "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, jti, nil
}

// Verify parses and validates a session token. It distinguishes
// expiration and malformed-token failures so the HTTP layer can map them
// to the right error kind (spec.md §4.9), but does not itself check
// whether the subject still exists or is active — callers combine this
// with a user lookup for ErrUnknownSubject/ErrDeactivated.
func (t *TokenIssuer) Verify(tokenStr string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&SessionClaims{},
		func(tok *jwt.Token) (any, error) {
			if t.key != nil {
				if _, ok := tok.Method.(*jwt.SigningMethodRSA); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
				}
				return t.pub, nil
			}
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.hmac, nil
		},
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}
