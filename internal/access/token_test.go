package access_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/surplustrust/platform/internal/access"
)

func TestHMACIssueAndVerifyRoundTrip(t *testing.T) {
	issuer := access.NewHMACTokenIssuer("test-secret", time.Hour)

	tok, jti, err := issuer.Issue("user-1", "operator")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if jti == "" {
		t.Fatal("expected non-empty jti")
	}

	claims, err := issuer.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-1" || claims.Tier != "operator" {
		t.Errorf("claims = %+v, want sub=user-1 tier=operator", claims)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	// Issue clamps a non-positive TTL to MaxSessionTTL, so an expired token
	// is signed by hand with the issuer's secret.
	issuer := access.NewHMACTokenIssuer("test-secret", time.Hour)
	past := time.Now().Add(-time.Hour)
	claims := access.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-2",
			IssuedAt:  jwt.NewNumericDate(past.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(past),
		},
		Tier: "scout",
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, err = issuer.Verify(tok)
	if err != access.ErrTokenExpired {
		t.Errorf("Verify error = %v, want ErrTokenExpired", err)
	}
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	issuer := access.NewHMACTokenIssuer("test-secret", time.Hour)
	if _, err := issuer.Verify("not-a-jwt"); err != access.ErrTokenMalformed {
		t.Errorf("Verify error = %v, want ErrTokenMalformed", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := access.NewHMACTokenIssuer("secret-a", time.Hour)
	tok, _, err := issuer.Issue("user-3", "scout")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other := access.NewHMACTokenIssuer("secret-b", time.Hour)
	if _, err := other.Verify(tok); err != access.ErrTokenMalformed {
		t.Errorf("Verify error = %v, want ErrTokenMalformed", err)
	}
}

func TestTTLClampedToMaxSessionTTL(t *testing.T) {
	issuer := access.NewHMACTokenIssuer("test-secret", 1000*time.Hour)
	tok, _, err := issuer.Issue("user-4", "scout")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := issuer.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	life := claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time)
	if life > access.MaxSessionTTL+time.Minute {
		t.Errorf("token lifetime %v exceeds MaxSessionTTL %v", life, access.MaxSessionTTL)
	}
}
