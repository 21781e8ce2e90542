package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndVerify(t *testing.T) {
	v := NewTokenVerifier("test-secret", time.Hour)

	token, expiresAt, err := v.IssueToken("user-1", "alice@example.com", "investor")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	if time.Until(expiresAt) > time.Hour || time.Until(expiresAt) < 55*time.Minute {
		t.Errorf("unexpected expiry: %v", expiresAt)
	}

	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "alice@example.com" || claims.Role != "investor" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenVerifier("secret-a", time.Hour)
	token, _, err := issuer.IssueToken("user-1", "a@example.com", "investor")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	verifier := NewTokenVerifier("secret-b", time.Hour)
	if _, err := verifier.Verify(token); err == nil {
		t.Fatalf("expected verification to fail with the wrong secret")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	v := NewTokenVerifier("test-secret", -time.Minute)
	token, _, err := v.IssueToken("user-1", "a@example.com", "investor")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	if _, err := v.Verify(token); err == nil {
		t.Fatalf("expected verification to fail for an expired token")
	}
}

func TestVerifyRejectsMissingUserID(t *testing.T) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	v := NewTokenVerifier("test-secret", time.Hour)
	if _, err := v.Verify(signed); err == nil || !strings.Contains(err.Error(), "user id") {
		t.Fatalf("expected a missing-user-id error, got %v", err)
	}
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "user-1"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	v := NewTokenVerifier("test-secret", time.Hour)
	if _, err := v.Verify(signed); err == nil {
		t.Fatalf("expected verification to reject alg=none")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	v := NewTokenVerifier("test-secret", time.Hour)
	if _, err := v.Verify("not.a.token"); err == nil {
		t.Fatalf("expected verification to fail for a malformed token")
	}
}
