// Package auth verifies the platform-issued session tokens presented by
// connecting clients. Account management and token issuance belong to the
// marketplace's auth service; this package only needs to agree on the
// shared HMAC secret and claim shape.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the session token payload.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"` // "investor" or "syndicator"
	jwt.RegisteredClaims
}

// TokenVerifier validates session tokens signed with the shared secret.
type TokenVerifier struct {
	secretKey string
	duration  time.Duration
}

// NewTokenVerifier returns a verifier for the given secret. duration is
// only used by IssueToken.
func NewTokenVerifier(secretKey string, duration time.Duration) *TokenVerifier {
	return &TokenVerifier{secretKey: secretKey, duration: duration}
}

// Verify parses and validates a token and returns its claims.
func (v *TokenVerifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.secretKey), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == "" {
		return nil, errors.New("token missing user id")
	}
	return claims, nil
}

// IssueToken signs a token for a user. The platform's auth service is the
// normal issuer; this exists for local development and tests.
func (v *TokenVerifier) IssueToken(userID, email, role string) (string, time.Time, error) {
	expiresAt := time.Now().Add(v.duration)
	claims := &Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(v.secretKey))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
