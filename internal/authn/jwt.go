// Package authn is a bearer-JWT authentication middleware for the
// consensus gateway's HTTP surface, trimmed from the teacher's
// internal/auth package down to the single concern this module needs:
// resolving a request to a user ID for usage-tracker/cost-tracker
// lookups, with a SkipAuth escape hatch for local development.
package authn

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Manager issues and validates bearer tokens.
type Manager struct {
	signingKey []byte
	tokenTTL   time.Duration
	issuer     string
}

// NewManager builds a Manager around a signing secret.
func NewManager(signingKey string, tokenTTL time.Duration) *Manager {
	return &Manager{
		signingKey: []byte(signingKey),
		tokenTTL:   tokenTTL,
		issuer:     "consensus-gateway",
	}
}

// Claims is the JWT payload: just enough to identify the caller.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// IssueToken mints a signed bearer token for userID.
func (m *Manager) IssueToken(userID string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
		},
		UserID: userID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.signingKey)
}

// ValidateToken parses and verifies a bearer token, returning its UserID.
func (m *Manager) ValidateToken(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	return claims.UserID, nil
}
