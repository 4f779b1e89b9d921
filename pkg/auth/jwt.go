// Package auth provides authentication and authorization.
package auth

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Claims represents the identity extracted from a verified token.
type Claims struct {
	UserID   string `json:"sub"`
	Username string `json:"username"`
}

// Manager issues and verifies HS256 bearer tokens.
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewManager creates a token manager. The secret must be at least 32 bytes.
func NewManager(secret, issuer string, ttl time.Duration) (*Manager, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 bytes, got %d", len(secret))
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Manager{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
	}, nil
}

// Issue creates a signed token for the given user.
func (m *Manager) Issue(userID, username string) (string, error) {
	now := time.Now()

	token, err := jwt.NewBuilder().
		Subject(userID).
		Issuer(m.issuer).
		IssuedAt(now).
		Expiration(now.Add(m.ttl)).
		Claim("username", username).
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, m.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}

// Verify validates a token and extracts claims.
// It checks the signature, expiration, and issuer.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKey(jwa.HS256, m.secret),
		jwt.WithValidate(true),
		jwt.WithIssuer(m.issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims := &Claims{
		UserID: token.Subject(),
	}
	if v, ok := token.Get("username"); ok {
		if s, ok := v.(string); ok {
			claims.Username = s
		}
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("token missing subject claim")
	}
	return claims, nil
}
