// Package identity issues and verifies the bearer tokens that
// authenticate callers of the integrity ledger API. A token binds a
// request to one ledger identity; what that identity may do is decided
// by the capability grants in the ledger itself, not by the token.
package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// TokenClaims are the JWT claims for a ledger session token.
type TokenClaims struct {
	jwt.RegisteredClaims
	Identity string `json:"identity"`
}

// TokenIssuer issues and verifies session JWTs signed with a shared
// HMAC secret.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer.
//
//	issuerURL — The "iss" claim value; matches the service's base URL.
//	ttl        — Token lifetime (default: 24 hours).
func NewTokenIssuer(secret []byte, issuerURL string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("token secret must be at least 32 bytes, got %d", len(secret))
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: secret, issuer: issuerURL, ttl: ttl}, nil
}

// Issue creates a signed session token for the given ledger identity.
func (t *TokenIssuer) Issue(identity string) (string, error) {
	if identity == "" {
		return "", fmt.Errorf("empty identity")
	}
	now := time.Now().UTC()
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Identity: identity,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a session token, returning its claims.
func (t *TokenIssuer) Verify(tokenStr string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&TokenClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.secret, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify session token: %w", err)
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid session token claims")
	}
	if claims.Identity == "" {
		return nil, fmt.Errorf("session token carries no identity")
	}
	return claims, nil
}

// AdminGate exchanges a static admin secret for session tokens bound to
// the genesis admin identity. The stored value is a bcrypt hash, so the
// plaintext secret never sits in the process after startup.
type AdminGate struct {
	hash     []byte
	identity string
	issuer   *TokenIssuer
}

// NewAdminGate hashes the configured admin secret and remembers which
// ledger identity admin tokens are issued for.
func NewAdminGate(secret, identity string, issuer *TokenIssuer) (*AdminGate, error) {
	if secret == "" {
		return nil, fmt.Errorf("empty admin secret")
	}
	if identity == "" {
		return nil, fmt.Errorf("empty admin identity")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash admin secret: %w", err)
	}
	return &AdminGate{hash: hash, identity: identity, issuer: issuer}, nil
}

// Exchange verifies the presented secret and returns a session token for
// the admin identity.
func (g *AdminGate) Exchange(secret string) (string, error) {
	if err := bcrypt.CompareHashAndPassword(g.hash, []byte(secret)); err != nil {
		return "", fmt.Errorf("admin secret mismatch")
	}
	return g.issuer.Issue(g.identity)
}
