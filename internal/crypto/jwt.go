package crypto

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the subset of bearer token claims the client reads.
type TokenClaims struct {
	UserID string `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// ParseTokenUnverified decodes a JWT without checking its signature.
//
// It is only used for client control flow (expiry, user id hints); the server
// remains the authority on token validity.
func ParseTokenUnverified(token string) (*TokenClaims, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, false
	}
	claims := &TokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return claims, true
}

// TokenExpiresAt returns the exp claim of a JWT, if present.
func TokenExpiresAt(token string) (time.Time, bool) {
	claims, ok := ParseTokenUnverified(token)
	if !ok || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// TokenExpired reports whether token carries an exp claim that is not after
// now. Opaque tokens are never considered expired.
func TokenExpired(token string, now time.Time) bool {
	exp, ok := TokenExpiresAt(token)
	if !ok {
		return false
	}
	return !exp.After(now)
}
