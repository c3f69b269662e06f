package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims are the claims read from a remote access token. They are
// inspected, never verified: the signing key belongs to the remote API and
// every token is checked again upstream on use.
type AccessClaims struct {
	UserID    string
	Role      string
	SessionID string
	ExpiresAt time.Time
}

type remoteClaims struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Session string `json:"session"`
	jwt.RegisteredClaims
}

// InspectAccessToken decodes the claims of a JWT access token without
// verifying its signature. It returns false for opaque or malformed tokens.
func InspectAccessToken(token string) (AccessClaims, bool) {
	if token == "" {
		return AccessClaims{}, false
	}
	var claims remoteClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return AccessClaims{}, false
	}
	out := AccessClaims{
		UserID:    claims.ID,
		Role:      claims.Role,
		SessionID: claims.Session,
	}
	if out.UserID == "" {
		out.UserID = claims.Subject
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, true
}
