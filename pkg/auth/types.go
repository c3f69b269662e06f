package auth

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Mode selects how credentials travel between the browser, this server and
// the remote API.
type Mode string

const (
	ModeCookie  Mode = "cookie"
	ModeJSON    Mode = "json"
	ModeSession Mode = "session"
)

// ParseMode parses a configured mode name. The empty string maps to ModeJSON,
// the remote SDK's default.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeJSON:
		return ModeJSON, nil
	case ModeCookie:
		return ModeCookie, nil
	case ModeSession:
		return ModeSession, nil
	default:
		return "", fmt.Errorf("auth: unknown mode %q", s)
	}
}

// UsesCookies reports whether the refresh credential lives in an HttpOnly
// cookie managed by the remote API.
func (m Mode) UsesCookies() bool {
	return m == ModeCookie || m == ModeSession
}

func (m Mode) String() string { return string(m) }

// TokenPair is the credential set returned by the remote refresh and login
// endpoints.
//
// Expires is the lifetime of the access token in milliseconds as reported by
// the remote API. ExpiresAt is the absolute expiry in unix milliseconds and is
// zero until Stamp is called.
type TokenPair struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Expires      int64  `json:"expires"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
}

// IsZero reports whether the pair carries nothing at all.
func (p TokenPair) IsZero() bool {
	return p.AccessToken == "" && p.RefreshToken == "" && p.Expires == 0 && p.ExpiresAt == 0
}

// Expired reports whether the access side of the pair can no longer be used.
// A pair with Expires <= 0 is expired whether or not a token string is present.
func (p TokenPair) Expired(now time.Time) bool {
	if p.Expires <= 0 {
		return true
	}
	if p.ExpiresAt > 0 && now.UnixMilli() >= p.ExpiresAt {
		return true
	}
	return false
}

// ExpiresWithin reports whether the pair expires before now+leeway.
func (p TokenPair) ExpiresWithin(now time.Time, leeway time.Duration) bool {
	if p.Expired(now) {
		return true
	}
	if p.ExpiresAt == 0 {
		return false
	}
	return now.Add(leeway).UnixMilli() >= p.ExpiresAt
}

// Stamp fills ExpiresAt from Expires relative to now. When the remote API did
// not report a lifetime, the access token's exp claim is used instead.
func (p TokenPair) Stamp(now time.Time) TokenPair {
	if p.ExpiresAt > 0 {
		return p
	}
	if p.Expires > 0 {
		p.ExpiresAt = now.UnixMilli() + p.Expires
		return p
	}
	if claims, ok := InspectAccessToken(p.AccessToken); ok && !claims.ExpiresAt.IsZero() {
		p.ExpiresAt = claims.ExpiresAt.UnixMilli()
		p.Expires = p.ExpiresAt - now.UnixMilli()
	}
	return p
}

// Profile is the partial representation of the authenticated user returned
// by the remote "read me" endpoint. Only the fields requested by the query are
// populated; everything else returned by the API is kept in Fields.
type Profile struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Role      string `json:"role,omitempty"`
	Status    string `json:"status,omitempty"`

	// Fields holds every returned field, including the ones above.
	Fields map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the known fields and keeps the raw object. The role
// may arrive either as an id or as an expanded object with an id.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Profile{Fields: raw}
	str := func(key string) string {
		v, ok := raw[key]
		if !ok {
			return ""
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(v, &obj); err == nil {
			return obj.ID
		}
		return ""
	}
	p.ID = str("id")
	p.Email = str("email")
	p.FirstName = str("first_name")
	p.LastName = str("last_name")
	p.Role = str("role")
	p.Status = str("status")
	return nil
}

// MarshalJSON writes the raw object back when present so no field is lost
// across a snapshot round trip.
func (p Profile) MarshalJSON() ([]byte, error) {
	if len(p.Fields) > 0 {
		return json.Marshal(p.Fields)
	}
	type plain Profile
	return json.Marshal(plain(p))
}

// DisplayName returns "First Last", falling back to the email.
func (p *Profile) DisplayName() string {
	if p == nil {
		return ""
	}
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name != "" {
		return name
	}
	return p.Email
}

// Credentials are the login form values forwarded to the remote API.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	OTP      string `json:"otp,omitempty"`
}
