package remote

import (
	"context"
	"net/http"

	"github.com/vango-dev/sessionbridge/pkg/auth"
)

// TokenResponse is the outcome of a refresh or login call.
type TokenResponse struct {
	Pair       auth.TokenPair
	SetCookies []string
}

// RefreshRequest describes a POST /auth/refresh call.
type RefreshRequest struct {
	Mode auth.Mode

	// RefreshToken is sent in the body in json mode.
	RefreshToken string

	// Cookie is forwarded in cookie and session modes.
	Cookie string
}

type refreshBody struct {
	RefreshToken string    `json:"refresh_token,omitempty"`
	Mode         auth.Mode `json:"mode"`
}

// Refresh exchanges a refresh credential for a new token pair.
func (c *Client) Refresh(ctx context.Context, req RefreshRequest) (TokenResponse, error) {
	body := refreshBody{Mode: req.Mode}
	if req.Mode == auth.ModeJSON {
		body.RefreshToken = req.RefreshToken
	}
	var pair auth.TokenPair
	resp, err := c.Do(ctx, http.MethodPost, "/auth/refresh", nil, body, Credential{Cookie: req.Cookie}, &pair)
	return TokenResponse{Pair: pair, SetCookies: resp.SetCookies}, err
}

// LoginRequest describes a POST /auth/login call.
type LoginRequest struct {
	Mode        auth.Mode
	Credentials auth.Credentials
	Cookie      string
}

type loginBody struct {
	Email    string    `json:"email"`
	Password string    `json:"password"`
	OTP      string    `json:"otp,omitempty"`
	Mode     auth.Mode `json:"mode"`
}

// Login authenticates with email and password.
func (c *Client) Login(ctx context.Context, req LoginRequest) (TokenResponse, error) {
	body := loginBody{
		Email:    req.Credentials.Email,
		Password: req.Credentials.Password,
		OTP:      req.Credentials.OTP,
		Mode:     req.Mode,
	}
	var pair auth.TokenPair
	resp, err := c.Do(ctx, http.MethodPost, "/auth/login", nil, body, Credential{Cookie: req.Cookie}, &pair)
	return TokenResponse{Pair: pair, SetCookies: resp.SetCookies}, err
}

// LogoutRequest describes a POST /auth/logout call.
type LogoutRequest struct {
	Mode         auth.Mode
	RefreshToken string
	Cookie       string
}

// Logout invalidates the refresh credential. The returned lines usually
// expire the API's cookies.
func (c *Client) Logout(ctx context.Context, req LogoutRequest) ([]string, error) {
	body := refreshBody{Mode: req.Mode}
	if req.Mode == auth.ModeJSON {
		body.RefreshToken = req.RefreshToken
	}
	resp, err := c.Do(ctx, http.MethodPost, "/auth/logout", nil, body, Credential{Cookie: req.Cookie}, nil)
	return resp.SetCookies, err
}

// ReadMe fetches the current user's profile. A 2xx answer without a user id
// yields ErrEmptyProfile.
func (c *Client) ReadMe(ctx context.Context, cred Credential, q Query) (*auth.Profile, Response, error) {
	var p auth.Profile
	resp, err := c.Do(ctx, http.MethodGet, "/users/me", q.WithID().Values(), nil, cred, &p)
	if err != nil {
		return nil, resp, err
	}
	if p.ID == "" {
		return nil, resp, ErrEmptyProfile
	}
	return &p, resp, nil
}
