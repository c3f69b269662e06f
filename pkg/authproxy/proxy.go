// Package authproxy exposes same-origin endpoints for page scripts to check,
// start and end a session without talking to the remote API directly.
//
// Refresh always answers 200 so anonymous visitors do not fill the browser
// console with 401s.
package authproxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vango-dev/sessionbridge/pkg/auth"
	"github.com/vango-dev/sessionbridge/pkg/cookie"
	"github.com/vango-dev/sessionbridge/pkg/guard"
	"github.com/vango-dev/sessionbridge/pkg/session"
)

// DefaultPath is where the proxy is mounted unless configured otherwise.
const DefaultPath = "/auth-proxy"

// Auth is the subset of the refresh orchestrator the proxy drives.
type Auth interface {
	Refresh(ctx context.Context, sess *session.Session, explicitRefreshToken string) auth.Result
	Login(ctx context.Context, sess *session.Session, creds auth.Credentials) auth.Result
	Logout(ctx context.Context, sess *session.Session) error
}

// Config configures the proxy. The cookie settings must match the ones used
// by the SSR bootstrap.
type Config struct {
	Mode               auth.Mode
	Names              session.CookieNames
	Policy             *cookie.Policy
	WriteRefreshCookie bool
	RefreshCookieTTL   time.Duration

	// Store holds cookie claim tickets issued to live pages.
	Store session.Store

	// AfterLogin is where a login without a usable next value lands
	// (default "/").
	AfterLogin string
}

// Status is the body of every successful proxy response.
type Status struct {
	Authenticated bool          `json:"authenticated"`
	User          *auth.Profile `json:"user"`
	AccessToken   string        `json:"access_token,omitempty"`
	Expires       int64         `json:"expires,omitempty"`

	// RefreshToken is only returned in json mode when the server does not
	// write the refresh cookie itself.
	RefreshToken string `json:"refresh_token,omitempty"`

	// Redirect is the local path a login should continue to.
	Redirect string `json:"redirect,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	OTP      string `json:"otp,omitempty"`

	// Next is the path the guard redirected away from.
	Next string `json:"next,omitempty"`
}

// Proxy serves the auth proxy endpoints.
type Proxy struct {
	cfg    Config
	auth   Auth
	logger *slog.Logger
	router chi.Router
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Proxy) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates the proxy. Mount it under the configured auth proxy path.
func New(cfg Config, a Auth, opts ...Option) *Proxy {
	if cfg.Names == (session.CookieNames{}) {
		cfg.Names = session.DefaultCookieNames()
	}
	if cfg.AfterLogin == "" {
		cfg.AfterLogin = "/"
	}
	p := &Proxy{cfg: cfg, auth: a, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}

	r := chi.NewRouter()
	r.Post("/refresh", p.refresh)
	r.Post("/login", p.login)
	r.Post("/logout", p.logout)
	r.Get("/claim", p.claim)
	p.router = r
	return p
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.router.ServeHTTP(w, r)
}

func (p *Proxy) session(w http.ResponseWriter, r *http.Request) *session.Session {
	return session.NewServer(w, r, session.ServerOptions{
		Mode:               p.cfg.Mode,
		Names:              p.cfg.Names,
		Policy:             p.cfg.Policy,
		Logger:             p.logger,
		WriteRefreshCookie: p.cfg.WriteRefreshCookie,
		RefreshCookieTTL:   p.cfg.RefreshCookieTTL,
	})
}

func (p *Proxy) refresh(w http.ResponseWriter, r *http.Request) {
	sess := p.session(w, r)
	res := p.auth.Refresh(r.Context(), sess, "")
	if res.Kind == auth.UpstreamFailure && !isUnauthorized(res.Err) {
		sess.Logger().Warn("proxy refresh failed", "error", res.Err)
	}
	writeJSON(w, http.StatusOK, p.status(sess, res))
}

func (p *Proxy) login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeStrict(r, &in); err != nil || in.Email == "" || in.Password == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_argument", "email and password are required")
		return
	}

	sess := p.session(w, r)
	res := p.auth.Login(r.Context(), sess, auth.Credentials{Email: in.Email, Password: in.Password, OTP: in.OTP})
	if res.Kind != auth.Refreshed {
		if isUnauthorized(res.Err) {
			writeError(w, r, http.StatusUnauthorized, "invalid_credentials", "invalid user credentials")
			return
		}
		sess.Logger().Warn("proxy login failed", "error", res.Err)
		writeError(w, r, http.StatusBadGateway, "upstream_unavailable", "login failed")
		return
	}
	st := p.status(sess, res)
	st.Redirect = guard.SafeNext(in.Next, p.cfg.AfterLogin)
	writeJSON(w, http.StatusOK, st)
}

func (p *Proxy) logout(w http.ResponseWriter, r *http.Request) {
	sess := p.session(w, r)
	if err := p.auth.Logout(r.Context(), sess); err != nil {
		sess.Logger().Info("proxy logout upstream error", "error", err)
	}
	writeJSON(w, http.StatusOK, Status{})
}

// claim writes the Set-Cookie lines parked under a ticket by a live page.
func (p *Proxy) claim(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" || p.cfg.Store == nil {
		writeError(w, r, http.StatusBadRequest, "invalid_argument", "ticket is required")
		return
	}
	lines, err := session.TakeCookieTicket(r.Context(), p.cfg.Store, ticket)
	if err != nil {
		p.logger.Error("claim ticket read failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if lines == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "unknown or claimed ticket")
		return
	}
	session.ResponseSink{Header: w.Header()}.Propagate(lines)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusNoContent)
}

func (p *Proxy) status(sess *session.Session, res auth.Result) Status {
	user := sess.User.Get()
	if !res.OK() && user == nil {
		return Status{}
	}
	pair := sess.Tokens.Get()
	st := Status{
		Authenticated: user != nil,
		User:          user,
		AccessToken:   pair.AccessToken,
		Expires:       pair.Expires,
	}
	if p.exposeRefreshToken() {
		st.RefreshToken = pair.RefreshToken
	}
	return st
}

func (p *Proxy) exposeRefreshToken() bool {
	if p.cfg.Mode != auth.ModeJSON || p.cfg.WriteRefreshCookie {
		return false
	}
	return p.cfg.Policy == nil || !p.cfg.Policy.HTTPOnly()
}

func isUnauthorized(err error) bool {
	var up *auth.UpstreamError
	return errors.As(err, &up) && up.Unauthorized()
}

// errorBody is the error envelope returned by the proxy.
type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	body.Error.RequestID = middleware.GetReqID(r.Context())
	writeJSON(w, status, body)
}

// decodeStrict rejects unknown fields.
func decodeStrict(r *http.Request, value any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(value)
}
