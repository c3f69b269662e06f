// Package ssr provides the bootstrap middleware that runs once per
// server-rendered request, before any route guard.
//
// Bootstrap creates the request's session, performs at most one refresh and
// stores the session in the request context. It never fails the request: an
// anonymous visitor, a rejected credential or even a panic inside the
// refresh all end with next being called.
package ssr

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/vango-dev/sessionbridge/pkg/auth"
	"github.com/vango-dev/sessionbridge/pkg/cookie"
	"github.com/vango-dev/sessionbridge/pkg/session"
)

// Outcome labels what bootstrap did for one request.
type Outcome string

const (
	OutcomeAnonymous Outcome = "anonymous"
	OutcomeRefreshed Outcome = "refreshed"
	OutcomeFailed    Outcome = "failed"
	OutcomeNoCred    Outcome = "no_credential"
	OutcomePanic     Outcome = "panic"
)

// Refresher is the refresh entry point.
type Refresher interface {
	Refresh(ctx context.Context, sess *session.Session, explicitRefreshToken string) auth.Result
}

// Observer receives bootstrap outcomes.
type Observer interface {
	ObserveBootstrap(outcome string, elapsed time.Duration)
}

// Config configures Bootstrap.
type Config struct {
	Mode   auth.Mode
	Names  session.CookieNames
	Policy *cookie.Policy

	// WriteRefreshCookie lets the server write the json-mode refresh cookie
	// even when it is not HttpOnly.
	WriteRefreshCookie bool

	RefreshCookieTTL time.Duration
}

// Bootstrap is the per-request session bootstrap.
type Bootstrap struct {
	cfg       Config
	refresher Refresher
	observer  Observer
	logger    *slog.Logger
}

// Option configures Bootstrap.
type Option func(*Bootstrap)

// WithObserver registers an outcome observer.
func WithObserver(o Observer) Option {
	return func(b *Bootstrap) { b.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bootstrap) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates a Bootstrap.
func New(cfg Config, r Refresher, opts ...Option) *Bootstrap {
	b := &Bootstrap{cfg: cfg, refresher: r, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Middleware builds the session, refreshes it and calls next with the
// session in the request context.
func (b *Bootstrap) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := b.Session(w, r)
		next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), sess)))
	})
}

// Session builds and bootstraps the session for r. The returned session is
// ready.
func (b *Bootstrap) Session(w http.ResponseWriter, r *http.Request) *session.Session {
	sess := session.NewServer(w, r, session.ServerOptions{
		Mode:               b.cfg.Mode,
		Names:              b.cfg.Names,
		Policy:             b.cfg.Policy,
		Logger:             b.logger,
		WriteRefreshCookie: b.cfg.WriteRefreshCookie,
		RefreshCookieTTL:   b.cfg.RefreshCookieTTL,
	})
	start := time.Now()
	outcome := b.run(r.Context(), sess, r.Header.Get("Cookie") != "")
	sess.MarkReady()
	if b.observer != nil {
		b.observer.ObserveBootstrap(string(outcome), time.Since(start))
	}
	return sess
}

func (b *Bootstrap) run(ctx context.Context, sess *session.Session, hasCookies bool) (outcome Outcome) {
	defer func() {
		if p := recover(); p != nil {
			sess.Logger().Error("bootstrap refresh panicked", "panic", p)
			outcome = OutcomePanic
		}
	}()

	if b.refresher == nil || !hasCookies {
		return OutcomeAnonymous
	}

	var res auth.Result
	if sess.Mode == auth.ModeJSON {
		rt := sess.Tokens.RefreshCookie().Value()
		if rt == "" {
			return OutcomeAnonymous
		}
		res = b.refresher.Refresh(ctx, sess, rt)
	} else {
		res = b.refresher.Refresh(ctx, sess, "")
	}

	switch res.Kind {
	case auth.Refreshed:
		if res.ProfileErr != nil {
			sess.Logger().Warn("bootstrap profile read failed", "error", res.ProfileErr)
		}
		return OutcomeRefreshed
	case auth.NoCredential:
		return OutcomeNoCred
	default:
		sess.Logger().Info("bootstrap refresh failed", "error", res.Err)
		return OutcomeFailed
	}
}
