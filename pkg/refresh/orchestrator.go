// Package refresh owns every mutation of a session's tokens and profile:
// refresh, login and logout. Results are reported as auth.Result values;
// nothing here returns an error for an anonymous user.
package refresh

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/sessionbridge/pkg/auth"
	"github.com/vango-dev/sessionbridge/pkg/remote"
	"github.com/vango-dev/sessionbridge/pkg/session"
)

const (
	tracerName = "github.com/vango-dev/sessionbridge/pkg/refresh"
	flightKey  = "refresh"
)

// Observer receives refresh outcomes, typically for metrics.
type Observer interface {
	ObserveRefresh(exec session.Exec, kind auth.Kind, shared bool, elapsed time.Duration)
	ObserveProfileRead(ok bool)
}

// Orchestrator performs refresh, login and logout against the remote API.
type Orchestrator struct {
	remote   *remote.Client
	query    remote.Query
	logger   *slog.Logger
	observer Observer
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithReadMeQuery sets the fields requested when reading the profile.
func WithReadMeQuery(q remote.Query) Option {
	return func(o *Orchestrator) { o.query = q }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers an outcome observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// New creates an Orchestrator.
func New(rc *remote.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		remote: rc,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Refresh obtains a new token pair for sess.
//
// With a non-empty explicitRefreshToken the token is exchanged in json mode
// regardless of the session's mode. Otherwise json mode uses the stored
// refresh token or the refresh cookie, and cookie/session modes forward the
// session's cookies. Concurrent calls on one session share a single upstream
// call and receive the same result.
//
// Server-context refreshes are detached from the caller's cancellation so an
// abandoned request cannot leave the session half-updated.
func (o *Orchestrator) Refresh(ctx context.Context, sess *session.Session, explicitRefreshToken string) auth.Result {
	if sess.Exec == session.ExecServer {
		ctx = context.WithoutCancel(ctx)
	}
	start := o.now()
	res, shared := sess.Coalesce(flightKey, func() auth.Result {
		return o.refresh(ctx, sess, explicitRefreshToken)
	})
	res.Shared = shared
	if o.observer != nil {
		o.observer.ObserveRefresh(sess.Exec, res.Kind, shared, o.now().Sub(start))
	}
	return res
}

func (o *Orchestrator) refresh(ctx context.Context, sess *session.Session, explicit string) auth.Result {
	ctx, span := o.tracer.Start(ctx, "refresh", trace.WithAttributes(
		attribute.String("auth.mode", sess.Mode.String()),
		attribute.String("session.exec", sess.Exec.String()),
		attribute.Bool("refresh.explicit", explicit != ""),
	))
	defer span.End()

	logger := sess.Logger()
	req := remote.RefreshRequest{Mode: sess.Mode, Cookie: sess.CookieHeader()}
	switch {
	case explicit != "":
		req.Mode = auth.ModeJSON
		req.RefreshToken = explicit
	case sess.Mode == auth.ModeJSON:
		req.RefreshToken = sess.Tokens.Get().RefreshToken
		if req.RefreshToken == "" {
			req.RefreshToken = sess.Tokens.RefreshCookie().Value()
		}
		if req.RefreshToken == "" {
			logger.Debug("refresh skipped", "reason", auth.ErrNoCredential)
			span.SetAttributes(attribute.String("refresh.outcome", auth.NoCredential.String()))
			return auth.Anonymous()
		}
	default:
		if !sess.HasCredentialCookie() {
			logger.Debug("refresh skipped", "reason", auth.ErrNoCredential)
			span.SetAttributes(attribute.String("refresh.outcome", auth.NoCredential.String()))
			return auth.Anonymous()
		}
	}

	// A rejected refresh leaves the jar and the response untouched.
	tokens, err := o.remote.Refresh(ctx, req)
	if err != nil {
		res := auth.Failed("refresh", remote.StatusOf(err), err)
		o.logUpstream(logger, "refresh", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		return res
	}

	sess.PropagateCookies(tokens.SetCookies)
	res := o.store(ctx, sess, tokens)
	span.SetAttributes(attribute.String("refresh.outcome", res.Kind.String()))
	return res
}

// store saves a fresh pair and reads the profile.
func (o *Orchestrator) store(ctx context.Context, sess *session.Session, tokens remote.TokenResponse) auth.Result {
	pair := tokens.Pair.Stamp(o.now())
	previous := sess.User.Get()
	sess.Tokens.Set(pair)

	res := auth.Result{Kind: auth.Refreshed, Pair: pair, SetCookies: tokens.SetCookies}

	profile, err := o.readMe(ctx, sess)
	switch {
	case err == nil && profile != nil:
		sess.User.Set(profile)
		res.Profile = profile
	case err != nil:
		res.ProfileErr = &auth.ProfileError{Err: err}
		sess.Logger().Warn("profile read failed after refresh", "error", err)
		if previous != nil && !sameUser(previous, pair) {
			sess.User.Clear()
		}
	}
	return res
}

// sameUser reports whether the access token may still belong to the holder
// of the previous profile. Tokens that do not carry a user id are assumed to.
func sameUser(previous *auth.Profile, pair auth.TokenPair) bool {
	claims, ok := auth.InspectAccessToken(pair.AccessToken)
	if !ok || claims.UserID == "" {
		return true
	}
	return claims.UserID == previous.ID
}

// ReadMe reads the profile into the session's user slot.
func (o *Orchestrator) ReadMe(ctx context.Context, sess *session.Session) (*auth.Profile, error) {
	profile, err := o.readMe(ctx, sess)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, auth.ErrNoCredential
	}
	sess.User.Set(profile)
	return profile, nil
}

// readMe returns (nil, nil) when there is nothing to authenticate the read
// with: no access token, and not a session-mode pair that is still valid.
func (o *Orchestrator) readMe(ctx context.Context, sess *session.Session) (*auth.Profile, error) {
	pair := sess.Tokens.Get()
	if pair.AccessToken == "" && !(sess.Mode == auth.ModeSession && pair.Expires > 0) {
		return nil, nil
	}
	profile, resp, err := o.remote.ReadMe(ctx, remote.Credential{
		Token:  pair.AccessToken,
		Cookie: sess.CookieHeader(),
	}, o.query)
	sess.PropagateCookies(resp.SetCookies)
	if o.observer != nil {
		o.observer.ObserveProfileRead(err == nil)
	}
	return profile, err
}

// Login authenticates with credentials and stores the result like a refresh.
func (o *Orchestrator) Login(ctx context.Context, sess *session.Session, creds auth.Credentials) auth.Result {
	ctx, span := o.tracer.Start(ctx, "login", trace.WithAttributes(
		attribute.String("auth.mode", sess.Mode.String()),
	))
	defer span.End()

	tokens, err := o.remote.Login(ctx, remote.LoginRequest{
		Mode:        sess.Mode,
		Credentials: creds,
		Cookie:      sess.CookieHeader(),
	})
	if err != nil {
		o.logUpstream(sess.Logger(), "login", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		return auth.Failed("login", remote.StatusOf(err), err)
	}
	sess.PropagateCookies(tokens.SetCookies)
	sess.User.Clear()
	return o.store(ctx, sess, tokens)
}

// Logout invalidates the refresh credential upstream and always clears the
// session locally. The returned error is informational.
func (o *Orchestrator) Logout(ctx context.Context, sess *session.Session) error {
	ctx, span := o.tracer.Start(ctx, "logout")
	defer span.End()
	defer sess.Reset()

	req := remote.LogoutRequest{Mode: sess.Mode, Cookie: sess.CookieHeader()}
	if sess.Mode == auth.ModeJSON {
		req.RefreshToken = sess.Tokens.Get().RefreshToken
		if req.RefreshToken == "" {
			req.RefreshToken = sess.Tokens.RefreshCookie().Value()
		}
		if req.RefreshToken == "" {
			return nil
		}
	} else if !sess.HasCredentialCookie() {
		return nil
	}

	lines, err := o.remote.Logout(ctx, req)
	sess.PropagateCookies(lines)
	if err != nil {
		o.logUpstream(sess.Logger(), "logout", err)
		span.RecordError(err)
		return &auth.UpstreamError{Op: "logout", Status: remote.StatusOf(err), Err: err}
	}
	return nil
}

func (o *Orchestrator) logUpstream(logger *slog.Logger, op string, err error) {
	var apiErr *remote.APIError
	if errors.As(err, &apiErr) && remote.IsUnauthorized(err) {
		logger.Info(op+" rejected", "status", apiErr.Status, "code", apiErr.Code())
		return
	}
	logger.Warn(op+" failed", "error", err)
}
