// Package client builds remote API clients bound to one session.
//
// A Factory is created once at startup from configuration. For is called per
// request or per page to obtain a Client whose credential strategy was fixed
// at construction:
//
//  1. an explicit token passed with WithToken wins;
//  2. WithStaticToken(true) selects the configured static token;
//  3. otherwise the session's live access token is used when present;
//  4. otherwise the configured static token is used.
//
// WithStaticToken(false) always selects the live token store, even when it is
// empty. A live client reads the token store on every call, so a refresh that
// happens after construction is picked up.
package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/vango-dev/sessionbridge/pkg/auth"
	"github.com/vango-dev/sessionbridge/pkg/remote"
	"github.com/vango-dev/sessionbridge/pkg/session"
)

// Refresher refreshes a session's tokens. *refresh.Orchestrator implements it.
type Refresher interface {
	Refresh(ctx context.Context, sess *session.Session, explicitRefreshToken string) auth.Result
}

// Strategy is the credential source chosen at construction.
type Strategy int

const (
	StrategyLive Strategy = iota
	StrategyStatic
	StrategyExplicit
)

func (s Strategy) String() string {
	switch s {
	case StrategyStatic:
		return "static"
	case StrategyExplicit:
		return "explicit"
	default:
		return "live"
	}
}

// DefaultLeeway is how close to expiry a live token may get before an
// auto-refreshing client refreshes it ahead of a call.
const DefaultLeeway = 10 * time.Second

// Factory produces session-bound clients.
type Factory struct {
	remote      *remote.Client
	staticToken string
	autoRefresh bool
	refresher   Refresher
	leeway      time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithStatic sets the configured static token.
func WithStatic(token string) FactoryOption {
	return func(f *Factory) { f.staticToken = token }
}

// WithAutoRefresh enables refreshing expiring live tokens before a call and
// retrying once after a 401.
func WithAutoRefresh(enabled bool, r Refresher) FactoryOption {
	return func(f *Factory) {
		f.autoRefresh = enabled
		f.refresher = r
	}
}

// WithLeeway overrides DefaultLeeway.
func WithLeeway(d time.Duration) FactoryOption {
	return func(f *Factory) {
		if d >= 0 {
			f.leeway = d
		}
	}
}

// WithFactoryLogger sets the logger.
func WithFactoryLogger(l *slog.Logger) FactoryOption {
	return func(f *Factory) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFactory creates a Factory around a remote client.
func NewFactory(rc *remote.Client, opts ...FactoryOption) *Factory {
	f := &Factory{
		remote: rc,
		leeway: DefaultLeeway,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Remote returns the underlying remote client.
func (f *Factory) Remote() *remote.Client { return f.remote }

// Option overrides the factory defaults for one client.
type Option func(*buildOptions)

type buildOptions struct {
	token       string
	useStatic   *bool
	autoRefresh *bool
}

// WithToken pins an explicit token.
func WithToken(token string) Option {
	return func(o *buildOptions) { o.token = token }
}

// WithStaticToken opts in to (true) or out of (false) the static token.
func WithStaticToken(use bool) Option {
	return func(o *buildOptions) { o.useStatic = &use }
}

// WithClientAutoRefresh overrides the factory's auto-refresh setting.
func WithClientAutoRefresh(enabled bool) Option {
	return func(o *buildOptions) { o.autoRefresh = &enabled }
}

// For builds a client bound to sess. sess may be nil for calls made outside
// any session, in which case only explicit and static tokens apply.
func (f *Factory) For(sess *session.Session, opts ...Option) *Client {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		factory:     f,
		sess:        sess,
		autoRefresh: f.autoRefresh && f.refresher != nil,
	}
	if o.autoRefresh != nil {
		c.autoRefresh = *o.autoRefresh && f.refresher != nil
	}

	switch {
	case o.token != "":
		c.strategy, c.token = StrategyExplicit, o.token
	case o.useStatic != nil && *o.useStatic && f.staticToken != "":
		c.strategy, c.token = StrategyStatic, f.staticToken
	case o.useStatic != nil && !*o.useStatic:
		c.strategy = StrategyLive
	case sess != nil && sess.Tokens.Get().AccessToken != "":
		c.strategy = StrategyLive
	case f.staticToken != "":
		c.strategy, c.token = StrategyStatic, f.staticToken
	default:
		c.strategy = StrategyLive
	}
	return c
}

// Client is a remote client bound to one session and credential strategy.
type Client struct {
	factory     *Factory
	sess        *session.Session
	strategy    Strategy
	token       string
	autoRefresh bool
}

// Strategy returns the credential strategy chosen at construction.
func (c *Client) Strategy() Strategy { return c.strategy }

// AutoRefresh reports whether the client refreshes live tokens.
func (c *Client) AutoRefresh() bool { return c.autoRefresh }

// Session returns the bound session, possibly nil.
func (c *Client) Session() *session.Session { return c.sess }

// Credential resolves what to send with the next call. For live clients with
// auto-refresh enabled an expiring token is refreshed first.
func (c *Client) Credential(ctx context.Context) remote.Credential {
	var cred remote.Credential
	if c.sess != nil {
		cred.Cookie = c.sess.CookieHeader()
	}
	if c.strategy != StrategyLive {
		cred.Token = c.token
		return cred
	}
	if c.sess == nil {
		return cred
	}

	pair := c.sess.Tokens.Get()
	if c.autoRefresh && pair.AccessToken != "" && pair.ExpiresWithin(c.factory.now(), c.factory.leeway) {
		c.factory.refresher.Refresh(ctx, c.sess, "")
		pair = c.sess.Tokens.Get()
		cred.Cookie = c.sess.CookieHeader()
	}
	cred.Token = pair.AccessToken
	return cred
}

// Do performs a call. Set-Cookie lines in the response are merged into the
// session's jar and forwarded to its sink.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any, dest any) (remote.Response, error) {
	_, isReader := body.(io.Reader)
	return c.call(ctx, path, !isReader, func(cred remote.Credential) (remote.Response, error) {
		return c.factory.remote.Do(ctx, method, path, query, body, cred, dest)
	})
}

// GraphQL posts a query to the project or system GraphQL endpoint with the
// same credential and refresh handling as Do.
func (c *Client) GraphQL(ctx context.Context, q remote.GraphQLQuery, dest any) (remote.Response, error) {
	return c.call(ctx, q.Path(), true, func(cred remote.Credential) (remote.Response, error) {
		return c.factory.remote.GraphQL(ctx, q, cred, dest)
	})
}

// call runs send with the current credential and, when allowed, once more
// after a refresh if the first attempt was rejected.
func (c *Client) call(ctx context.Context, path string, retryable bool, send func(remote.Credential) (remote.Response, error)) (remote.Response, error) {
	cred := c.Credential(ctx)
	resp, err := send(cred)
	c.propagate(resp)

	if err != nil && retryable && c.shouldRetry(cred, err) {
		c.factory.logger.Debug("retrying after refresh", "path", path, "session_id", c.sess.ID)
		if res := c.factory.refresher.Refresh(ctx, c.sess, ""); res.OK() {
			resp, err = send(c.Credential(ctx))
			c.propagate(resp)
		}
	}
	return resp, err
}

// Upload performs a call with a raw body. It is never retried.
func (c *Client) Upload(ctx context.Context, method, path string, body io.Reader, contentType string, dest any) (remote.Response, error) {
	resp, err := c.factory.remote.Upload(ctx, method, path, body, contentType, c.Credential(ctx), dest)
	c.propagate(resp)
	return resp, err
}

// ReadMe fetches the profile with this client's credential. A 2xx answer
// without a user yields remote.ErrEmptyProfile.
func (c *Client) ReadMe(ctx context.Context, q remote.Query) (*auth.Profile, error) {
	var p auth.Profile
	if _, err := c.Do(ctx, http.MethodGet, "/users/me", q.WithID().Values(), nil, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, remote.ErrEmptyProfile
	}
	return &p, nil
}

// shouldRetry is false for readers, which a first attempt has consumed.
func (c *Client) shouldRetry(cred remote.Credential, err error) bool {
	if !c.autoRefresh || c.strategy != StrategyLive || c.sess == nil || cred.Token == "" {
		return false
	}
	return remote.IsUnauthorized(err)
}

func (c *Client) propagate(resp remote.Response) {
	if c.sess != nil {
		c.sess.PropagateCookies(resp.SetCookies)
	}
}
