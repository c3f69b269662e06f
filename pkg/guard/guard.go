// Package guard decides, per navigation, whether a session may see a path or
// must be sent to the login page first.
//
// A Guard is configured once at startup and evaluated on every navigation,
// either as HTTP middleware for server-rendered requests or directly by the
// live page session for client navigations. Both paths run the same
// Evaluate, so the server and the page always agree.
package guard

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/sessionbridge/pkg/auth"
	"github.com/vango-dev/sessionbridge/pkg/session"
)

const tracerName = "github.com/vango-dev/sessionbridge/pkg/guard"

// Config configures one guard. It is immutable after startup.
type Config struct {
	// Name identifies the guard for per-route attachment.
	Name string

	// RedirectTo is the login path. It is always reachable.
	RedirectTo string

	// Global guards run on every route.
	Global bool

	// Patterns are the paths reachable without a profile. A trailing "*"
	// makes a prefix match; anything else must match exactly. An empty list
	// restricts nothing.
	Patterns []string

	// RefreshOnMiss attempts a refresh before deciding when the session has
	// no profile.
	RefreshOnMiss bool
}

// State is a step of one evaluation.
type State int

const (
	Pending State = iota
	RefreshAttempted
	SkippedRefresh
	Allowed
	Redirected
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case RefreshAttempted:
		return "refresh_attempted"
	case SkippedRefresh:
		return "skipped_refresh"
	case Allowed:
		return "allowed"
	case Redirected:
		return "redirected"
	default:
		return "unknown"
	}
}

// Action is the outcome of an evaluation.
type Action int

const (
	Allow Action = iota
	Redirect
)

func (a Action) String() string {
	if a == Redirect {
		return "redirect"
	}
	return "allow"
}

// Decision is the result of evaluating a navigation.
type Decision struct {
	Guard    string
	Action   Action
	Location string

	// States lists every state the evaluation passed through.
	States []State

	// Refresh is set when a refresh was attempted.
	Refresh *auth.Result
}

// Refresher is the refresh entry point the guard calls on a miss.
type Refresher interface {
	Refresh(ctx context.Context, sess *session.Session, explicitRefreshToken string) auth.Result
}

// Observer receives decisions, typically for metrics.
type Observer interface {
	ObserveDecision(guard string, action Action, refreshed bool)
}

// Guard evaluates navigations against a Config.
type Guard struct {
	cfg       Config
	refresher Refresher
	observer  Observer
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures a Guard.
type Option func(*Guard)

// WithObserver registers a decision observer.
func WithObserver(o Observer) Option {
	return func(g *Guard) { g.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a Guard. refresher may be nil when cfg.RefreshOnMiss is false.
func New(cfg Config, refresher Refresher, opts ...Option) *Guard {
	if cfg.RedirectTo == "" {
		cfg.RedirectTo = "/login"
	}
	cfg.Patterns = append([]string(nil), cfg.Patterns...)
	g := &Guard{
		cfg:       cfg,
		refresher: refresher,
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("guard", cfg.Name)
	return g
}

// Name returns the configured name.
func (g *Guard) Name() string { return g.cfg.Name }

// Global reports whether the guard runs on every route.
func (g *Guard) Global() bool { return g.cfg.Global }

// Config returns a copy of the configuration.
func (g *Guard) Config() Config {
	c := g.cfg
	c.Patterns = append([]string(nil), g.cfg.Patterns...)
	return c
}

// Restricted reports whether path needs a profile.
func (g *Guard) Restricted(path string) bool {
	return len(g.cfg.Patterns) > 0 && !Match(g.cfg.Patterns, path)
}

// Evaluate decides a navigation to target, a path optionally followed by a
// query string. sess may be nil, which is treated as an anonymous session
// that cannot be refreshed.
func (g *Guard) Evaluate(ctx context.Context, sess *session.Session, target string) Decision {
	path := pathOf(target)
	ctx, span := g.tracer.Start(ctx, "guard.evaluate", trace.WithAttributes(
		attribute.String("guard.name", g.cfg.Name),
		attribute.String("guard.path", path),
	))
	defer span.End()

	d := Decision{Guard: g.cfg.Name, States: []State{Pending}}

	if !hasProfile(sess) && g.cfg.RefreshOnMiss && sess != nil && g.refresher != nil {
		res := g.refresher.Refresh(ctx, sess, "")
		d.Refresh = &res
		d.States = append(d.States, RefreshAttempted)
	} else {
		d.States = append(d.States, SkippedRefresh)
	}

	if !hasProfile(sess) && path != pathOf(g.cfg.RedirectTo) && g.Restricted(path) {
		d.Action = Redirect
		d.Location = RedirectURL(g.cfg.RedirectTo, target)
		d.States = append(d.States, Redirected)
		g.logger.Debug("navigation redirected", "path", path, "location", d.Location)
	} else {
		d.Action = Allow
		d.States = append(d.States, Allowed)
	}

	span.SetAttributes(
		attribute.String("guard.action", d.Action.String()),
		attribute.Bool("guard.refreshed", d.Refresh != nil),
	)
	if g.observer != nil {
		g.observer.ObserveDecision(g.cfg.Name, d.Action, d.Refresh != nil)
	}
	return d
}

func hasProfile(sess *session.Session) bool {
	return sess != nil && sess.User.Present()
}

// Match reports whether path matches any pattern.
func Match(patterns []string, path string) bool {
	for _, p := range patterns {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			if strings.HasPrefix(path, prefix) {
				return true
			}
			continue
		}
		if p == path {
			return true
		}
	}
	return false
}

// RedirectURL appends next=<target> to redirectTo. Slashes in the target are
// left unescaped so the login URL stays readable.
func RedirectURL(redirectTo, target string) string {
	sep := "?"
	if strings.Contains(redirectTo, "?") {
		sep = "&"
	}
	next := strings.ReplaceAll(url.QueryEscape(target), "%2F", "/")
	return redirectTo + sep + "next=" + next
}

func pathOf(target string) string {
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		return target[:i]
	}
	return target
}

// SafeNext returns next when it is a local path and fallback otherwise. Use
// it before redirecting to a user-supplied next value after login.
func SafeNext(next, fallback string) string {
	if isLocalPath(next) {
		return next
	}
	return fallback
}

func isLocalPath(path string) bool {
	if len(path) == 0 || path[0] != '/' {
		return false
	}
	// Protocol-relative and backslash variants resolve to another host.
	if len(path) >= 2 && (path[1] == '/' || path[1] == '\\') {
		return false
	}
	if strings.ContainsAny(path, "\r\n") {
		return false
	}
	lower := strings.ToLower(path)
	if strings.HasPrefix(lower, "/http:") ||
		strings.HasPrefix(lower, "/https:") ||
		strings.HasPrefix(lower, "/javascript:") {
		return false
	}
	return true
}
