package session

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/vango-dev/sessionbridge/pkg/auth"
	"github.com/vango-dev/sessionbridge/pkg/cookie"
)

// Exec identifies the execution context a Session belongs to.
type Exec int

const (
	// ExecServer is a single inbound HTTP request.
	ExecServer Exec = iota
	// ExecClient is an open page connected over the live channel.
	ExecClient
)

func (e Exec) String() string {
	if e == ExecClient {
		return "client"
	}
	return "server"
}

// CookieNames are the names of the cookies shared with the remote API.
type CookieNames struct {
	Refresh string
	Access  string
	Session string
}

// DefaultCookieNames returns the remote API's default cookie names.
func DefaultCookieNames() CookieNames {
	return CookieNames{
		Refresh: "directus_refresh_token",
		Access:  "directus_access_token",
		Session: "directus_session_token",
	}
}

// Credential returns the name of the cookie that carries the long-lived
// credential in the given mode.
func (n CookieNames) Credential(mode auth.Mode) string {
	if mode == auth.ModeSession {
		return n.Session
	}
	return n.Refresh
}

// Session is the authentication state of one execution context.
type Session struct {
	ID    string
	Mode  auth.Mode
	Exec  Exec
	Names CookieNames

	Tokens TokenStore
	User   *UserSlot

	jar    *Jar
	sink   CookieSink
	flight singleflight.Group
	logger *slog.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

// ServerOptions configures a server-context Session.
type ServerOptions struct {
	Mode   auth.Mode
	Names  CookieNames
	Policy *cookie.Policy
	Logger *slog.Logger

	// WriteRefreshCookie makes the server write the json-mode refresh cookie
	// itself even when the policy does not mark it HttpOnly.
	WriteRefreshCookie bool

	// RefreshCookieTTL bounds the refresh cookie written in json mode.
	RefreshCookieTTL time.Duration
}

// NewServer builds the Session for one inbound request. Set-Cookie lines from
// the remote API are appended verbatim to w.
func NewServer(w http.ResponseWriter, r *http.Request, opts ServerOptions) *Session {
	if opts.Names == (CookieNames{}) {
		opts.Names = DefaultCookieNames()
	}
	if opts.Policy == nil {
		opts.Policy = cookie.NewPolicy(cookie.Config{HTTPOnly: false, Secure: true}, opts.Logger)
	}
	s := newSession("", opts.Mode, ExecServer, opts.Names, ParseJar(r.Header.Get("Cookie")), opts.Logger)
	if w != nil {
		s.sink = ResponseSink{Header: w.Header()}
	}

	jsonMode := opts.Mode == auth.ModeJSON
	accessor := &serverCookie{
		name:       opts.Names.Credential(opts.Mode),
		jar:        s.jar,
		r:          r,
		policy:     opts.Policy,
		writeOnSet: jsonMode && (opts.Policy.HTTPOnly() || opts.WriteRefreshCookie),
		logger:     s.logger,
	}
	if jsonMode {
		// The remote API owns the credential cookie in cookie and session
		// modes and clears it through its own Set-Cookie lines.
		accessor.w = w
	}
	s.Tokens = NewMemoryTokens(accessor, jsonMode, opts.RefreshCookieTTL)
	return s
}

// ClientOptions configures a client-context Session.
type ClientOptions struct {
	ID     string
	Mode   auth.Mode
	Names  CookieNames
	Logger *slog.Logger

	// CookieHeader is the Cookie header the page connected with.
	CookieHeader string

	// HTTPOnly mirrors the cookie policy: page code cannot touch an HttpOnly
	// refresh cookie.
	HTTPOnly bool

	// WriteCookie forwards cookie writes to the page.
	WriteCookie CookieWriter

	// Sink receives the remote API's Set-Cookie lines.
	Sink CookieSink

	RefreshCookieTTL time.Duration
}

// NewClient builds the Session for one open page.
func NewClient(opts ClientOptions) *Session {
	if opts.Names == (CookieNames{}) {
		opts.Names = DefaultCookieNames()
	}
	s := newSession(opts.ID, opts.Mode, ExecClient, opts.Names, ParseJar(opts.CookieHeader), opts.Logger)
	s.sink = opts.Sink

	var accessor CookieAccessor = opaqueCookie{name: opts.Names.Credential(opts.Mode)}
	mirror := opts.Mode == auth.ModeJSON && !opts.HTTPOnly
	if mirror {
		accessor = &pageCookie{name: opts.Names.Refresh, jar: s.jar, write: opts.WriteCookie}
	}
	s.Tokens = NewMemoryTokens(accessor, mirror, opts.RefreshCookieTTL)
	return s
}

func newSession(id string, mode auth.Mode, exec Exec, names CookieNames, jar *Jar, logger *slog.Logger) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		ID:     id,
		Mode:   mode,
		Exec:   exec,
		Names:  names,
		User:   &UserSlot{},
		jar:    jar,
		logger: logger.With("session_id", id, "exec", exec.String()),
		ready:  make(chan struct{}),
	}
}

// Logger returns a logger tagged with the session.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Jar returns the cookies sent with upstream calls.
func (s *Session) Jar() *Jar { return s.jar }

// CookieHeader returns the Cookie header to attach to an upstream call.
func (s *Session) CookieHeader() string { return s.jar.Header() }

// HasCredentialCookie reports whether the browser sent the cookie carrying
// the long-lived credential for the session's mode.
func (s *Session) HasCredentialCookie() bool {
	v, ok := s.jar.Get(s.Names.Credential(s.Mode))
	return ok && v != ""
}

// PropagateCookies records Set-Cookie lines from the remote API in the jar
// and forwards them, unchanged and in order, to the sink.
func (s *Session) PropagateCookies(setCookies []string) {
	if len(setCookies) == 0 {
		return
	}
	s.jar.Merge(setCookies)
	if s.sink != nil {
		s.sink.Propagate(setCookies)
	}
}

// Coalesce runs fn unless a call with the same key is already in flight, in
// which case it waits for that call and returns its result. shared reports
// whether the result was delivered to more than one caller.
func (s *Session) Coalesce(key string, fn func() auth.Result) (auth.Result, bool) {
	v, _, shared := s.flight.Do(key, func() (interface{}, error) {
		return fn(), nil
	})
	return v.(auth.Result), shared
}

// MarkReady closes the ready signal. Later calls do nothing.
func (s *Session) MarkReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Ready is closed once bootstrap or the mount task has finished.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// IsReady reports whether MarkReady has been called.
func (s *Session) IsReady() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// WaitReady blocks until the session is ready or ctx is done.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot captures the state a page rendered from this session inherits.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		SessionID: s.ID,
		Mode:      s.Mode,
		Pair:      s.Tokens.Get(),
		User:      s.User.Get(),
	}
}

// Seed applies a snapshot taken from the rendering request.
func (s *Session) Seed(snap Snapshot) {
	if !snap.Pair.IsZero() {
		s.Tokens.Set(snap.Pair)
	}
	if snap.User != nil {
		s.User.Set(snap.User)
	}
}

// Reset clears tokens and profile.
func (s *Session) Reset() {
	s.Tokens.Clear()
	s.User.Clear()
}

type contextKey struct{}

// WithSession returns a context carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session carried by ctx, or nil.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(contextKey{}).(*Session)
	return s
}
