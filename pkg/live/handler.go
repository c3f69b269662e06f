// Package live connects open pages to the server over a WebSocket so that
// client navigations are authenticated with the same session logic as
// server-rendered requests.
//
// A page connects to the live endpoint with the handoff key its HTML was
// rendered with. The page session is seeded from that snapshot, refreshes
// once if it has to, reports ready and then answers navigate frames with
// guard decisions. Cookies that page scripts may see are sent as cookie
// frames; Set-Cookie lines from the remote API are parked under a claim
// ticket that the page redeems through the auth proxy.
package live

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/sessionbridge/pkg/auth"
	"github.com/vango-dev/sessionbridge/pkg/guard"
	"github.com/vango-dev/sessionbridge/pkg/session"
)

// ErrShuttingDown is returned for connections attempted during shutdown.
var ErrShuttingDown = errors.New("live: shutting down")

// Auth is the subset of the refresh orchestrator a page needs.
type Auth interface {
	Refresh(ctx context.Context, sess *session.Session, explicitRefreshToken string) auth.Result
	Logout(ctx context.Context, sess *session.Session) error
}

// Observer receives the number of open pages whenever it changes.
type Observer interface {
	ObservePages(open int)
}

// Config configures the live endpoint.
type Config struct {
	Mode     auth.Mode
	Names    session.CookieNames
	HTTPOnly bool

	// Store holds handoff snapshots and cookie claim tickets.
	Store     session.Store
	TicketTTL time.Duration

	// Guards are evaluated, in order, for every navigate frame.
	Guards []*guard.Guard

	// GuardsFor, when set, replaces Guards and picks the guards per
	// navigation target. guard.Registry.For fits.
	GuardsFor func(target string) []*guard.Guard

	// AllowedOrigins lists extra origins, as scheme://host[:port], allowed
	// to connect. Same-origin connections are always allowed.
	AllowedOrigins []string

	ReadBufferSize    int
	WriteBufferSize   int
	MaxMessageSize    int64
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration

	RefreshCookieTTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.Names == (session.CookieNames{}) {
		c.Names = session.DefaultCookieNames()
	}
	if c.TicketTTL <= 0 {
		c.TicketTTL = time.Minute
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 4096
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = 4096
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
}

// Handler upgrades live connections and tracks the open pages.
type Handler struct {
	cfg      Config
	auth     Auth
	upgrader websocket.Upgrader
	observer Observer
	logger   *slog.Logger

	mu       sync.Mutex
	pages    map[string]*Page
	closing  bool
	inflight sync.WaitGroup
}

// Option configures a Handler.
type Option func(*Handler)

// WithObserver registers an open-pages observer.
func WithObserver(o Observer) Option {
	return func(h *Handler) { h.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler creates the live endpoint.
func NewHandler(cfg Config, a Auth, opts ...Option) *Handler {
	cfg.applyDefaults()
	h := &Handler{
		cfg:    cfg,
		auth:   a,
		pages:  make(map[string]*Page),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// ServeHTTP upgrades the request and runs the page until it disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		http.Error(w, ErrShuttingDown.Error(), http.StatusServiceUnavailable)
		return
	}
	h.inflight.Add(1)
	h.mu.Unlock()
	defer h.inflight.Done()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	p := h.open(r, conn)
	defer h.remove(p)

	go p.writeLoop()
	p.spawn(p.mount)
	p.readLoop()
	p.Close()
	p.tasks.Wait()
}

// open builds the page and its session, seeded from the handoff snapshot
// when there is one.
func (h *Handler) open(r *http.Request, conn *websocket.Conn) *Page {
	snap, ok := h.takeSnapshot(r)

	ctx, cancel := context.WithCancel(context.Background())
	p := &Page{
		conn:    conn,
		handler: h,
		ctx:     ctx,
		cancel:  cancel,
		out:     make(chan Frame, 16),
		done:    make(chan struct{}),
	}

	var id string
	if ok {
		id = snap.SessionID
	}
	p.sess = session.NewClient(session.ClientOptions{
		ID:               id,
		Mode:             h.cfg.Mode,
		Names:            h.cfg.Names,
		Logger:           h.logger,
		CookieHeader:     r.Header.Get("Cookie"),
		HTTPOnly:         h.cfg.HTTPOnly,
		WriteCookie:      p.writeCookie,
		Sink:             session.CookieSinkFunc(p.propagate),
		RefreshCookieTTL: h.cfg.RefreshCookieTTL,
	})
	p.logger = p.sess.Logger()
	if ok {
		p.sess.Seed(snap)
	}

	h.mu.Lock()
	h.pages[p.ID()] = p
	n := len(h.pages)
	h.mu.Unlock()
	if h.observer != nil {
		h.observer.ObservePages(n)
	}
	p.logger.Debug("page connected", "seeded", ok)
	return p
}

func (h *Handler) takeSnapshot(r *http.Request) (session.Snapshot, bool) {
	key := r.URL.Query().Get("handoff")
	if key == "" || h.cfg.Store == nil {
		return session.Snapshot{}, false
	}
	snap, ok, err := session.TakeSnapshot(r.Context(), h.cfg.Store, key)
	if err != nil {
		h.logger.Warn("handoff snapshot unavailable", "error", err)
		return session.Snapshot{}, false
	}
	if ok && snap.Mode != h.cfg.Mode {
		h.logger.Warn("handoff snapshot mode mismatch", "snapshot_mode", snap.Mode, "mode", h.cfg.Mode)
		return session.Snapshot{}, false
	}
	return snap, ok
}

func (h *Handler) remove(p *Page) {
	h.mu.Lock()
	if h.pages[p.ID()] == p {
		delete(h.pages, p.ID())
	}
	n := len(h.pages)
	h.mu.Unlock()
	if h.observer != nil {
		h.observer.ObservePages(n)
	}
	p.logger.Debug("page disconnected")
}

// lookup returns an open page by session ID.
func (h *Handler) lookup(id string) (*Page, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pages[id]
	return p, ok
}

// Count returns the number of open pages.
func (h *Handler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pages)
}

// Shutdown refuses new connections, sends a going-away close to every open
// page and waits for their handlers to return or ctx to end.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	pages := make([]*Page, 0, len(h.pages))
	for _, p := range h.pages {
		pages = append(pages, p)
	}
	h.mu.Unlock()

	deadline := time.Now().Add(h.cfg.WriteTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, p := range pages {
		p.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		p.Close()
	}

	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		h.logger.Info("live pages closed", "count", len(pages))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// checkOrigin allows same-origin connections, requests without an Origin
// header and the configured extra origins.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Host == r.Host {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if strings.EqualFold(strings.TrimSuffix(allowed, "/"), u.Scheme+"://"+u.Host) {
			return true
		}
	}
	return false
}
