// Package app wires the configured components into one HTTP server.
//
// Every server-rendered request passes through the SSR bootstrap, then the
// global route guards and those attached to its path, and is finally rendered with a handoff key the page
// uses to open its live session without a second refresh.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/vango-dev/sessionbridge/internal/config"
	"github.com/vango-dev/sessionbridge/internal/logging"
	"github.com/vango-dev/sessionbridge/pkg/authproxy"
	"github.com/vango-dev/sessionbridge/pkg/cache"
	"github.com/vango-dev/sessionbridge/pkg/client"
	"github.com/vango-dev/sessionbridge/pkg/cookie"
	"github.com/vango-dev/sessionbridge/pkg/guard"
	"github.com/vango-dev/sessionbridge/pkg/live"
	"github.com/vango-dev/sessionbridge/pkg/middleware"
	"github.com/vango-dev/sessionbridge/pkg/refresh"
	"github.com/vango-dev/sessionbridge/pkg/remote"
	"github.com/vango-dev/sessionbridge/pkg/session"
	"github.com/vango-dev/sessionbridge/pkg/ssr"
	"github.com/vango-dev/sessionbridge/pkg/upload"
)

// LivePath is where page sessions connect.
const LivePath = "/_live"

// App is a configured server.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *prometheus.Registry
	metrics  *middleware.Metrics

	store   session.Store
	cache   cache.Cache
	uploads upload.Store

	remote  *remote.Client
	refresh *refresh.Orchestrator
	factory *client.Factory
	guards  *guard.Registry

	bootstrap *ssr.Bootstrap
	proxy     *authproxy.Proxy
	live      *live.Handler
	files     *upload.Handler
	reader    *cache.Reader

	router     chi.Router
	httpServer *http.Server
	closers    []func() error
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger. The default is built from the log config.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithRegistry sets the Prometheus registry served on the metrics path.
func WithRegistry(r *prometheus.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithStore overrides the configured snapshot store.
func WithStore(s session.Store) Option {
	return func(a *App) { a.store = s }
}

// WithCache overrides the configured read cache.
func WithCache(c cache.Cache) Option {
	return func(a *App) { a.cache = c }
}

// WithUploadStore overrides the configured upload staging store.
func WithUploadStore(s upload.Store) Option {
	return func(a *App) { a.uploads = s }
}

// New builds the server from a validated configuration.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	a.metrics = middleware.NewMetrics(middleware.WithRegistry(a.registry))

	if err := a.openStores(context.Background()); err != nil {
		a.Close()
		return nil, err
	}

	a.remote = remote.New(cfg.URL,
		remote.WithLogger(logging.WithComponent(a.logger, "remote")),
		remote.WithTimeout(cfg.Server.RemoteTimeout.Std()),
	)
	a.refresh = refresh.New(a.remote,
		refresh.WithReadMeQuery(cfg.ReadMe()),
		refresh.WithLogger(logging.WithComponent(a.logger, "refresh")),
		refresh.WithObserver(a.metrics),
	)
	a.factory = client.NewFactory(a.remote,
		client.WithStatic(cfg.StaticToken),
		client.WithAutoRefresh(cfg.ModuleConfig.AutoRefreshClients, a.refresh),
		client.WithFactoryLogger(logging.WithComponent(a.logger, "client")),
	)

	a.guards = guard.NewRegistry()
	guardLogger := logging.WithComponent(a.logger, "guard")
	for _, gc := range cfg.Guards() {
		g := guard.New(gc, a.refresh, guard.WithObserver(a.metrics), guard.WithLogger(guardLogger))
		if err := a.guards.Register(g); err != nil {
			a.Close()
			return nil, err
		}
	}
	for _, rg := range cfg.RouteGuards() {
		if err := a.guards.Attach(rg.Pattern, rg.Names...); err != nil {
			a.Close()
			return nil, err
		}
	}
	for _, g := range a.guards.Unattached() {
		a.logger.Warn("guard is not global and not attached to any route", "guard", g.Name())
	}

	policy := cookie.NewPolicy(cfg.CookiePolicy(), a.logger)
	mode := cfg.Mode()
	names := cfg.CookieNames()
	refreshTTL := cfg.AuthConfig.RefreshCookieTTL.Std()

	a.bootstrap = ssr.New(ssr.Config{
		Mode:             mode,
		Names:            names,
		Policy:           policy,
		RefreshCookieTTL: refreshTTL,
	}, a.refresh, ssr.WithObserver(a.metrics), ssr.WithLogger(logging.WithComponent(a.logger, "ssr")))

	a.proxy = authproxy.New(authproxy.Config{
		Mode:             mode,
		Names:            names,
		Policy:           policy,
		RefreshCookieTTL: refreshTTL,
		Store:            a.store,
	}, a.refresh, authproxy.WithLogger(logging.WithComponent(a.logger, "authproxy")))

	a.live = live.NewHandler(live.Config{
		Mode:             mode,
		Names:            names,
		HTTPOnly:         cfg.AuthConfig.CookieHTTPOnly,
		Store:            a.store,
		GuardsFor:        a.guards.For,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		RefreshCookieTTL: refreshTTL,
	}, a.refresh, live.WithObserver(a.metrics), live.WithLogger(logging.WithComponent(a.logger, "live")))

	a.files = upload.NewHandler(a.uploads, upload.Config{
		MaxFileSize:  cfg.Uploads.MaxFileSize,
		AllowedTypes: cfg.Uploads.AllowedTypes,
		TempExpiry:   cfg.Uploads.TempExpiry.Std(),
	}, a.factory, logging.WithComponent(a.logger, "upload"))

	if a.cache != nil {
		a.reader = cache.NewReader(a.cache, cfg.Cache.TTL.Std())
	}

	a.routes()
	return a, nil
}

// openStores creates the stores the options did not provide.
func (a *App) openStores(ctx context.Context) error {
	var rdb *redis.Client
	redisClient := func(addr string) *redis.Client {
		if rdb == nil || rdb.Options().Addr != addr {
			c := redis.NewClient(&redis.Options{Addr: addr})
			a.closers = append(a.closers, c.Close)
			rdb = c
		}
		return rdb
	}

	if a.store == nil {
		switch a.cfg.Snapshots.Backend {
		case "redis":
			a.store = session.NewRedisStore(redisClient(a.cfg.Snapshots.RedisAddr))
		case "postgres":
			pool, err := pgxpool.New(ctx, a.cfg.Snapshots.DatabaseURL)
			if err != nil {
				return fmt.Errorf("app: postgres: %w", err)
			}
			a.closers = append(a.closers, func() error { pool.Close(); return nil })
			pg := session.NewPostgresStore(pool)
			schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err = pg.EnsureSchema(schemaCtx)
			cancel()
			if err != nil {
				pg.Close()
				return fmt.Errorf("app: postgres schema: %w", err)
			}
			a.store = pg
		default:
			a.store = session.NewMemoryStore()
		}
	}
	a.closers = append(a.closers, a.store.Close)

	if a.cache == nil {
		switch a.cfg.Cache.Backend {
		case "redis":
			addr := a.cfg.Cache.RedisAddr
			if addr == "" {
				addr = a.cfg.Snapshots.RedisAddr
			}
			a.cache = cache.NewRedis(redisClient(addr), "sessionbridge:cache:")
		case "none":
		default:
			a.cache = cache.NewMemory()
		}
	}
	if a.cache != nil {
		a.closers = append(a.closers, a.cache.Close)
	}

	if a.uploads == nil {
		u := a.cfg.Uploads
		switch u.Backend {
		case "s3":
			s3c := upload.NewS3Client(upload.S3Options{
				Bucket:       u.Bucket,
				Region:       u.Region,
				Endpoint:     u.Endpoint,
				UsePathStyle: u.UsePathStyle,
			})
			a.uploads = upload.NewS3Store(s3c, u.Bucket, u.Prefix, u.MaxFileSize)
		default:
			disk, err := upload.NewDiskStore(u.Dir, u.MaxFileSize)
			if err != nil {
				return fmt.Errorf("app: upload dir: %w", err)
			}
			a.uploads = disk
		}
	}
	return nil
}

func (a *App) routes() {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(logging.RequestLogger(a.logger))
	r.Use(chimw.Recoverer)
	r.Use(a.metrics.Handler)
	r.Use(middleware.OpenTelemetry(middleware.WithRequestFilter(func(r *http.Request) bool {
		return r.URL.Path != "/healthz" && r.URL.Path != a.cfg.Server.MetricsPath
	})))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
	r.Handle(a.cfg.Server.MetricsPath, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	r.Mount(a.cfg.AuthConfig.AuthProxyPath, a.proxy)
	r.Get(LivePath, a.live.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(a.bootstrap.Middleware)
		r.Post("/_files/upload", a.files.Stage)
		r.Post("/_files/commit", a.files.Commit)
		r.Get("/_me", a.me)

		r.Group(func(r chi.Router) {
			r.Use(a.guards.Middleware)
			r.Get("/*", a.page)
		})
	})

	a.router = r
}

// Handler returns the root handler.
func (a *App) Handler() http.Handler { return a.router }

// Guards returns the guard registry. Routes mounted outside the page
// handler can build a chain of named guards from it.
func (a *App) Guards() *guard.Registry { return a.guards }

// Factory returns the client factory.
func (a *App) Factory() *client.Factory { return a.factory }

// Run serves on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.httpServer = &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	cleanupCtx, stopCleanup := context.WithCancel(context.WithoutCancel(ctx))
	defer stopCleanup()
	go a.files.RunCleanup(cleanupCtx, time.Minute)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", "address", ln.Addr().String(), "mode", a.cfg.Mode())
		errCh <- a.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		a.logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout.Std())
		defer cancel()
		return a.Shutdown(shutdownCtx)
	}
}

// Shutdown closes live pages, then stops the HTTP server, then releases the
// stores.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.live.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("live shutdown: %w", err))
	}
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		a.logger.Info("server shutdown complete")
	}
	return errors.Join(errs...)
}

// Close releases the stores and Redis clients.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
