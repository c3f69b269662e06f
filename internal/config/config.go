package config

import (
	"bytes"
	"encoding/json"
	"maps"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/vango-dev/sessionbridge/internal/errors"
	"github.com/vango-dev/sessionbridge/pkg/auth"
	"github.com/vango-dev/sessionbridge/pkg/cookie"
	"github.com/vango-dev/sessionbridge/pkg/guard"
	"github.com/vango-dev/sessionbridge/pkg/remote"
	"github.com/vango-dev/sessionbridge/pkg/session"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "sessionbridge.json"

	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"

	// DefaultAuthProxyPath is where the auth proxy is mounted.
	DefaultAuthProxyPath = "/auth-proxy"

	// Default guard names, matching the route middleware names of the
	// Nuxt module so existing route metadata keeps working.
	DefaultLoginRequiredName = "directus-login-required-middleware"
	DefaultAutoRefreshName   = "directus-auth-middleware"
)

// Config represents the complete sessionbridge.json configuration.
//
// Every field can also be set from the environment; the overlay is applied
// after the file, so the environment wins.
type Config struct {
	// URL is the remote API root.
	URL string `json:"url" env:"DIRECTUS_URL"`

	// StaticToken is sent when a client opts into the static token, and as
	// a fallback when the session holds no access token.
	StaticToken string `json:"staticToken,omitempty" env:"DIRECTUS_STATIC_TOKEN"`

	AuthConfig   AuthConfig     `json:"authConfig"`
	ModuleConfig ModuleConfig   `json:"moduleConfig"`
	Server       ServerConfig   `json:"server"`
	Snapshots    SnapshotConfig `json:"snapshots"`
	Cache        CacheConfig    `json:"cache"`
	Uploads      UploadConfig   `json:"uploads"`
	Log          LogConfig      `json:"log"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// AuthConfig mirrors the authConfig block of the Nuxt module options.
type AuthConfig struct {
	// Mode is "json", "cookie" or "session".
	Mode string `json:"mode,omitempty" env:"DIRECTUS_AUTH_MODE"`

	RefreshTokenCookieName string `json:"refreshTokenCookieName,omitempty" env:"DIRECTUS_REFRESH_COOKIE"`
	AuthTokenCookieName    string `json:"authTokenCookieName,omitempty" env:"DIRECTUS_ACCESS_COOKIE"`
	SessionTokenCookieName string `json:"sessionTokenCookieName,omitempty" env:"DIRECTUS_SESSION_COOKIE"`

	// CookieHTTPOnly marks the json-mode refresh cookie HttpOnly, which
	// keeps it away from page code and makes this server write it.
	CookieHTTPOnly bool `json:"cookieHttpOnly,omitempty" env:"DIRECTUS_COOKIE_HTTP_ONLY"`

	// CookieSameSite is "lax", "strict", "none", "true" or "false".
	CookieSameSite string `json:"cookieSameSite,omitempty" env:"DIRECTUS_COOKIE_SAME_SITE"`

	// CookieSecure defaults to true.
	CookieSecure *bool `json:"cookieSecure,omitempty"`

	// CookieDomain scopes cookies this server writes.
	CookieDomain string `json:"cookieDomain,omitempty" env:"DIRECTUS_COOKIE_DOMAIN"`

	// AuthProxyPath is where the auth proxy is mounted (default "/auth-proxy").
	AuthProxyPath string `json:"authProxyPath,omitempty" env:"DIRECTUS_AUTH_PROXY_PATH"`

	// RefreshCookieTTL bounds the json-mode refresh cookie (default 7 days).
	RefreshCookieTTL Duration `json:"refreshCookieTTL,omitempty" env:"DIRECTUS_REFRESH_COOKIE_TTL"`
}

// ModuleConfig mirrors the moduleConfig block of the Nuxt module options.
type ModuleConfig struct {
	ReadMeQuery             ReadMeQuery         `json:"readMeQuery,omitempty"`
	AutoRefresh             AutoRefreshConfig   `json:"autoRefresh"`
	LoginRequiredMiddleware LoginRequiredConfig `json:"loginRequiredMiddleware"`

	// AutoRefreshClients refreshes expiring access tokens before calls made
	// by live clients, and retries once after a 401.
	AutoRefreshClients bool `json:"autoRefreshClients,omitempty" env:"SESSIONBRIDGE_AUTO_REFRESH_CLIENTS"`

	// RouteGuards attaches guards by middlewareName to route patterns, for
	// example {"/admin/*": ["directus-login-required-middleware"]}. A guard
	// with global: false runs only where it is attached.
	RouteGuards map[string][]string `json:"routeGuards,omitempty"`
}

// ReadMeQuery holds the defaults of every profile read.
type ReadMeQuery struct {
	Fields []string       `json:"fields,omitempty"`
	Filter map[string]any `json:"filter,omitempty"`
	Deep   map[string]any `json:"deep,omitempty"`

	// UpdateState writes the profile into the session. It defaults to true.
	UpdateState *bool `json:"updateState,omitempty"`
}

// AutoRefreshConfig configures the auto-refresh route guard. The block may
// be the literal false, which disables it.
type AutoRefreshConfig struct {
	Disabled         bool     `json:"-"`
	EnableMiddleware bool     `json:"enableMiddleware,omitempty"`
	Global           *bool    `json:"global,omitempty"`
	MiddlewareName   string   `json:"middlewareName,omitempty"`
	RedirectTo       string   `json:"redirectTo,omitempty"`
	To               []string `json:"to,omitempty"`
}

// UnmarshalJSON accepts an object or false.
func (a *AutoRefreshConfig) UnmarshalJSON(data []byte) error {
	if b := bytes.TrimSpace(data); bytes.Equal(b, []byte("false")) {
		*a = AutoRefreshConfig{Disabled: true}
		return nil
	}
	type plain AutoRefreshConfig
	return json.Unmarshal(data, (*plain)(a))
}

// LoginRequiredConfig configures the login-required route guard. The block
// may be the literal false, which disables it.
type LoginRequiredConfig struct {
	Disabled       bool     `json:"-"`
	MiddlewareName string   `json:"middlewareName,omitempty"`
	RedirectTo     string   `json:"redirectTo,omitempty"`
	PublicPaths    []string `json:"publicPaths,omitempty"`
	Global         *bool    `json:"global,omitempty"`
}

// UnmarshalJSON accepts an object or false.
func (l *LoginRequiredConfig) UnmarshalJSON(data []byte) error {
	if b := bytes.TrimSpace(data); bytes.Equal(b, []byte("false")) {
		*l = LoginRequiredConfig{Disabled: true}
		return nil
	}
	type plain LoginRequiredConfig
	return json.Unmarshal(data, (*plain)(l))
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address (default ":8080").
	Addr string `json:"addr,omitempty" env:"SESSIONBRIDGE_ADDR"`

	// TrustedProxies may assert the original scheme via Forwarded or
	// X-Forwarded-Proto.
	TrustedProxies []string `json:"trustedProxies,omitempty" env:"SESSIONBRIDGE_TRUSTED_PROXIES" env-separator:","`

	// AllowedOrigins may open live page sessions besides the same origin.
	AllowedOrigins []string `json:"allowedOrigins,omitempty" env:"SESSIONBRIDGE_ALLOWED_ORIGINS" env-separator:","`

	// ShutdownTimeout bounds graceful shutdown (default 15s).
	ShutdownTimeout Duration `json:"shutdownTimeout,omitempty" env:"SESSIONBRIDGE_SHUTDOWN_TIMEOUT"`

	// RemoteTimeout bounds each remote API call (default 10s).
	RemoteTimeout Duration `json:"remoteTimeout,omitempty" env:"SESSIONBRIDGE_REMOTE_TIMEOUT"`

	// MetricsPath serves Prometheus metrics (default "/metrics").
	MetricsPath string `json:"metricsPath,omitempty" env:"SESSIONBRIDGE_METRICS_PATH"`
}

// SnapshotConfig selects where SSR handoff snapshots and cookie tickets live.
type SnapshotConfig struct {
	// Backend is "memory", "redis" or "postgres" (default "memory").
	Backend     string   `json:"backend,omitempty" env:"SESSIONBRIDGE_SNAPSHOT_BACKEND"`
	RedisAddr   string   `json:"redisAddr,omitempty" env:"REDIS_ADDR"`
	DatabaseURL string   `json:"databaseURL,omitempty" env:"DATABASE_URL"`
	TTL         Duration `json:"ttl,omitempty" env:"SESSIONBRIDGE_SNAPSHOT_TTL"`
}

// CacheConfig configures cached resource reads.
type CacheConfig struct {
	// Backend is "memory", "redis" or "none" (default "memory").
	Backend   string   `json:"backend,omitempty" env:"SESSIONBRIDGE_CACHE_BACKEND"`
	RedisAddr string   `json:"redisAddr,omitempty" env:"SESSIONBRIDGE_CACHE_REDIS_ADDR"`
	TTL       Duration `json:"ttl,omitempty" env:"SESSIONBRIDGE_CACHE_TTL"`
}

// UploadConfig configures upload staging.
type UploadConfig struct {
	// Backend is "disk" or "s3" (default "disk").
	Backend string `json:"backend,omitempty" env:"SESSIONBRIDGE_UPLOAD_BACKEND"`
	Dir     string `json:"dir,omitempty" env:"SESSIONBRIDGE_UPLOAD_DIR"`

	Bucket       string `json:"bucket,omitempty" env:"SESSIONBRIDGE_UPLOAD_BUCKET"`
	Prefix       string `json:"prefix,omitempty" env:"SESSIONBRIDGE_UPLOAD_PREFIX"`
	Region       string `json:"region,omitempty" env:"AWS_REGION"`
	Endpoint     string `json:"endpoint,omitempty" env:"SESSIONBRIDGE_UPLOAD_ENDPOINT"`
	UsePathStyle bool   `json:"usePathStyle,omitempty" env:"SESSIONBRIDGE_UPLOAD_PATH_STYLE"`

	MaxFileSize  int64    `json:"maxFileSize,omitempty" env:"SESSIONBRIDGE_UPLOAD_MAX_SIZE"`
	AllowedTypes []string `json:"allowedTypes,omitempty" env:"SESSIONBRIDGE_UPLOAD_TYPES" env-separator:","`
	TempExpiry   Duration `json:"tempExpiry,omitempty" env:"SESSIONBRIDGE_UPLOAD_EXPIRY"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error (default "info").
	Level string `json:"level,omitempty" env:"SESSIONBRIDGE_LOG_LEVEL"`

	// Format is "json" or "text" (default "json").
	Format string `json:"format,omitempty" env:"SESSIONBRIDGE_LOG_FORMAT"`
}

// New creates a new Config with default values.
func New() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads configuration from the specified directory. A missing file is
// not an error: the defaults plus the environment are used.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return FromEnv()
	}
	return LoadFile(path)
}

// LoadFile reads configuration from the specified file path, then applies
// the environment overlay.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New("E100").
			WithField(path).
			Wrap(err).
			WithDetail(err.Error())
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New("E101").
			WithField(path).
			Wrap(err).
			WithDetail("Failed to parse " + filepath.Base(path) + ": " + err.Error())
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, errors.New("E111").Wrap(err).WithDetail(err.Error())
	}

	cfg.configPath = path
	cfg.applyDefaults()
	return cfg, nil
}

// FromEnv builds a configuration from the defaults and the environment.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, errors.New("E111").Wrap(err).WithDetail(err.Error())
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Usage describes the recognized environment variables.
func Usage() string {
	desc, err := cleanenv.GetDescription(&Config{}, nil)
	if err != nil {
		return ""
	}
	return desc
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New("E100").Wrap(err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New("E100").WithField(path).Wrap(err).WithDetail(err.Error())
	}
	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	a := &c.AuthConfig
	if a.Mode == "" {
		a.Mode = string(auth.ModeJSON)
	}
	names := session.DefaultCookieNames()
	if a.RefreshTokenCookieName == "" {
		a.RefreshTokenCookieName = names.Refresh
	}
	if a.AuthTokenCookieName == "" {
		a.AuthTokenCookieName = names.Access
	}
	if a.SessionTokenCookieName == "" {
		a.SessionTokenCookieName = names.Session
	}
	if a.CookieSameSite == "" {
		a.CookieSameSite = "lax"
	}
	if a.CookieSecure == nil {
		a.CookieSecure = boolPtr(true)
	}
	if a.AuthProxyPath == "" {
		a.AuthProxyPath = DefaultAuthProxyPath
	}
	if a.RefreshCookieTTL == 0 {
		a.RefreshCookieTTL = Duration(7 * 24 * time.Hour)
	}

	m := &c.ModuleConfig
	if m.ReadMeQuery.UpdateState == nil {
		m.ReadMeQuery.UpdateState = boolPtr(true)
	}
	if m.AutoRefresh.Global == nil {
		m.AutoRefresh.Global = boolPtr(true)
	}
	if m.AutoRefresh.MiddlewareName == "" {
		m.AutoRefresh.MiddlewareName = DefaultAutoRefreshName
	}
	if m.AutoRefresh.RedirectTo == "" {
		m.AutoRefresh.RedirectTo = "/login"
	}
	l := &m.LoginRequiredMiddleware
	if l.Global == nil {
		l.Global = boolPtr(true)
	}
	if l.MiddlewareName == "" {
		l.MiddlewareName = DefaultLoginRequiredName
	}
	if l.RedirectTo == "" {
		l.RedirectTo = "/login"
	}

	s := &c.Server
	if s.Addr == "" {
		s.Addr = DefaultAddr
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = Duration(15 * time.Second)
	}
	if s.RemoteTimeout == 0 {
		s.RemoteTimeout = Duration(10 * time.Second)
	}
	if s.MetricsPath == "" {
		s.MetricsPath = "/metrics"
	}

	if c.Snapshots.Backend == "" {
		c.Snapshots.Backend = "memory"
	}
	if c.Snapshots.TTL == 0 {
		c.Snapshots.TTL = Duration(2 * time.Minute)
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = Duration(time.Minute)
	}

	u := &c.Uploads
	if u.Backend == "" {
		u.Backend = "disk"
	}
	if u.Dir == "" {
		u.Dir = filepath.Join(os.TempDir(), "sessionbridge-uploads")
	}
	if u.Prefix == "" {
		u.Prefix = "staging/"
	}
	if u.MaxFileSize == 0 {
		u.MaxFileSize = 10 << 20
	}
	if u.TempExpiry == 0 {
		u.TempExpiry = Duration(time.Hour)
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate checks the configuration and reports every invalid field.
func (c *Config) Validate() error {
	var errs errors.List

	if c.URL == "" {
		errs = append(errs, errors.New("E102").WithField("url"))
	} else if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		errs = append(errs, errors.New("E102").WithField("url").
			WithDetailf("%q is not an http(s) URL", c.URL))
	}

	if _, err := auth.ParseMode(c.AuthConfig.Mode); err != nil {
		errs = append(errs, errors.New("E103").WithField("authConfig.mode").
			WithDetailf("%q is not a mode", c.AuthConfig.Mode))
	}

	switch strings.ToLower(c.AuthConfig.CookieSameSite) {
	case "lax", "strict", "none", "true", "false":
	default:
		errs = append(errs, errors.New("E104").WithField("authConfig.cookieSameSite").
			WithDetailf("got %q", c.AuthConfig.CookieSameSite))
	}
	if strings.EqualFold(c.AuthConfig.CookieSameSite, "none") && !c.secure() {
		errs = append(errs, errors.New("E105").WithField("authConfig.cookieSecure"))
	}

	paths := map[string]string{
		"authConfig.authProxyPath":                        c.AuthConfig.AuthProxyPath,
		"moduleConfig.autoRefresh.redirectTo":             c.ModuleConfig.AutoRefresh.RedirectTo,
		"moduleConfig.loginRequiredMiddleware.redirectTo": c.ModuleConfig.LoginRequiredMiddleware.RedirectTo,
		"server.metricsPath":                              c.Server.MetricsPath,
	}
	for _, field := range slices.Sorted(maps.Keys(paths)) {
		if p := paths[field]; !strings.HasPrefix(p, "/") {
			errs = append(errs, errors.New("E106").WithField(field).WithDetailf("got %q", p))
		}
	}

	if c.ModuleConfig.guardsEnabled() == 2 &&
		c.ModuleConfig.AutoRefresh.MiddlewareName == c.ModuleConfig.LoginRequiredMiddleware.MiddlewareName {
		errs = append(errs, errors.New("E107").WithField("moduleConfig").
			WithDetail("autoRefresh and loginRequiredMiddleware share a middlewareName"))
	}

	errs = append(errs, c.validateRouteGuards()...)

	switch c.Snapshots.Backend {
	case "memory":
	case "redis":
		if c.Snapshots.RedisAddr == "" {
			errs = append(errs, errors.New("E109").WithField("snapshots.redisAddr"))
		}
	case "postgres":
		if c.Snapshots.DatabaseURL == "" {
			errs = append(errs, errors.New("E109").WithField("snapshots.databaseURL"))
		}
	default:
		errs = append(errs, errors.New("E108").WithField("snapshots.backend").WithDetailf("got %q", c.Snapshots.Backend))
	}

	switch c.Cache.Backend {
	case "memory", "none":
	case "redis":
		if c.Cache.RedisAddr == "" && c.Snapshots.RedisAddr == "" {
			errs = append(errs, errors.New("E109").WithField("cache.redisAddr"))
		}
	default:
		errs = append(errs, errors.New("E108").WithField("cache.backend").WithDetailf("got %q", c.Cache.Backend))
	}

	switch c.Uploads.Backend {
	case "disk":
	case "s3":
		if c.Uploads.Bucket == "" {
			errs = append(errs, errors.New("E109").WithField("uploads.bucket"))
		}
		if c.Uploads.Region == "" {
			errs = append(errs, errors.New("E109").WithField("uploads.region"))
		}
	default:
		errs = append(errs, errors.New("E108").WithField("uploads.backend").WithDetailf("got %q", c.Uploads.Backend))
	}

	durations := map[string]Duration{
		"authConfig.refreshCookieTTL": c.AuthConfig.RefreshCookieTTL,
		"server.shutdownTimeout":      c.Server.ShutdownTimeout,
		"server.remoteTimeout":        c.Server.RemoteTimeout,
		"snapshots.ttl":               c.Snapshots.TTL,
		"cache.ttl":                   c.Cache.TTL,
		"uploads.tempExpiry":          c.Uploads.TempExpiry,
	}
	for _, field := range slices.Sorted(maps.Keys(durations)) {
		if durations[field] <= 0 {
			errs = append(errs, errors.New("E110").WithField(field))
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, errors.New("E112").WithField("log.level").WithDetailf("got %q", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, errors.New("E112").WithField("log.format").WithDetailf("got %q", c.Log.Format))
	}

	return errs.Err()
}

// Mode returns the parsed auth mode. Call Validate first.
func (c *Config) Mode() auth.Mode {
	m, _ := auth.ParseMode(c.AuthConfig.Mode)
	return m
}

// CookieNames returns the configured cookie names.
func (c *Config) CookieNames() session.CookieNames {
	return session.CookieNames{
		Refresh: c.AuthConfig.RefreshTokenCookieName,
		Access:  c.AuthConfig.AuthTokenCookieName,
		Session: c.AuthConfig.SessionTokenCookieName,
	}
}

// CookiePolicy returns the attributes for cookies this server writes.
func (c *Config) CookiePolicy() cookie.Config {
	return cookie.Config{
		HTTPOnly:       c.AuthConfig.CookieHTTPOnly,
		SameSite:       cookie.ParseSameSite(c.AuthConfig.CookieSameSite),
		Secure:         c.secure(),
		Domain:         c.AuthConfig.CookieDomain,
		Path:           "/",
		TrustedProxies: c.Server.TrustedProxies,
	}
}

// SameSite is a shorthand for the parsed cookieSameSite value.
func (c *Config) SameSite() http.SameSite {
	return cookie.ParseSameSite(c.AuthConfig.CookieSameSite)
}

// ReadMe returns the profile read query.
func (c *Config) ReadMe() remote.Query {
	q := c.ModuleConfig.ReadMeQuery
	return remote.Query{Fields: q.Fields, Filter: q.Filter, Deep: q.Deep}
}

// Guards returns the configured route guards. The login-required guard
// refreshes on a miss; the auto-refresh guard only checks the profile the
// bootstrap already loaded.
func (c *Config) Guards() []guard.Config {
	var out []guard.Config
	l := c.ModuleConfig.LoginRequiredMiddleware
	if !l.Disabled {
		out = append(out, guard.Config{
			Name:          l.MiddlewareName,
			RedirectTo:    l.RedirectTo,
			Global:        l.Global == nil || *l.Global,
			Patterns:      l.PublicPaths,
			RefreshOnMiss: true,
		})
	}
	a := c.ModuleConfig.AutoRefresh
	if !a.Disabled && a.EnableMiddleware {
		out = append(out, guard.Config{
			Name:       a.MiddlewareName,
			RedirectTo: a.RedirectTo,
			Global:     a.Global == nil || *a.Global,
			Patterns:   a.To,
		})
	}
	return out
}

// RouteGuard attaches guards to one route pattern.
type RouteGuard struct {
	Pattern string
	Names   []string
}

// RouteGuards returns the route attachments sorted by pattern.
func (c *Config) RouteGuards() []RouteGuard {
	out := make([]RouteGuard, 0, len(c.ModuleConfig.RouteGuards))
	for _, pattern := range slices.Sorted(maps.Keys(c.ModuleConfig.RouteGuards)) {
		out = append(out, RouteGuard{Pattern: pattern, Names: c.ModuleConfig.RouteGuards[pattern]})
	}
	return out
}

func (c *Config) validateRouteGuards() errors.List {
	var errs errors.List
	known := make(map[string]bool)
	attached := make(map[string]bool)
	for _, g := range c.Guards() {
		known[g.Name] = true
	}
	for _, rg := range c.RouteGuards() {
		field := "moduleConfig.routeGuards." + rg.Pattern
		if !strings.HasPrefix(rg.Pattern, "/") {
			errs = append(errs, errors.New("E106").WithField(field).WithDetailf("got %q", rg.Pattern))
		}
		for _, name := range rg.Names {
			if !known[name] {
				errs = append(errs, errors.New("E113").WithField(field).
					WithDetailf("%q is not an enabled guard", name))
				continue
			}
			attached[name] = true
		}
	}
	for _, g := range c.Guards() {
		if !g.Global && !attached[g.Name] {
			errs = append(errs, errors.New("E114").WithField("moduleConfig").
				WithDetailf("guard %q has global: false and no routeGuards entry", g.Name))
		}
	}
	return errs
}

func (m ModuleConfig) guardsEnabled() int {
	n := 0
	if !m.LoginRequiredMiddleware.Disabled {
		n++
	}
	if !m.AutoRefresh.Disabled && m.AutoRefresh.EnableMiddleware {
		n++
	}
	return n
}

func (c *Config) secure() bool {
	return c.AuthConfig.CookieSecure == nil || *c.AuthConfig.CookieSecure
}

func boolPtr(b bool) *bool { return &b }
