// Package cookie applies the configured security attributes to cookies this
// server writes on its own behalf (refresh-token cookies in json mode,
// cleared cookies on logout). Cookies copied verbatim from the remote API are
// never rewritten.
package cookie

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrSecureCookiesRequired is returned when Secure cookies are required but
// the request did not arrive over TLS or a trusted TLS-terminating proxy.
var ErrSecureCookiesRequired = errors.New("cookie: secure cookies required but request is not secure")

// Config holds the cookie attributes from authConfig.
type Config struct {
	HTTPOnly bool
	SameSite http.SameSite
	Secure   bool
	Domain   string
	Path     string

	// RequireSecureTransport refuses to emit Secure cookies on plain HTTP
	// requests instead of silently sending a cookie the browser will drop.
	RequireSecureTransport bool

	// TrustedProxies are IPs or CIDRs allowed to assert the original scheme
	// via Forwarded / X-Forwarded-Proto.
	TrustedProxies []string
}

// ParseSameSite maps the configured value to http.SameSite. Accepted values
// are "lax", "strict", "none", "true" (strict) and "false" (browser default).
func ParseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict", "true":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "false":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteLaxMode
	}
}

// Policy applies Config to cookies.
type Policy struct {
	config  Config
	proxies *proxyMatcher
}

// NewPolicy builds a Policy. Invalid proxy entries are logged and skipped.
func NewPolicy(cfg Config, logger *slog.Logger) *Policy {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	return &Policy{
		config:  cfg,
		proxies: newProxyMatcher(cfg.TrustedProxies, logger),
	}
}

// HTTPOnly reports whether cookies written under this policy are hidden from
// page scripts.
func (p *Policy) HTTPOnly() bool { return p.config.HTTPOnly }

// New returns a cookie with the policy's attributes applied.
func (p *Policy) New(r *http.Request, name, value string, maxAge time.Duration) (*http.Cookie, error) {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     p.config.Path,
		Domain:   p.config.Domain,
		HttpOnly: p.config.HTTPOnly,
		SameSite: p.config.SameSite,
	}
	if maxAge > 0 {
		c.MaxAge = int(maxAge / time.Second)
		c.Expires = time.Now().Add(maxAge)
	}
	secure, err := p.secureFlag(r)
	if err != nil {
		return nil, err
	}
	c.Secure = secure
	return c, nil
}

// Expired returns a deletion cookie for name.
func (p *Policy) Expired(r *http.Request, name string) (*http.Cookie, error) {
	c, err := p.New(r, name, "", 0)
	if err != nil {
		return nil, err
	}
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	return c, nil
}

func (p *Policy) secureFlag(r *http.Request) (bool, error) {
	if !p.config.Secure {
		return false, nil
	}
	if !p.config.RequireSecureTransport || p.IsRequestSecure(r) {
		return true, nil
	}
	return false, ErrSecureCookiesRequired
}

// IsRequestSecure reports whether r arrived over TLS, directly or through a
// trusted proxy.
func (p *Policy) IsRequestSecure(r *http.Request) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	if !p.proxies.IsTrusted(remoteIP(r)) {
		return false
	}
	if proto := forwardedProto(r.Header.Get("Forwarded")); proto != "" {
		return isSecureProto(proto)
	}
	if proto := firstValue(r.Header.Get("X-Forwarded-Proto")); proto != "" {
		return isSecureProto(proto)
	}
	return false
}

func forwardedProto(header string) string {
	first := firstValue(header)
	if first == "" {
		return ""
	}
	for _, param := range strings.Split(first, ";") {
		kv := strings.SplitN(strings.TrimSpace(param), "=", 2)
		if len(kv) != 2 {
			continue
		}
		if strings.EqualFold(kv[0], "proto") {
			return strings.ToLower(strings.Trim(strings.TrimSpace(kv[1]), "\""))
		}
	}
	return ""
}

func firstValue(header string) string {
	if header == "" {
		return ""
	}
	v, _, _ := strings.Cut(header, ",")
	return strings.ToLower(strings.Trim(strings.TrimSpace(v), "\""))
}

func isSecureProto(proto string) bool {
	return proto == "https" || proto == "wss"
}

func remoteIP(r *http.Request) net.IP {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return nil
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if zone := strings.Index(host, "%"); zone != -1 {
		host = host[:zone]
	}
	return net.ParseIP(host)
}

type proxyMatcher struct {
	ips  map[string]struct{}
	nets []*net.IPNet
}

func newProxyMatcher(entries []string, logger *slog.Logger) *proxyMatcher {
	if len(entries) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &proxyMatcher{ips: make(map[string]struct{})}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn("invalid trusted proxy CIDR", "entry", entry, "error", err)
				continue
			}
			m.nets = append(m.nets, network)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			logger.Warn("invalid trusted proxy IP", "entry", entry)
			continue
		}
		m.ips[ip.String()] = struct{}{}
	}
	if len(m.ips) == 0 && len(m.nets) == 0 {
		return nil
	}
	return m
}

func (m *proxyMatcher) IsTrusted(ip net.IP) bool {
	if m == nil || ip == nil {
		return false
	}
	if _, ok := m.ips[ip.String()]; ok {
		return true
	}
	for _, network := range m.nets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
