package session

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/vango-dev/sessionbridge/pkg/cookie"
)

// CookieAccessor reads and writes one named cookie from the point of view of
// the current execution context.
type CookieAccessor interface {
	Name() string
	Value() string
	Set(value string, maxAge time.Duration)
	Clear()
}

// CookieSink receives raw Set-Cookie header values returned by the remote API.
type CookieSink interface {
	Propagate(setCookies []string)
}

// CookieSinkFunc adapts a function to CookieSink.
type CookieSinkFunc func(setCookies []string)

func (f CookieSinkFunc) Propagate(setCookies []string) { f(setCookies) }

// ResponseSink appends Set-Cookie lines verbatim to an outgoing response.
type ResponseSink struct {
	Header http.Header
}

// Propagate implements CookieSink.
func (s ResponseSink) Propagate(setCookies []string) {
	for _, line := range setCookies {
		if line != "" {
			s.Header.Add("Set-Cookie", line)
		}
	}
}

// CookieWriter is how the client context asks the page to write a cookie
// visible to page scripts. A maxAge below zero deletes the cookie.
type CookieWriter func(name, value string, maxAge time.Duration)

// serverCookie is the server-context accessor. It reads through the session
// jar so a value rotated earlier in the request is visible, and writes
// Set-Cookie headers through the cookie policy.
type serverCookie struct {
	name       string
	jar        *Jar
	w          http.ResponseWriter
	r          *http.Request
	policy     *cookie.Policy
	writeOnSet bool
	logger     *slog.Logger
}

func (c *serverCookie) Name() string { return c.name }

func (c *serverCookie) Value() string {
	v, _ := c.jar.Get(c.name)
	return v
}

func (c *serverCookie) Set(value string, maxAge time.Duration) {
	c.jar.Set(c.name, value)
	if !c.writeOnSet || c.w == nil {
		return
	}
	ck, err := c.policy.New(c.r, c.name, value, maxAge)
	if err != nil {
		c.logger.Warn("refresh cookie not written", "cookie", c.name, "error", err)
		return
	}
	http.SetCookie(c.w, ck)
}

func (c *serverCookie) Clear() {
	_, had := c.jar.Get(c.name)
	c.jar.Delete(c.name)
	if !had || c.w == nil {
		return
	}
	ck, err := c.policy.Expired(c.r, c.name)
	if err != nil {
		c.logger.Warn("refresh cookie not cleared", "cookie", c.name, "error", err)
		return
	}
	http.SetCookie(c.w, ck)
}

// pageCookie is the client-context accessor for a cookie page scripts can
// see. Writes are forwarded to the page.
type pageCookie struct {
	name  string
	jar   *Jar
	write CookieWriter
}

func (c *pageCookie) Name() string { return c.name }

func (c *pageCookie) Value() string {
	v, _ := c.jar.Get(c.name)
	return v
}

func (c *pageCookie) Set(value string, maxAge time.Duration) {
	c.jar.Set(c.name, value)
	if c.write != nil {
		c.write(c.name, value, maxAge)
	}
}

func (c *pageCookie) Clear() {
	if _, ok := c.jar.Get(c.name); !ok {
		return
	}
	c.jar.Delete(c.name)
	if c.write != nil {
		c.write(c.name, "", -1)
	}
}

// opaqueCookie is the client-context accessor for an HttpOnly cookie. Page
// code can neither read nor clear it, so every operation is a no-op.
type opaqueCookie struct {
	name string
}

func (c opaqueCookie) Name() string { return c.name }

func (c opaqueCookie) Value() string { return "" }

func (c opaqueCookie) Set(string, time.Duration) {}

func (c opaqueCookie) Clear() {}
