package vtest

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-dev/sessionbridge/pkg/auth"
	"github.com/vango-dev/sessionbridge/pkg/session"
)

// ServerSession builds a server-context session for a GET request carrying
// cookieHeader. The recorder collects whatever the session writes.
func ServerSession(t testing.TB, mode auth.Mode, cookieHeader string) (*session.Session, *httptest.ResponseRecorder) {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookieHeader != "" {
		r.Header.Set("Cookie", cookieHeader)
	}
	w := httptest.NewRecorder()
	return session.NewServer(w, r, session.ServerOptions{Mode: mode}), w
}

// ClientSession builds a client-context session whose Set-Cookie lines and
// cookie writes are recorded.
func ClientSession(t testing.TB, mode auth.Mode, cookieHeader string) (*session.Session, *Recorder) {
	t.Helper()
	rec := &Recorder{}
	s := session.NewClient(session.ClientOptions{
		Mode:         mode,
		CookieHeader: cookieHeader,
		WriteCookie:  rec.writeCookie,
		Sink:         session.CookieSinkFunc(rec.propagate),
	})
	return s, rec
}

// SetCookieNames returns the cookie names in a list of Set-Cookie lines.
func SetCookieNames(lines []string) []string {
	names := make([]string, 0, len(lines))
	for _, line := range lines {
		if c, err := http.ParseSetCookie(line); err == nil {
			names = append(names, c.Name)
		}
	}
	return names
}
