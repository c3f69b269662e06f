package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/sessionbridge/internal/config"
	"github.com/vango-dev/sessionbridge/pkg/session"
	"github.com/vango-dev/sessionbridge/pkg/vtest"
)

type fixture struct {
	api   *vtest.Remote
	store *session.MemoryStore
	app   *App
}

func newFixture(t *testing.T, modify func(*config.Config)) *fixture {
	t.Helper()
	api := vtest.NewRemote(t)
	api.AddUser("ada", "ada@example.com", "secret")

	cfg := config.New()
	cfg.URL = api.URL()
	cfg.ModuleConfig.LoginRequiredMiddleware.PublicPaths = []string{"/", "/login"}
	cfg.Uploads.Dir = t.TempDir()
	if modify != nil {
		modify(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	store := session.NewMemoryStore()
	a, err := New(cfg,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRegistry(prometheus.NewRegistry()),
		WithStore(store),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return &fixture{api: api, store: store, app: a}
}

func (f *fixture) do(method, target, cookie string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	rec := httptest.NewRecorder()
	f.app.Handler().ServeHTTP(rec, req)
	return rec
}

var handoffMeta = regexp.MustCompile(`name="sessionbridge-handoff" content="([^"]+)"`)

func TestAnonymousIsRedirected(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/dashboard", "")
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/login?next=/dashboard" {
		t.Fatalf("Location = %q", loc)
	}
	if n := f.api.RefreshCalls(); n != 0 {
		t.Fatalf("refresh calls = %d, want 0 without a credential", n)
	}
}

func TestPublicPageRendersAnonymous(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Not signed in") {
		t.Fatalf("body = %s", body)
	}
	if !handoffMeta.MatchString(body) {
		t.Fatalf("handoff meta missing from %s", body)
	}
}

func TestBootstrapRendersUserAndHandoff(t *testing.T) {
	f := newFixture(t, nil)
	rt := f.api.IssueRefreshToken("ada")

	rec := f.do(http.MethodGet, "/dashboard", vtest.RefreshCookie+"="+rt)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `data-user="ada"`) || !strings.Contains(body, "Signed in as Ada") {
		t.Fatalf("body = %s", body)
	}
	if sc := rec.Header().Values("Set-Cookie"); len(sc) != 0 {
		t.Fatalf("Set-Cookie = %v, want none in json mode", sc)
	}
	if n := f.api.RefreshCalls(); n != 1 {
		t.Fatalf("refresh calls = %d, want 1", n)
	}

	m := handoffMeta.FindStringSubmatch(body)
	if m == nil {
		t.Fatal("handoff meta missing")
	}
	snap, ok, err := session.TakeSnapshot(context.Background(), f.store, m[1])
	if err != nil || !ok {
		t.Fatalf("TakeSnapshot() = %v, %v", ok, err)
	}
	if snap.User == nil || snap.User.ID != "ada" {
		t.Fatalf("snapshot user = %+v", snap.User)
	}
	if snap.Pair.AccessToken == "" || snap.Pair.RefreshToken == "" || snap.Pair.RefreshToken == rt {
		t.Fatalf("snapshot pair = %+v, want the rotated pair", snap.Pair)
	}
}

func TestMe(t *testing.T) {
	f := newFixture(t, nil)

	if rec := f.do(http.MethodGet, "/_me", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", rec.Code)
	}

	rec := f.do(http.MethodGet, "/_me?fresh=1", vtest.RefreshCookie+"="+f.api.IssueRefreshToken("ada"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Data struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Data.ID != "ada" || out.Data.Email != "ada@example.com" {
		t.Fatalf("data = %+v", out.Data)
	}
}

func TestMeCachedRead(t *testing.T) {
	f := newFixture(t, nil)
	var reads atomic.Int32
	f.api.Handle("GET /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		reads.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"id":"` + r.PathValue("id") + `","email":"ada@example.com"}}`))
	})

	for i := 0; i < 2; i++ {
		rec := f.do(http.MethodGet, "/_me", vtest.RefreshCookie+"="+f.api.IssueRefreshToken("ada"))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
	}
	if n := reads.Load(); n != 1 {
		t.Fatalf("remote reads = %d, want 1", n)
	}
}

func TestInfrastructureRoutes(t *testing.T) {
	f := newFixture(t, nil)

	if rec := f.do(http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}

	rec := f.do(http.MethodPost, "/auth-proxy/refresh", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("proxy refresh status = %d", rec.Code)
	}
	var status struct {
		Authenticated bool `json:"authenticated"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil || status.Authenticated {
		t.Fatalf("proxy refresh body = %s", rec.Body.String())
	}

	f.do(http.MethodGet, "/", "")
	rec = f.do(http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	for _, name := range []string{"sessionbridge_bootstrap_total", "sessionbridge_http_requests_total", "sessionbridge_guard_decisions_total"} {
		if !strings.Contains(rec.Body.String(), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestGuardsDisabled(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.ModuleConfig.LoginRequiredMiddleware.Disabled = true
	})
	if rec := f.do(http.MethodGet, "/dashboard", ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with no guards", rec.Code)
	}
}

func TestRouteGuardAttachment(t *testing.T) {
	local := false
	f := newFixture(t, func(c *config.Config) {
		c.ModuleConfig.LoginRequiredMiddleware.Global = &local
		c.ModuleConfig.RouteGuards = map[string][]string{
			"/admin/*": {config.DefaultLoginRequiredName},
		}
	})

	rec := f.do(http.MethodGet, "/admin/x", "")
	if rec.Code != http.StatusFound {
		t.Fatalf("/admin/x status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/login?next=/admin/x" {
		t.Fatalf("Location = %q", loc)
	}
	if rec := f.do(http.MethodGet, "/dashboard", ""); rec.Code != http.StatusOK {
		t.Fatalf("/dashboard status = %d, want 200 outside attached routes", rec.Code)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Server.Addr = "127.0.0.1:0" })
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.app.Run(ctx) }()
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run() = %v", err)
	}
}
