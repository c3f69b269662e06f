package live

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/sessionbridge/pkg/auth"
	"github.com/vango-dev/sessionbridge/pkg/guard"
	"github.com/vango-dev/sessionbridge/pkg/refresh"
	"github.com/vango-dev/sessionbridge/pkg/remote"
	"github.com/vango-dev/sessionbridge/pkg/session"
	"github.com/vango-dev/sessionbridge/pkg/vtest"
)

type fixture struct {
	api     *vtest.Remote
	store   *session.MemoryStore
	handler *Handler
	server  *httptest.Server
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	api := vtest.NewRemote(t)
	api.AddUser("ada", "ada@example.com", "pw")
	o := refresh.New(remote.New(api.URL()))

	store := session.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	cfg.Store = store
	if cfg.Guards == nil {
		cfg.Guards = []*guard.Guard{guard.New(guard.Config{
			Name:          "directus-login-required-middleware",
			RedirectTo:    "/login",
			Global:        true,
			Patterns:      []string{"/", "/login"},
			RefreshOnMiss: true,
		}, o)}
	}
	h := NewHandler(cfg, o)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &fixture{api: api, store: store, handler: h, server: srv}
}

func (f *fixture) dial(t *testing.T, query, cookieHeader string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if cookieHeader != "" {
		header.Set("Cookie", cookieHeader)
	}
	u := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/_live" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, header)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return f
}

// readUntil reads frames until one of type typ arrives and returns it with
// every frame read before it.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) (Frame, []Frame) {
	t.Helper()
	var before []Frame
	for i := 0; i < 20; i++ {
		f := readFrame(t, conn)
		if f.Type == typ {
			return f, before
		}
		before = append(before, f)
	}
	t.Fatalf("no %s frame in %v", typ, before)
	return Frame{}, nil
}

func TestSeededFromHandoffSnapshot(t *testing.T) {
	fx := newFixture(t, Config{Mode: auth.ModeJSON, HTTPOnly: true})
	pair := auth.TokenPair{
		AccessToken:  fx.api.IssueAccessToken("ada"),
		RefreshToken: fx.api.IssueRefreshToken("ada"),
		Expires:      vtest.DefaultExpires,
	}.Stamp(time.Now())
	key, err := session.SaveSnapshot(context.Background(), fx.store, session.Snapshot{
		SessionID: "ssr-1",
		Mode:      auth.ModeJSON,
		Pair:      pair,
		User:      &auth.Profile{ID: "ada", Email: "ada@example.com"},
	}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	conn := fx.dial(t, "?handoff="+key, "")
	ready := readFrame(t, conn)
	if ready.Type != FrameReady || ready.User == nil || ready.User.ID != "ada" {
		t.Fatalf("first frame = %+v, want ready with ada", ready)
	}
	if fx.api.RefreshCalls() != 0 {
		t.Fatalf("RefreshCalls() = %d, want 0", fx.api.RefreshCalls())
	}
	if _, ok := fx.handler.lookup("ssr-1"); !ok {
		t.Fatal("page not registered under the snapshot session ID")
	}

	conn.WriteJSON(Frame{Type: FrameNavigate, Seq: 1, Path: "/dashboard"})
	d := readFrame(t, conn)
	if d.Type != FrameDecision || d.Seq != 1 || d.Action != "allow" {
		t.Fatalf("decision = %+v", d)
	}

	// A snapshot is consumed by the first page that takes it.
	conn2 := fx.dial(t, "?handoff="+key, "")
	if f := readFrame(t, conn2); f.User != nil {
		t.Fatalf("second page got user %+v from a consumed snapshot", f.User)
	}
}

func TestAnonymousNavigationRedirects(t *testing.T) {
	fx := newFixture(t, Config{Mode: auth.ModeJSON})
	conn := fx.dial(t, "", "theme=dark")

	if f := readFrame(t, conn); f.Type != FrameReady || f.User != nil {
		t.Fatalf("ready = %+v", f)
	}
	conn.WriteJSON(Frame{Type: FrameNavigate, Seq: 7, Path: "/dashboard"})
	d := readFrame(t, conn)
	if d.Action != "redirect" || d.Location != "/login?next=/dashboard" || d.Seq != 7 {
		t.Fatalf("decision = %+v", d)
	}
	conn.WriteJSON(Frame{Type: FrameNavigate, Seq: 8, Path: "/"})
	if d := readFrame(t, conn); d.Action != "allow" || d.Seq != 8 {
		t.Fatalf("decision = %+v", d)
	}
	if fx.api.RefreshCalls() != 0 {
		t.Fatalf("RefreshCalls() = %d, want 0", fx.api.RefreshCalls())
	}
}

func TestNavigationUsesAttachedGuards(t *testing.T) {
	reg := guard.NewRegistry()
	if err := reg.Register(guard.New(guard.Config{Name: "admin", RedirectTo: "/login", Patterns: []string{"/login"}}, nil)); err != nil {
		t.Fatal(err)
	}
	if err := reg.Attach("/admin/*", "admin"); err != nil {
		t.Fatal(err)
	}
	fx := newFixture(t, Config{Mode: auth.ModeJSON, GuardsFor: reg.For})
	conn := fx.dial(t, "", "")

	if f := readFrame(t, conn); f.Type != FrameReady {
		t.Fatalf("ready = %+v", f)
	}
	conn.WriteJSON(Frame{Type: FrameNavigate, Seq: 1, Path: "/dashboard"})
	if d := readFrame(t, conn); d.Action != "allow" || d.Seq != 1 {
		t.Fatalf("decision = %+v, want allow outside /admin", d)
	}
	conn.WriteJSON(Frame{Type: FrameNavigate, Seq: 2, Path: "/admin/users?page=2"})
	d := readFrame(t, conn)
	if d.Action != "redirect" || d.Location != "/login?next=/admin/users%3Fpage%3D2" || d.Seq != 2 {
		t.Fatalf("decision = %+v", d)
	}
}

func TestMountMirrorsRefreshCookieToPage(t *testing.T) {
	fx := newFixture(t, Config{Mode: auth.ModeJSON})
	rt := fx.api.IssueRefreshToken("ada")
	conn := fx.dial(t, "", vtest.RefreshCookie+"="+rt)

	ready, before := readUntil(t, conn, FrameReady)
	if ready.User == nil || ready.User.ID != "ada" {
		t.Fatalf("ready = %+v", ready)
	}
	if len(before) != 1 || before[0].Type != FrameCookie || before[0].Name != vtest.RefreshCookie {
		t.Fatalf("frames before ready = %+v, want one cookie frame", before)
	}
	if before[0].Value == rt || before[0].Value == "" {
		t.Fatalf("cookie value = %q, want the rotated token", before[0].Value)
	}
}

func TestCookieModeParksSetCookieUnderTicket(t *testing.T) {
	fx := newFixture(t, Config{Mode: auth.ModeCookie})
	ck := fx.api.IssueCookie("ada")
	conn := fx.dial(t, "", vtest.RefreshCookie+"="+ck)

	ready, before := readUntil(t, conn, FrameReady)
	if ready.User == nil {
		t.Fatal("ready without user")
	}
	var ticket string
	for _, f := range before {
		if f.Type == FrameClaim {
			ticket = f.Ticket
		}
	}
	if ticket == "" {
		t.Fatalf("no claim frame in %+v", before)
	}
	lines, err := session.TakeCookieTicket(context.Background(), fx.store, ticket)
	if err != nil {
		t.Fatal(err)
	}
	if names := vtest.SetCookieNames(lines); len(names) != 1 || names[0] != vtest.RefreshCookie {
		t.Fatalf("claimed cookies = %v", names)
	}
}

func TestNavigationWaitsForMount(t *testing.T) {
	fx := newFixture(t, Config{Mode: auth.ModeJSON})
	rt := fx.api.IssueRefreshToken("ada")
	release := fx.api.Hold()
	defer release()

	conn := fx.dial(t, "", vtest.RefreshCookie+"="+rt)
	conn.WriteJSON(Frame{Type: FrameNavigate, Seq: 1, Path: "/dashboard"})

	time.Sleep(50 * time.Millisecond)
	release()

	_, before := readUntil(t, conn, FrameReady)
	for _, f := range before {
		if f.Type == FrameDecision {
			t.Fatalf("decision %+v arrived before ready", f)
		}
	}
	d, _ := readUntil(t, conn, FrameDecision)
	if d.Action != "allow" {
		t.Fatalf("decision = %+v, want allow after mount refresh", d)
	}
	if fx.api.RefreshCalls() != 1 {
		t.Fatalf("RefreshCalls() = %d, want 1", fx.api.RefreshCalls())
	}
}

func TestLogoutFrame(t *testing.T) {
	fx := newFixture(t, Config{Mode: auth.ModeJSON, HTTPOnly: true})
	rt := fx.api.IssueRefreshToken("ada")
	key, _ := session.SaveSnapshot(context.Background(), fx.store, session.Snapshot{
		Mode: auth.ModeJSON,
		Pair: auth.TokenPair{AccessToken: fx.api.IssueAccessToken("ada"), RefreshToken: rt, Expires: vtest.DefaultExpires}.Stamp(time.Now()),
		User: &auth.Profile{ID: "ada"},
	}, time.Minute)

	conn := fx.dial(t, "?handoff="+key, "")
	readUntil(t, conn, FrameReady)

	conn.WriteJSON(Frame{Type: FrameLogout})
	if f, _ := readUntil(t, conn, FrameUser); f.User != nil {
		t.Fatalf("user after logout = %+v", f.User)
	}
	if fx.api.LogoutCalls() != 1 {
		t.Fatalf("LogoutCalls() = %d, want 1", fx.api.LogoutCalls())
	}
	conn.WriteJSON(Frame{Type: FrameNavigate, Seq: 2, Path: "/dashboard"})
	if d, _ := readUntil(t, conn, FrameDecision); d.Action != "redirect" {
		t.Fatalf("decision = %+v", d)
	}
}

func TestUnknownFrame(t *testing.T) {
	fx := newFixture(t, Config{Mode: auth.ModeJSON})
	conn := fx.dial(t, "", "")
	readUntil(t, conn, FrameReady)

	conn.WriteJSON(Frame{Type: "teleport"})
	if f := readFrame(t, conn); f.Type != FrameError {
		t.Fatalf("frame = %+v, want error", f)
	}
}

func TestCrossOriginRejected(t *testing.T) {
	fx := newFixture(t, Config{Mode: auth.ModeJSON, AllowedOrigins: []string{"https://app.example.com"}})
	u := "ws" + strings.TrimPrefix(fx.server.URL, "http") + "/_live"

	_, resp, err := websocket.DefaultDialer.Dial(u, http.Header{"Origin": {"https://evil.example"}})
	if err == nil {
		t.Fatal("cross-origin dial succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("response = %v, want 403", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u, http.Header{"Origin": {"https://app.example.com"}})
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	conn.Close()
}

func TestShutdownClosesPages(t *testing.T) {
	fx := newFixture(t, Config{Mode: auth.ModeJSON})
	conn := fx.dial(t, "", "")
	readUntil(t, conn, FrameReady)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fx.handler.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if fx.handler.Count() != 0 {
		t.Fatalf("Count() = %d after shutdown", fx.handler.Count())
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("ReadMessage() error = %v, want going away close", err)
	}

	u := "ws" + strings.TrimPrefix(fx.server.URL, "http") + "/_live"
	if _, resp, err := websocket.DefaultDialer.Dial(u, nil); err == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("dial after shutdown: err = %v", err)
	}
}
