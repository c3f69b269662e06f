package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vango-dev/sessionbridge/pkg/auth"
	"github.com/vango-dev/sessionbridge/pkg/remote"
	"github.com/vango-dev/sessionbridge/pkg/session"
)

type fakeRefresher struct {
	calls atomic.Int32
	pair  auth.TokenPair
}

func (f *fakeRefresher) Refresh(ctx context.Context, sess *session.Session, explicit string) auth.Result {
	f.calls.Add(1)
	sess.Tokens.Set(f.pair)
	return auth.Result{Kind: auth.Refreshed, Pair: f.pair}
}

func newSession(pair auth.TokenPair) *session.Session {
	s := session.NewClient(session.ClientOptions{Mode: auth.ModeJSON})
	if !pair.IsZero() {
		s.Tokens.Set(pair)
	}
	return s
}

func live(token string) auth.TokenPair {
	return auth.TokenPair{AccessToken: token, Expires: 900000}.Stamp(time.Now())
}

func TestCredentialPrecedence(t *testing.T) {
	f := NewFactory(remote.New("http://remote.invalid"), WithStatic("static"))
	empty := newSession(auth.TokenPair{})
	loggedIn := newSession(live("user"))

	tests := []struct {
		name     string
		sess     *session.Session
		opts     []Option
		strategy Strategy
		token    string
	}{
		{"explicit wins", loggedIn, []Option{WithToken("pinned"), WithStaticToken(true)}, StrategyExplicit, "pinned"},
		{"static opt-in", loggedIn, []Option{WithStaticToken(true)}, StrategyStatic, "static"},
		{"live when present", loggedIn, nil, StrategyLive, "user"},
		{"static fallback", empty, nil, StrategyStatic, "static"},
		{"opt-out forces live", empty, []Option{WithStaticToken(false)}, StrategyLive, ""},
		{"no session", nil, nil, StrategyStatic, "static"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := f.For(tt.sess, tt.opts...)
			if c.Strategy() != tt.strategy {
				t.Fatalf("Strategy() = %v, want %v", c.Strategy(), tt.strategy)
			}
			if got := c.Credential(context.Background()).Token; got != tt.token {
				t.Fatalf("Token = %q, want %q", got, tt.token)
			}
		})
	}
}

func TestLiveClientSeesLaterRefresh(t *testing.T) {
	f := NewFactory(remote.New("http://remote.invalid"))
	s := newSession(live("old"))
	c := f.For(s)

	s.Tokens.Set(live("new"))
	if got := c.Credential(context.Background()).Token; got != "new" {
		t.Fatalf("Token = %q, want new", got)
	}
}

func TestAutoRefreshExpiringToken(t *testing.T) {
	r := &fakeRefresher{pair: live("fresh")}
	f := NewFactory(remote.New("http://remote.invalid"), WithAutoRefresh(true, r), WithLeeway(time.Minute))

	expiring := auth.TokenPair{AccessToken: "stale", Expires: 1000}.Stamp(time.Now())
	s := newSession(expiring)

	if got := f.For(s).Credential(context.Background()).Token; got != "fresh" {
		t.Fatalf("Token = %q, want fresh", got)
	}
	if r.calls.Load() != 1 {
		t.Fatalf("refresh calls = %d, want 1", r.calls.Load())
	}

	if got := f.For(s, WithClientAutoRefresh(false)).AutoRefresh(); got {
		t.Fatal("AutoRefresh() = true after opting out")
	}
}

func TestDoForwardsJarAndMergesSetCookie(t *testing.T) {
	var seen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get("Cookie"))
		w.Header().Add("Set-Cookie", "directus_session_token=rotated; Path=/; HttpOnly")
		_, _ = w.Write([]byte(`{"data":{"id":"u1"}}`))
	}))
	defer srv.Close()

	var sunk []string
	s := session.NewClient(session.ClientOptions{
		Mode:         auth.ModeSession,
		CookieHeader: "directus_session_token=orig",
		Sink:         session.CookieSinkFunc(func(lines []string) { sunk = append(sunk, lines...) }),
	})
	c := NewFactory(remote.New(srv.URL)).For(s)

	p, err := c.ReadMe(context.Background(), remote.Query{})
	if err != nil || p.ID != "u1" {
		t.Fatalf("ReadMe() = %+v, %v", p, err)
	}
	if got := seen.Load().(string); got != "directus_session_token=orig" {
		t.Fatalf("Cookie sent = %q", got)
	}
	if s.CookieHeader() != "directus_session_token=rotated" {
		t.Fatalf("jar = %q, want rotated", s.CookieHeader())
	}
	if len(sunk) != 1 {
		t.Fatalf("sink got %v", sunk)
	}
}

func TestDoRetriesOnceAfterUnauthorized(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"errors":[{"message":"Token expired.","extensions":{"code":"TOKEN_EXPIRED"}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"ok":true}}`))
	}))
	defer srv.Close()

	r := &fakeRefresher{pair: live("fresh")}
	f := NewFactory(remote.New(srv.URL), WithAutoRefresh(true, r), WithLeeway(0))
	s := newSession(live("revoked"))

	var out struct {
		OK bool `json:"ok"`
	}
	if _, err := f.For(s).Do(context.Background(), http.MethodGet, "/items/posts", nil, nil, &out); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if !out.OK || calls.Load() != 2 || r.calls.Load() != 1 {
		t.Fatalf("ok=%v upstream=%d refresh=%d", out.OK, calls.Load(), r.calls.Load())
	}
}

func TestGraphQLUsesClientCredentialAndRetries(t *testing.T) {
	var firstPath atomic.Value
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			firstPath.Store(r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer fresh" {
			_, _ = w.Write([]byte(`{"errors":[{"message":"Token expired.","extensions":{"code":"TOKEN_EXPIRED"}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"users_me":{"id":"u1"}}}`))
	}))
	defer srv.Close()

	r := &fakeRefresher{pair: live("fresh")}
	f := NewFactory(remote.New(srv.URL), WithStatic("static"), WithAutoRefresh(true, r), WithLeeway(0))
	s := newSession(live("stale"))

	var out struct {
		Me struct {
			ID string `json:"id"`
		} `json:"users_me"`
	}
	if _, err := f.For(s).GraphQL(context.Background(), remote.GraphQLQuery{Query: "{ users_me { id } }", System: true}, &out); err != nil {
		t.Fatalf("GraphQL() error = %v", err)
	}
	if out.Me.ID != "u1" || calls.Load() != 2 || r.calls.Load() != 1 {
		t.Fatalf("id=%q upstream=%d refresh=%d", out.Me.ID, calls.Load(), r.calls.Load())
	}
	if got := firstPath.Load(); got != "/graphql/system" {
		t.Fatalf("path = %v, want /graphql/system", got)
	}

	// The static token is never refreshed, so the error comes back as is.
	_, err := f.For(nil).GraphQL(context.Background(), remote.GraphQLQuery{Query: "{ users_me { id } }"}, &out)
	if !remote.IsUnauthorized(err) || r.calls.Load() != 1 {
		t.Fatalf("static GraphQL err = %v, refresh calls = %d", err, r.calls.Load())
	}
}

func TestReadMeEmptyProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":null}`))
	}))
	defer srv.Close()

	p, err := NewFactory(remote.New(srv.URL)).For(newSession(live("at"))).ReadMe(context.Background(), remote.Query{})
	if !errors.Is(err, remote.ErrEmptyProfile) || p != nil {
		t.Fatalf("ReadMe() = %+v, %v, want ErrEmptyProfile", p, err)
	}
}
