package vtest

import (
	"context"
	"testing"

	"github.com/vango-dev/sessionbridge/pkg/auth"
	"github.com/vango-dev/sessionbridge/pkg/remote"
)

func TestRemoteRotatesRefreshToken(t *testing.T) {
	api := NewRemote(t)
	api.AddUser("ada", "ada@example.com", "pw")
	rt := api.IssueRefreshToken("ada")
	c := remote.New(api.URL())

	res, err := c.Refresh(context.Background(), remote.RefreshRequest{Mode: auth.ModeJSON, RefreshToken: rt})
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if res.Pair.RefreshToken == "" || res.Pair.RefreshToken == rt {
		t.Fatalf("refresh token not rotated: %+v", res.Pair)
	}
	if claims, ok := auth.InspectAccessToken(res.Pair.AccessToken); !ok || claims.UserID != "ada" {
		t.Fatalf("claims = %+v, %v", claims, ok)
	}

	if _, err := c.Refresh(context.Background(), remote.RefreshRequest{Mode: auth.ModeJSON, RefreshToken: rt}); !remote.IsUnauthorized(err) {
		t.Fatalf("reused token err = %v, want 401", err)
	}
	if api.RefreshCalls() != 2 {
		t.Fatalf("RefreshCalls() = %d, want 2", api.RefreshCalls())
	}
}

func TestRemoteSessionMode(t *testing.T) {
	api := NewRemote(t)
	api.AddUser("bob", "bob@example.com", "pw")
	ck := api.IssueCookie("bob")
	c := remote.New(api.URL())

	res, err := c.Refresh(context.Background(), remote.RefreshRequest{Mode: auth.ModeSession, Cookie: SessionCookie + "=" + ck})
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	names := SetCookieNames(res.SetCookies)
	if len(names) != 1 || names[0] != SessionCookie {
		t.Fatalf("Set-Cookie names = %v", names)
	}
	if res.Pair.AccessToken != "" || res.Pair.Expires != DefaultExpires {
		t.Fatalf("pair = %+v", res.Pair)
	}
}

func TestClientSessionRecorder(t *testing.T) {
	s, rec := ClientSession(t, auth.ModeJSON, "")
	s.Tokens.Set(auth.TokenPair{AccessToken: "a", RefreshToken: "r", Expires: 1})
	s.PropagateCookies([]string{"x=1"})

	if w := rec.Writes(); len(w) != 1 || w[0].Name != RefreshCookie || w[0].Value != "r" {
		t.Fatalf("Writes() = %+v", w)
	}
	if got := rec.SetCookies(); len(got) != 1 || got[0] != "x=1" {
		t.Fatalf("SetCookies() = %v", got)
	}
}
