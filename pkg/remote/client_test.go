package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vango-dev/sessionbridge/pkg/auth"
)

func TestRefreshJSONMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/refresh" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["refresh_token"] != "rt" || body["mode"] != "json" {
			t.Errorf("body = %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"access_token":"at","refresh_token":"rt2","expires":900000}}`))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	res, err := c.Refresh(context.Background(), RefreshRequest{Mode: auth.ModeJSON, RefreshToken: "rt", Cookie: "ignored=1"})
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	want := auth.TokenPair{AccessToken: "at", RefreshToken: "rt2", Expires: 900000}
	if res.Pair != want {
		t.Fatalf("Pair = %+v, want %+v", res.Pair, want)
	}
}

func TestRefreshCookieModeForwardsCookieAndReturnsSetCookie(t *testing.T) {
	const line = "directus_refresh_token=new; Path=/; HttpOnly; SameSite=Lax; Max-Age=604800"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Cookie"); got != "directus_refresh_token=old" {
			t.Errorf("Cookie = %q", got)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["refresh_token"]; ok || body["mode"] != "cookie" {
			t.Errorf("body = %v", body)
		}
		w.Header().Add("Set-Cookie", line)
		_, _ = w.Write([]byte(`{"data":{"access_token":"at","expires":900000}}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL).Refresh(context.Background(), RefreshRequest{Mode: auth.ModeCookie, Cookie: "directus_refresh_token=old"})
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(res.SetCookies) != 1 || res.SetCookies[0] != line {
		t.Fatalf("SetCookies = %q, want %q", res.SetCookies, line)
	}
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"Invalid user credentials.","extensions":{"code":"INVALID_CREDENTIALS"}}]}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Login(context.Background(), LoginRequest{Mode: auth.ModeJSON})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Code() != "INVALID_CREDENTIALS" {
		t.Fatalf("APIError = %+v", apiErr)
	}
	if !IsUnauthorized(err) {
		t.Fatal("IsUnauthorized() = false")
	}
}

func TestReadMeSendsBearerAndFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer at" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.URL.Query().Get("fields"); got != "id,email,role.name" {
			t.Errorf("fields = %q", got)
		}
		_, _ = w.Write([]byte(`{"data":{"id":"u1","email":"a@b.c","role":{"id":"r1","name":"Admin"}}}`))
	}))
	defer srv.Close()

	p, _, err := New(srv.URL).ReadMe(context.Background(), Credential{Token: "at"}, Query{Fields: []string{"id", "email", "role.name"}})
	if err != nil {
		t.Fatalf("ReadMe() error = %v", err)
	}
	if p.ID != "u1" || p.Role != "r1" {
		t.Fatalf("profile = %+v", p)
	}
}

func TestQueryValues(t *testing.T) {
	q := Query{
		Fields: []string{"id", "title"},
		Filter: map[string]any{"status": map[string]any{"_eq": "published"}},
		Sort:   []string{"-date_created"},
		Limit:  -1,
	}
	v := q.Values()
	if v.Get("fields") != "id,title" || v.Get("sort") != "-date_created" || v.Get("limit") != "-1" {
		t.Fatalf("Values() = %v", v)
	}
	if v.Get("filter") != `{"status":{"_eq":"published"}}` {
		t.Fatalf("filter = %q", v.Get("filter"))
	}
	if (Query{}).Key() != "" {
		t.Fatal("empty query should have empty key")
	}
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).Refresh(context.Background(), RefreshRequest{Mode: auth.ModeJSON, RefreshToken: "x"})
	if err == nil {
		t.Fatal("expected error for closed server")
	}
	if StatusOf(err) != 0 {
		t.Fatalf("StatusOf() = %d, want 0", StatusOf(err))
	}
}

func TestReadMeEmptyProfile(t *testing.T) {
	for _, body := range []string{`{"data":null}`, `{}`, `{"data":{"email":"a@b.c"}}`, ``} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		p, _, err := New(srv.URL).ReadMe(context.Background(), Credential{Token: "at"}, Query{})
		srv.Close()
		if !errors.Is(err, ErrEmptyProfile) || p != nil {
			t.Fatalf("body %q: ReadMe() = %+v, %v, want ErrEmptyProfile", body, p, err)
		}
	}
}

func TestReadMeAddsIDField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("fields"); got != "id,email" {
			t.Errorf("fields = %q, want id,email", got)
		}
		_, _ = w.Write([]byte(`{"data":{"id":"u1","email":"a@b.c"}}`))
	}))
	defer srv.Close()

	if _, _, err := New(srv.URL).ReadMe(context.Background(), Credential{Token: "at"}, Query{Fields: []string{"email"}}); err != nil {
		t.Fatalf("ReadMe() error = %v", err)
	}
	if q := (Query{Fields: []string{"*"}}).WithID(); len(q.Fields) != 1 {
		t.Fatalf("WithID() = %v, want [*]", q.Fields)
	}
}

func TestResponseSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"id":"u1","email":"` + strings.Repeat("a", 256) + `"}}`))
	}))
	defer srv.Close()

	_, _, err := New(srv.URL, WithMaxResponseBytes(64)).ReadMe(context.Background(), Credential{Token: "at"}, Query{})
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("err = %v, want ErrResponseTooLarge", err)
	}
	if _, _, err := New(srv.URL).ReadMe(context.Background(), Credential{Token: "at"}, Query{}); err != nil {
		t.Fatalf("ReadMe() with default limit error = %v", err)
	}
}

func TestGraphQL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer at" {
			t.Errorf("Authorization = %q", got)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch r.URL.Path {
		case "/graphql":
			if body["query"] != "query($id: ID!) { articles_by_id(id: $id) { title } }" {
				t.Errorf("query = %v", body["query"])
			}
			vars, _ := body["variables"].(map[string]any)
			if vars["id"] != "7" {
				t.Errorf("variables = %v", body["variables"])
			}
			_, _ = w.Write([]byte(`{"data":{"articles_by_id":{"title":"Hello"}}}`))
		case "/graphql/system":
			_, _ = w.Write([]byte(`{"data":null,"errors":[{"message":"Token expired.","extensions":{"code":"TOKEN_EXPIRED"}}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()
	c := New(srv.URL)

	var out struct {
		Article struct {
			Title string `json:"title"`
		} `json:"articles_by_id"`
	}
	_, err := c.GraphQL(context.Background(), GraphQLQuery{
		Query:     "query($id: ID!) { articles_by_id(id: $id) { title } }",
		Variables: map[string]any{"id": "7"},
	}, Credential{Token: "at"}, &out)
	if err != nil {
		t.Fatalf("GraphQL() error = %v", err)
	}
	if out.Article.Title != "Hello" {
		t.Fatalf("title = %q, want Hello", out.Article.Title)
	}

	_, err = c.GraphQL(context.Background(), GraphQLQuery{Query: "{ users_me { id } }", System: true}, Credential{Token: "at"}, &out)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusOK || apiErr.Code() != "TOKEN_EXPIRED" {
		t.Fatalf("err = %v, want TOKEN_EXPIRED APIError", err)
	}
	if !IsUnauthorized(err) {
		t.Fatal("IsUnauthorized() = false for TOKEN_EXPIRED")
	}
}
