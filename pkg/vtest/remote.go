package vtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default cookie names used by the fake, matching the real API defaults.
const (
	RefreshCookie = "directus_refresh_token"
	SessionCookie = "directus_session_token"
)

// DefaultExpires is the access token lifetime reported by the fake, in ms.
const DefaultExpires int64 = 900000

var signingKey = []byte("vtest-signing-key")

// User is a fake account.
type User struct {
	ID        string
	Email     string
	Password  string
	FirstName string
}

// Remote is a fake remote API.
type Remote struct {
	server *httptest.Server
	mux    *http.ServeMux

	mu       sync.Mutex
	users    map[string]User
	refresh  map[string]string // json refresh token -> user id
	cookies  map[string]string // refresh or session cookie value -> user id
	access   map[string]string // access token -> user id
	seq      int
	gate     chan struct{}
	failMe   bool
	expires  int64
	refreshN atomic.Int32
	readMeN  atomic.Int32
	loginN   atomic.Int32
	logoutN  atomic.Int32
}

// NewRemote starts a fake API that is closed when the test ends.
func NewRemote(t testing.TB) *Remote {
	t.Helper()
	r := &Remote{
		mux:     http.NewServeMux(),
		users:   make(map[string]User),
		refresh: make(map[string]string),
		cookies: make(map[string]string),
		access:  make(map[string]string),
		expires: DefaultExpires,
	}
	r.mux.HandleFunc("POST /auth/refresh", r.handleRefresh)
	r.mux.HandleFunc("POST /auth/login", r.handleLogin)
	r.mux.HandleFunc("POST /auth/logout", r.handleLogout)
	r.mux.HandleFunc("GET /users/me", r.handleMe)
	r.server = httptest.NewServer(r.mux)
	t.Cleanup(r.server.Close)
	return r
}

// URL returns the API root.
func (r *Remote) URL() string { return r.server.URL }

// Handle registers an extra endpoint on the fake.
func (r *Remote) Handle(pattern string, h http.HandlerFunc) { r.mux.HandleFunc(pattern, h) }

// AddUser registers an account.
func (r *Remote) AddUser(id, email, password string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id] = User{ID: id, Email: email, Password: password, FirstName: strings.ToUpper(id[:1]) + id[1:]}
}

// IssueRefreshToken returns a valid json-mode refresh token for a user.
func (r *Remote) IssueRefreshToken(userID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newRefreshLocked(userID)
}

// IssueCookie returns a valid refresh or session cookie value for a user.
func (r *Remote) IssueCookie(userID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newCookieLocked(userID)
}

// IssueAccessToken returns a valid access token for a user.
func (r *Remote) IssueAccessToken(userID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newAccessLocked(userID)
}

// Hold blocks refresh calls until release is called.
func (r *Remote) Hold() (release func()) {
	gate := make(chan struct{})
	r.mu.Lock()
	r.gate = gate
	r.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.gate = nil
			r.mu.Unlock()
			close(gate)
		})
	}
}

// FailReadMe makes /users/me answer 503.
func (r *Remote) FailReadMe(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failMe = fail
}

// SetExpires changes the reported access token lifetime.
func (r *Remote) SetExpires(ms int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expires = ms
}

// RefreshCalls returns the number of /auth/refresh calls received.
func (r *Remote) RefreshCalls() int { return int(r.refreshN.Load()) }

// ReadMeCalls returns the number of /users/me calls received.
func (r *Remote) ReadMeCalls() int { return int(r.readMeN.Load()) }

// LoginCalls returns the number of /auth/login calls received.
func (r *Remote) LoginCalls() int { return int(r.loginN.Load()) }

// LogoutCalls returns the number of /auth/logout calls received.
func (r *Remote) LogoutCalls() int { return int(r.logoutN.Load()) }

func (r *Remote) newRefreshLocked(userID string) string {
	r.seq++
	token := fmt.Sprintf("rt-%s-%d", userID, r.seq)
	r.refresh[token] = userID
	return token
}

func (r *Remote) newCookieLocked(userID string) string {
	r.seq++
	value := fmt.Sprintf("ck-%s-%d", userID, r.seq)
	r.cookies[value] = userID
	return value
}

func (r *Remote) newAccessLocked(userID string) string {
	r.seq++
	claims := jwt.MapClaims{
		"id":  userID,
		"jti": fmt.Sprint(r.seq),
		"exp": time.Now().Add(time.Duration(r.expires) * time.Millisecond).Unix(),
	}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	r.access[token] = userID
	return token
}

type authBody struct {
	RefreshToken string `json:"refresh_token"`
	Mode         string `json:"mode"`
	Email        string `json:"email"`
	Password     string `json:"password"`
}

func decodeBody(req *http.Request) authBody {
	var b authBody
	_ = json.NewDecoder(req.Body).Decode(&b)
	if b.Mode == "" {
		b.Mode = "json"
	}
	return b
}

func cookieName(mode string) string {
	if mode == "session" {
		return SessionCookie
	}
	return RefreshCookie
}

func (r *Remote) handleRefresh(w http.ResponseWriter, req *http.Request) {
	r.refreshN.Add(1)
	body := decodeBody(req)

	r.mu.Lock()
	gate := r.gate
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var userID string
	if body.Mode == "json" {
		id, ok := r.refresh[body.RefreshToken]
		if !ok {
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid user credentials.")
			return
		}
		delete(r.refresh, body.RefreshToken)
		userID = id
	} else {
		c, err := req.Cookie(cookieName(body.Mode))
		id, ok := "", false
		if err == nil {
			id, ok = r.cookies[c.Value]
		}
		if !ok {
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid user credentials.")
			return
		}
		delete(r.cookies, c.Value)
		userID = id
	}
	r.issueLocked(w, body.Mode, userID)
}

func (r *Remote) handleLogin(w http.ResponseWriter, req *http.Request) {
	r.loginN.Add(1)
	body := decodeBody(req)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == body.Email && u.Password == body.Password {
			r.issueLocked(w, body.Mode, u.ID)
			return
		}
	}
	writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid user credentials.")
}

func (r *Remote) issueLocked(w http.ResponseWriter, mode, userID string) {
	data := map[string]any{"expires": r.expires}
	switch mode {
	case "json":
		data["access_token"] = r.newAccessLocked(userID)
		data["refresh_token"] = r.newRefreshLocked(userID)
	case "cookie":
		data["access_token"] = r.newAccessLocked(userID)
		http.SetCookie(w, &http.Cookie{Name: RefreshCookie, Value: r.newCookieLocked(userID), Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode, MaxAge: 604800})
	case "session":
		http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: r.newCookieLocked(userID), Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode, MaxAge: 86400})
	}
	writeData(w, data)
}

func (r *Remote) handleLogout(w http.ResponseWriter, req *http.Request) {
	r.logoutN.Add(1)
	body := decodeBody(req)

	r.mu.Lock()
	defer r.mu.Unlock()
	if body.Mode == "json" {
		delete(r.refresh, body.RefreshToken)
	} else {
		name := cookieName(body.Mode)
		if c, err := req.Cookie(name); err == nil {
			delete(r.cookies, c.Value)
		}
		http.SetCookie(w, &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Remote) handleMe(w http.ResponseWriter, req *http.Request) {
	r.readMeN.Add(1)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failMe {
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Try again later.")
		return
	}

	var userID string
	if token := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer "); token != "" {
		userID = r.access[token]
	}
	if userID == "" {
		if c, err := req.Cookie(SessionCookie); err == nil {
			userID = r.cookies[c.Value]
		}
	}
	u, ok := r.users[userID]
	if !ok {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid user credentials.")
		return
	}
	writeData(w, map[string]any{
		"id":         u.ID,
		"email":      u.Email,
		"first_name": u.FirstName,
		"role":       map[string]any{"id": "role-" + u.ID, "name": "Editor"},
	})
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"errors": []map[string]any{{"message": message, "extensions": map[string]string{"code": code}}},
	})
}
