package upload

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/sessionbridge/pkg/auth"
	"github.com/vango-dev/sessionbridge/pkg/client"
	"github.com/vango-dev/sessionbridge/pkg/remote"
	"github.com/vango-dev/sessionbridge/pkg/session"
	"github.com/vango-dev/sessionbridge/pkg/vtest"
)

type received struct {
	mu       sync.Mutex
	fields   []string
	filename string
	body     string
	auth     string
}

type fixture struct {
	api     *vtest.Remote
	handler *Handler
	store   *DiskStore
	got     *received
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	api := vtest.NewRemote(t)
	api.AddUser("ada", "ada@example.com", "pw")
	got := &received{}
	api.Handle("POST /files", func(w http.ResponseWriter, r *http.Request) {
		mr, err := r.MultipartReader()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got.mu.Lock()
		defer got.mu.Unlock()
		got.auth = r.Header.Get("Authorization")
		for {
			part, err := mr.NextPart()
			if err != nil {
				break
			}
			got.fields = append(got.fields, part.FormName())
			data, _ := io.ReadAll(part)
			if part.FormName() == "file" {
				got.filename = part.FileName()
				got.body = string(data)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": "file-1", "filename_download": got.filename}})
	})

	store, err := NewDiskStore(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	factory := client.NewFactory(remote.New(api.URL()))
	return &fixture{api: api, handler: NewHandler(store, cfg, factory, nil), store: store, got: got}
}

func (f *fixture) withUser(r *http.Request, userID string) *http.Request {
	sess := session.NewClient(session.ClientOptions{Mode: auth.ModeJSON})
	if userID != "" {
		sess.Tokens.Set(auth.TokenPair{AccessToken: f.api.IssueAccessToken(userID), Expires: vtest.DefaultExpires}.Stamp(time.Now()))
		sess.User.Set(&auth.Profile{ID: userID})
	}
	return r.WithContext(session.WithSession(r.Context(), sess))
}

func multipartBody(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(part, content)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func (f *fixture) stage(t *testing.T, userID, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, filename, content)
	req := httptest.NewRequest(http.MethodPost, "/_files/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	f.handler.Stage(rec, f.withUser(req, userID))
	return rec
}

func (f *fixture) commit(t *testing.T, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/_files/commit", strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.Commit(rec, f.withUser(req, userID))
	return rec
}

func TestStageAndCommit(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.stage(t, "ada", "notes.txt", "hello world")
	if rec.Code != http.StatusOK {
		t.Fatalf("stage status = %d, body %s", rec.Code, rec.Body)
	}
	var staged struct {
		TempID string `json:"temp_id"`
	}
	json.Unmarshal(rec.Body.Bytes(), &staged)
	if staged.TempID == "" {
		t.Fatalf("stage body = %s", rec.Body)
	}

	rec = f.commit(t, "ada", `{"temp_id":"`+staged.TempID+`","data":{"title":"Notes"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("commit status = %d, body %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"file-1"`) {
		t.Fatalf("commit body = %s", rec.Body)
	}

	f.got.mu.Lock()
	defer f.got.mu.Unlock()
	if f.got.body != "hello world" || f.got.filename != "notes.txt" {
		t.Fatalf("forwarded file = %q %q", f.got.filename, f.got.body)
	}
	if len(f.got.fields) != 2 || f.got.fields[0] != "title" || f.got.fields[1] != "file" {
		t.Fatalf("forwarded fields = %v, want title before file", f.got.fields)
	}
	if !strings.HasPrefix(f.got.auth, "Bearer ") {
		t.Fatalf("forwarded Authorization = %q", f.got.auth)
	}
	if f.store.Len() != 0 {
		t.Fatal("staged file kept after commit")
	}
}

func TestStageRequiresUser(t *testing.T) {
	f := newFixture(t, Config{})
	if rec := f.stage(t, "", "a.txt", "x"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous stage status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/_files/commit", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	f.handler.Commit(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("commit without session status = %d, want 401", rec.Code)
	}
}

func TestStageRejectsTypeAndSize(t *testing.T) {
	f := newFixture(t, Config{AllowedTypes: []string{"image/png"}, MaxFileSize: 8})

	if rec := f.stage(t, "ada", "a.txt", "plain"); rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("text stage status = %d, want 415", rec.Code)
	}

	png := "\x89PNG\r\n\x1a\n" + strings.Repeat("x", 32)
	f.handler.cfg.AllowedTypes = nil
	if rec := f.stage(t, "ada", "a.png", png); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized stage status = %d, want 413", rec.Code)
	}
}

func TestCommitErrors(t *testing.T) {
	f := newFixture(t, Config{})
	rec := f.stage(t, "ada", "a.txt", "x")
	var staged struct {
		TempID string `json:"temp_id"`
	}
	json.Unmarshal(rec.Body.Bytes(), &staged)

	f.api.AddUser("grace", "grace@example.com", "pw")
	tests := []struct {
		name string
		user string
		body string
		want int
	}{
		{"missing temp id", "ada", `{}`, http.StatusBadRequest},
		{"unknown temp id", "ada", `{"temp_id":"6f1c3a52-8b7e-4d2a-9c55-0d3f2e1b7a90"}`, http.StatusNotFound},
		{"other owner", "grace", `{"temp_id":"` + staged.TempID + `"}`, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.commit(t, tt.user, tt.body); rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
	if f.store.Len() != 1 {
		t.Fatal("failed commits consumed the staged file")
	}
}
