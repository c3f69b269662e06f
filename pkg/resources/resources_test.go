package resources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vango-dev/sessionbridge/pkg/auth"
	"github.com/vango-dev/sessionbridge/pkg/cache"
	"github.com/vango-dev/sessionbridge/pkg/client"
	"github.com/vango-dev/sessionbridge/pkg/remote"
	"github.com/vango-dev/sessionbridge/pkg/session"
	"github.com/vango-dev/sessionbridge/pkg/vtest"
)

type filesAPI struct {
	mu      sync.Mutex
	reads   atomic.Int32
	lastReq map[string]any
	deleted []string
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func (f *filesAPI) install(api *vtest.Remote) {
	api.Handle("GET /files/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.reads.Add(1)
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]any{"errors": []map[string]any{{"message": "forbidden", "extensions": map[string]string{"code": "FORBIDDEN"}}}})
			return
		}
		writeData(w, map[string]any{"id": r.PathValue("id"), "title": "Cover", "filesize": "2048", "uploaded_by": map[string]any{"id": "ada"}})
	})
	api.Handle("GET /files", func(w http.ResponseWriter, r *http.Request) {
		f.reads.Add(1)
		writeData(w, []map[string]any{{"id": "f1"}, {"id": "f2", "filesize": 10}})
	})
	api.Handle("PATCH /files", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.lastReq = body
		f.mu.Unlock()
		writeData(w, []map[string]any{{"id": "f1", "title": "x"}, {"id": "f2", "title": "x"}})
	})
	api.Handle("DELETE /files/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.deleted = append(f.deleted, r.PathValue("id"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	api.Handle("POST /files", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fh := r.MultipartForm.File["file"][0]
		writeData(w, map[string]any{"id": "new", "filename_download": fh.Filename})
	})
}

func newClient(t *testing.T, api *vtest.Remote, userID string) *client.Client {
	t.Helper()
	sess := session.NewClient(session.ClientOptions{Mode: auth.ModeJSON})
	if userID != "" {
		sess.Tokens.Set(auth.TokenPair{AccessToken: api.IssueAccessToken(userID), Expires: vtest.DefaultExpires}.Stamp(time.Now()))
	}
	return client.NewFactory(remote.New(api.URL())).For(sess)
}

func TestFilesReadAndWrite(t *testing.T) {
	api := vtest.NewRemote(t)
	api.AddUser("ada", "ada@example.com", "pw")
	fake := &filesAPI{}
	fake.install(api)
	files := NewFiles(newClient(t, api, "ada"))
	ctx := context.Background()

	f, err := files.ReadOne(ctx, "f1", remote.Query{Fields: []string{"*", "uploaded_by.*"}})
	if err != nil {
		t.Fatalf("ReadOne() error = %v", err)
	}
	if f.ID != "f1" || f.Title != "Cover" || f.Filesize.String() != "2048" {
		t.Fatalf("ReadOne() = %+v", f)
	}

	list, err := files.ReadMany(ctx, remote.Query{Limit: 2})
	if err != nil || len(list) != 2 || list[1].Filesize.String() != "10" {
		t.Fatalf("ReadMany() = %+v, %v", list, err)
	}

	updated, err := files.UpdateMany(ctx, []string{"f1", "f2"}, map[string]any{"title": "x"}, remote.Query{})
	if err != nil || len(updated) != 2 {
		t.Fatalf("UpdateMany() = %+v, %v", updated, err)
	}
	if keys, _ := fake.lastReq["keys"].([]any); len(keys) != 2 {
		t.Fatalf("UpdateMany body = %v, want keys and data", fake.lastReq)
	}

	if err := files.DeleteOne(ctx, "f1"); err != nil {
		t.Fatalf("DeleteOne() error = %v", err)
	}
	if len(fake.deleted) != 1 || fake.deleted[0] != "f1" {
		t.Fatalf("deleted = %v", fake.deleted)
	}
}

func TestFilesUpload(t *testing.T) {
	api := vtest.NewRemote(t)
	api.AddUser("ada", "ada@example.com", "pw")
	(&filesAPI{}).install(api)
	files := NewFiles(newClient(t, api, "ada"))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "cat.png")
	io.WriteString(part, "png-bytes")
	mw.Close()

	out, err := files.Upload(context.Background(), &buf, mw.FormDataContentType())
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if len(out) != 1 || out[0].FilenameDownload != "cat.png" {
		t.Fatalf("Upload() = %+v", out)
	}
}

func TestEmptyIDIsRejected(t *testing.T) {
	api := vtest.NewRemote(t)
	files := NewFiles(newClient(t, api, ""))
	ctx := context.Background()

	if _, err := files.ReadOne(ctx, "", remote.Query{}); !errors.Is(err, ErrEmptyID) {
		t.Fatalf("ReadOne(\"\") error = %v", err)
	}
	if err := files.DeleteMany(ctx, nil); !errors.Is(err, ErrEmptyID) {
		t.Fatalf("DeleteMany(nil) error = %v", err)
	}
}

func TestAPIErrorIsWrapped(t *testing.T) {
	api := vtest.NewRemote(t)
	(&filesAPI{}).install(api)
	files := NewFiles(newClient(t, api, ""))

	_, err := files.ReadOne(context.Background(), "f1", remote.Query{})
	var apiErr *remote.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden || apiErr.Code() != "FORBIDDEN" {
		t.Fatalf("ReadOne() error = %v, want wrapped 403", err)
	}
}

func TestCachedReads(t *testing.T) {
	api := vtest.NewRemote(t)
	api.AddUser("ada", "ada@example.com", "pw")
	fake := &filesAPI{}
	fake.install(api)
	reader := cache.NewReader(cache.NewMemory(), time.Minute)
	files := NewFiles(newClient(t, api, "ada"), WithCache(reader))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := files.ReadOneCached(ctx, "f1", remote.Query{}); err != nil {
			t.Fatal(err)
		}
	}
	files.ReadOneCached(ctx, "f2", remote.Query{})
	files.ReadManyCached(ctx, remote.Query{})
	files.ReadManyCached(ctx, remote.Query{})
	if fake.reads.Load() != 3 {
		t.Fatalf("upstream reads = %d, want 3", fake.reads.Load())
	}
}

func TestUsersReadMeUpdatesSession(t *testing.T) {
	api := vtest.NewRemote(t)
	api.AddUser("ada", "ada@example.com", "pw")
	c := newClient(t, api, "ada")
	users := NewUsers(c, remote.Query{Fields: []string{"id", "email"}})

	p, err := users.ReadMe(context.Background(), nil, true)
	if err != nil || p.ID != "ada" {
		t.Fatalf("ReadMe() = %+v, %v", p, err)
	}
	if got := c.Session().User.Get(); got == nil || got.ID != "ada" {
		t.Fatalf("session user = %+v", got)
	}

	anon := NewUsers(newClient(t, api, ""), remote.Query{})
	if _, err := anon.ReadMe(context.Background(), nil, true); !errors.Is(err, auth.ErrNoCredential) {
		t.Fatalf("anonymous ReadMe() error = %v", err)
	}
	if api.ReadMeCalls() != 1 {
		t.Fatalf("ReadMeCalls() = %d, want 1", api.ReadMeCalls())
	}
}

func TestUsersUpdateMe(t *testing.T) {
	api := vtest.NewRemote(t)
	api.AddUser("ada", "ada@example.com", "pw")
	api.Handle("PATCH /users/me", func(w http.ResponseWriter, r *http.Request) {
		var patch map[string]any
		json.NewDecoder(r.Body).Decode(&patch)
		writeData(w, map[string]any{"id": "ada", "first_name": patch["first_name"]})
	})
	c := newClient(t, api, "ada")
	users := NewUsers(c, remote.Query{})

	p, err := users.UpdateMe(context.Background(), map[string]any{"first_name": "Augusta"}, remote.Query{}, true)
	if err != nil || p.FirstName != "Augusta" {
		t.Fatalf("UpdateMe() = %+v, %v", p, err)
	}
	if c.Session().User.Get().FirstName != "Augusta" {
		t.Fatal("session profile not updated")
	}

	if _, err := users.UpdateMe(context.Background(), map[string]any{"first_name": "Ada"}, remote.Query{}, false); err != nil {
		t.Fatal(err)
	}
	if c.Session().User.Get().FirstName != "Augusta" {
		t.Fatal("session profile updated although updateState was false")
	}
}
