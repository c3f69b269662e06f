package upload

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"

	"github.com/vango-dev/sessionbridge/pkg/client"
	"github.com/vango-dev/sessionbridge/pkg/remote"
	"github.com/vango-dev/sessionbridge/pkg/resources"
	"github.com/vango-dev/sessionbridge/pkg/session"
)

// Config configures the staging endpoints.
type Config struct {
	// MaxFileSize is the maximum allowed file size in bytes.
	// Default: 10MB.
	MaxFileSize int64

	// AllowedTypes lists accepted MIME types, matched against the type
	// sniffed from the content. Empty allows everything.
	AllowedTypes []string

	// TempExpiry is how long staged files live before cleanup.
	// Default: 1 hour.
	TempExpiry time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxFileSize: 10 * 1024 * 1024,
		TempExpiry:  time.Hour,
	}
}

// Handler serves the stage and commit endpoints. Both need the session the
// bootstrap middleware put in the request context, with a profile.
type Handler struct {
	store   Store
	cfg     Config
	factory *client.Factory
	logger  *slog.Logger
}

// NewHandler creates the staging endpoints. factory builds the client the
// commit forwards with.
func NewHandler(store Store, cfg Config, factory *client.Factory, logger *slog.Logger) *Handler {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultConfig().MaxFileSize
	}
	if cfg.TempExpiry <= 0 {
		cfg.TempExpiry = DefaultConfig().TempExpiry
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, cfg: cfg, factory: factory, logger: logger}
}

// Store returns the staging store.
func (h *Handler) Store() Store { return h.store }

// Stage handles POST with a multipart "file" field and answers
// {"temp_id": "..."}.
func (h *Handler) Stage(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxFileSize+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to parse form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()
	if header.Size > h.cfg.MaxFileSize {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	sniff := make([]byte, 512)
	n, _ := io.ReadFull(file, sniff)
	detected := http.DetectContentType(sniff[:n])
	if !h.allowed(detected) {
		writeError(w, http.StatusUnsupportedMediaType, "file type not allowed")
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || !h.allowed(contentType) {
		contentType = detected
	}
	tempID, err := h.store.Save(r.Context(), Meta{
		Filename:    filepath.Base(header.Filename),
		ContentType: contentType,
		Size:        header.Size,
		Owner:       owner,
	}, file)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		h.logger.Error("stage upload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"temp_id": tempID})
}

type commitRequest struct {
	TempID string         `json:"temp_id"`
	Data   map[string]any `json:"data,omitempty"`
}

// Commit handles POST {"temp_id": "...", "data": {...}}. It claims the
// staged file and creates it on the remote API as the session's user.
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var in commitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&in); err != nil || in.TempID == "" {
		writeError(w, http.StatusBadRequest, "temp_id is required")
		return
	}

	file, err := h.store.Claim(r.Context(), in.TempID, owner)
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown temp_id")
		return
	case errors.Is(err, ErrNotOwner):
		writeError(w, http.StatusForbidden, "file staged by another user")
		return
	case err != nil:
		h.logger.Error("claim upload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "commit failed")
		return
	}
	defer file.Close()

	sess := session.FromContext(r.Context())
	files := resources.NewFiles(h.factory.For(sess))
	created, err := forward(r.Context(), files, file, in.Data)
	if err != nil {
		status := remote.StatusOf(err)
		if status == 0 {
			status = http.StatusBadGateway
		}
		sess.Logger().Warn("commit upload failed", "temp_id", in.TempID, "error", err)
		writeError(w, status, "remote upload failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": created})
}

// forward streams the file to the files endpoint as a multipart form. The
// API requires the data fields to precede the file part.
func forward(ctx context.Context, files *resources.Files, f *File, data map[string]any) ([]resources.File, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	done := make(chan struct{})
	go func() {
		defer close(done)
		pw.CloseWithError(writeForm(mw, f, data))
	}()
	out, err := files.Upload(ctx, pr, mw.FormDataContentType())
	pr.Close()
	<-done
	return out, err
}

func writeForm(mw *multipart.Writer, f *File, data map[string]any) error {
	for k, v := range data {
		s, ok := v.(string)
		if !ok {
			b, err := json.Marshal(v)
			if err != nil {
				return err
			}
			s = string(b)
		}
		if err := mw.WriteField(k, s); err != nil {
			return err
		}
	}
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     "file",
		"filename": f.Filename,
	}))
	hdr.Set("Content-Type", f.ContentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f.Reader); err != nil {
		return err
	}
	return mw.Close()
}

// RunCleanup removes expired staged files every interval until ctx ends.
func (h *Handler) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := h.store.Cleanup(ctx, h.cfg.TempExpiry); err != nil {
				h.logger.Warn("upload cleanup failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	sess := session.FromContext(r.Context())
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return "", false
	}
	user := sess.User.Get()
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return "", false
	}
	return user.ID, true
}

func (h *Handler) allowed(contentType string) bool {
	if len(h.cfg.AllowedTypes) == 0 {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, t := range h.cfg.AllowedTypes {
		if strings.EqualFold(t, mediaType) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": map[string]string{"message": message}})
}
