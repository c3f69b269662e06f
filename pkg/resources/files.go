package resources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vango-dev/sessionbridge/pkg/client"
	"github.com/vango-dev/sessionbridge/pkg/remote"
)

// File is a file record. Relational fields such as UploadedBy hold either a
// key or an expanded object depending on the requested fields.
type File struct {
	ID               string         `json:"id"`
	Storage          string         `json:"storage,omitempty"`
	FilenameDisk     string         `json:"filename_disk,omitempty"`
	FilenameDownload string         `json:"filename_download,omitempty"`
	Title            string         `json:"title,omitempty"`
	Type             string         `json:"type,omitempty"`
	Folder           any            `json:"folder,omitempty"`
	UploadedBy       any            `json:"uploaded_by,omitempty"`
	UploadedOn       *time.Time     `json:"uploaded_on,omitempty"`
	ModifiedOn       *time.Time     `json:"modified_on,omitempty"`
	Filesize         json.Number    `json:"filesize,omitempty"`
	Width            *int           `json:"width,omitempty"`
	Height           *int           `json:"height,omitempty"`
	Description      string         `json:"description,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Files wraps the /files endpoints.
type Files struct {
	col collection[File]
}

// NewFiles binds the files endpoints to c.
func NewFiles(c *client.Client, opts ...Option) *Files {
	return &Files{col: newCollection[File](c, "/files", "files", opts)}
}

// Upload sends a multipart form to the files endpoint. The API answers with
// one record or, for several parts, a list; both come back as a slice.
func (f *Files) Upload(ctx context.Context, form io.Reader, contentType string) ([]File, error) {
	var raw json.RawMessage
	if _, err := f.col.c.Upload(ctx, http.MethodPost, "/files", form, contentType, &raw); err != nil {
		return nil, fmt.Errorf("files: upload: %w", err)
	}
	return decodeOneOrMany[File](raw)
}

type importBody struct {
	URL  string         `json:"url"`
	Data map[string]any `json:"data,omitempty"`
}

// Import asks the API to fetch a file from url.
func (f *Files) Import(ctx context.Context, url string, data map[string]any, q remote.Query) (*File, error) {
	var v File
	if _, err := f.col.c.Do(ctx, http.MethodPost, "/files/import", q.Values(), importBody{URL: url, Data: data}, &v); err != nil {
		return nil, fmt.Errorf("files: import: %w", err)
	}
	return &v, nil
}

// ReadOne reads a file record by primary key.
func (f *Files) ReadOne(ctx context.Context, id string, q remote.Query) (*File, error) {
	return f.col.readOne(ctx, id, q)
}

// ReadMany lists file records.
func (f *Files) ReadMany(ctx context.Context, q remote.Query) ([]File, error) {
	return f.col.readMany(ctx, q)
}

// ReadOneCached is ReadOne through the cache.
func (f *Files) ReadOneCached(ctx context.Context, id string, q remote.Query) (*File, error) {
	return f.col.readOneCached(ctx, "readAsyncFile", id, q)
}

// ReadManyCached is ReadMany through the cache.
func (f *Files) ReadManyCached(ctx context.Context, q remote.Query) ([]File, error) {
	return f.col.readManyCached(ctx, "readAsyncFiles", q)
}

// UpdateOne patches one file record.
func (f *Files) UpdateOne(ctx context.Context, id string, patch map[string]any, q remote.Query) (*File, error) {
	return f.col.updateOne(ctx, id, patch, q)
}

// UpdateMany applies the same patch to several file records.
func (f *Files) UpdateMany(ctx context.Context, ids []string, patch map[string]any, q remote.Query) ([]File, error) {
	return f.col.updateMany(ctx, ids, patch, q)
}

// DeleteOne deletes a file.
func (f *Files) DeleteOne(ctx context.Context, id string) error {
	return f.col.deleteOne(ctx, id)
}

// DeleteMany deletes several files.
func (f *Files) DeleteMany(ctx context.Context, ids []string) error {
	return f.col.deleteMany(ctx, ids)
}

func decodeOneOrMany[T any](raw json.RawMessage) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '[' {
		var many []T
		if err := json.Unmarshal(raw, &many); err != nil {
			return nil, err
		}
		return many, nil
	}
	var one T
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return []T{one}, nil
}
