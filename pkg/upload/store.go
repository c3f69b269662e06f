package upload

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a temp file doesn't exist.
var ErrNotFound = errors.New("upload: file not found")

// ErrTooLarge is returned when a file exceeds the size limit.
var ErrTooLarge = errors.New("upload: file too large")

// ErrNotOwner is returned when a staged file is committed by another user.
var ErrNotOwner = errors.New("upload: file staged by another user")

// Store is a staging backend.
type Store interface {
	// Save stores the file temporarily and returns its temp ID.
	Save(ctx context.Context, meta Meta, r io.Reader) (tempID string, err error)

	// Claim returns a staged file and removes it. The contents are deleted
	// once the returned file is closed. A non-empty owner must match the
	// one the file was staged for; on mismatch ErrNotOwner is returned and
	// the file stays staged.
	Claim(ctx context.Context, tempID, owner string) (*File, error)

	// Cleanup removes files staged more than maxAge ago.
	Cleanup(ctx context.Context, maxAge time.Duration) error
}

// Meta describes a staged file.
type Meta struct {
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Owner       string    `json:"owner"`
	CreatedAt   time.Time `json:"created_at"`
}

// File is a claimed staged file.
type File struct {
	ID string
	Meta

	// Reader provides the contents.
	Reader io.ReadCloser
}

// Close closes the file reader if open.
func (f *File) Close() error {
	if f.Reader != nil {
		return f.Reader.Close()
	}
	return nil
}

func newTempID() string {
	return uuid.NewString()
}

// validTempID rejects anything that is not a temp ID this package issued,
// so IDs can be used as file names and object keys.
func validTempID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil && len(id) == 36
}

// copyLimited copies at most max bytes (no limit when max <= 0) and returns
// ErrTooLarge when r holds more.
func copyLimited(dst io.Writer, r io.Reader, max int64) (int64, error) {
	if max > 0 {
		r = io.LimitReader(r, max+1)
	}
	n, err := io.Copy(dst, r)
	if err != nil {
		return n, err
	}
	if max > 0 && n > max {
		return n, ErrTooLarge
	}
	return n, nil
}
