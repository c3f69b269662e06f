package upload

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DiskStore stages uploads in a local directory. Each file has a sidecar
// .meta file so a restart does not lose staged uploads.
type DiskStore struct {
	dir     string
	maxSize int64
}

// NewDiskStore creates the directory if needed. maxSize 0 means no limit.
func NewDiskStore(dir string, maxSize int64) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskStore{dir: dir, maxSize: maxSize}, nil
}

// Save implements Store.
func (s *DiskStore) Save(ctx context.Context, meta Meta, r io.Reader) (string, error) {
	if s.maxSize > 0 && meta.Size > s.maxSize {
		return "", ErrTooLarge
	}

	tempID := newTempID()
	path := s.dataPath(tempID)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	written, err := copyLimited(f, r, s.maxSize)
	f.Close()
	if err != nil {
		os.Remove(path)
		return "", err
	}

	meta.Size = written
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	data, err := json.Marshal(meta)
	if err == nil {
		err = os.WriteFile(s.metaPath(tempID), data, 0o644)
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}
	return tempID, nil
}

// Claim implements Store.
func (s *DiskStore) Claim(ctx context.Context, tempID, owner string) (*File, error) {
	if !validTempID(tempID) {
		return nil, ErrNotFound
	}
	if owner != "" {
		meta, err := s.readMeta(s.metaPath(tempID))
		if err != nil {
			return nil, ErrNotFound
		}
		if meta.Owner != owner {
			return nil, ErrNotOwner
		}
	}
	// Renaming the sidecar first makes a concurrent second claim fail.
	claimed := s.metaPath(tempID) + ".claimed"
	if err := os.Rename(s.metaPath(tempID), claimed); err != nil {
		return nil, ErrNotFound
	}
	meta, err := s.readMeta(claimed)
	if err != nil {
		os.Remove(claimed)
		return nil, ErrNotFound
	}

	f, err := os.Open(s.dataPath(tempID))
	if err != nil {
		os.Remove(claimed)
		return nil, ErrNotFound
	}
	return &File{
		ID:     tempID,
		Meta:   meta,
		Reader: &deleteOnClose{File: f, paths: []string{s.dataPath(tempID), claimed}},
	}, nil
}

// Cleanup implements Store. Files are aged by modification time, which also
// catches data files whose sidecar was lost.
func (s *DiskStore) Cleanup(ctx context.Context, maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(s.dir, entry.Name()))
		}
	}
	return nil
}

// Len returns the number of staged, unclaimed files.
func (s *DiskStore) Len() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".meta") {
			n++
		}
	}
	return n
}

func (s *DiskStore) readMeta(path string) (Meta, error) {
	var meta Meta
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}

func (s *DiskStore) dataPath(tempID string) string {
	return filepath.Join(s.dir, tempID)
}

func (s *DiskStore) metaPath(tempID string) string {
	return filepath.Join(s.dir, tempID+".meta")
}

// deleteOnClose removes the staged files once the reader is closed.
type deleteOnClose struct {
	*os.File
	paths []string
}

func (r *deleteOnClose) Close() error {
	err := r.File.Close()
	for _, p := range r.paths {
		os.Remove(p)
	}
	return err
}
