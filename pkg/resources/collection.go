// Package resources wraps the remote API's files, revisions and users
// endpoints on top of a session-bound client.
package resources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/vango-dev/sessionbridge/pkg/cache"
	"github.com/vango-dev/sessionbridge/pkg/client"
	"github.com/vango-dev/sessionbridge/pkg/remote"
)

// ErrEmptyID is returned when an operation needs a primary key and got none.
var ErrEmptyID = errors.New("resources: empty id")

// Option configures a resource wrapper.
type Option func(*options)

type options struct {
	reader *cache.Reader
}

// WithCache enables the cached read variants.
func WithCache(r *cache.Reader) Option {
	return func(o *options) { o.reader = r }
}

// collection implements the CRUD calls shared by every resource.
type collection[T any] struct {
	c      *client.Client
	path   string
	name   string
	reader *cache.Reader
}

func newCollection[T any](c *client.Client, path, name string, opts []Option) collection[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return collection[T]{c: c, path: path, name: name, reader: o.reader}
}

func (col collection[T]) itemPath(id string) string {
	return col.path + "/" + url.PathEscape(id)
}

func (col collection[T]) readOne(ctx context.Context, id string, q remote.Query) (*T, error) {
	if id == "" {
		return nil, fmt.Errorf("%s: read: %w", col.name, ErrEmptyID)
	}
	var v T
	if _, err := col.c.Do(ctx, http.MethodGet, col.itemPath(id), q.Values(), nil, &v); err != nil {
		return nil, fmt.Errorf("%s: read %s: %w", col.name, id, err)
	}
	return &v, nil
}

func (col collection[T]) readMany(ctx context.Context, q remote.Query) ([]T, error) {
	var v []T
	if _, err := col.c.Do(ctx, http.MethodGet, col.path, q.Values(), nil, &v); err != nil {
		return nil, fmt.Errorf("%s: read: %w", col.name, err)
	}
	return v, nil
}

func (col collection[T]) readOneCached(ctx context.Context, op, id string, q remote.Query) (*T, error) {
	key := cache.Key(op, id, q.Key())
	return cache.Read(ctx, col.reader, key, func(ctx context.Context) (*T, error) {
		return col.readOne(ctx, id, q)
	})
}

func (col collection[T]) readManyCached(ctx context.Context, op string, q remote.Query) ([]T, error) {
	key := cache.Key(op, q.Key())
	return cache.Read(ctx, col.reader, key, func(ctx context.Context) ([]T, error) {
		return col.readMany(ctx, q)
	})
}

func (col collection[T]) createOne(ctx context.Context, item any, q remote.Query) (*T, error) {
	var v T
	if _, err := col.c.Do(ctx, http.MethodPost, col.path, q.Values(), item, &v); err != nil {
		return nil, fmt.Errorf("%s: create: %w", col.name, err)
	}
	return &v, nil
}

func (col collection[T]) createMany(ctx context.Context, items any, q remote.Query) ([]T, error) {
	var v []T
	if _, err := col.c.Do(ctx, http.MethodPost, col.path, q.Values(), items, &v); err != nil {
		return nil, fmt.Errorf("%s: create: %w", col.name, err)
	}
	return v, nil
}

func (col collection[T]) updateOne(ctx context.Context, id string, patch any, q remote.Query) (*T, error) {
	if id == "" {
		return nil, fmt.Errorf("%s: update: %w", col.name, ErrEmptyID)
	}
	var v T
	if _, err := col.c.Do(ctx, http.MethodPatch, col.itemPath(id), q.Values(), patch, &v); err != nil {
		return nil, fmt.Errorf("%s: update %s: %w", col.name, id, err)
	}
	return &v, nil
}

type batchUpdate struct {
	Keys []string `json:"keys"`
	Data any      `json:"data"`
}

func (col collection[T]) updateMany(ctx context.Context, ids []string, patch any, q remote.Query) ([]T, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%s: update: %w", col.name, ErrEmptyID)
	}
	var v []T
	if _, err := col.c.Do(ctx, http.MethodPatch, col.path, q.Values(), batchUpdate{Keys: ids, Data: patch}, &v); err != nil {
		return nil, fmt.Errorf("%s: update: %w", col.name, err)
	}
	return v, nil
}

func (col collection[T]) deleteOne(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%s: delete: %w", col.name, ErrEmptyID)
	}
	if _, err := col.c.Do(ctx, http.MethodDelete, col.itemPath(id), nil, nil, nil); err != nil {
		return fmt.Errorf("%s: delete %s: %w", col.name, id, err)
	}
	return nil
}

func (col collection[T]) deleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("%s: delete: %w", col.name, ErrEmptyID)
	}
	if _, err := col.c.Do(ctx, http.MethodDelete, col.path, nil, ids, nil); err != nil {
		return fmt.Errorf("%s: delete: %w", col.name, err)
	}
	return nil
}
