package resources

import (
	"context"

	"github.com/vango-dev/sessionbridge/pkg/client"
	"github.com/vango-dev/sessionbridge/pkg/remote"
)

// Revision is one stored change to an item.
type Revision struct {
	ID         int64          `json:"id"`
	Activity   any            `json:"activity,omitempty"`
	Collection string         `json:"collection,omitempty"`
	Item       any            `json:"item,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Delta      map[string]any `json:"delta,omitempty"`
	Parent     *int64         `json:"parent,omitempty"`
	Version    any            `json:"version,omitempty"`
}

// Revisions wraps the read-only /revisions endpoints.
type Revisions struct {
	col collection[Revision]
}

// NewRevisions binds the revisions endpoints to c.
func NewRevisions(c *client.Client, opts ...Option) *Revisions {
	return &Revisions{col: newCollection[Revision](c, "/revisions", "revisions", opts)}
}

func (r *Revisions) ReadOne(ctx context.Context, id string, q remote.Query) (*Revision, error) {
	return r.col.readOne(ctx, id, q)
}

func (r *Revisions) ReadMany(ctx context.Context, q remote.Query) ([]Revision, error) {
	return r.col.readMany(ctx, q)
}

func (r *Revisions) ReadOneCached(ctx context.Context, id string, q remote.Query) (*Revision, error) {
	return r.col.readOneCached(ctx, "readAsyncRevision", id, q)
}

func (r *Revisions) ReadManyCached(ctx context.Context, q remote.Query) ([]Revision, error) {
	return r.col.readManyCached(ctx, "readAsyncRevisions", q)
}
