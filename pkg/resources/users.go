package resources

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vango-dev/sessionbridge/pkg/auth"
	"github.com/vango-dev/sessionbridge/pkg/client"
	"github.com/vango-dev/sessionbridge/pkg/remote"
)

// Users wraps the /users endpoints. ReadMe and UpdateMe also update the
// bound session's profile unless told not to.
type Users struct {
	col     collection[auth.Profile]
	readMeQ remote.Query
}

// NewUsers binds the users endpoints to c. readMeQuery holds the defaults
// applied to ReadMe.
func NewUsers(c *client.Client, readMeQuery remote.Query, opts ...Option) *Users {
	return &Users{
		col:     newCollection[auth.Profile](c, "/users", "users", opts),
		readMeQ: readMeQuery,
	}
}

func (u *Users) CreateOne(ctx context.Context, user map[string]any, q remote.Query) (*auth.Profile, error) {
	return u.col.createOne(ctx, user, q)
}

func (u *Users) CreateMany(ctx context.Context, users []map[string]any, q remote.Query) ([]auth.Profile, error) {
	return u.col.createMany(ctx, users, q)
}

func (u *Users) ReadOne(ctx context.Context, id string, q remote.Query) (*auth.Profile, error) {
	return u.col.readOne(ctx, id, q)
}

func (u *Users) ReadMany(ctx context.Context, q remote.Query) ([]auth.Profile, error) {
	return u.col.readMany(ctx, q)
}

func (u *Users) ReadOneCached(ctx context.Context, id string, q remote.Query) (*auth.Profile, error) {
	return u.col.readOneCached(ctx, "readAsyncUser", id, q)
}

func (u *Users) ReadManyCached(ctx context.Context, q remote.Query) ([]auth.Profile, error) {
	return u.col.readManyCached(ctx, "readAsyncUsers", q)
}

// ReadMe reads the current user. A nil query applies the configured
// defaults. It returns auth.ErrNoCredential, without calling the API, when
// the session holds nothing to authenticate with.
func (u *Users) ReadMe(ctx context.Context, q *remote.Query, updateState bool) (*auth.Profile, error) {
	sess := u.col.c.Session()
	if sess != nil && u.col.c.Strategy() == client.StrategyLive {
		pair := sess.Tokens.Get()
		if pair.AccessToken == "" && !(sess.Mode == auth.ModeSession && pair.Expires > 0) {
			return nil, auth.ErrNoCredential
		}
	}
	query := u.readMeQ
	if q != nil {
		query = *q
	}
	p, err := u.col.c.ReadMe(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("users: read me: %w", err)
	}
	if updateState && sess != nil {
		sess.User.Set(p)
	}
	return p, nil
}

// UpdateMe patches the current user.
func (u *Users) UpdateMe(ctx context.Context, patch map[string]any, q remote.Query, updateState bool) (*auth.Profile, error) {
	var p auth.Profile
	if _, err := u.col.c.Do(ctx, http.MethodPatch, "/users/me", q.Values(), patch, &p); err != nil {
		return nil, fmt.Errorf("users: update me: %w", err)
	}
	if sess := u.col.c.Session(); updateState && sess != nil {
		sess.User.Set(&p)
	}
	return &p, nil
}

func (u *Users) UpdateOne(ctx context.Context, id string, patch map[string]any, q remote.Query) (*auth.Profile, error) {
	return u.col.updateOne(ctx, id, patch, q)
}

func (u *Users) UpdateMany(ctx context.Context, ids []string, patch map[string]any, q remote.Query) ([]auth.Profile, error) {
	return u.col.updateMany(ctx, ids, patch, q)
}

func (u *Users) DeleteOne(ctx context.Context, id string) error {
	return u.col.deleteOne(ctx, id)
}

func (u *Users) DeleteMany(ctx context.Context, ids []string) error {
	return u.col.deleteMany(ctx, ids)
}
