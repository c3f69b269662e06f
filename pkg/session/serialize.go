package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vango-dev/sessionbridge/pkg/auth"
)

// Snapshot is the state a rendered page inherits from the server request
// that produced it.
type Snapshot struct {
	SessionID string         `json:"session_id"`
	Mode      auth.Mode      `json:"mode"`
	Pair      auth.TokenPair `json:"pair"`
	User      *auth.Profile  `json:"user,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Version   int            `json:"version"`
}

// CurrentSnapshotVersion is incremented on breaking format changes.
const CurrentSnapshotVersion = 1

const (
	handoffPrefix = "handoff:"
	claimPrefix   = "claim:"
)

type cookieTicket struct {
	SetCookies []string `json:"set_cookies"`
}

// SaveSnapshot stores snap under a fresh random key and returns the key.
func SaveSnapshot(ctx context.Context, store Store, snap Snapshot, ttl time.Duration) (string, error) {
	snap.Version = CurrentSnapshotVersion
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return "", err
	}
	key := uuid.NewString()
	if err := store.Put(ctx, handoffPrefix+key, data, ttl); err != nil {
		return "", err
	}
	return key, nil
}

// TakeSnapshot consumes a snapshot. ok is false when the key is unknown,
// expired or already consumed.
func TakeSnapshot(ctx context.Context, store Store, key string) (snap Snapshot, ok bool, err error) {
	data, err := store.Take(ctx, handoffPrefix+key)
	if err != nil || data == nil {
		return Snapshot{}, false, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != CurrentSnapshotVersion {
		return Snapshot{}, false, nil
	}
	return snap, true, nil
}

// SaveCookieTicket stores Set-Cookie lines for a later same-origin request to
// claim, returning the ticket.
func SaveCookieTicket(ctx context.Context, store Store, setCookies []string, ttl time.Duration) (string, error) {
	data, err := json.Marshal(cookieTicket{SetCookies: setCookies})
	if err != nil {
		return "", err
	}
	ticket := uuid.NewString()
	if err := store.Put(ctx, claimPrefix+ticket, data, ttl); err != nil {
		return "", err
	}
	return ticket, nil
}

// TakeCookieTicket consumes a ticket. It returns nil lines for unknown or
// already claimed tickets.
func TakeCookieTicket(ctx context.Context, store Store, ticket string) ([]string, error) {
	data, err := store.Take(ctx, claimPrefix+ticket)
	if err != nil || data == nil {
		return nil, err
	}
	var t cookieTicket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode cookie ticket: %w", err)
	}
	return t.SetCookies, nil
}
