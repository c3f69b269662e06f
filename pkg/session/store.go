package session

import (
	"context"
	"time"
)

// Store holds short-lived one-shot entries used to hand state from a server
// request to the page it rendered. Implementations must be safe for
// concurrent use.
type Store interface {
	// Put stores data under key for at most ttl. An existing key is
	// overwritten.
	Put(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Take returns and removes the entry. It returns (nil, nil) when the key
	// is missing or expired, so an entry can be consumed at most once.
	Take(ctx context.Context, key string) ([]byte, error)

	// Close releases resources held by the store.
	Close() error
}

// ErrStoreClosed is returned when operations are attempted on a closed store.
type ErrStoreClosed struct{}

func (e ErrStoreClosed) Error() string {
	return "snapshot store is closed"
}
