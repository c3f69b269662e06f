package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxConn is the part of *pgxpool.Pool the Postgres store uses.
type PgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps handoff entries in a Postgres table, for deployments
// that share a database but no Redis. The table is created by EnsureSchema:
//
//	CREATE TABLE sessionbridge_handoff (
//	    key TEXT PRIMARY KEY,
//	    data BYTEA NOT NULL,
//	    expires_at TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	db        PgxConn
	tableName string

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// PostgresStoreOption configures PostgresStore behavior.
type PostgresStoreOption func(*postgresStoreConfig)

type postgresStoreConfig struct {
	tableName       string
	cleanupInterval time.Duration
}

// WithTableName sets the table name. Default: "sessionbridge_handoff".
func WithTableName(name string) PostgresStoreOption {
	return func(c *postgresStoreConfig) {
		c.tableName = name
	}
}

// WithSweepInterval sets how often expired rows are deleted.
// Default: 5 minutes.
func WithSweepInterval(d time.Duration) PostgresStoreOption {
	return func(c *postgresStoreConfig) {
		c.cleanupInterval = d
	}
}

// NewPostgresStore creates a store on db and starts its sweeper. Close
// does not close db.
func NewPostgresStore(db PgxConn, opts ...PostgresStoreOption) *PostgresStore {
	cfg := &postgresStoreConfig{
		tableName:       "sessionbridge_handoff",
		cleanupInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &PostgresStore{
		db:        db,
		tableName: pgx.Identifier{cfg.tableName}.Sanitize(),
		done:      make(chan struct{}),
	}
	go s.cleanupLoop(cfg.cleanupInterval)
	return s
}

// EnsureSchema creates the table when it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			data BYTEA NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`, s.tableName))
	return err
}

func (s *PostgresStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Put implements Store.
func (s *PostgresStore) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if s.isClosed() {
		return ErrStoreClosed{}
	}
	_, err := s.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (key, data, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			data = EXCLUDED.data,
			expires_at = EXCLUDED.expires_at`, s.tableName),
		key, data, time.Now().Add(ttl))
	return err
}

// Take implements Store. The row is deleted and returned in one statement,
// so concurrent takers never both see it.
func (s *PostgresStore) Take(ctx context.Context, key string) ([]byte, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed{}
	}
	var (
		data      []byte
		expiresAt time.Time
	)
	err := s.db.QueryRow(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE key = $1
		RETURNING data, expires_at`, s.tableName), key).Scan(&data, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(expiresAt) {
		return nil, nil
	}
	return data, nil
}

// Sweep deletes expired rows.
func (s *PostgresStore) Sweep(ctx context.Context) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE expires_at < $1`, s.tableName), time.Now())
	return err
}

// Close stops the sweeper.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return nil
}

func (s *PostgresStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			s.Sweep(ctx)
			cancel()
		case <-s.done:
			return
		}
	}
}
