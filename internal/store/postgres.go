package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool is the subset of pgxpool.Pool the store needs, so tests can use pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	pgSchema = `
        CREATE TABLE IF NOT EXISTS shotprep_kv (
            key        TEXT PRIMARY KEY,
            value      BYTEA NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        );
    `
	pgGet    = `SELECT value FROM shotprep_kv WHERE key = $1`
	pgUpsert = `
        INSERT INTO shotprep_kv (key, value, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (key) DO UPDATE SET
            value = EXCLUDED.value,
            updated_at = EXCLUDED.updated_at;
    `
	pgDelete = `DELETE FROM shotprep_kv WHERE key = $1`
)

// Postgres is a KV shared through a PostgreSQL table.
type Postgres struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgres verifies the connection.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{pool: pool, log: logger.Named("store")}, nil
}

// EnsureSchema creates the kv table if needed.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("failed to create kv table: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.pool.QueryRow(ctx, pgGet, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return v, nil
}

func (s *Postgres) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.pool.Exec(ctx, pgUpsert, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}

func (s *Postgres) Delete(ctx context.Context, key string) error {
	tag, err := s.pool.Exec(ctx, pgDelete, key)
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		s.log.Debug("Delete of missing key", zap.String("key", key))
	}
	return nil
}

func (s *Postgres) Close() error { return nil }
