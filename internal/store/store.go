// File: internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("key not found")

// KV is a durable key/value store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Closer is a KV that owns a connection.
type Closer interface {
	KV
	Close() error
}

// Open builds the backend selected by cfg.
func Open(ctx context.Context, cfg config.StoreConfig, sqlitePath string, logger *zap.Logger) (Closer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case "memory":
		return NewMemory(), nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		s, err := NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return &pooledPostgres{Postgres: s, pool: pool}, nil
	case "sqlite", "":
		if dir := filepath.Dir(sqlitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create store directory: %w", err)
			}
		}
		return OpenSQLite(ctx, sqlitePath, logger)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

type pooledPostgres struct {
	*Postgres
	pool *pgxpool.Pool
}

func (p *pooledPostgres) Close() error {
	p.pool.Close()
	return nil
}

// GetJSON decodes the value at key into v.
func GetJSON(ctx context.Context, kv KV, key string, v any) error {
	raw, err := kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and stores it at key.
func SetJSON(ctx context.Context, kv KV, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	return kv.Set(ctx, key, raw)
}
