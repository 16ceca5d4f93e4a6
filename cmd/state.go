// cmd/state.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shotprep/internal/config"
	"github.com/xkilldash9x/shotprep/internal/store"
)

const lockFileName = "shotprep.lock"

// errStateLocked means another shotprep process owns the state directory.
var errStateLocked = errors.New("state directory is in use by another shotprep process")

// lockStateDir takes the exclusive lock on dir. The screenshot progress key is
// process global, so only one running workflow may use a store at a time.
func lockStateDir(dir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		_ = lock.Close()
		return nil, fmt.Errorf("failed to lock %s: %w", lock.Path(), err)
	}
	if !locked {
		_ = lock.Close()
		return nil, fmt.Errorf("%w (%s)", errStateLocked, lock.Path())
	}
	return lock, nil
}

func unlockStateDir(lock *flock.Flock, logger *zap.Logger) {
	if err := lock.Unlock(); err != nil {
		logger.Warn("Failed to release state lock", zap.String("path", lock.Path()), zap.Error(err))
	}
}

// openStore opens the configured KV backend.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Closer, error) {
	kv, err := store.Open(ctx, cfg.Store(), cfg.StorePath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store().Driver, err)
	}
	return kv, nil
}

func closeStore(kv store.Closer, logger *zap.Logger) {
	if err := kv.Close(); err != nil {
		logger.Warn("Failed to close store", zap.Error(err))
	}
}
