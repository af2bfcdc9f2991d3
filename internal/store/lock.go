package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// LockFileName is the lock file guarding a data directory.
const LockFileName = ".amanrag.lock"

// DirLock is an exclusive cross-process lock on a data directory, held
// while a loader writes the stores.
type DirLock struct {
	path  string
	flock *flock.Flock
}

// NewDirLock creates a lock for dir. Nothing is acquired yet.
func NewDirLock(dir string) *DirLock {
	p := filepath.Join(dir, LockFileName)
	return &DirLock{path: p, flock: flock.New(p)}
}

// Acquire waits for the lock until ctx is done, polling every retry.
// A lock still held when ctx ends returns ERR_204_STORE_LOCKED.
func (l *DirLock) Acquire(ctx context.Context, retry time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	if retry <= 0 {
		retry = 100 * time.Millisecond
	}

	ok, err := l.flock.TryLockContext(ctx, retry)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return amerrors.New(amerrors.ErrCodeStoreLocked,
			"data directory is locked by another process", ctx.Err()).
			WithDetail("lock", l.path).
			WithSuggestion("Wait for the running load to finish")
	}
	return nil
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *DirLock) Release() error {
	if !l.flock.Locked() {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *DirLock) Path() string {
	return l.path
}
