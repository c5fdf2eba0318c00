package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockTimeout is returned when another invocation holds the lock for longer than the timeout.
var ErrLockTimeout = errors.New("timed out waiting for leader lock")

const retryDelay = 50 * time.Millisecond

// FileLock serialises coordinator invocations on one host.
type FileLock struct {
	path string
	lock *flock.Flock
}

func New(path string) *FileLock {
	return &FileLock{path: path, lock: flock.New(path)}
}

// Acquire blocks until the lock is held, timeout elapses, or ctx is cancelled.
func (l *FileLock) Acquire(ctx context.Context, timeout time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, err := l.lock.TryLockContext(waitCtx, retryDelay)
	if ok {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("acquire lock %s: %w", l.path, err)
	}
	return ErrLockTimeout
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *FileLock) Release() error {
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}

func (l *FileLock) Path() string {
	return l.path
}
