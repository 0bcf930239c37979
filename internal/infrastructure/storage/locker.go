package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/vitos/crypto_trade_dsl/internal/domain"
	"golang.org/x/sys/unix"
)

// FileLocker serializes cycles with an advisory flock on a sidecar file
// next to each record. The lock is held by the open descriptor, so it is
// released by the kernel if the process dies.
type FileLocker struct {
	store *FileStore
}

func NewFileLocker(store *FileStore) *FileLocker {
	return &FileLocker{store: store}
}

func (l *FileLocker) TryLock(ctx context.Context, key domain.PositionKey) (func(), error) {
	path := l.store.Path(key) + ".lock"
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", domain.ErrLockHeld, key)
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}
