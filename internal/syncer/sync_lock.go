package syncer

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

var ErrRootLocked = errors.New("sync root is locked by another process")

type rootLock struct {
	flock *flock.Flock
}

// lockRootPath is the lock file for root, outside of the synced tree
func lockRootPath(root string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(root)))
	return filepath.Join(os.TempDir(), fmt.Sprintf("remotesync-%x.lock", sum[:8]))
}

// lockRoot takes an exclusive lock on the sync root.
func lockRoot(root string) (*rootLock, error) {
	fl := flock.New(lockRootPath(root))

	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock sync root: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrRootLocked, root)
	}
	return &rootLock{flock: fl}, nil
}

func (l *rootLock) Unlock() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock sync root: %w", err)
	}
	os.Remove(l.flock.Path())
	return nil
}
