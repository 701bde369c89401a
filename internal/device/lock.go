package device

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"vinscan/internal/services"
)

// fallbackLockDir, under os.TempDir, holds locks when no lock directory is
// configured.
const fallbackLockDir = "vinscan-locks"

// acquireLock takes the per-node lock without blocking.
func acquireLock(lockDir, node string) (*flock.Flock, error) {
	if lockDir == "" {
		lockDir = filepath.Join(os.TempDir(), fallbackLockDir)
	}
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrDevice, "device", "lock", "create lock directory", err)
	}
	lock := flock.New(filepath.Join(lockDir, node+".lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrDevice, "device", "lock", "acquire device lock", err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrDevice, "device", "lock", fmt.Sprintf("%s is in use by another process", node), nil)
	}
	return lock, nil
}

func releaseLock(lock *flock.Flock) error {
	if lock == nil {
		return nil
	}
	if err := lock.Unlock(); err != nil {
		return services.Wrap(services.ErrDevice, "device", "unlock", "release device lock", err)
	}
	return nil
}
