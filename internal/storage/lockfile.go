package storage

import (
	"fmt"
	"os"
	"time"
)

// lockFile guards the data directory against concurrent writers from other
// processes. In-process concurrency is handled separately by a mutex.
type lockFile struct {
	path string
}

// acquireLock creates the lock file exclusively, retrying until timeout.
// Callers must release the returned lock.
func acquireLock(path string, timeout time.Duration) (*lockFile, error) {
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
			_ = f.Close()
			return &lockFile{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("storage: create lock %q: %w", path, err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("storage: lock %q held past %s", path, timeout)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// release removes the lock file.
func (l *lockFile) release() {
	_ = os.Remove(l.path)
}
