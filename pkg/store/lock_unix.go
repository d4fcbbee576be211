//go:build unix

package store

import (
	"fmt"
	"os"
	"syscall"
)

// acquireLockFile takes an exclusive, non-blocking advisory lock on a
// sidecar lock file next to the store file.
//
// On Unix systems this uses flock(2). If the lock cannot be acquired the
// store is assumed to be open in another process. The returned file handle
// must remain open for the duration of the lock.
func acquireLockFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("unable to open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("store file %s already in use by another process", path)
	}

	return f, nil
}

// releaseLockFile releases a lock acquired via acquireLockFile.
func releaseLockFile(f *os.File) {
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	f.Close()
}
