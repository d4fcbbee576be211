//go:build windows

package store

import (
	"fmt"
	"os"
)

// acquireLockFile takes an exclusive lock on a sidecar lock file next to
// the store file.
//
// On Windows this is implemented by atomically creating the lock file. If
// the file already exists, the store is assumed to be open in another
// process. The returned file handle must be kept open for the duration of
// the lock.
func acquireLockFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("store file %s already in use by another process", path)
	}
	return f, nil
}

// releaseLockFile releases a lock acquired via acquireLockFile and removes
// the lock file. It should be called exactly once per acquisition.
func releaseLockFile(f *os.File) {
	name := f.Name()
	f.Close()
	os.Remove(name)
}
