//go:build !unix

package fs

import (
	"errors"
	"fmt"
	"os"
)

// Without flock the lock is the existence of the file. A crashed holder
// leaves it behind and it must be removed by hand.
type fileLock struct {
	f    *os.File
	path string
}

// lockFile returns nil, nil when another holder owns the lock.
func lockFile(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("creating lock file: %w", err)
	}
	return &fileLock{f: f, path: path}, nil
}

func (l *fileLock) Close() error {
	return errors.Join(l.f.Close(), os.Remove(l.path))
}
