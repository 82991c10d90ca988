// Package store defines the Directory abstraction the index persists its
// segment, tombstone and commit files through.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

// ErrFileNotFound is returned by Read for a name the directory does not hold.
var ErrFileNotFound = fmt.Errorf("file %w", apperrors.ErrNotFound)

// ErrLockHeld is returned by Lock while another holder, possibly in another
// process, owns the lock.
var ErrLockHeld = fmt.Errorf("directory lock held: %w", apperrors.ErrWriterLocked)

// Directory is a flat namespace of immutable files. Write must be atomic per
// file: a concurrent or later Read observes either the previous contents or
// the complete new contents, never a prefix.
type Directory interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
	// Delete removes name. Deleting a missing file is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names that start with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Lock takes the exclusive lock called name without waiting. It is
	// shared by every Directory value opened on the same storage, and is
	// released by closing the returned io.Closer.
	Lock(ctx context.Context, name string) (io.Closer, error)
	Close() error
}

// IsNotFound reports whether err means the file does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFileNotFound)
}

// LockHeld wraps ErrLockHeld with the lock name.
func LockHeld(name string) error {
	return fmt.Errorf("%q: %w", name, ErrLockHeld)
}

// NotFound wraps ErrFileNotFound with the missing name.
func NotFound(name string) error {
	return fmt.Errorf("%q: %w", name, ErrFileNotFound)
}
