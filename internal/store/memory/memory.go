// Package memory is a map-backed Directory for tests and ephemeral indexes.
package memory

import (
	"context"
	"io"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/store"
)

// Op names a Directory operation for fault injection.
type Op string

const (
	OpRead   Op = "read"
	OpWrite  Op = "write"
	OpDelete Op = "delete"
	OpList   Op = "list"
	OpLock   Op = "lock"
)

// FaultFunc is consulted before every operation; a non-nil error aborts the
// operation and is returned to the caller unchanged.
type FaultFunc func(op Op, name string) error

type Directory struct {
	mu    sync.RWMutex
	files map[string][]byte
	locks map[string]bool
	fault FaultFunc
}

func New() *Directory {
	return &Directory{files: make(map[string][]byte), locks: make(map[string]bool)}
}

// SetFault installs or, with nil, removes the fault hook.
func (d *Directory) SetFault(f FaultFunc) {
	d.mu.Lock()
	d.fault = f
	d.mu.Unlock()
}

func (d *Directory) check(op Op, name string) error {
	d.mu.RLock()
	f := d.fault
	d.mu.RUnlock()
	if f == nil {
		return nil
	}
	return f(op, name)
}

func (d *Directory) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.check(OpRead, name); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	data, ok := d.files[name]
	if !ok {
		return nil, store.NotFound(name)
	}
	return slices.Clone(data), nil
}

func (d *Directory) Write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.check(OpWrite, name); err != nil {
		return err
	}
	d.mu.Lock()
	d.files[name] = slices.Clone(data)
	d.mu.Unlock()
	return nil
}

func (d *Directory) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.check(OpDelete, name); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.files, name)
	d.mu.Unlock()
	return nil
}

func (d *Directory) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.check(OpList, prefix); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var names []string
	for name := range d.files {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Lock takes the named lock of this Directory value. Callers sharing one
// index must share the value.
func (d *Directory) Lock(ctx context.Context, name string) (io.Closer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.check(OpLock, name); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.locks[name] {
		return nil, store.LockHeld(name)
	}
	d.locks[name] = true
	return &lock{d: d, name: name}, nil
}

type lock struct {
	d    *Directory
	name string
	once sync.Once
}

func (l *lock) Close() error {
	l.once.Do(func() {
		l.d.mu.Lock()
		delete(l.d.locks, l.name)
		l.d.mu.Unlock()
	})
	return nil
}

// Len is the number of files held.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.files)
}

func (d *Directory) Close() error {
	return nil
}

var _ store.Directory = (*Directory)(nil)
