// Package fs is a Directory on the local filesystem.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/store"
)

const (
	tmpSuffix  = ".tmp"
	lockSuffix = ".lock"
)

// Directory stores each file as a regular file under root.
type Directory struct {
	root   string
	logger *slog.Logger
}

// Open creates root if needed.
func Open(root string) (*Directory, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	return &Directory{
		root:   root,
		logger: slog.Default().With("component", "fs-directory", "root", root),
	}, nil
}

func (d *Directory) Root() string {
	return d.root
}

func (d *Directory) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return filepath.Join(d.root, name), nil
}

func (d *Directory) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := d.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, store.NotFound(name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return data, nil
}

// Write writes data to a temp file, syncs it and renames it over name, then
// syncs the directory so the rename itself is durable.
func (d *Directory) Write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	finalPath, err := d.path(name)
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(d.root, name+".*"+tmpSuffix)
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", name, err)
	}
	tmpPath := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming %s: %w", name, err)
	}
	return d.syncDir()
}

func (d *Directory) syncDir() error {
	dir, err := os.Open(d.root)
	if err != nil {
		return fmt.Errorf("opening index directory: %w", err)
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		return fmt.Errorf("syncing index directory: %w", err)
	}
	return nil
}

func (d *Directory) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := d.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting %s: %w", name, err)
	}
	return nil
}

func (d *Directory) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("listing index directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, tmpSuffix) || strings.HasSuffix(name, lockSuffix) ||
			!strings.HasPrefix(name, prefix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Lock takes an exclusive lock on the file name+".lock" under root. Only the
// lock holder writes, so temp files found once the lock is held were left by
// an interrupted write and are removed.
func (d *Directory) Lock(ctx context.Context, name string) (io.Closer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := d.path(name + lockSuffix)
	if err != nil {
		return nil, err
	}
	l, err := lockFile(p)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, store.LockHeld(name)
	}
	d.removeStaleTemps()
	return l, nil
}

func (d *Directory) removeStaleTemps() {
	stale, err := filepath.Glob(filepath.Join(d.root, "*"+tmpSuffix))
	if err != nil {
		d.logger.Warn("listing temp files", "error", err)
		return
	}
	for _, p := range stale {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			d.logger.Warn("removing stale temp file", "file", filepath.Base(p), "error", err)
		}
	}
}

func (d *Directory) Close() error {
	return nil
}

var _ store.Directory = (*Directory)(nil)
