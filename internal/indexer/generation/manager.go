package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/metrics"
)

// WriteLockName is the Directory lock held by the index writer.
const WriteLockName = "write"

const (
	defaultDiscoveryRetries = 5
	loadConcurrency         = 8
)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("generation manager closed")

type Option func(*Manager)

// WithReadOnly makes the manager a pure reader: it never takes the writer
// lock and never deletes files. Reader processes sharing a directory with a
// writer process use it.
func WithReadOnly() Option {
	return func(m *Manager) { m.readOnly = true }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithDiscoveryRetries bounds how often Open and Refresh re-read CURRENT
// when the files it points at disappear before they are loaded.
func WithDiscoveryRetries(n int) Option {
	return func(m *Manager) { m.retries = n }
}

type retainedGen struct {
	snap *Snapshot
	refs int
}

// Manager owns the live index state of one directory. It tracks which
// generation is current, how many snapshots of each generation are held,
// and deletes a generation's files once it is neither current nor held.
type Manager struct {
	dir      store.Directory
	logger   *slog.Logger
	metrics  *metrics.Metrics
	readOnly bool
	retries  int

	mu       sync.Mutex
	current  *Snapshot
	retained map[int64]*retainedGen
	writer   bool
	dirLock  io.Closer
	closed   bool

	cacheMu  sync.Mutex
	segCache map[string]*segment.Segment
	delCache map[string]*roaring.Bitmap
}

// Open discovers the current generation of dir. An empty directory yields
// generation zero with no segments.
func Open(ctx context.Context, dir store.Directory, opts ...Option) (*Manager, error) {
	m := &Manager{
		dir:      dir,
		logger:   slog.Default().With("component", "generation"),
		retries:  defaultDiscoveryRetries,
		retained: make(map[int64]*retainedGen),
		segCache: make(map[string]*segment.Segment),
		delCache: make(map[string]*roaring.Bitmap),
	}
	for _, opt := range opts {
		opt(m)
	}
	snap, err := m.discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrOpenFailed, err)
	}
	m.mu.Lock()
	garbage := m.installLocked(snap)
	m.mu.Unlock()
	m.reclaim(ctx, garbage)

	m.logger.Info("index opened",
		"generation", snap.Generation(),
		"segments", len(snap.Segments()),
		"live_docs", snap.LiveDocs(),
		"read_only", m.readOnly,
	)
	return m, nil
}

func (m *Manager) Directory() store.Directory {
	return m.dir
}

// Current returns the commit point of the newest generation.
func (m *Manager) Current() *CommitPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.commit
}

// Acquire returns the current snapshot and counts a reference to it. Every
// successful Acquire must be paired with one Release.
func (m *Manager) Acquire() (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	r := m.retained[m.current.Generation()]
	r.refs++
	if m.metrics != nil {
		m.metrics.OpenSnapshots.Inc()
	}
	return r.snap, nil
}

// Release drops a reference taken by Acquire. Once a superseded generation
// has no references left its files are deleted.
func (m *Manager) Release(s *Snapshot) {
	gen := s.Generation()
	m.mu.Lock()
	r, ok := m.retained[gen]
	if !ok || r.refs == 0 {
		m.mu.Unlock()
		m.logger.Warn("release of unreferenced generation", "generation", gen)
		return
	}
	r.refs--
	if m.metrics != nil {
		m.metrics.OpenSnapshots.Dec()
	}
	var garbage []string
	if r.refs == 0 && gen != m.current.Generation() {
		garbage = m.dropLocked(gen)
	}
	m.mu.Unlock()
	m.reclaim(context.Background(), garbage)
}

// RefCount reports the outstanding references to gen and whether the
// generation is still retained.
func (m *Manager) RefCount(gen int64) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.retained[gen]
	if !ok {
		return 0, false
	}
	return r.refs, true
}

// Refresh re-reads CURRENT and installs a newer generation if another
// process published one. It reports whether the current generation changed.
func (m *Manager) Refresh(ctx context.Context) (bool, error) {
	snap, err := m.discover(ctx)
	if err != nil {
		return false, fmt.Errorf("refreshing generation: %w", err)
	}
	m.mu.Lock()
	if snap.Generation() <= m.current.Generation() {
		m.mu.Unlock()
		return false, nil
	}
	garbage := m.installLocked(snap)
	m.mu.Unlock()
	m.reclaim(ctx, garbage)

	m.logger.Info("refreshed to new generation",
		"generation", snap.Generation(),
		"live_docs", snap.LiveDocs(),
	)
	return true, nil
}

// Publish makes commit the current generation. The caller must hold the
// writer lock and must already have written every segment and tombstone
// file the commit introduces; segs and dels hand those objects over so they
// are not read back. The commit point file is written first and CURRENT
// last, so a failure at any step leaves the previous generation current.
// The returned snapshot carries one reference owned by the caller.
func (m *Manager) Publish(ctx context.Context, commit *CommitPoint, segs []*segment.Segment, dels map[string]*roaring.Bitmap) (*Snapshot, error) {
	m.mu.Lock()
	if !m.writer {
		m.mu.Unlock()
		return nil, errors.New("publish without the writer lock")
	}
	m.mu.Unlock()

	m.cacheMu.Lock()
	for _, seg := range segs {
		m.segCache[seg.Name] = seg
	}
	for name, bm := range dels {
		m.delCache[name] = bm
	}
	m.cacheMu.Unlock()

	snap, err := m.load(ctx, commit)
	if err != nil {
		m.pruneCache()
		return nil, fmt.Errorf("assembling generation %d: %w", commit.Generation, err)
	}
	if err := writeCommit(ctx, m.dir, commit); err != nil {
		m.pruneCache()
		return nil, fmt.Errorf("writing commit point %s: %w", commit.FileName(), err)
	}
	if err := m.dir.Write(ctx, CurrentFile, []byte(commit.FileName())); err != nil {
		if delErr := m.dir.Delete(context.WithoutCancel(ctx), commit.FileName()); delErr != nil {
			m.logger.Warn("removing unpublished commit point", "file", commit.FileName(), "error", delErr)
		}
		m.pruneCache()
		return nil, fmt.Errorf("publishing %s: %w", commit.FileName(), err)
	}

	m.mu.Lock()
	garbage := m.installLocked(snap)
	m.retained[snap.Generation()].refs++
	if m.metrics != nil {
		m.metrics.OpenSnapshots.Inc()
	}
	m.mu.Unlock()
	m.reclaim(ctx, garbage)
	return snap, nil
}

// LockWriter claims the single writer slot of the index. Besides the
// in-process slot it takes the directory's write lock, which excludes
// writers of other processes sharing the storage, and then catches up with
// any generation published since Open. Only the lock holder deletes files.
func (m *Manager) LockWriter(ctx context.Context) error {
	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return ErrClosed
	case m.readOnly:
		m.mu.Unlock()
		return fmt.Errorf("%w: manager is read-only", apperrors.ErrWriterLocked)
	case m.writer:
		m.mu.Unlock()
		return apperrors.ErrWriterLocked
	}
	m.writer = true
	m.mu.Unlock()

	lock, err := m.dir.Lock(ctx, WriteLockName)
	if err != nil {
		m.mu.Lock()
		m.writer = false
		m.mu.Unlock()
		if errors.Is(err, apperrors.ErrWriterLocked) {
			return err
		}
		return fmt.Errorf("taking directory write lock: %w", err)
	}
	m.mu.Lock()
	m.dirLock = lock
	m.mu.Unlock()

	if _, err := m.Refresh(ctx); err != nil {
		m.UnlockWriter()
		return fmt.Errorf("%w: %w", apperrors.ErrOpenFailed, err)
	}
	return nil
}

// UnlockWriter frees the writer slot and the directory write lock.
func (m *Manager) UnlockWriter() {
	m.mu.Lock()
	lock := m.dirLock
	m.dirLock = nil
	m.writer = false
	m.mu.Unlock()
	if lock == nil {
		return
	}
	if err := lock.Close(); err != nil {
		m.logger.Warn("releasing directory write lock", "error", err)
	}
}

func (m *Manager) holdsLock() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirLock != nil
}

// SweepOrphans deletes index files no retained generation references, such
// as segments of a crashed commit or commit points of earlier runs.
func (m *Manager) SweepOrphans(ctx context.Context) (int, error) {
	if m.readOnly || !m.holdsLock() {
		return 0, nil
	}
	names, err := m.dir.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("listing index files: %w", err)
	}
	m.mu.Lock()
	live := m.referencedLocked()
	m.mu.Unlock()

	var orphans []string
	for _, name := range names {
		if _, ok := live[name]; ok || !isIndexFile(name) {
			continue
		}
		orphans = append(orphans, name)
	}
	m.reclaim(ctx, orphans)
	return len(orphans), nil
}

// Close stops handing out snapshots. Snapshots already acquired stay
// usable and should still be released.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.UnlockWriter()
	return nil
}

func isIndexFile(name string) bool {
	return strings.HasPrefix(name, CommitPrefix) ||
		strings.HasSuffix(name, ".seg") ||
		strings.HasSuffix(name, ".del")
}

// installLocked makes snap current and returns the files of the generation
// it supersedes when nothing holds that generation any more.
func (m *Manager) installLocked(snap *Snapshot) []string {
	prev := m.current
	m.current = snap
	m.retained[snap.Generation()] = &retainedGen{snap: snap}

	if m.metrics != nil {
		m.metrics.IndexGeneration.Set(float64(snap.Generation()))
		m.metrics.LiveDocs.Set(float64(snap.LiveDocs()))
		m.metrics.SegmentCount.Set(float64(len(snap.Segments())))
	}
	if prev == nil || prev.Generation() == snap.Generation() {
		return nil
	}
	if r := m.retained[prev.Generation()]; r != nil && r.refs == 0 {
		return m.dropLocked(prev.Generation())
	}
	return nil
}

// dropLocked forgets gen and returns its files that no retained generation
// still references.
func (m *Manager) dropLocked(gen int64) []string {
	r := m.retained[gen]
	delete(m.retained, gen)
	live := m.referencedLocked()

	var garbage []string
	for _, name := range r.snap.commit.Files() {
		if _, ok := live[name]; !ok {
			garbage = append(garbage, name)
		}
	}
	m.logger.Debug("generation released", "generation", gen, "files", len(garbage))
	return garbage
}

func (m *Manager) referencedLocked() map[string]struct{} {
	live := map[string]struct{}{CurrentFile: {}}
	for _, r := range m.retained {
		for _, name := range r.snap.commit.Files() {
			live[name] = struct{}{}
		}
	}
	return live
}

func (m *Manager) reclaim(ctx context.Context, garbage []string) {
	m.pruneCache()
	if m.readOnly || len(garbage) == 0 || !m.holdsLock() {
		return
	}
	ctx = context.WithoutCancel(ctx)
	deleted := 0
	for _, name := range garbage {
		if err := m.dir.Delete(ctx, name); err != nil {
			m.logger.Warn("reclaiming index file", "file", name, "error", err)
			continue
		}
		deleted++
	}
	if m.metrics != nil {
		m.metrics.ReclaimedFilesTotal.Add(float64(deleted))
	}
	m.logger.Debug("reclaimed index files", "count", deleted)
}

// pruneCache evicts loaded segments and tombstones no retained generation
// uses.
func (m *Manager) pruneCache() {
	m.mu.Lock()
	live := m.referencedLocked()
	m.mu.Unlock()

	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	for name := range m.segCache {
		if _, ok := live[segment.FileName(name)]; !ok {
			delete(m.segCache, name)
		}
	}
	for name := range m.delCache {
		if _, ok := live[name]; !ok {
			delete(m.delCache, name)
		}
	}
}

// discover reads CURRENT and loads the generation it names. Files removed
// between reading CURRENT and loading them mean a newer generation was
// published meanwhile, so discovery starts over.
func (m *Manager) discover(ctx context.Context) (*Snapshot, error) {
	var lastErr error
	for attempt := 0; attempt <= m.retries; attempt++ {
		commit, err := m.readCurrent(ctx)
		if err == nil {
			var snap *Snapshot
			snap, err = m.load(ctx, commit)
			if err == nil {
				return snap, nil
			}
		}
		if !store.IsNotFound(err) {
			return nil, err
		}
		lastErr = err
		m.logger.Warn("index files vanished during discovery, retrying",
			"attempt", attempt+1,
			"error", err,
		)
	}
	return nil, fmt.Errorf("discovering current generation after %d attempts: %w", m.retries+1, lastErr)
}

func (m *Manager) readCurrent(ctx context.Context) (*CommitPoint, error) {
	data, err := m.dir.Read(ctx, CurrentFile)
	if store.IsNotFound(err) {
		return emptyCommit(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", CurrentFile, err)
	}
	return readCommit(ctx, m.dir, strings.TrimSpace(string(data)))
}

// load assembles the snapshot of commit, reading segments and tombstones
// that are not cached yet in parallel.
func (m *Manager) load(ctx context.Context, commit *CommitPoint) (*Snapshot, error) {
	segs := make([]*segment.Segment, len(commit.Segments))
	dels := make([]*roaring.Bitmap, len(commit.Segments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, si := range commit.Segments {
		g.Go(func() error {
			seg, err := m.loadSegment(gctx, si.Name)
			if err != nil {
				return err
			}
			if seg.MaxDoc != si.MaxDoc {
				return fmt.Errorf("%w: segment %s has %d docs, commit point says %d",
					apperrors.ErrCorruptIndex, si.Name, seg.MaxDoc, si.MaxDoc)
			}
			segs[i] = seg
			if si.DelGen == 0 {
				return nil
			}
			bm, err := m.loadDeletes(gctx, segment.DeletesFileName(si.Name, si.DelGen))
			if err != nil {
				return err
			}
			if bm.GetCardinality() != uint64(si.DelCount) {
				return fmt.Errorf("%w: segment %s has %d tombstones, commit point says %d",
					apperrors.ErrCorruptIndex, si.Name, bm.GetCardinality(), si.DelCount)
			}
			dels[i] = bm
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return newSnapshot(commit, segs, dels), nil
}

func (m *Manager) loadSegment(ctx context.Context, name string) (*segment.Segment, error) {
	m.cacheMu.Lock()
	seg, ok := m.segCache[name]
	m.cacheMu.Unlock()
	if ok {
		return seg, nil
	}

	data, err := m.dir.Read(ctx, segment.FileName(name))
	if err != nil {
		return nil, fmt.Errorf("reading segment %s: %w", name, err)
	}
	seg, err = segment.Decode(name, data)
	if err != nil {
		return nil, err
	}
	m.cacheMu.Lock()
	m.segCache[name] = seg
	m.cacheMu.Unlock()
	return seg, nil
}

func (m *Manager) loadDeletes(ctx context.Context, file string) (*roaring.Bitmap, error) {
	m.cacheMu.Lock()
	bm, ok := m.delCache[file]
	m.cacheMu.Unlock()
	if ok {
		return bm, nil
	}

	data, err := m.dir.Read(ctx, file)
	if err != nil {
		return nil, fmt.Errorf("reading tombstones %s: %w", file, err)
	}
	bm, err = segment.DecodeDeletes(file, data)
	if err != nil {
		return nil, err
	}
	m.cacheMu.Lock()
	m.delCache[file] = bm
	m.cacheMu.Unlock()
	return bm, nil
}
