// Package indexer owns mutation of the index. A Writer buffers added and
// deleted documents in memory and turns them into a new generation on
// commit; readers never observe the buffer.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/analysis"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/generation"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/metrics"
)

// Config selects the analyzer for tokenized fields and the segment codec.
type Config struct {
	Analyzer    analysis.Config
	Compression segment.Compression
}

// ConfigFrom converts the index section of the application configuration.
func ConfigFrom(c config.IndexConfig) (Config, error) {
	comp, err := segment.ParseCompression(c.Compression)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Analyzer:    analysis.Config{Name: c.Analyzer},
		Compression: comp,
	}, nil
}

// Term selects documents by an exact indexed term of a field.
type Term struct {
	Field string
	Text  string
}

// CommitListener is told about every generation the writer publishes.
type CommitListener func(ctx context.Context, commit *generation.CommitPoint)

type Option func(*Writer)

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Writer) { w.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) { w.logger = l }
}

func WithCommitListener(l CommitListener) Option {
	return func(w *Writer) { w.listeners = append(w.listeners, l) }
}

// Writer is the single mutator of a Manager's index. All methods are safe
// for concurrent use; Commit holds the writer's lock for its whole duration.
type Writer struct {
	mgr         *generation.Manager
	analyzer    analysis.Analyzer
	compression segment.Compression
	logger      *slog.Logger
	metrics     *metrics.Metrics
	listeners   []CommitListener

	mu          sync.Mutex
	closed      bool
	base        *generation.Snapshot
	buf         *index.Buffer
	bufDeleted  *roaring.Bitmap
	pending     map[string]*roaring.Bitmap
	deleteAll   bool
	forceMerge  bool
	dirty       bool
	nextSegment int64
}

// OpenWriter takes the manager's writer lock, which includes the directory
// write lock; a writer already open on the same storage, in this process or
// another, makes it fail with ErrWriterLocked. Files left behind by an
// interrupted commit are removed before the writer is returned.
func OpenWriter(ctx context.Context, mgr *generation.Manager, cfg Config, opts ...Option) (*Writer, error) {
	analyzer, err := analysis.New(cfg.Analyzer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrOpenFailed, err)
	}
	if err := mgr.LockWriter(ctx); err != nil {
		return nil, err
	}
	base, err := mgr.Acquire()
	if err != nil {
		mgr.UnlockWriter()
		return nil, fmt.Errorf("%w: %w", apperrors.ErrOpenFailed, err)
	}

	w := &Writer{
		mgr:         mgr,
		analyzer:    analyzer,
		compression: cfg.Compression,
		logger:      slog.Default().With("component", "indexer"),
		base:        base,
		buf:         index.NewBuffer(),
		bufDeleted:  roaring.New(),
		pending:     make(map[string]*roaring.Bitmap),
		nextSegment: base.Commit().NextSegment,
	}
	for _, opt := range opts {
		opt(w)
	}

	if n, err := mgr.SweepOrphans(ctx); err != nil {
		w.logger.Warn("sweeping orphaned index files", "error", err)
	} else if n > 0 {
		w.logger.Info("removed orphaned index files", "count", n)
	}
	w.logger.Info("index writer opened",
		"generation", base.Generation(),
		"analyzer", analyzer.Name(),
		"compression", cfg.Compression.String(),
	)
	return w, nil
}

// AddDocument buffers doc. It becomes visible to searchers opened after the
// next successful commit.
func (w *Writer) AddDocument(doc document.Document) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return apperrors.ErrWriterClosed
	}
	return w.addLocked(doc)
}

func (w *Writer) addLocked(doc document.Document) error {
	docID, err := w.buf.AddDocument(doc, w.analyzer)
	if err != nil {
		return err
	}
	w.dirty = true
	if w.metrics != nil {
		w.metrics.DocsAddedTotal.Inc()
	}
	w.logger.Debug("document buffered",
		"buffer_doc", docID,
		"buffered_docs", w.buf.DocCount(),
		"buffer_size", w.buf.Size(),
	)
	return nil
}

// DeleteDocuments tombstones every document that has term: live documents
// of the committed index and documents buffered before this call. It
// returns how many documents were newly marked.
func (w *Writer) DeleteDocuments(term Term) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, apperrors.ErrWriterClosed
	}
	return w.deleteLocked(term), nil
}

func (w *Writer) deleteLocked(term Term) int {
	n := 0
	if !w.deleteAll {
		for _, v := range w.base.Segments() {
			for p := range v.Segment.Postings(term.Field, term.Text).All() {
				if v.IsDeleted(p.DocID) {
					continue
				}
				bm, ok := w.pending[v.Segment.Name]
				if !ok {
					bm = roaring.New()
					w.pending[v.Segment.Name] = bm
				}
				if bm.CheckedAdd(p.DocID) {
					n++
				}
			}
		}
	}
	for p := range w.buf.Postings(term.Field, term.Text).All() {
		if w.bufDeleted.CheckedAdd(p.DocID) {
			n++
		}
	}
	if n > 0 {
		w.dirty = true
		if w.metrics != nil {
			w.metrics.DocsDeletedTotal.Add(float64(n))
		}
	}
	w.logger.Debug("delete by term",
		"field", term.Field,
		"term", term.Text,
		"deleted", n,
	)
	return n
}

// UpdateDocument deletes the documents matching term and adds doc as one
// buffered change. An invalid doc leaves the index untouched.
func (w *Writer) UpdateDocument(term Term, doc document.Document) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return apperrors.ErrWriterClosed
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	w.deleteLocked(term)
	return w.addLocked(doc)
}

// DeleteAll drops every committed and buffered document. The next commit
// publishes an empty index unless documents are added in between.
func (w *Writer) DeleteAll() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return apperrors.ErrWriterClosed
	}
	dropped := w.liveBufferedLocked()
	if !w.deleteAll {
		dropped += w.base.LiveDocs() - w.pendingCountLocked()
	}
	w.deleteAll = true
	w.pending = make(map[string]*roaring.Bitmap)
	w.buf.Reset()
	w.bufDeleted.Clear()
	w.dirty = true
	if w.metrics != nil && dropped > 0 {
		w.metrics.DocsDeletedTotal.Add(float64(dropped))
	}
	w.logger.Info("all documents deleted", "dropped", dropped)
	return nil
}

// ForceMerge asks the next commit to rewrite the live documents of every
// segment into one segment. On its own it does not count as an uncommitted
// change.
func (w *Writer) ForceMerge() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return apperrors.ErrWriterClosed
	}
	w.forceMerge = true
	return nil
}

// Rollback discards every buffered change since the last commit. The writer
// stays open.
func (w *Writer) Rollback() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return apperrors.ErrWriterClosed
	}
	w.resetLocked()
	w.logger.Info("buffered changes rolled back", "generation", w.base.Generation())
	return nil
}

// HasUncommittedChanges reports whether Close without discard would fail.
func (w *Writer) HasUncommittedChanges() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirty
}

// BufferedDocs is the number of buffered documents not deleted again.
func (w *Writer) BufferedDocs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.liveBufferedLocked()
}

// Generation is the generation the writer's changes apply on top of.
func (w *Writer) Generation() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.base.Generation()
}

// Commit publishes the buffered changes as a new generation. It advances the
// generation even when nothing changed. On failure the previous generation
// stays current, the buffered changes are kept and the error wraps
// ErrCommitFailed; calling Commit again retries.
func (w *Writer) Commit(ctx context.Context) (*generation.CommitPoint, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, apperrors.ErrWriterClosed
	}
	start := time.Now()
	commit, err := w.commitLocked(ctx)
	w.mu.Unlock()

	if w.metrics != nil {
		status := "success"
		if err != nil {
			status = "failure"
		}
		w.metrics.CommitsTotal.WithLabelValues(status).Inc()
		w.metrics.CommitDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		w.logger.Error("commit failed", "error", err)
		return nil, fmt.Errorf("%w: %w", apperrors.ErrCommitFailed, err)
	}

	w.logger.Info("commit published",
		"generation", commit.Generation,
		"segments", len(commit.Segments),
		"live_docs", commit.LiveDocs(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	for _, l := range w.listeners {
		l(ctx, commit)
	}
	return commit, nil
}

func (w *Writer) commitLocked(ctx context.Context) (*generation.CommitPoint, error) {
	gen := w.base.Generation() + 1
	nextSegment := w.nextSegment

	var (
		infos   []generation.SegmentInfo
		sources []segment.Source
		newSegs []*segment.Segment
		dels    = make(map[string]*roaring.Bitmap)
	)
	if !w.deleteAll {
		for _, v := range w.base.Segments() {
			info, deleted := v.Info, v.Deleted
			if extra := w.pending[v.Segment.Name]; extra != nil && !extra.IsEmpty() {
				deleted = roaring.Or(v.Deleted, extra)
				info.DelGen = gen
				info.DelCount = uint32(deleted.GetCardinality())
			}
			if info.LiveDocs() == 0 {
				continue
			}
			if info.DelGen == gen {
				dels[segment.DeletesFileName(info.Name, gen)] = deleted
			}
			infos = append(infos, info)
			sources = append(sources, segment.Source{Segment: v.Segment, Deleted: deleted})
		}
	}

	if w.liveBufferedLocked() > 0 {
		seg := segment.FromBuffer(segment.Name(nextSegment), w.buf, w.bufDeleted)
		nextSegment++
		newSegs = append(newSegs, seg)
		infos = append(infos, generation.SegmentInfo{Name: seg.Name, MaxDoc: seg.MaxDoc})
		sources = append(sources, segment.Source{Segment: seg})
	}

	if w.forceMerge && needsMerge(sources) {
		merged := segment.Merge(segment.Name(nextSegment), sources)
		nextSegment++
		newSegs = []*segment.Segment{merged}
		infos = []generation.SegmentInfo{{Name: merged.Name, MaxDoc: merged.MaxDoc}}
		dels = make(map[string]*roaring.Bitmap)
		w.logger.Info("segments merged", "inputs", len(sources), "segment", merged.Name, "docs", merged.MaxDoc)
	}

	var written []string
	for _, seg := range newSegs {
		data, err := segment.Encode(seg, w.compression)
		if err != nil {
			w.cleanup(ctx, written)
			return nil, err
		}
		name := segment.FileName(seg.Name)
		if err := w.mgr.Directory().Write(ctx, name, data); err != nil {
			w.cleanup(ctx, written)
			return nil, fmt.Errorf("writing segment %s: %w", name, err)
		}
		written = append(written, name)
	}
	for name, deleted := range dels {
		data, err := segment.EncodeDeletes(deleted)
		if err != nil {
			w.cleanup(ctx, written)
			return nil, err
		}
		if err := w.mgr.Directory().Write(ctx, name, data); err != nil {
			w.cleanup(ctx, written)
			return nil, fmt.Errorf("writing tombstones %s: %w", name, err)
		}
		written = append(written, name)
	}

	commit := &generation.CommitPoint{
		Generation:  gen,
		Segments:    infos,
		NextSegment: nextSegment,
		CreatedAt:   time.Now().UTC(),
	}
	snap, err := w.mgr.Publish(ctx, commit, newSegs, dels)
	if err != nil {
		w.cleanup(ctx, written)
		return nil, err
	}

	w.mgr.Release(w.base)
	w.base = snap
	w.nextSegment = nextSegment
	w.resetLocked()
	return commit, nil
}

// needsMerge reports whether merging would change anything: several
// segments, or a single one still carrying tombstones.
func needsMerge(sources []segment.Source) bool {
	if len(sources) > 1 {
		return true
	}
	return len(sources) == 1 && sources[0].Deleted != nil && !sources[0].Deleted.IsEmpty()
}

// cleanup removes files of a commit that was never published.
func (w *Writer) cleanup(ctx context.Context, files []string) {
	ctx = context.WithoutCancel(ctx)
	for _, name := range files {
		if err := w.mgr.Directory().Delete(ctx, name); err != nil {
			w.logger.Warn("removing file of failed commit", "file", name, "error", err)
		}
	}
}

// Close releases the writer lock. With pending changes it fails with
// ErrUncommittedDataLost and the writer stays open, unless discard is set.
func (w *Writer) Close(ctx context.Context, discard bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return apperrors.ErrWriterClosed
	}
	if w.dirty && !discard {
		return fmt.Errorf("%w: %d buffered documents, generation %d",
			apperrors.ErrUncommittedDataLost, w.liveBufferedLocked(), w.base.Generation())
	}
	if w.dirty {
		w.logger.Warn("discarding uncommitted changes", "buffered_docs", w.liveBufferedLocked())
	}
	w.resetLocked()
	w.closed = true
	w.mgr.Release(w.base)
	w.mgr.UnlockWriter()
	w.logger.Info("index writer closed", "generation", w.base.Generation())
	return nil
}

func (w *Writer) resetLocked() {
	w.buf.Reset()
	w.bufDeleted.Clear()
	w.pending = make(map[string]*roaring.Bitmap)
	w.deleteAll = false
	w.forceMerge = false
	w.dirty = false
}

func (w *Writer) liveBufferedLocked() int {
	return w.buf.DocCount() - int(w.bufDeleted.GetCardinality())
}

func (w *Writer) pendingCountLocked() int {
	n := 0
	for _, bm := range w.pending {
		n += int(bm.GetCardinality())
	}
	return n
}
