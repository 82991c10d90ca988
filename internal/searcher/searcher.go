// Package searcher gives point-in-time read access to an index. A Searcher
// pins the generation that was current when it was opened; later commits
// are invisible to it until a new Searcher is opened.
package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/generation"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

// Hit is a matching document and its score.
type Hit = ranker.ScoredDoc

// TopDocs is the result of a search: the total number of live matches and
// the best of them in rank order.
type TopDocs struct {
	TotalHits  int   `json:"total_hits"`
	Hits       []Hit `json:"hits"`
	Generation int64 `json:"generation"`
}

type Searcher struct {
	mgr      *generation.Manager
	snap     *generation.Snapshot
	executor *executor.Executor
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
}

type Option func(*Searcher)

func WithLogger(l *slog.Logger) Option {
	return func(s *Searcher) { s.logger = l }
}

// Open pins the manager's current generation.
func Open(mgr *generation.Manager, opts ...Option) (*Searcher, error) {
	snap, err := mgr.Acquire()
	if err != nil {
		if errors.Is(err, generation.ErrClosed) {
			return nil, fmt.Errorf("opening searcher: %w: %w", apperrors.ErrSearcherClosed, err)
		}
		return nil, fmt.Errorf("opening searcher: %w", err)
	}
	s := &Searcher{mgr: mgr, snap: snap, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "searcher", "generation", snap.Generation())
	s.executor = executor.New(s.logger)
	return s, nil
}

// MaxDoc is the number of live documents in the pinned generation.
func (s *Searcher) MaxDoc() (int, error) {
	snap, err := s.snapshot()
	if err != nil {
		return 0, err
	}
	return snap.LiveDocs(), nil
}

func (s *Searcher) Generation() int64 {
	return s.snap.Generation()
}

// Segments is the number of segments in the pinned generation.
func (s *Searcher) Segments() int {
	return len(s.snap.Segments())
}

// Search returns at most limit hits for q ordered by descending score,
// ties broken by ascending document id.
func (s *Searcher) Search(ctx context.Context, q query.Query, limit int) (*TopDocs, error) {
	if q == nil {
		return nil, fmt.Errorf("%w: nil query", apperrors.ErrInvalidInput)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", apperrors.ErrInvalidInput, limit)
	}
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	res, err := s.executor.Execute(ctx, snap, q, limit)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", q.String(), err)
	}
	return &TopDocs{
		TotalHits:  res.TotalHits,
		Hits:       res.Results,
		Generation: res.Generation,
	}, nil
}

// SearchTerm is shorthand for a single TermQuery.
func (s *Searcher) SearchTerm(ctx context.Context, field, term string, limit int) (*TopDocs, error) {
	return s.Search(ctx, query.NewTerm(field, term), limit)
}

// Document returns the stored fields of a live document. Fields that were
// indexed but not stored are absent.
func (s *Searcher) Document(docID uint32) (map[string]string, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return snap.Document(docID)
}

// Close releases the pinned generation. Closing twice is a no-op.
func (s *Searcher) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.mgr.Release(s.snap)
	return nil
}

func (s *Searcher) snapshot() (*generation.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, apperrors.ErrSearcherClosed
	}
	return s.snap, nil
}
