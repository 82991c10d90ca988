// Package executor runs queries against a generation snapshot. Each segment
// is searched independently and the per-segment top hits are merged.
package executor

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/generation"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/searcher/ranker"
)

// maxParallelSegments bounds the goroutines of a single search.
const maxParallelSegments = 8

type SearchResult struct {
	Query      string             `json:"query"`
	Generation int64              `json:"generation"`
	TotalHits  int                `json:"total_hits"`
	Results    []ranker.ScoredDoc `json:"results"`
}

type segmentResult struct {
	hits  []ranker.ScoredDoc
	total int
}

type Executor struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger.With("component", "query-executor")}
}

// Execute returns the limit best live documents of snap matching q, with
// global document ids.
func (e *Executor) Execute(ctx context.Context, snap *generation.Snapshot, q query.Query, limit int) (*SearchResult, error) {
	views := snap.Segments()
	results := make([]segmentResult, len(views))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelSegments)
	for i, view := range views {
		g.Go(func() error {
			res, err := searchSegment(gctx, view, q, limit)
			if err != nil {
				return fmt.Errorf("segment %s: %w", view.Info.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	perSegment := make([][]ranker.ScoredDoc, len(results))
	total := 0
	for i, r := range results {
		perSegment[i] = r.hits
		total += r.total
	}
	hits := merger.Merge(perSegment, limit)
	e.logger.Debug("query executed",
		"query", q.String(),
		"generation", snap.Generation(),
		"segments_queried", len(views),
		"total_hits", total,
		"results", len(hits),
	)
	return &SearchResult{
		Query:      q.String(),
		Generation: snap.Generation(),
		TotalHits:  total,
		Results:    hits,
	}, nil
}

// ctxCheckInterval is how many matches are scored between context checks.
const ctxCheckInterval = 1024

func searchSegment(ctx context.Context, view generation.SegmentView, q query.Query, limit int) (segmentResult, error) {
	scorer := buildScorer(view.Segment, q)
	if scorer == nil {
		return segmentResult{}, nil
	}
	c := merger.NewCollector(limit)
	for n := 0; scorer.Next(); n++ {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return segmentResult{}, err
			}
		}
		local := scorer.DocID()
		if view.IsDeleted(local) {
			continue
		}
		c.Collect(ranker.ScoredDoc{DocID: view.DocBase + local, Score: scorer.Score()})
	}
	return segmentResult{hits: c.Results(), total: c.TotalHits()}, nil
}

// buildScorer returns nil when q cannot match anything in seg.
func buildScorer(seg *segment.Segment, q query.Query) Scorer {
	switch v := q.(type) {
	case *query.TermQuery:
		pl := seg.Postings(v.Field, v.Term)
		if len(pl) == 0 {
			return nil
		}
		return newTermScorer(pl)
	case *query.BooleanQuery:
		return buildBoolean(seg, v)
	default:
		return nil
	}
}

func buildBoolean(seg *segment.Segment, q *query.BooleanQuery) Scorer {
	var must, should, mustNot []Scorer
	for _, c := range q.Clauses {
		s := buildScorer(seg, c.Query)
		switch c.Occur {
		case query.Must:
			if s == nil {
				return nil
			}
			must = append(must, s)
		case query.Should:
			if s != nil {
				should = append(should, s)
			}
		case query.MustNot:
			if s != nil {
				mustNot = append(mustNot, s)
			}
		}
	}

	var required Scorer
	switch {
	case len(must) > 0:
		required = newConjunction(must)
		if len(should) > 0 {
			required = newReqOpt(required, newDisjunction(should))
		}
	case len(should) > 0:
		required = newDisjunction(should)
	default:
		return nil
	}
	if len(mustNot) > 0 {
		required = newExclusion(required, newDisjunction(mustNot))
	}
	return required
}
