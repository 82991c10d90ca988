package executor

import (
	"slices"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/searcher/ranker"
)

// Scorer iterates the matching segment-local documents of a query in
// ascending order. DocID and Score are valid only after Next or Advance
// returned true.
type Scorer interface {
	Next() bool
	// Advance moves to the first match >= target. A scorer already
	// positioned at or past target stays where it is.
	Advance(target uint32) bool
	DocID() uint32
	Score() float64
	// Cost estimates how many documents the scorer may match.
	Cost() int
}

type termScorer struct {
	it *index.Iterator
}

func newTermScorer(pl index.PostingList) *termScorer {
	return &termScorer{it: pl.Iterator()}
}

func (s *termScorer) Next() bool                 { return s.it.Next() }
func (s *termScorer) Advance(target uint32) bool { return s.it.Advance(target) }
func (s *termScorer) DocID() uint32              { return s.it.DocID() }
func (s *termScorer) Score() float64             { return ranker.TermScore(s.it.Freq()) }
func (s *termScorer) Cost() int                  { return s.it.Cost() }

// conjunctionScorer matches documents present in every sub-scorer. The
// cheapest scorer leads and the others leapfrog to its candidates.
type conjunctionScorer struct {
	subs []Scorer
	doc  uint32
}

func newConjunction(subs []Scorer) Scorer {
	if len(subs) == 1 {
		return subs[0]
	}
	subs = slices.Clone(subs)
	slices.SortStableFunc(subs, func(a, b Scorer) int { return a.Cost() - b.Cost() })
	return &conjunctionScorer{subs: subs}
}

func (s *conjunctionScorer) Next() bool {
	if !s.subs[0].Next() {
		return false
	}
	return s.align()
}

func (s *conjunctionScorer) Advance(target uint32) bool {
	if !s.subs[0].Advance(target) {
		return false
	}
	return s.align()
}

func (s *conjunctionScorer) align() bool {
	target := s.subs[0].DocID()
	for {
		matched := true
		for _, sub := range s.subs[1:] {
			if !sub.Advance(target) {
				return false
			}
			if d := sub.DocID(); d > target {
				if !s.subs[0].Advance(d) {
					return false
				}
				target = s.subs[0].DocID()
				matched = false
				break
			}
		}
		if matched {
			s.doc = target
			return true
		}
	}
}

func (s *conjunctionScorer) DocID() uint32 { return s.doc }

func (s *conjunctionScorer) Score() float64 {
	var score float64
	for _, sub := range s.subs {
		score += sub.Score()
	}
	return score
}

func (s *conjunctionScorer) Cost() int { return s.subs[0].Cost() }

type disjunctionSub struct {
	scorer Scorer
	ok     bool
}

// disjunctionScorer matches documents present in any sub-scorer and sums
// the scores of the sub-scorers positioned on the current document.
type disjunctionScorer struct {
	subs       []disjunctionSub
	started    bool
	positioned bool
	doc        uint32
}

func newDisjunction(subs []Scorer) Scorer {
	if len(subs) == 1 {
		return subs[0]
	}
	d := &disjunctionScorer{subs: make([]disjunctionSub, len(subs))}
	for i, sub := range subs {
		d.subs[i].scorer = sub
	}
	return d
}

func (s *disjunctionScorer) Next() bool {
	if !s.started {
		s.started = true
		for i := range s.subs {
			s.subs[i].ok = s.subs[i].scorer.Next()
		}
		return s.settle()
	}
	for i := range s.subs {
		sub := &s.subs[i]
		if sub.ok && sub.scorer.DocID() == s.doc {
			sub.ok = sub.scorer.Next()
		}
	}
	return s.settle()
}

func (s *disjunctionScorer) Advance(target uint32) bool {
	if !s.started {
		s.started = true
		for i := range s.subs {
			s.subs[i].ok = s.subs[i].scorer.Advance(target)
		}
		return s.settle()
	}
	if s.positioned && s.doc >= target {
		return true
	}
	for i := range s.subs {
		sub := &s.subs[i]
		if sub.ok && sub.scorer.DocID() < target {
			sub.ok = sub.scorer.Advance(target)
		}
	}
	return s.settle()
}

func (s *disjunctionScorer) settle() bool {
	s.positioned = false
	for _, sub := range s.subs {
		if !sub.ok {
			continue
		}
		if d := sub.scorer.DocID(); !s.positioned || d < s.doc {
			s.doc = d
			s.positioned = true
		}
	}
	return s.positioned
}

func (s *disjunctionScorer) DocID() uint32 { return s.doc }

func (s *disjunctionScorer) Score() float64 {
	var score float64
	for _, sub := range s.subs {
		if sub.ok && sub.scorer.DocID() == s.doc {
			score += sub.scorer.Score()
		}
	}
	return score
}

func (s *disjunctionScorer) Cost() int {
	var cost int
	for _, sub := range s.subs {
		cost += sub.scorer.Cost()
	}
	return cost
}

// exclusionScorer drops the required scorer's matches that the excluded
// scorer also matches.
type exclusionScorer struct {
	req      Scorer
	excl     Scorer
	exclDone bool
}

func newExclusion(req, excl Scorer) Scorer {
	return &exclusionScorer{req: req, excl: excl}
}

func (s *exclusionScorer) Next() bool {
	if !s.req.Next() {
		return false
	}
	return s.skipExcluded()
}

func (s *exclusionScorer) Advance(target uint32) bool {
	if !s.req.Advance(target) {
		return false
	}
	return s.skipExcluded()
}

func (s *exclusionScorer) skipExcluded() bool {
	for {
		doc := s.req.DocID()
		if !s.excluded(doc) {
			return true
		}
		if !s.req.Next() {
			return false
		}
	}
}

func (s *exclusionScorer) excluded(doc uint32) bool {
	if s.exclDone {
		return false
	}
	if !s.excl.Advance(doc) {
		s.exclDone = true
		return false
	}
	return s.excl.DocID() == doc
}

func (s *exclusionScorer) DocID() uint32  { return s.req.DocID() }
func (s *exclusionScorer) Score() float64 { return s.req.Score() }
func (s *exclusionScorer) Cost() int      { return s.req.Cost() }

// reqOptScorer matches the required scorer's documents and adds the score
// of the optional scorer where it matches too.
type reqOptScorer struct {
	req     Scorer
	opt     Scorer
	optDone bool
}

func newReqOpt(req, opt Scorer) Scorer {
	return &reqOptScorer{req: req, opt: opt}
}

func (s *reqOptScorer) Next() bool                 { return s.req.Next() }
func (s *reqOptScorer) Advance(target uint32) bool { return s.req.Advance(target) }
func (s *reqOptScorer) DocID() uint32              { return s.req.DocID() }
func (s *reqOptScorer) Cost() int                  { return s.req.Cost() }

func (s *reqOptScorer) Score() float64 {
	score := s.req.Score()
	if s.optDone {
		return score
	}
	doc := s.req.DocID()
	if !s.opt.Advance(doc) {
		s.optDone = true
		return score
	}
	if s.opt.DocID() == doc {
		score += s.opt.Score()
	}
	return score
}
