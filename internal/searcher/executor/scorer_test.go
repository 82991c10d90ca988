package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/index"
)

func postings(ids ...uint32) index.PostingList {
	pl := make(index.PostingList, len(ids))
	for i, id := range ids {
		pl[i] = index.Posting{DocID: id, Freq: 1}
	}
	return pl
}

func term(ids ...uint32) Scorer {
	return newTermScorer(postings(ids...))
}

type match struct {
	doc   uint32
	score float64
}

func drain(s Scorer) []match {
	var out []match
	for s.Next() {
		out = append(out, match{s.DocID(), s.Score()})
	}
	return out
}

func TestConjunction(t *testing.T) {
	s := newConjunction([]Scorer{term(1, 3, 5, 7, 9), term(3, 4, 9), term(0, 3, 8, 9, 10)})
	assert.Equal(t, []match{{3, 3}, {9, 3}}, drain(s))
}

func TestConjunctionDisjoint(t *testing.T) {
	s := newConjunction([]Scorer{term(1, 2), term(3, 4)})
	assert.Empty(t, drain(s))
}

func TestDisjunction(t *testing.T) {
	s := newDisjunction([]Scorer{term(1, 5), term(2, 5), term(5, 8)})
	assert.Equal(t, []match{{1, 1}, {2, 1}, {5, 3}, {8, 1}}, drain(s))
}

func TestDisjunctionAdvance(t *testing.T) {
	s := newDisjunction([]Scorer{term(1, 5, 9), term(2, 6)})
	assert.True(t, s.Advance(4))
	assert.Equal(t, uint32(5), s.DocID())
	assert.True(t, s.Advance(3), "positioned past target stays put")
	assert.Equal(t, uint32(5), s.DocID())
	assert.True(t, s.Next())
	assert.Equal(t, uint32(6), s.DocID())
	assert.False(t, s.Advance(10))
}

func TestExclusion(t *testing.T) {
	s := newExclusion(term(1, 2, 3, 4), term(2, 4, 6))
	assert.Equal(t, []match{{1, 1}, {3, 1}}, drain(s))
}

func TestReqOpt(t *testing.T) {
	s := newReqOpt(term(1, 2, 3), term(2, 5))
	assert.Equal(t, []match{{1, 1}, {2, 2}, {3, 1}}, drain(s))
}

func TestNestedConjunctionOfDisjunctions(t *testing.T) {
	s := newConjunction([]Scorer{
		newDisjunction([]Scorer{term(1, 4), term(2, 6)}),
		newDisjunction([]Scorer{term(2, 3), term(4)}),
	})
	assert.Equal(t, []match{{2, 2}, {4, 2}}, drain(s))
}
