package merger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/searcher/ranker"
)

func TestMerge(t *testing.T) {
	first := []ranker.ScoredDoc{{DocID: 0, Score: 2}, {DocID: 1, Score: 1}}
	second := []ranker.ScoredDoc{{DocID: 5, Score: 3}, {DocID: 4, Score: 1}}

	got := Merge([][]ranker.ScoredDoc{first, second}, 3)
	assert.Equal(t, []ranker.ScoredDoc{{DocID: 5, Score: 3}, {DocID: 0, Score: 2}, {DocID: 1, Score: 1}}, got)
}

func TestCollectorTiesPreferLowerDocID(t *testing.T) {
	c := NewCollector(2)
	for _, id := range []uint32{9, 3, 7, 1} {
		c.Collect(ranker.ScoredDoc{DocID: id, Score: 1})
	}
	assert.Equal(t, 4, c.TotalHits())
	assert.Equal(t, []ranker.ScoredDoc{{DocID: 1, Score: 1}, {DocID: 3, Score: 1}}, c.Results())
}

func TestCollectorEmpty(t *testing.T) {
	assert.Empty(t, NewCollector(5).Results())
	assert.Empty(t, Merge(nil, 0))
}
