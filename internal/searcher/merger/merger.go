// Package merger keeps the best hits of a search, per segment and across
// segments.
package merger

import (
	"container/heap"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/searcher/ranker"
)

// Collector retains the limit best documents offered to it. It is not safe
// for concurrent use.
type Collector struct {
	limit int
	h     scoredDocHeap
	total int
}

func NewCollector(limit int) *Collector {
	if limit <= 0 {
		limit = 10
	}
	return &Collector{limit: limit}
}

// Collect offers one matching document.
func (c *Collector) Collect(doc ranker.ScoredDoc) {
	c.total++
	if c.h.Len() < c.limit {
		heap.Push(&c.h, doc)
		return
	}
	if ranker.Better(doc, c.h[0]) {
		c.h[0] = doc
		heap.Fix(&c.h, 0)
	}
}

// TotalHits is the number of documents offered, retained or not.
func (c *Collector) TotalHits() int {
	return c.total
}

// Results drains the collector, best first.
func (c *Collector) Results() []ranker.ScoredDoc {
	result := make([]ranker.ScoredDoc, c.h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&c.h).(ranker.ScoredDoc)
	}
	return result
}

// Merge combines already ranked per-segment results into the global top
// limit.
func Merge(segmentResults [][]ranker.ScoredDoc, limit int) []ranker.ScoredDoc {
	c := NewCollector(limit)
	for _, results := range segmentResults {
		for _, doc := range results {
			c.Collect(doc)
		}
	}
	return c.Results()
}

// scoredDocHeap is a min-heap on rank: the root is the worst retained hit.
type scoredDocHeap []ranker.ScoredDoc

func (h scoredDocHeap) Len() int { return len(h) }

func (h scoredDocHeap) Less(i, j int) bool {
	return ranker.Better(h[j], h[i])
}

func (h scoredDocHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredDocHeap) Push(x any) {
	*h = append(*h, x.(ranker.ScoredDoc))
}

func (h *scoredDocHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
