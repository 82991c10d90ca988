// Package ranker scores matches. Scoring is term-frequency only: a matching
// term clause contributes freq*ScoreNorm and boolean clauses add up. There is
// no inverse document frequency or length normalisation, so scores are
// comparable across segments without collecting global statistics.
package ranker

import "sort"

// ScoreNorm is the per-occurrence weight of a term.
const ScoreNorm = 1.0

// ScoredDoc is one hit, identified by its global document id.
type ScoredDoc struct {
	DocID uint32  `json:"doc_id" msgpack:"d"`
	Score float64 `json:"score" msgpack:"s"`
}

// TermScore is the contribution of a term occurring freq times.
func TermScore(freq uint32) float64 {
	return float64(freq) * ScoreNorm
}

// Better reports whether a ranks ahead of b: higher score first, then the
// lower document id.
func Better(a, b ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}

// Sort orders docs best first.
func Sort(docs []ScoredDoc) {
	sort.Slice(docs, func(i, j int) bool { return Better(docs[i], docs[j]) })
}
