package index

import (
	"iter"
	"sort"
)

// Posting links a term to one document and its in-document frequency.
type Posting struct {
	DocID uint32 `msgpack:"d"`
	Freq  uint32 `msgpack:"f"`
}

// PostingList is ordered by ascending DocID.
type PostingList []Posting

// TermEntry is the postings of a single (field, term) pair.
type TermEntry struct {
	Field    string      `msgpack:"f"`
	Term     string      `msgpack:"t"`
	Postings PostingList `msgpack:"p"`
}

// DocFreq is the number of documents containing the term.
func (pl PostingList) DocFreq() int {
	return len(pl)
}

// All yields the postings in DocID order. Every range over the returned
// sequence starts again from the first posting.
func (pl PostingList) All() iter.Seq[Posting] {
	return func(yield func(Posting) bool) {
		for _, p := range pl {
			if !yield(p) {
				return
			}
		}
	}
}

// Iterator returns a fresh cursor positioned before the first posting.
func (pl PostingList) Iterator() *Iterator {
	return &Iterator{postings: pl, pos: -1}
}

// Iterator walks a PostingList and supports skipping forward to a target
// document, which conjunctions use to leapfrog between lists.
type Iterator struct {
	postings PostingList
	pos      int
}

// Next advances to the next posting. It returns false once exhausted.
func (it *Iterator) Next() bool {
	if it.pos < len(it.postings) {
		it.pos++
	}
	return it.pos < len(it.postings)
}

// DocID is valid only after Next or Advance returned true.
func (it *Iterator) DocID() uint32 {
	return it.postings[it.pos].DocID
}

func (it *Iterator) Freq() uint32 {
	return it.postings[it.pos].Freq
}

// Advance moves to the first posting with DocID >= target. Already being
// positioned at or past target is not an error; the cursor stays put.
func (it *Iterator) Advance(target uint32) bool {
	if it.pos >= 0 && it.pos < len(it.postings) && it.postings[it.pos].DocID >= target {
		return true
	}
	start := it.pos + 1
	if start < 0 {
		start = 0
	}
	if start >= len(it.postings) {
		it.pos = len(it.postings)
		return false
	}
	rest := it.postings[start:]
	it.pos = start + sort.Search(len(rest), func(i int) bool {
		return rest[i].DocID >= target
	})
	return it.pos < len(it.postings)
}

// Cost is the total number of postings, used to order conjunction clauses.
func (it *Iterator) Cost() int {
	return len(it.postings)
}

// Reset rewinds the cursor to before the first posting.
func (it *Iterator) Reset() {
	it.pos = -1
}
