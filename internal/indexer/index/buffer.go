package index

import (
	"slices"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/analysis"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/storedfields"
)

// Buffer is the writer-owned, mutable inverted index that accumulates
// documents until the next commit. Document ids are assigned densely from
// zero. Buffer does no locking of its own.
type Buffer struct {
	fields  map[string]map[string]PostingList
	stored  *storedfields.Store
	nextDoc uint32
	size    int64
}

func NewBuffer() *Buffer {
	return &Buffer{
		fields: make(map[string]map[string]PostingList),
		stored: storedfields.New(),
	}
}

// AddTerm records one occurrence of term in field for docID, incrementing
// the frequency when the document already has a posting.
func (b *Buffer) AddTerm(field, term string, docID uint32) {
	terms, ok := b.fields[field]
	if !ok {
		terms = make(map[string]PostingList)
		b.fields[field] = terms
	}
	pl, exists := terms[term]
	if !exists {
		b.size += int64(len(field) + len(term) + 48)
	}
	n := len(pl)
	switch {
	case n > 0 && pl[n-1].DocID == docID:
		pl[n-1].Freq++
	case n == 0 || pl[n-1].DocID < docID:
		pl = append(pl, Posting{DocID: docID, Freq: 1})
		b.size += 8
	default:
		idx := sort.Search(n, func(i int) bool { return pl[i].DocID >= docID })
		if pl[idx].DocID == docID {
			pl[idx].Freq++
		} else {
			pl = slices.Insert(pl, idx, Posting{DocID: docID, Freq: 1})
			b.size += 8
		}
	}
	terms[term] = pl
}

// AddDocument validates doc, assigns it the next document id and indexes
// its fields. Tokenized fields go through the analyzer; other indexed fields
// become a single term equal to the whole value.
func (b *Buffer) AddDocument(doc document.Document, a analysis.Analyzer) (uint32, error) {
	if err := doc.Validate(); err != nil {
		return 0, err
	}
	docID := b.nextDoc
	b.nextDoc++
	for _, f := range doc.Fields {
		if !f.Indexed {
			continue
		}
		if !f.Tokenized {
			b.AddTerm(f.Name, f.Value, docID)
			continue
		}
		for _, tok := range a.Analyze(f.Value) {
			b.AddTerm(f.Name, tok.Term, docID)
		}
	}
	b.stored.Put(docID, doc.Fields)
	for _, f := range doc.Fields {
		if f.Stored {
			b.size += int64(len(f.Name) + len(f.Value))
		}
	}
	return docID, nil
}

// Postings returns the buffered postings of (field, term). The slice shares
// the buffer's backing array and must not be modified.
func (b *Buffer) Postings(field, term string) PostingList {
	return b.fields[field][term]
}

// Snapshot copies the buffered postings, sorted by field then term.
func (b *Buffer) Snapshot() []TermEntry {
	entries := make([]TermEntry, 0, b.termCount())
	for field, terms := range b.fields {
		for term, pl := range terms {
			entries = append(entries, TermEntry{
				Field:    field,
				Term:     term,
				Postings: slices.Clone(pl),
			})
		}
	}
	SortEntries(entries)
	return entries
}

func (b *Buffer) Stored() *storedfields.Store {
	return b.stored
}

// DocCount is the number of documents added since the last reset.
func (b *Buffer) DocCount() int {
	return int(b.nextDoc)
}

// Size is an approximate memory footprint in bytes.
func (b *Buffer) Size() int64 {
	return b.size
}

func (b *Buffer) Reset() {
	b.fields = make(map[string]map[string]PostingList)
	b.stored = storedfields.New()
	b.nextDoc = 0
	b.size = 0
}

func (b *Buffer) termCount() int {
	n := 0
	for _, terms := range b.fields {
		n += len(terms)
	}
	return n
}

// SortEntries orders entries by field, then term.
func SortEntries(entries []TermEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Field != entries[j].Field {
			return entries[i].Field < entries[j].Field
		}
		return entries[i].Term < entries[j].Term
	})
}
