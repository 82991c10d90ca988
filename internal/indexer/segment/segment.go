// Package segment holds the immutable, independently searchable slices of
// the index produced by commits, together with their on-disk encoding.
package segment

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/storedfields"
)

// Segment is never mutated after it is built. Document ids are local to the
// segment and dense in [0, MaxDoc).
type Segment struct {
	Name      string
	MaxDoc    uint32
	CreatedAt time.Time

	terms  []index.TermEntry
	stored *storedfields.Store
}

// Name formats the segment name for a writer counter value.
func Name(counter int64) string {
	return "_" + strconv.FormatInt(counter, 36)
}

// FileName is the directory entry holding the segment body.
func FileName(name string) string {
	return name + ".seg"
}

func newSegment(name string, maxDoc uint32, terms []index.TermEntry, stored *storedfields.Store) *Segment {
	return &Segment{
		Name:      name,
		MaxDoc:    maxDoc,
		CreatedAt: time.Now().UTC(),
		terms:     terms,
		stored:    stored,
	}
}

// Postings returns the postings of (field, term), or nil when the segment
// does not contain the term. The returned list must not be modified.
func (s *Segment) Postings(field, term string) index.PostingList {
	i := sort.Search(len(s.terms), func(i int) bool {
		e := s.terms[i]
		if e.Field != field {
			return e.Field >= field
		}
		return e.Term >= term
	})
	if i >= len(s.terms) || s.terms[i].Field != field || s.terms[i].Term != term {
		return nil
	}
	return s.terms[i].Postings
}

// Document resolves the stored fields of a segment-local document id.
func (s *Segment) Document(docID uint32) (map[string]string, error) {
	if docID >= s.MaxDoc {
		return nil, fmt.Errorf("segment %s: doc %d out of range [0,%d)", s.Name, docID, s.MaxDoc)
	}
	return s.stored.Get(docID)
}

// Entries returns the raw stored entries of a document, preserving repeated
// field names.
func (s *Segment) Entries(docID uint32) ([]storedfields.Entry, bool) {
	return s.stored.Entries(docID)
}

func (s *Segment) Terms() []index.TermEntry {
	return s.terms
}

func (s *Segment) TermCount() int {
	return len(s.terms)
}

// FromBuffer freezes the writer buffer into a segment. Buffered documents in
// deleted never reach the segment; the survivors are renumbered densely in
// their original order.
func FromBuffer(name string, buf *index.Buffer, deleted *roaring.Bitmap) *Segment {
	remap := make([]int64, buf.DocCount())
	var next uint32
	for old := range remap {
		if deleted != nil && deleted.Contains(uint32(old)) {
			remap[old] = -1
			continue
		}
		remap[old] = int64(next)
		next++
	}

	entries := buf.Snapshot()
	terms := entries[:0]
	for _, e := range entries {
		pl := e.Postings[:0]
		for _, p := range e.Postings {
			if id := remap[p.DocID]; id >= 0 {
				pl = append(pl, index.Posting{DocID: uint32(id), Freq: p.Freq})
			}
		}
		if len(pl) > 0 {
			e.Postings = pl
			terms = append(terms, e)
		}
	}

	stored := storedfields.New()
	for _, rec := range buf.Stored().Records() {
		if id := remap[rec.DocID]; id >= 0 {
			stored.PutEntries(uint32(id), rec.Fields)
		}
	}
	return newSegment(name, next, terms, stored)
}

// Source is one input of Merge: a segment and the documents deleted from it.
type Source struct {
	Segment *Segment
	Deleted *roaring.Bitmap
}

// Merge rewrites the live documents of sources into a single segment.
// Documents keep their relative order; ids are assigned densely across the
// sources in the order given.
func Merge(name string, sources []Source) *Segment {
	var base uint32
	remaps := make([][]int64, len(sources))
	for i, src := range sources {
		remap := make([]int64, src.Segment.MaxDoc)
		for old := range remap {
			if src.Deleted != nil && src.Deleted.Contains(uint32(old)) {
				remap[old] = -1
				continue
			}
			remap[old] = int64(base)
			base++
		}
		remaps[i] = remap
	}

	type key struct{ field, term string }
	merged := make(map[key]index.PostingList)
	stored := storedfields.New()
	for i, src := range sources {
		remap := remaps[i]
		for _, e := range src.Segment.terms {
			k := key{e.Field, e.Term}
			pl := merged[k]
			for _, p := range e.Postings {
				if id := remap[p.DocID]; id >= 0 {
					pl = append(pl, index.Posting{DocID: uint32(id), Freq: p.Freq})
				}
			}
			if len(pl) > 0 {
				merged[k] = pl
			}
		}
		for old, id := range remap {
			if id < 0 {
				continue
			}
			entries, _ := src.Segment.stored.Entries(uint32(old))
			stored.PutEntries(uint32(id), entries)
		}
	}

	terms := make([]index.TermEntry, 0, len(merged))
	for k, pl := range merged {
		terms = append(terms, index.TermEntry{Field: k.field, Term: k.term, Postings: pl})
	}
	index.SortEntries(terms)
	return newSegment(name, base, terms, stored)
}
