// Package storedfields keeps the retrievable field values of documents,
// keyed by segment-local document id.
package storedfields

import (
	"fmt"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

// Entry is one stored name/value pair.
type Entry struct {
	Name  string `msgpack:"n"`
	Value string `msgpack:"v"`
}

// Record is the stored form of one document, used by the segment codec.
type Record struct {
	DocID  uint32  `msgpack:"d"`
	Fields []Entry `msgpack:"f"`
}

// Store maps document ids to their stored fields. It is not safe for
// concurrent mutation; the writer serialises access to its buffer store and
// segment stores are never mutated after they are built.
type Store struct {
	docs map[uint32][]Entry
}

func New() *Store {
	return &Store{docs: make(map[uint32][]Entry)}
}

// FromRecords rebuilds a store from decoded segment records.
func FromRecords(records []Record) *Store {
	s := &Store{docs: make(map[uint32][]Entry, len(records))}
	for _, r := range records {
		s.docs[r.DocID] = r.Fields
	}
	return s
}

// Put records the stored fields of doc under docID. Fields that are not
// marked stored are ignored. A document with no stored fields is still
// recorded so Get can tell it apart from an unknown id.
func (s *Store) Put(docID uint32, fields []document.Field) {
	entries := make([]Entry, 0, len(fields))
	for _, f := range fields {
		if f.Stored {
			entries = append(entries, Entry{Name: f.Name, Value: f.Value})
		}
	}
	s.docs[docID] = entries
}

// PutEntries records already-filtered entries, as read back from a segment.
func (s *Store) PutEntries(docID uint32, entries []Entry) {
	if entries == nil {
		entries = []Entry{}
	}
	s.docs[docID] = entries
}

// Get returns the first value of every stored field of docID.
func (s *Store) Get(docID uint32) (map[string]string, error) {
	entries, ok := s.docs[docID]
	if !ok {
		return nil, fmt.Errorf("stored fields for doc %d: %w", docID, apperrors.ErrNotFound)
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if _, exists := out[e.Name]; !exists {
			out[e.Name] = e.Value
		}
	}
	return out, nil
}

// Values returns every stored value of the named field, in insertion order.
func (s *Store) Values(docID uint32, name string) []string {
	var out []string
	for _, e := range s.docs[docID] {
		if e.Name == name {
			out = append(out, e.Value)
		}
	}
	return out
}

// Entries returns the raw stored entries of docID.
func (s *Store) Entries(docID uint32) ([]Entry, bool) {
	entries, ok := s.docs[docID]
	return entries, ok
}

func (s *Store) Delete(docID uint32) {
	delete(s.docs, docID)
}

func (s *Store) Len() int {
	return len(s.docs)
}

// Records returns the store contents ordered by document id.
func (s *Store) Records() []Record {
	out := make([]Record, 0, len(s.docs))
	for id, fields := range s.docs {
		out = append(out, Record{DocID: id, Fields: fields})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DocID < out[j].DocID
	})
	return out
}
