package generation

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

// SegmentView is a segment as seen by one generation: the immutable segment
// plus the tombstones in effect for that generation. Global document ids of
// the segment start at DocBase.
type SegmentView struct {
	Info    SegmentInfo
	Segment *segment.Segment
	Deleted *roaring.Bitmap
	DocBase uint32
}

// IsDeleted reports whether the segment-local id is tombstoned.
func (v SegmentView) IsDeleted(localID uint32) bool {
	return v.Deleted.Contains(localID)
}

// Snapshot is the immutable state of one generation. Snapshots are shared
// between every holder of the generation and must not be modified.
type Snapshot struct {
	commit   *CommitPoint
	segments []SegmentView
	maxDoc   uint32
	liveDocs int
}

func newSnapshot(commit *CommitPoint, segs []*segment.Segment, dels []*roaring.Bitmap) *Snapshot {
	s := &Snapshot{commit: commit, segments: make([]SegmentView, len(segs))}
	for i, seg := range segs {
		deleted := dels[i]
		if deleted == nil {
			deleted = roaring.New()
		}
		s.segments[i] = SegmentView{
			Info:    commit.Segments[i],
			Segment: seg,
			Deleted: deleted,
			DocBase: s.maxDoc,
		}
		s.maxDoc += seg.MaxDoc
		s.liveDocs += int(seg.MaxDoc) - int(deleted.GetCardinality())
	}
	return s
}

func (s *Snapshot) Generation() int64 {
	return s.commit.Generation
}

func (s *Snapshot) Commit() *CommitPoint {
	return s.commit
}

func (s *Snapshot) Segments() []SegmentView {
	return s.segments
}

// LiveDocs is the number of documents not tombstoned in this generation.
func (s *Snapshot) LiveDocs() int {
	return s.liveDocs
}

// DocIDSpace is one past the largest global document id of the snapshot,
// deleted documents included.
func (s *Snapshot) DocIDSpace() uint32 {
	return s.maxDoc
}

// Resolve maps a global document id to its segment and local id.
func (s *Snapshot) Resolve(docID uint32) (SegmentView, uint32, bool) {
	i := sort.Search(len(s.segments), func(i int) bool {
		v := s.segments[i]
		return v.DocBase+v.Segment.MaxDoc > docID
	})
	if i >= len(s.segments) {
		return SegmentView{}, 0, false
	}
	v := s.segments[i]
	return v, docID - v.DocBase, true
}

// Document resolves the stored fields of a live global document id.
func (s *Snapshot) Document(docID uint32) (map[string]string, error) {
	v, local, ok := s.Resolve(docID)
	if !ok || v.IsDeleted(local) {
		return nil, fmt.Errorf("document %d in generation %d: %w", docID, s.Generation(), apperrors.ErrNotFound)
	}
	return v.Segment.Document(local)
}
