package generation

import (
	"context"
	"errors"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/analysis"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/store"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/store/memory"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

func buildSegment(t *testing.T, name string, cities ...string) *segment.Segment {
	t.Helper()
	a, err := analysis.New(analysis.Config{})
	require.NoError(t, err)
	buf := index.NewBuffer()
	for _, city := range cities {
		_, err := buf.AddDocument(document.New(document.NewTextField("city", city, true)), a)
		require.NoError(t, err)
	}
	return segment.FromBuffer(name, buf, nil)
}

// publish writes the segment files and publishes a generation made of segs,
// with optional tombstones keyed by segment name. The reference Publish
// hands back is dropped straight away.
func publish(t *testing.T, m *Manager, gen int64, segs []*segment.Segment, deleted map[string]*roaring.Bitmap) (*Snapshot, error) {
	t.Helper()
	ctx := context.Background()
	commit := &CommitPoint{Generation: gen, NextSegment: gen + 1}
	dels := make(map[string]*roaring.Bitmap)
	for _, seg := range segs {
		data, err := segment.Encode(seg, segment.CompressionZSTD)
		require.NoError(t, err)
		require.NoError(t, m.Directory().Write(ctx, segment.FileName(seg.Name), data))

		si := SegmentInfo{Name: seg.Name, MaxDoc: seg.MaxDoc}
		if bm, ok := deleted[seg.Name]; ok {
			si.DelGen = gen
			si.DelCount = uint32(bm.GetCardinality())
			file := segment.DeletesFileName(seg.Name, gen)
			data, err := segment.EncodeDeletes(bm)
			require.NoError(t, err)
			require.NoError(t, m.Directory().Write(ctx, file, data))
			dels[file] = bm
		}
		commit.Segments = append(commit.Segments, si)
	}
	snap, err := m.Publish(ctx, commit, segs, dels)
	if err != nil {
		return nil, err
	}
	m.Release(snap)
	return snap, nil
}

func openWriterManager(t *testing.T, dir store.Directory) *Manager {
	t.Helper()
	m, err := Open(context.Background(), dir)
	require.NoError(t, err)
	require.NoError(t, m.LockWriter(context.Background()))
	return m
}

func exists(t *testing.T, dir store.Directory, name string) bool {
	t.Helper()
	_, err := dir.Read(context.Background(), name)
	if store.IsNotFound(err) {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestOpenEmpty(t *testing.T) {
	m, err := Open(context.Background(), memory.New())
	require.NoError(t, err)

	snap, err := m.Acquire()
	require.NoError(t, err)
	defer m.Release(snap)

	assert.Equal(t, int64(0), snap.Generation())
	assert.Equal(t, 0, snap.LiveDocs())
	assert.Empty(t, snap.Segments())
	_, err = snap.Document(0)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPublishAndAcquire(t *testing.T) {
	m := openWriterManager(t, memory.New())

	_, err := publish(t, m, 1, []*segment.Segment{
		buildSegment(t, "_0", "Amsterdam", "Venice"),
		buildSegment(t, "_1", "Rome"),
	}, nil)
	require.NoError(t, err)

	snap, err := m.Acquire()
	require.NoError(t, err)
	defer m.Release(snap)

	assert.Equal(t, int64(1), snap.Generation())
	assert.Equal(t, 3, snap.LiveDocs())
	assert.Equal(t, uint32(2), snap.Segments()[1].DocBase)

	doc, err := snap.Document(2)
	require.NoError(t, err)
	assert.Equal(t, "Rome", doc["city"])

	v, local, ok := snap.Resolve(1)
	require.True(t, ok)
	assert.Equal(t, "_0", v.Segment.Name)
	assert.Equal(t, uint32(1), local)
}

func TestTombstonesHideDocuments(t *testing.T) {
	m := openWriterManager(t, memory.New())
	seg := buildSegment(t, "_0", "Amsterdam", "Venice")
	_, err := publish(t, m, 1, []*segment.Segment{seg}, map[string]*roaring.Bitmap{"_0": roaring.BitmapOf(0)})
	require.NoError(t, err)

	snap, err := m.Acquire()
	require.NoError(t, err)
	defer m.Release(snap)

	assert.Equal(t, 1, snap.LiveDocs())
	_, err = snap.Document(0)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	doc, err := snap.Document(1)
	require.NoError(t, err)
	assert.Equal(t, "Venice", doc["city"])
}

func TestReclaimWaitsForLastReference(t *testing.T) {
	dir := memory.New()
	m := openWriterManager(t, dir)

	_, err := publish(t, m, 1, []*segment.Segment{buildSegment(t, "_0", "Amsterdam")}, nil)
	require.NoError(t, err)
	old, err := m.Acquire()
	require.NoError(t, err)

	_, err = publish(t, m, 2, []*segment.Segment{buildSegment(t, "_1", "Venice")}, nil)
	require.NoError(t, err)

	refs, retained := m.RefCount(1)
	assert.True(t, retained)
	assert.Equal(t, 1, refs)
	assert.True(t, exists(t, dir, "_0.seg"), "held generation keeps its files")
	assert.True(t, exists(t, dir, CommitFileName(1)))
	assert.Equal(t, 1, old.LiveDocs())

	m.Release(old)

	_, retained = m.RefCount(1)
	assert.False(t, retained)
	assert.False(t, exists(t, dir, "_0.seg"))
	assert.False(t, exists(t, dir, CommitFileName(1)))
	assert.True(t, exists(t, dir, "_1.seg"))
	assert.True(t, exists(t, dir, CommitFileName(2)))
}

func TestNewestGenerationIsNeverReclaimed(t *testing.T) {
	dir := memory.New()
	m := openWriterManager(t, dir)
	_, err := publish(t, m, 1, []*segment.Segment{buildSegment(t, "_0", "Amsterdam")}, nil)
	require.NoError(t, err)

	snap, err := m.Acquire()
	require.NoError(t, err)
	m.Release(snap)

	refs, retained := m.RefCount(1)
	assert.True(t, retained)
	assert.Zero(t, refs)
	assert.True(t, exists(t, dir, "_0.seg"))
}

func TestSharedSegmentSurvivesReclaim(t *testing.T) {
	dir := memory.New()
	m := openWriterManager(t, dir)
	shared := buildSegment(t, "_0", "Amsterdam")
	_, err := publish(t, m, 1, []*segment.Segment{shared}, nil)
	require.NoError(t, err)
	_, err = publish(t, m, 2, []*segment.Segment{shared, buildSegment(t, "_1", "Venice")}, nil)
	require.NoError(t, err)

	assert.False(t, exists(t, dir, CommitFileName(1)))
	assert.True(t, exists(t, dir, "_0.seg"))
}

func TestPublishFailureKeepsPreviousGeneration(t *testing.T) {
	dir := memory.New()
	m := openWriterManager(t, dir)
	_, err := publish(t, m, 1, []*segment.Segment{buildSegment(t, "_0", "Amsterdam")}, nil)
	require.NoError(t, err)

	boom := errors.New("io failure")
	dir.SetFault(func(op memory.Op, name string) error {
		if op == memory.OpWrite && name == CurrentFile {
			return boom
		}
		return nil
	})
	_, err = publish(t, m, 2, []*segment.Segment{buildSegment(t, "_1", "Venice")}, nil)
	require.ErrorIs(t, err, boom)
	dir.SetFault(nil)

	assert.Equal(t, int64(1), m.Current().Generation)
	assert.False(t, exists(t, dir, CommitFileName(2)), "unpublished commit point is removed")

	reopened, err := Open(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reopened.Current().Generation)
}

func TestReopenSeesLastCommit(t *testing.T) {
	dir := memory.New()
	m := openWriterManager(t, dir)
	_, err := publish(t, m, 1, []*segment.Segment{buildSegment(t, "_0", "Amsterdam", "Venice")}, nil)
	require.NoError(t, err)

	reopened, err := Open(context.Background(), dir, WithReadOnly())
	require.NoError(t, err)
	snap, err := reopened.Acquire()
	require.NoError(t, err)
	defer reopened.Release(snap)
	assert.Equal(t, int64(1), snap.Generation())
	assert.Equal(t, 2, snap.LiveDocs())
}

func TestDiscoveryRetriesVanishedFiles(t *testing.T) {
	dir := memory.New()
	m := openWriterManager(t, dir)
	_, err := publish(t, m, 1, []*segment.Segment{buildSegment(t, "_0", "Amsterdam")}, nil)
	require.NoError(t, err)

	misses := 0
	dir.SetFault(func(op memory.Op, name string) error {
		if op == memory.OpRead && name == "_0.seg" && misses < 2 {
			misses++
			return store.NotFound(name)
		}
		return nil
	})
	reader, err := Open(context.Background(), dir, WithReadOnly())
	require.NoError(t, err)
	assert.Equal(t, 2, misses)
	assert.Equal(t, int64(1), reader.Current().Generation)

	dir.SetFault(func(op memory.Op, name string) error {
		if op == memory.OpRead && name == "_0.seg" {
			return store.NotFound(name)
		}
		return nil
	})
	_, err = Open(context.Background(), dir, WithReadOnly(), WithDiscoveryRetries(1))
	assert.ErrorIs(t, err, apperrors.ErrOpenFailed)
}

func TestReadOnlyRefresh(t *testing.T) {
	dir := memory.New()
	writer := openWriterManager(t, dir)
	reader, err := Open(context.Background(), dir, WithReadOnly())
	require.NoError(t, err)
	assert.ErrorIs(t, reader.LockWriter(context.Background()), apperrors.ErrWriterLocked)

	_, err = publish(t, writer, 1, []*segment.Segment{buildSegment(t, "_0", "Amsterdam")}, nil)
	require.NoError(t, err)

	changed, err := reader.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, int64(1), reader.Current().Generation)

	changed, err = reader.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestWriterLockIsExclusive(t *testing.T) {
	m := openWriterManager(t, memory.New())
	assert.ErrorIs(t, m.LockWriter(context.Background()), apperrors.ErrWriterLocked)
	m.UnlockWriter()
	require.NoError(t, m.LockWriter(context.Background()))
}

func TestWriterLockIsSharedThroughDirectory(t *testing.T) {
	ctx := context.Background()
	dir := memory.New()
	first := openWriterManager(t, dir)
	second, err := Open(ctx, dir)
	require.NoError(t, err)

	assert.ErrorIs(t, second.LockWriter(ctx), apperrors.ErrWriterLocked)

	require.NoError(t, dir.Write(ctx, "_9.seg", []byte("in flight")))
	n, err := second.SweepOrphans(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "only the lock holder deletes")
	assert.True(t, exists(t, dir, "_9.seg"))

	_, err = publish(t, first, 1, []*segment.Segment{buildSegment(t, "_0", "Amsterdam")}, nil)
	require.NoError(t, err)
	first.UnlockWriter()

	require.NoError(t, second.LockWriter(ctx))
	assert.Equal(t, int64(1), second.Current().Generation, "locking catches up with published generations")
}

func TestSweepOrphans(t *testing.T) {
	ctx := context.Background()
	dir := memory.New()
	m := openWriterManager(t, dir)
	_, err := publish(t, m, 1, []*segment.Segment{buildSegment(t, "_0", "Amsterdam")}, nil)
	require.NoError(t, err)

	require.NoError(t, dir.Write(ctx, "_9.seg", []byte("crashed commit")))
	require.NoError(t, dir.Write(ctx, "notes.txt", []byte("not ours")))

	n, err := m.SweepOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, exists(t, dir, "_9.seg"))
	assert.True(t, exists(t, dir, "notes.txt"))
	assert.True(t, exists(t, dir, "_0.seg"))
}

func TestAcquireAfterClose(t *testing.T) {
	m, err := Open(context.Background(), memory.New())
	require.NoError(t, err)
	require.NoError(t, m.Close())
	_, err = m.Acquire()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCommitFileNames(t *testing.T) {
	assert.Equal(t, "segments_a", CommitFileName(10))
	gen, ok := ParseCommitFileName("segments_a")
	assert.True(t, ok)
	assert.Equal(t, int64(10), gen)
	_, ok = ParseCommitFileName("segments_")
	assert.False(t, ok)
}
