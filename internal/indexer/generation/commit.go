// Package generation tracks committed states of the index. Each commit point
// names the segments (and their tombstones) that make up one generation; the
// Manager hands out reference-counted snapshots of generations and reclaims
// files once no snapshot needs them.
package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

const (
	// CurrentFile holds the file name of the active commit point. Writing it
	// is the single step that publishes a generation.
	CurrentFile = "CURRENT"
	// CommitPrefix starts every commit point file name.
	CommitPrefix = "segments_"
)

// SegmentInfo is a commit point's record of one segment. DelGen is the
// generation whose commit wrote the segment's current tombstone file; zero
// means the segment has no deletions.
type SegmentInfo struct {
	Name     string `json:"name"`
	MaxDoc   uint32 `json:"max_doc"`
	DelGen   int64  `json:"del_gen,omitempty"`
	DelCount uint32 `json:"del_count,omitempty"`
}

func (si SegmentInfo) LiveDocs() uint32 {
	return si.MaxDoc - si.DelCount
}

// Files lists the directory entries the segment needs in this commit.
func (si SegmentInfo) Files() []string {
	files := []string{segment.FileName(si.Name)}
	if si.DelGen > 0 {
		files = append(files, segment.DeletesFileName(si.Name, si.DelGen))
	}
	return files
}

// CommitPoint describes one generation. NextSegment carries the writer's
// segment name counter across restarts.
type CommitPoint struct {
	Generation  int64             `json:"generation"`
	Segments    []SegmentInfo     `json:"segments"`
	NextSegment int64             `json:"next_segment"`
	CreatedAt   time.Time         `json:"created_at"`
	UserData    map[string]string `json:"user_data,omitempty"`
}

// CommitFileName is the commit point file name of gen.
func CommitFileName(gen int64) string {
	return CommitPrefix + strconv.FormatInt(gen, 36)
}

// ParseCommitFileName returns the generation of a commit point file name.
func ParseCommitFileName(name string) (int64, bool) {
	rest, ok := strings.CutPrefix(name, CommitPrefix)
	if !ok || rest == "" {
		return 0, false
	}
	gen, err := strconv.ParseInt(rest, 36, 64)
	if err != nil {
		return 0, false
	}
	return gen, true
}

func (c *CommitPoint) FileName() string {
	return CommitFileName(c.Generation)
}

// Files lists every directory entry the generation references, its own
// commit point file included. Generation zero is the empty index and owns
// no files.
func (c *CommitPoint) Files() []string {
	if c.Generation == 0 {
		return nil
	}
	files := []string{c.FileName()}
	for _, si := range c.Segments {
		files = append(files, si.Files()...)
	}
	return files
}

// LiveDocs is the number of non-tombstoned documents in the generation.
func (c *CommitPoint) LiveDocs() int {
	n := 0
	for _, si := range c.Segments {
		n += int(si.LiveDocs())
	}
	return n
}

func emptyCommit() *CommitPoint {
	return &CommitPoint{}
}

func readCommit(ctx context.Context, dir store.Directory, name string) (*CommitPoint, error) {
	data, err := dir.Read(ctx, name)
	if err != nil {
		return nil, err
	}
	var c CommitPoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: commit point %s: %v", apperrors.ErrCorruptIndex, name, err)
	}
	if gen, ok := ParseCommitFileName(name); !ok || gen != c.Generation {
		return nil, fmt.Errorf("%w: commit point %s records generation %d", apperrors.ErrCorruptIndex, name, c.Generation)
	}
	return &c, nil
}

func writeCommit(ctx context.Context, dir store.Directory, c *CommitPoint) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding commit point: %w", err)
	}
	return dir.Write(ctx, c.FileName(), data)
}
