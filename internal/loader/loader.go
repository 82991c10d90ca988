package loader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/generation"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
)

// maxLineSize bounds a single operation line.
const maxLineSize = 16 << 20

// Writer is the part of *indexer.Writer the loader drives.
type Writer interface {
	AddDocument(doc document.Document) error
	UpdateDocument(term indexer.Term, doc document.Document) error
	DeleteDocuments(term indexer.Term) (int, error)
	DeleteAll() error
	Commit(ctx context.Context) (*generation.CommitPoint, error)
}

type Options struct {
	// CommitEvery commits after that many add/update operations. Zero
	// commits only where the input asks for it.
	CommitEvery int
	// CommitAtEnd commits once more after the last line.
	CommitAtEnd bool
}

// Stats counts what a Load applied.
type Stats struct {
	Lines      int   `json:"lines"`
	Added      int   `json:"added"`
	Updated    int   `json:"updated"`
	Deleted    int   `json:"deleted"`
	DeleteAlls int   `json:"delete_alls"`
	Commits    int   `json:"commits"`
	Generation int64 `json:"generation"`
}

type Loader struct {
	w      Writer
	opts   Options
	logger *slog.Logger
}

func New(w Writer, opts Options) *Loader {
	return &Loader{
		w:      w,
		opts:   opts,
		logger: slog.Default().With("component", "loader"),
	}
}

// Load applies every line of r in order and stops at the first failure.
// Operations applied before the failure stay buffered in the writer; the
// caller decides whether to commit or roll them back.
func (l *Loader) Load(ctx context.Context, r io.Reader) (Stats, error) {
	var stats Stats
	sinceCommit := 0
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		stats.Lines++

		var op Op
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&op); err != nil {
			return stats, fmt.Errorf("%w: line %d: %w", apperrors.ErrInvalidInput, line, err)
		}
		if err := op.Validate(line); err != nil {
			return stats, fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
		}
		if err := l.apply(ctx, &op, &stats); err != nil {
			return stats, fmt.Errorf("line %d (%s): %w", line, op.Op, err)
		}

		switch op.Op {
		case OpAdd, OpUpdate:
			sinceCommit++
		case OpCommit:
			sinceCommit = 0
		}
		if l.opts.CommitEvery > 0 && sinceCommit >= l.opts.CommitEvery {
			if err := l.commit(ctx, &stats); err != nil {
				return stats, fmt.Errorf("line %d (batch commit): %w", line, err)
			}
			sinceCommit = 0
		}
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("reading operations after line %d: %w", line, err)
	}
	if l.opts.CommitAtEnd {
		if err := l.commit(ctx, &stats); err != nil {
			return stats, err
		}
	}
	l.logger.Info("load finished",
		"lines", stats.Lines,
		"added", stats.Added,
		"updated", stats.Updated,
		"deleted", stats.Deleted,
		"commits", stats.Commits,
		"generation", stats.Generation,
	)
	return stats, nil
}

func (l *Loader) apply(ctx context.Context, op *Op, stats *Stats) error {
	switch op.Op {
	case OpAdd:
		if err := l.w.AddDocument(document.New(op.Fields...)); err != nil {
			return err
		}
		stats.Added++
	case OpUpdate:
		if err := l.w.UpdateDocument(op.term(), document.New(op.Fields...)); err != nil {
			return err
		}
		stats.Updated++
	case OpDelete:
		n, err := l.w.DeleteDocuments(op.term())
		if err != nil {
			return err
		}
		stats.Deleted += n
	case OpDeleteAll:
		if err := l.w.DeleteAll(); err != nil {
			return err
		}
		stats.DeleteAlls++
	case OpCommit:
		return l.commit(ctx, stats)
	}
	return nil
}

func (l *Loader) commit(ctx context.Context, stats *Stats) error {
	commit, err := l.w.Commit(ctx)
	if err != nil {
		return err
	}
	stats.Commits++
	stats.Generation = commit.Generation
	l.logger.Debug("committed", "generation", commit.Generation, "max_doc", commit.LiveDocs())
	return nil
}

func (op *Op) term() indexer.Term {
	return indexer.Term{Field: op.Term.Field, Text: op.Term.Text}
}
