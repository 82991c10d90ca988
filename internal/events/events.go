// Package events announces commits on Kafka so searcher processes pick up
// new generations without waiting for their refresh interval.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/generation"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/resilience"
)

// CommitEventType is the kafka.EventTypeHeader value of commit events.
const CommitEventType = "index.commit"

// CommitEvent is the message published for every new generation.
type CommitEvent struct {
	Index       string    `json:"index"`
	Generation  int64     `json:"generation"`
	MaxDoc      int       `json:"max_doc"`
	Segments    []string  `json:"segments"`
	CommittedAt time.Time `json:"committed_at"`
}

func NewCommitEvent(index string, commit *generation.CommitPoint) CommitEvent {
	segs := make([]string, len(commit.Segments))
	for i, si := range commit.Segments {
		segs[i] = si.Name
	}
	return CommitEvent{
		Index:       index,
		Generation:  commit.Generation,
		MaxDoc:      commit.LiveDocs(),
		Segments:    segs,
		CommittedAt: commit.CreatedAt,
	}
}

// Producer is the publishing side of a Kafka topic; *kafka.Producer
// implements it.
type Producer interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Publisher sends CommitEvents keyed by index name, so the events of one
// index stay ordered on a single partition.
type Publisher struct {
	producer Producer
	index    string
	retry    resilience.RetryConfig
	logger   *slog.Logger
}

func NewPublisher(producer Producer, index string, retry resilience.RetryConfig) *Publisher {
	if retry.Retryable == nil {
		retry.Retryable = func(err error) bool {
			var typeErr *json.UnsupportedTypeError
			return !errors.As(err, &typeErr)
		}
	}
	return &Publisher{
		producer: producer,
		index:    index,
		retry:    retry,
		logger:   logger.WithComponent("commit-publisher", "index", index),
	}
}

// Publish announces commit, retrying with backoff.
func (p *Publisher) Publish(ctx context.Context, commit *generation.CommitPoint) error {
	event := NewCommitEvent(p.index, commit)
	err := resilience.Retry(ctx, "publish commit event", p.retry, func() error {
		return p.producer.Publish(ctx, kafka.Event{Key: p.index, Type: CommitEventType, Value: event})
	})
	if err != nil {
		return fmt.Errorf("announcing generation %d: %w", commit.Generation, err)
	}
	p.logger.Info("commit event published", "generation", commit.Generation, "max_doc", event.MaxDoc)
	return nil
}

// Listener adapts the publisher for indexer.WithCommitListener. The commit
// has already succeeded when the listener runs, so a failed announcement is
// only logged; searchers still converge through periodic refresh.
func (p *Publisher) Listener() indexer.CommitListener {
	return func(ctx context.Context, commit *generation.CommitPoint) {
		if err := p.Publish(ctx, commit); err != nil {
			p.logger.Error("commit event lost", "generation", commit.Generation, "error", err)
		}
	}
}

// Refresher reloads the current generation; *generation.Manager implements
// it.
type Refresher interface {
	Refresh(ctx context.Context) (bool, error)
}

// Invalidator drops cached search results; *cache.QueryCache implements it.
type Invalidator interface {
	Invalidate(ctx context.Context) (int64, error)
}

// CommitHandler applies CommitEvents for one index on the searcher side.
type CommitHandler struct {
	index     string
	refresher Refresher
	cache     Invalidator
	logger    *slog.Logger
}

// NewCommitHandler returns a handler refreshing r on every commit of index.
// cache may be nil.
func NewCommitHandler(index string, r Refresher, cache Invalidator) *CommitHandler {
	return &CommitHandler{
		index:     index,
		refresher: r,
		cache:     cache,
		logger:    logger.WithComponent("commit-handler", "index", index),
	}
}

// Handle is a kafka.MessageHandler. Malformed messages and events of other
// indexes are skipped without error so they are not redelivered forever.
func (h *CommitHandler) Handle(ctx context.Context, key, value []byte) error {
	event, err := kafka.DecodeJSON[CommitEvent](value)
	if err != nil {
		h.logger.Warn("skipping malformed commit event", "key", string(key), "error", err)
		return nil
	}
	if event.Index != h.index {
		return nil
	}
	changed, err := h.refresher.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refreshing for generation %d: %w", event.Generation, err)
	}
	if !changed {
		return nil
	}
	h.logger.Info("refreshed on commit event", "generation", event.Generation, "max_doc", event.MaxDoc)
	if h.cache != nil {
		if _, err := h.cache.Invalidate(ctx); err != nil {
			h.logger.Warn("cache invalidation failed", "error", err)
		}
	}
	return nil
}
