// Command indexer applies a JSON-lines file of index operations and commits
// the result as new generations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/events"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/generation"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/loader"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/store/backend"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	input := flag.String("input", "-", "JSON-lines operations file, - for stdin")
	commitEvery := flag.Int("commit-every", 0, "commit after this many add/update operations (0 = index.maxBufferedDocs)")
	forceMerge := flag.Bool("force-merge", false, "merge all segments into one before the final commit")
	discard := flag.Bool("discard", false, "drop operations left uncommitted by a failed load")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *input, *commitEvery, *forceMerge, *discard); err != nil {
		slog.Error("indexer failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, input string, commitEvery int, forceMerge, discard bool) error {
	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer shutdown(context.Background())
	}

	dir, err := backend.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer dir.Close()

	mgr, err := generation.Open(ctx, dir, generation.WithMetrics(m))
	if err != nil {
		return err
	}
	defer mgr.Close()

	writerCfg, err := indexer.ConfigFrom(cfg.Index)
	if err != nil {
		return err
	}
	opts := []indexer.Option{indexer.WithMetrics(m)}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Commits)
		defer producer.Close()
		publisher := events.NewPublisher(producer, cfg.Storage.IndexName, resilience.RetryConfig{MaxAttempts: 5})
		opts = append(opts, indexer.WithCommitListener(publisher.Listener()))
		slog.Info("commit events enabled", "topic", cfg.Kafka.Topics.Commits)
	}

	w, err := indexer.OpenWriter(ctx, mgr, writerCfg, opts...)
	if err != nil {
		return err
	}
	// Orphans are only safe to remove while holding the writer.
	if n, err := mgr.SweepOrphans(ctx); err != nil {
		slog.Warn("orphan sweep failed", "error", err)
	} else if n > 0 {
		slog.Info("removed orphaned index files", "count", n)
	}

	if commitEvery == 0 {
		commitEvery = cfg.Index.MaxBufferedDocs
	}
	loadErr := load(ctx, w, input, commitEvery)
	if loadErr == nil && forceMerge {
		if loadErr = w.ForceMerge(); loadErr == nil {
			_, loadErr = w.Commit(ctx)
		}
	}
	if err := w.Close(ctx, discard); err != nil {
		// Without -discard, operations buffered after the failure make Close
		// report ErrUncommittedDataLost.
		return errors.Join(loadErr, fmt.Errorf("closing writer: %w", err))
	}
	return loadErr
}

func load(ctx context.Context, w *indexer.Writer, input string, commitEvery int) error {
	var r io.Reader = os.Stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		r = f
	}
	stats, err := loader.New(w, loader.Options{CommitEvery: commitEvery, CommitAtEnd: true}).Load(ctx, r)
	if err != nil {
		return err
	}
	slog.Info("indexer finished",
		"lines", stats.Lines,
		"added", stats.Added,
		"updated", stats.Updated,
		"deleted", stats.Deleted,
		"generation", stats.Generation,
	)
	return nil
}
