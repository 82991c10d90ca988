// Command searcher serves read-only search over an index that an indexer
// process writes. New generations are picked up on a timer and, when Kafka
// is enabled, as soon as a commit event arrives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/events"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/generation"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/store/backend"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/termindex/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("search service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
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

	mgr, err := generation.Open(ctx, dir, generation.WithReadOnly(), generation.WithMetrics(m))
	if err != nil {
		return err
	}
	defer mgr.Close()

	checker := health.NewChecker()
	checker.Register("index", func(context.Context) health.ComponentHealth {
		commit := mgr.Current()
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("generation %d, %d live docs", commit.Generation, commit.LiveDocs()),
		}
	})

	var queryCache *cache.QueryCache
	var invalidator events.Invalidator
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Storage.IndexName, cfg.Redis.CacheTTL, cache.WithMetrics(m))
			invalidator = queryCache
			checker.Register("redis", health.PingCheck("redis", 2*time.Second, health.StatusDegraded, redisClient.Ping))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	go refreshLoop(ctx, mgr, cfg.Index.RefreshInterval)

	if cfg.Kafka.Enabled {
		kcfg := cfg.Kafka
		// Every searcher must see every commit, so each process gets its own
		// consumer group.
		if host, err := os.Hostname(); err == nil && kcfg.ConsumerGroup != "" {
			kcfg.ConsumerGroup = kcfg.ConsumerGroup + "-" + host
		}
		commits := events.NewCommitHandler(cfg.Storage.IndexName, mgr, invalidator)
		consumer := kafka.NewConsumer(kcfg, kcfg.Topics.Commits, commits.Handle)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("commit consumer stopped", "error", err)
			}
		}()
		slog.Info("listening for commit events", "topic", kcfg.Topics.Commits, "group", kcfg.ConsumerGroup)
	}

	h := handler.New(mgr, queryCache, cfg.Search, m)
	mux := h.Routes()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RateLimit(cfg.Search.RateLimit, cfg.Search.RateBurst)(chain)
	chain = middleware.CORS(middleware.DefaultCORSConfig())(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	commit := mgr.Current()
	slog.Info("search service listening",
		"addr", server.Addr,
		"index", cfg.Storage.IndexName,
		"generation", commit.Generation,
		"live_docs", commit.LiveDocs(),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func refreshLoop(ctx context.Context, mgr *generation.Manager, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := mgr.Refresh(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("periodic refresh failed", "error", err)
			}
		}
	}
}
