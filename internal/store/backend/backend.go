// Package backend opens the Directory implementation named in configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/store"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/store/fs"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/store/memory"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/store/minio"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/store/postgres"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/config"
	pgclient "github.com/Adithya-Monish-Kumar-K/termindex/pkg/postgres"
)

const (
	FS       = "fs"
	Memory   = "memory"
	Postgres = "postgres"
	MinIO    = "minio"
)

// Open returns the Directory selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig) (store.Directory, error) {
	switch cfg.Backend {
	case "", FS:
		return fs.Open(cfg.Path)
	case Memory:
		return memory.New(), nil
	case Postgres:
		client, err := pgclient.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		dir := postgres.New(client, cfg.IndexName)
		if err := dir.EnsureSchema(ctx); err != nil {
			client.Close()
			return nil, err
		}
		return dir, nil
	case MinIO:
		return minio.Open(ctx, cfg.MinIO)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
