package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/store/fs"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/store/memory"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/config"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	dir, err := Open(ctx, config.StorageConfig{Backend: FS, Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &fs.Directory{}, dir)

	dir, err = Open(ctx, config.StorageConfig{Backend: Memory})
	require.NoError(t, err)
	assert.IsType(t, &memory.Directory{}, dir)

	_, err = Open(ctx, config.StorageConfig{Backend: "tape"})
	assert.Error(t, err)
}
