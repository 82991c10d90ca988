package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/logger"
)

func TestSpanTree(t *testing.T) {
	ctx := logger.WithRequestID(context.Background(), "req-1")
	ctx, root := Start(ctx, "search")
	_, parse := Start(ctx, "parse")
	parse.End()
	_, exec := Start(ctx, "execute")
	exec.SetAttr("cache_hit", true)
	exec.End()
	root.End()

	assert.Nil(t, FromContext(context.Background()))
	assert.Same(t, root, FromContext(ctx))
	assert.Equal(t, "req-1", root.TraceID)

	children := root.Children()
	require.Len(t, children, 2)
	assert.Equal(t, "parse", children[0].Name)
	assert.Equal(t, "req-1", children[1].TraceID)
}

func TestEndIsIdempotent(t *testing.T) {
	_, span := Start(context.Background(), "x")
	span.End()
	d := span.Duration
	span.End()
	assert.Equal(t, d, span.Duration)
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, root := Start(context.Background(), "search")
	_, child := Start(ctx, "execute")
	child.SetAttr("hits", 3)
	child.End()
	root.End()

	root.Log(ctx, log, slog.LevelDebug)
	assert.Zero(t, buf.Len())

	root.Log(ctx, log, slog.LevelWarn)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "execute", rec["span"])
	assert.Equal(t, float64(1), rec["depth"])
	assert.Equal(t, float64(3), rec["hits"])
}
