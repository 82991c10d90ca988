package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/document"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/generation"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/store/memory"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/metrics"
)

type mapBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (b *mapBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	return v, ok, nil
}

func (b *mapBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
	return nil
}

func (b *mapBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range b.data {
		if strings.HasPrefix(k, prefix) {
			delete(b.data, k)
			n++
		}
	}
	return n, nil
}

var searchCfg = config.SearchConfig{DefaultField: "city", DefaultLimit: 10, MaxResults: 50}

type fixture struct {
	mgr     *generation.Manager
	writer  *indexer.Writer
	metrics *metrics.Metrics
	server  http.Handler
}

func newFixture(t *testing.T, withCache bool) *fixture {
	t.Helper()
	ctx := context.Background()
	mgr, err := generation.Open(ctx, memory.New())
	require.NoError(t, err)
	w, err := indexer.OpenWriter(ctx, mgr, indexer.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = w.Close(ctx, true)
		_ = mgr.Close()
	})
	for _, doc := range [][2]string{{"1", "Amsterdam"}, {"2", "Venice"}, {"3", "Amsterdam Noord"}} {
		require.NoError(t, w.AddDocument(document.New(
			document.NewStringField("id", doc[0]),
			document.NewTextField("city", doc[1], true),
		)))
	}
	_, err = w.Commit(ctx)
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	var qc *cache.QueryCache
	if withCache {
		qc = cache.New(&mapBackend{data: make(map[string][]byte)}, "test", time.Minute, cache.WithMetrics(m))
	}
	return &fixture{mgr: mgr, writer: w, metrics: m, server: New(mgr, qc, searchCfg, m).Routes()}
}

func (f *fixture) do(t *testing.T, method, target string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec.Code, body
}

func TestSearch(t *testing.T) {
	f := newFixture(t, false)

	code, body := f.do(t, http.MethodGet, "/api/v1/search?q=Amsterdam")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "city:Amsterdam", body["query"])
	assert.Equal(t, float64(2), body["total_hits"])
	hits := body["hits"].([]any)
	require.Len(t, hits, 2)
	first := hits[0].(map[string]any)
	assert.Equal(t, float64(0), first["doc_id"])
	assert.Equal(t, "Amsterdam", first["document"].(map[string]any)["city"])

	code, body = f.do(t, http.MethodGet, "/api/v1/search?q=id:2&limit=1")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["total_hits"])

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.SearchQueriesTotal.WithLabelValues("hits")))
}

func TestSearchBadRequests(t *testing.T) {
	f := newFixture(t, false)
	for _, target := range []string{
		"/api/v1/search",
		"/api/v1/search?q=Amsterdam&limit=0",
		"/api/v1/search?q=Amsterdam&limit=abc",
		"/api/v1/search?q=NOT+Amsterdam",
	} {
		code, body := f.do(t, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, code, target)
		assert.NotEmpty(t, body["error"])
	}
}

func TestSearchCached(t *testing.T) {
	f := newFixture(t, true)

	_, body := f.do(t, http.MethodGet, "/api/v1/search?q=Venice")
	assert.Equal(t, false, body["cache_hit"])
	_, body = f.do(t, http.MethodGet, "/api/v1/search?q=Venice")
	assert.Equal(t, true, body["cache_hit"])
	assert.Equal(t, "Venice", body["hits"].([]any)[0].(map[string]any)["document"].(map[string]any)["city"])

	_, err := f.writer.DeleteDocuments(indexer.Term{Field: "city", Text: "Venice"})
	require.NoError(t, err)
	_, err = f.writer.Commit(context.Background())
	require.NoError(t, err)

	_, body = f.do(t, http.MethodGet, "/api/v1/search?q=Venice")
	assert.Equal(t, false, body["cache_hit"], "a new generation misses the cache")
	assert.Equal(t, float64(0), body["total_hits"])

	code, body := f.do(t, http.MethodPost, "/api/v1/cache/invalidate")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["keys_deleted"])
}

func TestGetDocument(t *testing.T) {
	f := newFixture(t, false)

	code, body := f.do(t, http.MethodGet, "/api/v1/documents/1")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Venice", body["document"].(map[string]any)["city"])

	code, _ = f.do(t, http.MethodGet, "/api/v1/documents/99")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(t, http.MethodGet, "/api/v1/documents/x")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStatsAndRefresh(t *testing.T) {
	f := newFixture(t, true)

	code, body := f.do(t, http.MethodGet, "/api/v1/stats")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["generation"])
	assert.Equal(t, float64(3), body["max_doc"])
	assert.Equal(t, float64(1), body["segments"])
	assert.Contains(t, body, "cache")

	code, body = f.do(t, http.MethodPost, "/api/v1/refresh")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["changed"])
	assert.Equal(t, float64(1), body["generation"])
}

func TestCacheInvalidateDisabled(t *testing.T) {
	f := newFixture(t, false)
	code, _ := f.do(t, http.MethodPost, "/api/v1/cache/invalidate")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
