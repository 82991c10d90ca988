// Package integration wires the indexing side and the search side together
// in one process: a writer fed by the loader announces commits through a
// publisher whose producer hands the encoded event straight to a read-only
// searcher's commit handler, which refreshes and invalidates the query cache
// behind the HTTP API.
package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/events"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/generation"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/loader"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/store/memory"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/resilience"
)

// loopback delivers published events to a kafka.MessageHandler as the
// consumer would.
type loopback struct {
	handle kafka.MessageHandler
}

func (l *loopback) Publish(ctx context.Context, event kafka.Event) error {
	value, err := json.Marshal(event.Value)
	if err != nil {
		return err
	}
	return l.handle(ctx, []byte(event.Key), value)
}

type memBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (b *memBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	return v, ok, nil
}

func (b *memBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
	return nil
}

func (b *memBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
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

func (b *memBackend) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

const initialLoad = `
{"op":"add","fields":[{"name":"id","value":"1","stored":true,"indexed":true},{"name":"city","value":"Amsterdam","stored":true,"indexed":true,"tokenized":true}]}
{"op":"add","fields":[{"name":"id","value":"2","stored":true,"indexed":true},{"name":"city","value":"Venice","stored":true,"indexed":true,"tokenized":true}]}
{"op":"add","fields":[{"name":"id","value":"3","stored":true,"indexed":true},{"name":"city","value":"Amsterdam Noord","stored":true,"indexed":true,"tokenized":true}]}
`

const secondLoad = `
{"op":"update","term":{"field":"id","text":"1"},"fields":[{"name":"id","value":"1","stored":true,"indexed":true},{"name":"city","value":"Rome","stored":true,"indexed":true,"tokenized":true}]}
`

type searchResponse struct {
	Generation int64 `json:"generation"`
	TotalHits  int   `json:"total_hits"`
	CacheHit   bool  `json:"cache_hit"`
	Hits       []struct {
		DocID    uint32            `json:"doc_id"`
		Score    float64           `json:"score"`
		Document map[string]string `json:"document"`
	} `json:"hits"`
}

type pipeline struct {
	writer  *indexer.Writer
	backend *memBackend
	server  *httptest.Server
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	ctx := context.Background()
	dir := memory.New()

	writerMgr, err := generation.Open(ctx, dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = writerMgr.Close() })

	// The searcher side needs a commit point to open against.
	seed, err := indexer.OpenWriter(ctx, writerMgr, indexer.Config{})
	require.NoError(t, err)
	_, err = loader.New(seed, loader.Options{CommitAtEnd: true}).Load(ctx, strings.NewReader(initialLoad))
	require.NoError(t, err)
	require.NoError(t, seed.Close(ctx, false))

	readerMgr, err := generation.Open(ctx, dir, generation.WithReadOnly())
	require.NoError(t, err)
	t.Cleanup(func() { _ = readerMgr.Close() })

	backend := &memBackend{data: make(map[string][]byte)}
	qc := cache.New(backend, "cities", time.Minute)
	commits := events.NewCommitHandler("cities", readerMgr, qc)

	retry := resilience.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	publisher := events.NewPublisher(&loopback{handle: commits.Handle}, "cities", retry)
	w, err := indexer.OpenWriter(ctx, writerMgr, indexer.Config{}, indexer.WithCommitListener(publisher.Listener()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close(ctx, true) })

	cfg := config.SearchConfig{DefaultField: "city", DefaultLimit: 10, MaxResults: 50}
	api := handler.New(readerMgr, qc, cfg, nil).Routes()
	srv := httptest.NewServer(middleware.RequestID(api))
	t.Cleanup(srv.Close)

	return &pipeline{writer: w, backend: backend, server: srv}
}

func (p *pipeline) search(t *testing.T, q string) (searchResponse, *http.Response) {
	t.Helper()
	resp, err := p.server.Client().Get(p.server.URL + "/api/v1/search?q=" + q)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body searchResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body, resp
}

func TestSearchSeesCommittedGenerations(t *testing.T) {
	p := newPipeline(t)

	first, resp := p.search(t, "Amsterdam")
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
	assert.Equal(t, int64(1), first.Generation)
	assert.Equal(t, 2, first.TotalHits)
	assert.False(t, first.CacheHit)
	require.Len(t, first.Hits, 2)
	assert.Equal(t, uint32(0), first.Hits[0].DocID)
	assert.Equal(t, "Amsterdam", first.Hits[0].Document["city"])
	assert.Equal(t, "Amsterdam Noord", first.Hits[1].Document["city"])

	again, _ := p.search(t, "Amsterdam")
	assert.True(t, again.CacheHit)
	assert.Equal(t, first.TotalHits, again.TotalHits)
	assert.NotZero(t, p.backend.len())

	// Buffered changes stay invisible until the writer commits.
	_, err := loader.New(p.writer, loader.Options{}).Load(context.Background(), strings.NewReader(secondLoad))
	require.NoError(t, err)
	buffered, _ := p.search(t, "Rome")
	assert.Equal(t, 0, buffered.TotalHits)

	_, err = p.writer.Commit(context.Background())
	require.NoError(t, err)
	assert.Zero(t, p.backend.len(), "commit event should invalidate the cache")

	after, _ := p.search(t, "Amsterdam")
	assert.Equal(t, int64(2), after.Generation)
	assert.False(t, after.CacheHit)
	assert.Equal(t, 1, after.TotalHits)
	require.Len(t, after.Hits, 1)
	assert.Equal(t, "Amsterdam Noord", after.Hits[0].Document["city"])

	rome, _ := p.search(t, "Rome")
	assert.Equal(t, 1, rome.TotalHits)
	assert.Equal(t, "1", rome.Hits[0].Document["id"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	p := newPipeline(t)

	req, err := http.NewRequest(http.MethodGet, p.server.URL+"/api/v1/stats", nil)
	require.NoError(t, err)
	req.Header.Set(middleware.RequestIDHeader, "trace-42")
	resp, err := p.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "trace-42", resp.Header.Get(middleware.RequestIDHeader))
}
