package cache

import (
	"context"
	"errors"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/resilience"
)

type fakeBackend struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: make(map[string][]byte)}
}

func (f *fakeBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.data[key] = value
	return nil
}

func (f *fakeBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k := range f.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(f.data, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeBackend) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

var amsterdam = query.NewTerm("city", "Amsterdam")

func result(gen int64) *searcher.TopDocs {
	return &searcher.TopDocs{TotalHits: 1, Hits: []searcher.Hit{{DocID: 0, Score: 1}}, Generation: gen}
}

func TestGetOrCompute(t *testing.T) {
	ctx := context.Background()
	c := New(newFakeBackend(), "test", time.Minute)

	calls := 0
	compute := func() (*searcher.TopDocs, error) {
		calls++
		return result(1), nil
	}

	got, hit, err := c.GetOrCompute(ctx, 1, amsterdam, 10, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, result(1), got)

	got, hit, err = c.GetOrCompute(ctx, 1, amsterdam, 10, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, result(1), got)
	assert.Equal(t, 1, calls)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestKeysIncludeGenerationAndLimit(t *testing.T) {
	ctx := context.Background()
	c := New(newFakeBackend(), "test", time.Minute)
	c.Set(ctx, 1, amsterdam, 10, result(1))

	_, ok := c.Get(ctx, 2, amsterdam, 10)
	assert.False(t, ok, "newer generation must not see older results")
	_, ok = c.Get(ctx, 1, amsterdam, 5)
	assert.False(t, ok)
	_, ok = c.Get(ctx, 1, query.NewTerm("city", "Venice"), 10)
	assert.False(t, ok)
	_, ok = c.Get(ctx, 1, amsterdam, 10)
	assert.True(t, ok)
}

func TestSingleflight(t *testing.T) {
	c := New(newFakeBackend(), "test", time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.GetOrCompute(context.Background(), 3, amsterdam, 10, func() (*searcher.TopDocs, error) {
				calls.Add(1)
				<-release
				return result(3), nil
			})
			assert.NoError(t, err)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, calls.Load(), int32(8))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestComputeError(t *testing.T) {
	c := New(newFakeBackend(), "test", time.Minute)
	boom := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), 1, amsterdam, 10, func() (*searcher.TopDocs, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	_, ok := c.Get(context.Background(), 1, amsterdam, 10)
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	c := New(backend, "a", time.Minute)
	other := New(backend, "b", time.Minute)
	c.Set(ctx, 1, amsterdam, 10, result(1))
	c.Set(ctx, 2, amsterdam, 10, result(2))
	other.Set(ctx, 1, amsterdam, 10, result(1))

	n, err := c.Invalidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	_, ok := other.Get(ctx, 1, amsterdam, 10)
	assert.True(t, ok, "other namespaces are untouched")
}

func TestBackendFailureTripsBreaker(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.setErr(errors.New("connection refused"))
	cb := resilience.NewCircuitBreaker("test", resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})
	c := New(backend, "test", time.Minute, WithBreaker(cb))

	calls := 0
	for range 3 {
		got, hit, err := c.GetOrCompute(ctx, 1, amsterdam, 10, func() (*searcher.TopDocs, error) {
			calls++
			return result(1), nil
		})
		require.NoError(t, err, "cache failures never fail the search")
		assert.False(t, hit)
		assert.Equal(t, result(1), got)
	}
	assert.Equal(t, 3, calls)
	assert.Equal(t, resilience.StateOpen, cb.GetState())
}
