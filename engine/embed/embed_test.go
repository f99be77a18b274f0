package embed

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/WessleyAI/skumatch/engine/domain"
	"github.com/WessleyAI/skumatch/pkg/config"
	"github.com/WessleyAI/skumatch/pkg/fn"
	"github.com/WessleyAI/skumatch/pkg/metrics"
	"github.com/WessleyAI/skumatch/pkg/ollama"
	"github.com/WessleyAI/skumatch/pkg/openaiembed"
	"github.com/WessleyAI/skumatch/pkg/resilience"
)

func TestTokens(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{`2" PVC Pipe, Schedule 40`, []string{"2", "inch", "pvc", "pipe", "schedule", "40"}},
		{"2 inch PVC pipe schedule 40", []string{"2", "inch", "pvc", "pipe", "schedule", "40"}},
		{"1/2 in. copper elbow", []string{"1/2", "inch", "copper", "elbow"}},
		{"10' EMT conduit", []string{"10", "foot", "emt", "conduit"}},
		{"3'' sch 80 tee", []string{"3", "inch", "schedule", "80", "tee"}},
		{"40mm ball valve", []string{"40", "millimeter", "ball", "valve"}},
		{"1.5 ft hose", []string{"1.5", "foot", "hose"}},
		{"plug in adapter", []string{"plug", "in", "adapter"}},
		{"  ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokens(tt.in))
		})
	}
}

func TestLexicalEquivalentSpellings(t *testing.T) {
	l := NewLexical(256)
	ctx := context.Background()

	a, err := l.Embed(ctx, `2" PVC Pipe, Schedule 40`)
	require.NoError(t, err)
	b, err := l.Embed(ctx, "2 inch PVC pipe schedule 40")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLexicalUnitLengthAndDeterministic(t *testing.T) {
	l := NewLexical(0)
	assert.Equal(t, "lexical-1024", l.Model())

	vecs, err := l.EmbedBatch(context.Background(), []string{"copper elbow", "copper elbow", "!!!"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, vecs[0], vecs[1])

	var sum float64
	for _, x := range vecs[0] {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)

	for _, x := range vecs[2] {
		require.Zero(t, x)
	}
}

func TestLexicalCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLexical(8).Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeEmbedder struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	err       error
	block     bool
	dims      []int
}

func (f *fakeEmbedder) Model() string { return "fake" }

func (f *fakeEmbedder) hit(ctx context.Context) error {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if n <= f.failFirst {
		return f.err
	}
	return nil
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := f.hit(ctx); err != nil {
		return nil, err
	}
	return []float32{1, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := f.hit(ctx); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		d := 2
		if i < len(f.dims) {
			d = f.dims[i]
		}
		out[i] = make([]float32, d)
	}
	return out, nil
}

func (f *fakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var fastRetry = fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond}

func TestGuardedRetriesThenSucceeds(t *testing.T) {
	f := &fakeEmbedder{failFirst: 2, err: errors.New("503")}
	g := NewGuarded(f, GuardOpts{Retry: fastRetry, Logger: zaptest.NewLogger(t)})

	v, err := g.Embed(context.Background(), "pipe")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, v)
	assert.Equal(t, 3, f.Calls())
	assert.Equal(t, "fake", g.Model())
}

func TestGuardedFinalFailureIsEmbeddingError(t *testing.T) {
	m := metrics.New()
	f := &fakeEmbedder{failFirst: 100, err: errors.New("503")}
	g := NewGuarded(f, GuardOpts{Retry: fastRetry, Metrics: m})

	_, err := g.Embed(context.Background(), "pipe")
	var ee *domain.EmbeddingError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "query", ee.Op)
	assert.Equal(t, domain.KindEmbedding, domain.KindOf(err))
	assert.Equal(t, 3, f.Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmbedFailures.WithLabelValues("query")))
}

func TestGuardedTimeout(t *testing.T) {
	f := &fakeEmbedder{block: true}
	g := NewGuarded(f, GuardOpts{Timeout: 10 * time.Millisecond, Retry: fn.RetryOpts{MaxAttempts: 1}})

	_, err := g.Embed(context.Background(), "pipe")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.KindEmbedding, domain.KindOf(err))
}

func TestGuardedBreakerShortCircuits(t *testing.T) {
	f := &fakeEmbedder{failFirst: 100, err: errors.New("down")}
	b := resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 1, Timeout: time.Hour})
	g := NewGuarded(f, GuardOpts{Breaker: b, Retry: fastRetry})

	_, err := g.Embed(context.Background(), "a")
	require.Error(t, err)
	assert.Equal(t, 1, f.Calls(), "open breaker is not retried")

	_, err = g.Embed(context.Background(), "b")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 1, f.Calls())
}

func TestGuardedCanceledParentStopsRetrying(t *testing.T) {
	f := &fakeEmbedder{failFirst: 100, err: errors.New("503")}
	g := NewGuarded(f, GuardOpts{Retry: fastRetry})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Embed(ctx, "pipe")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.KindCanceled, domain.KindOf(err))
	assert.Equal(t, 1, f.Calls())
}

func TestGuardedLimiterRejects(t *testing.T) {
	f := &fakeEmbedder{}
	l := resilience.NewLimiter(resilience.LimiterOpts{Rate: 0.001, Burst: 1})
	g := NewGuarded(f, GuardOpts{Limiter: l, Retry: fn.RetryOpts{MaxAttempts: 1}})

	_, err := g.Embed(context.Background(), "pipe")
	require.NoError(t, err, "burst token")
	assert.Equal(t, 1, f.Calls())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Embed(ctx, "pipe")
	assert.ErrorIs(t, err, resilience.ErrRateLimited)
	assert.Equal(t, domain.KindEmbedding, domain.KindOf(err))
	assert.Equal(t, 1, f.Calls(), "rejected before reaching the provider")
}

func TestGuardedBatchDimensionMismatch(t *testing.T) {
	f := &fakeEmbedder{dims: []int{2, 3}}
	g := NewGuarded(f, GuardOpts{Retry: fn.RetryOpts{MaxAttempts: 1}})

	_, err := g.EmbedBatch(context.Background(), []string{"a", "b"})
	var ee *domain.EmbeddingError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "batch", ee.Op)
	assert.Contains(t, err.Error(), "dimension 3, want 2")
}

func TestGuardedBatchEmpty(t *testing.T) {
	g := NewGuarded(&fakeEmbedder{}, GuardOpts{})
	vecs, err := g.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestCachedMissThenHit(t *testing.T) {
	mr, rdb := newRedis(t)
	m := metrics.New()
	f := &fakeEmbedder{}
	c := NewCached(f, rdb, time.Hour, m, zaptest.NewLogger(t))
	ctx := context.Background()

	v1, err := c.Embed(ctx, "PVC  Pipe")
	require.NoError(t, err)
	v2, err := c.Embed(ctx, "pvc pipe")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, f.Calls(), "normalized text shares a key")
	assert.True(t, mr.Exists(CacheKey("fake", "pvc pipe")))
	assert.Equal(t, time.Hour, mr.TTL(CacheKey("fake", "pvc pipe")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmbedCache.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmbedCache.WithLabelValues("miss")))
}

func TestCachedRedisDownFallsThrough(t *testing.T) {
	mr, rdb := newRedis(t)
	mr.Close()
	f := &fakeEmbedder{}
	c := NewCached(f, rdb, time.Hour, nil, zaptest.NewLogger(t))

	v, err := c.Embed(context.Background(), "pipe")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, v)
	assert.Equal(t, 1, f.Calls())
}

func TestCachedCorruptEntry(t *testing.T) {
	mr, rdb := newRedis(t)
	require.NoError(t, mr.Set(CacheKey("fake", "pipe"), "abc"))
	f := &fakeEmbedder{}
	c := NewCached(f, rdb, time.Hour, nil, nil)

	_, err := c.Embed(context.Background(), "pipe")
	require.NoError(t, err)
	assert.Equal(t, 1, f.Calls())
}

func TestCachedDoesNotStoreFailures(t *testing.T) {
	mr, rdb := newRedis(t)
	f := &fakeEmbedder{failFirst: 1, err: errors.New("503")}
	c := NewCached(f, rdb, time.Hour, nil, nil)

	_, err := c.Embed(context.Background(), "pipe")
	require.Error(t, err)
	assert.False(t, mr.Exists(CacheKey("fake", "pipe")))
}

func TestCachedBatchPassesThrough(t *testing.T) {
	_, rdb := newRedis(t)
	f := &fakeEmbedder{}
	c := NewCached(f, rdb, time.Hour, nil, nil)

	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, "fake", c.Model())
}

func TestVectorCodec(t *testing.T) {
	v := []float32{0.25, -1, 3.5}
	back, err := decodeVector(encodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, back)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestNewProvider(t *testing.T) {
	e, err := NewProvider(config.EmbeddingConfig{Provider: "local", Dimensions: 64})
	require.NoError(t, err)
	assert.IsType(t, &Lexical{}, e)

	e, err = NewProvider(config.EmbeddingConfig{Provider: "ollama", BaseURL: "http://localhost:11434"})
	require.NoError(t, err)
	assert.IsType(t, &ollama.EmbedClient{}, e)
	assert.Equal(t, defaultOllamaModel, e.Model())

	e, err = NewProvider(config.EmbeddingConfig{Provider: "openai", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &openaiembed.Client{}, e)

	_, err = NewProvider(config.EmbeddingConfig{Provider: "word2vec"})
	assert.Error(t, err)
}

func TestNewFromConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{
		Embedding: config.EmbeddingConfig{Provider: "local", Dimensions: 64, Timeout: time.Second, MaxAttempts: 1},
		Cache:     config.CacheConfig{Enabled: true, RedisAddr: mr.Addr(), TTL: time.Minute},
	}

	e, closeFn, err := NewFromConfig(cfg, metrics.New(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer closeFn()
	require.IsType(t, &Cached{}, e)

	v, err := e.Embed(context.Background(), "copper elbow")
	require.NoError(t, err)
	assert.Len(t, v, 64)
	assert.True(t, mr.Exists(CacheKey("lexical-64", "copper elbow")))

	cfg.Cache.Enabled = false
	e, closeFn, err = NewFromConfig(cfg, nil, nil)
	require.NoError(t, err)
	assert.NoError(t, closeFn())
	assert.IsType(t, &Guarded{}, e)
}
