package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/WessleyAI/skumatch/engine/domain"
	"github.com/WessleyAI/skumatch/pkg/logger"
	"github.com/WessleyAI/skumatch/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "skumatch:embed:"

// Cached is a cache-aside wrapper for query embeddings. Redis failures are
// logged and bypassed. Batch calls are passed straight through.
type Cached struct {
	next    Embedder
	rdb     redis.Cmdable
	ttl     time.Duration
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewCached(next Embedder, rdb redis.Cmdable, ttl time.Duration, m *metrics.Metrics, log *zap.Logger) *Cached {
	return &Cached{next: next, rdb: rdb, ttl: ttl, metrics: m, log: logger.OrNop(log)}
}

func (c *Cached) Model() string { return c.next.Model() }

func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.next.EmbedBatch(ctx, texts)
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := CacheKey(c.next.Model(), text)

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		v, derr := decodeVector(data)
		if derr == nil {
			c.metrics.CacheLookup("hit")
			return v, nil
		}
		c.log.Warn("embed cache: corrupt entry", zap.String("key", key), zap.Error(derr))
		c.metrics.CacheLookup("error")
	case errors.Is(err, redis.Nil):
		c.metrics.CacheLookup("miss")
	default:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Warn("embed cache: get failed", zap.Error(err))
		c.metrics.CacheLookup("error")
	}

	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.rdb.Set(ctx, key, encodeVector(v), c.ttl).Err(); err != nil {
		c.log.Warn("embed cache: set failed", zap.Error(err))
	}
	return v, nil
}

// CacheKey is model plus the sha256 of the normalized text.
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(domain.NormalizeText(text)))
	return cacheKeyPrefix + model + ":" + hex.EncodeToString(sum[:])
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("bad vector length %d", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
