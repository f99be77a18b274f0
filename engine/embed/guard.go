package embed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/WessleyAI/skumatch/engine/domain"
	"github.com/WessleyAI/skumatch/pkg/fn"
	"github.com/WessleyAI/skumatch/pkg/logger"
	"github.com/WessleyAI/skumatch/pkg/metrics"
	"github.com/WessleyAI/skumatch/pkg/resilience"
	"go.uber.org/zap"
)

// GuardOpts configures Guarded. Nil Limiter and Breaker are skipped; a zero
// Timeout means no per-call deadline beyond the caller's.
type GuardOpts struct {
	Timeout time.Duration
	Limiter *resilience.Limiter
	Breaker *resilience.Breaker
	Retry   fn.RetryOpts
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Guarded wraps an Embedder so every call is rate limited, bounded by a
// per-attempt timeout, short-circuited by a breaker and retried. Final
// failures come back as *domain.EmbeddingError.
type Guarded struct {
	next Embedder
	opts GuardOpts
	log  *zap.Logger
}

func NewGuarded(next Embedder, opts GuardOpts) *Guarded {
	return &Guarded{next: next, opts: opts, log: logger.OrNop(opts.Logger)}
}

func (g *Guarded) Model() string { return g.next.Model() }

// Embed is used for queries.
func (g *Guarded) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.do(ctx, "query", 1, func(ctx context.Context) ([][]float32, error) {
		v, err := g.next.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		return [][]float32{v}, nil
	})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch is used for catalog builds.
func (g *Guarded) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return g.do(ctx, "batch", len(texts), func(ctx context.Context) ([][]float32, error) {
		return g.next.EmbedBatch(ctx, texts)
	})
}

func (g *Guarded) do(ctx context.Context, op string, n int, call func(context.Context) ([][]float32, error)) ([][]float32, error) {
	start := time.Now()

	retry := g.opts.Retry
	retry.Retryable = func(err error) bool {
		return ctx.Err() == nil && !errors.Is(err, resilience.ErrCircuitOpen)
	}

	res := fn.Retry(ctx, retry, func(ctx context.Context) fn.Result[[][]float32] {
		var out [][]float32
		attempt := func(ctx context.Context) error {
			if g.opts.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
				defer cancel()
			}
			vecs, err := call(ctx)
			if err != nil {
				return err
			}
			if err := checkVectors(vecs, n); err != nil {
				return err
			}
			out = vecs
			return nil
		}
		guarded := attempt
		if g.opts.Breaker != nil {
			guarded = func(ctx context.Context) error { return g.opts.Breaker.Call(ctx, attempt) }
		}
		var err error
		if g.opts.Limiter != nil {
			err = g.opts.Limiter.CallWait(ctx, guarded)
		} else {
			err = guarded(ctx)
		}
		return fn.FromPair(out, err)
	})

	vecs, err := res.Unwrap()
	g.opts.Metrics.ObserveEmbed(op, start, err)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		g.log.Warn("embedding failed",
			zap.String("op", op),
			zap.String("model", g.next.Model()),
			zap.Int("texts", n),
			zap.Error(err),
		)
		return nil, &domain.EmbeddingError{Op: op, Wrapped: err}
	}
	return vecs, nil
}

// checkVectors rejects short responses, empty vectors and mixed dimensions.
func checkVectors(vecs [][]float32, n int) error {
	if len(vecs) != n {
		return fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), n)
	}
	dim := -1
	for i, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("provider returned an empty vector at %d", i)
		}
		if dim >= 0 && len(v) != dim {
			return fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim)
		}
		dim = len(v)
	}
	return nil
}
