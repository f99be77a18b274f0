package embed

import (
	"fmt"

	"github.com/WessleyAI/skumatch/pkg/config"
	"github.com/WessleyAI/skumatch/pkg/fn"
	"github.com/WessleyAI/skumatch/pkg/metrics"
	"github.com/WessleyAI/skumatch/pkg/ollama"
	"github.com/WessleyAI/skumatch/pkg/openaiembed"
	"github.com/WessleyAI/skumatch/pkg/resilience"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultOllamaModel = "nomic-embed-text"

// NewProvider returns the bare provider named by cfg.Provider.
func NewProvider(cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "local", "":
		return NewLexical(cfg.Dimensions), nil
	case "ollama":
		model := cfg.Model
		if model == "" {
			model = defaultOllamaModel
		}
		return ollama.NewEmbedClient(cfg.BaseURL, model, nil), nil
	case "openai":
		return openaiembed.New(openaiembed.Options{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		}), nil
	default:
		return nil, fmt.Errorf("embed: unknown provider %q", cfg.Provider)
	}
}

// NewFromConfig assembles provider, guards and, when enabled, the Redis
// cache. The returned close func releases the Redis client.
func NewFromConfig(cfg *config.Config, m *metrics.Metrics, log *zap.Logger) (Embedder, func() error, error) {
	base, err := NewProvider(cfg.Embedding)
	if err != nil {
		return nil, nil, err
	}

	retry := fn.DefaultRetry
	retry.MaxAttempts = cfg.Embedding.MaxAttempts

	breaker := resilience.NewBreaker(resilience.BreakerOpts{
		OnStateChange: func(from, to resilience.State) {
			if log != nil {
				log.Warn("embedding breaker state change",
					zap.Stringer("from", from), zap.Stringer("to", to))
			}
		},
	})

	var e Embedder = NewGuarded(base, GuardOpts{
		Timeout: cfg.Embedding.Timeout,
		Limiter: resilience.NewLimiter(resilience.LimiterOpts{
			Rate:  cfg.Embedding.RatePerSecond,
			Burst: cfg.Embedding.Burst,
		}),
		Breaker: breaker,
		Retry:   retry,
		Metrics: m,
		Logger:  log,
	})

	closeFn := func() error { return nil }
	if cfg.Cache.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		e = NewCached(e, rdb, cfg.Cache.TTL, m, log)
		closeFn = rdb.Close
	}
	return e, closeFn, nil
}
