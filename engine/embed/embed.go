// Package embed turns text into vectors. It defines the Embedder contract,
// a dependency-free lexical embedder, and the decorators every remote
// provider is wrapped in: timeout, rate limit, circuit breaker, retry and an
// optional Redis cache.
package embed

import "context"

// Embedder produces fixed-dimension vectors. EmbedBatch returns one vector
// per input in input order.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}
