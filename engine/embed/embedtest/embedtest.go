// Package embedtest provides deterministic embedders for tests.
package embedtest

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/WessleyAI/skumatch/engine/embed"
)

// Vocab gives every distinct token its own dimension, so vectors are exact
// term-frequency vectors with no hash collisions. Token ids are assigned on
// first sight and stay stable for the life of the value.
type Vocab struct {
	dim int

	mu    sync.Mutex
	ids   map[string]int
	fails []failRule

	calls      atomic.Int64
	batchCalls atomic.Int64
}

type failRule struct {
	substr string
	err    error
}

// NewVocab returns a Vocab with room for dim distinct tokens.
func NewVocab(dim int) *Vocab {
	return &Vocab{dim: dim, ids: map[string]int{}}
}

func (v *Vocab) Model() string { return "vocab-test" }

// FailWhen makes every call whose text contains substr (case-insensitive)
// fail with err.
func (v *Vocab) FailWhen(substr string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fails = append(v.fails, failRule{substr: strings.ToLower(substr), err: err})
}

// Calls counts texts embedded through Embed.
func (v *Vocab) Calls() int { return int(v.calls.Load()) }

// BatchCalls counts EmbedBatch invocations.
func (v *Vocab) BatchCalls() int { return int(v.batchCalls.Load()) }

func (v *Vocab) Embed(ctx context.Context, text string) ([]float32, error) {
	v.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := v.failure(text); err != nil {
		return nil, err
	}
	return v.vector(text), nil
}

func (v *Vocab) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	v.batchCalls.Add(1)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := v.failure(t); err != nil {
			return nil, err
		}
		out[i] = v.vector(t)
	}
	return out, nil
}

func (v *Vocab) failure(text string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	lt := strings.ToLower(text)
	for _, r := range v.fails {
		if strings.Contains(lt, r.substr) {
			return r.err
		}
	}
	return nil
}

func (v *Vocab) vector(text string) []float32 {
	vec := make([]float32, v.dim)
	v.mu.Lock()
	for _, tok := range embed.Tokens(text) {
		id, ok := v.ids[tok]
		if !ok {
			id = len(v.ids) % v.dim
			v.ids[tok] = id
		}
		vec[id]++
	}
	v.mu.Unlock()
	return embed.Normalize(vec)
}
