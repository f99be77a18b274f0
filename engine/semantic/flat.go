package semantic

import (
	"context"
	"fmt"
	"sync/atomic"
)

// FlatBuilder builds exhaustive in-memory indexes.
type FlatBuilder struct{}

func (FlatBuilder) Build(ctx context.Context, _ string, recs []Record) (Index, error) {
	f := &Flat{keys: make([]string, len(recs)), vecs: make([][][]float32, len(recs))}
	for i, r := range recs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, v := range r.vectors() {
			if len(v) != len(recs[0].Vector) {
				return nil, fmt.Errorf("semantic: record %q has dimension %d, want %d", r.Key, len(v), len(recs[0].Vector))
			}
			f.vecs[i] = append(f.vecs[i], append([]float32(nil), v...))
		}
		f.keys[i] = r.Key
	}
	if len(recs) > 0 {
		f.dims = len(recs[0].Vector)
	}
	return f, nil
}

// Flat scores every record on each search.
type Flat struct {
	keys   []string
	vecs   [][][]float32
	dims   int
	closed atomic.Bool
}

func (f *Flat) Len() int { return len(f.keys) }

func (f *Flat) Search(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	if f.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(f.keys) > 0 && len(vec) != f.dims {
		return nil, fmt.Errorf("semantic: query dimension %d, index dimension %d", len(vec), f.dims)
	}
	hits := make([]Hit, len(f.keys))
	for i, views := range f.vecs {
		best := 0.0
		for _, v := range views {
			best = max(best, Clamp(Cosine(vec, v)))
		}
		hits[i] = Hit{Key: f.keys[i], Score: best}
	}
	return Rank(hits, k), nil
}

func (f *Flat) Close(context.Context) error {
	f.closed.Store(true)
	return nil
}
