// Package semantic holds the vector indexes a catalog snapshot searches: a
// flat in-memory index and a Qdrant-backed one.
package semantic

import (
	"context"
	"errors"
	"math"
	"sort"
)

// ErrClosed is returned by Search on an index that has been closed.
var ErrClosed = errors.New("semantic: index closed")

// TieEpsilon is the tie resolution. Rank buckets scores to multiples of it
// and orders hits sharing a bucket by key.
const TieEpsilon = 1e-9

// Hit is one search result. Key is the catalog sku.
type Hit struct {
	Key   string
	Score float64
}

// Record is one key to index. Alt holds further embeddings of the same key;
// a key scores as the best of Vector and Alt.
type Record struct {
	Key    string
	Vector []float32
	Alt    [][]float32
}

func (r Record) vectors() [][]float32 {
	return append([][]float32{r.Vector}, r.Alt...)
}

// Index is an immutable, searchable set of records. Scores are cosine
// similarities clamped to [0,1].
type Index interface {
	Search(ctx context.Context, vec []float32, k int) ([]Hit, error)
	Len() int
	Close(ctx context.Context) error
}

// Builder creates an Index from records. name identifies the snapshot.
type Builder interface {
	Build(ctx context.Context, name string, recs []Record) (Index, error)
}

// Clamp bounds s to [0,1].
func Clamp(s float64) float64 {
	switch {
	case math.IsNaN(s), s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}

// Rank sorts hits by descending score, breaking near-ties by ascending key,
// and keeps the first k.
func Rank(hits []Hit, k int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := tieBucket(hits[i].Score), tieBucket(hits[j].Score)
		if a != b {
			return a > b
		}
		return hits[i].Key < hits[j].Key
	})
	if k >= 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func tieBucket(s float64) float64 { return math.Round(s / TieEpsilon) }

// BestPerKey keeps the highest-scoring hit of each key, in first-seen order.
func BestPerKey(hits []Hit) []Hit {
	pos := make(map[string]int, len(hits))
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		i, ok := pos[h.Key]
		if !ok {
			pos[h.Key] = len(out)
			out = append(out, h)
			continue
		}
		if h.Score > out[i].Score {
			out[i] = h
		}
	}
	return out
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
