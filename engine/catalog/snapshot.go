package catalog

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/WessleyAI/skumatch/engine/domain"
	"github.com/WessleyAI/skumatch/engine/semantic"
	"github.com/WessleyAI/skumatch/pkg/logger"
)

const closeTimeout = 30 * time.Second

// Info describes a snapshot.
type Info struct {
	ID            string    `json:"snapshot_id"`
	ProductsCount int       `json:"products_count"`
	Model         string    `json:"model"`
	BuiltAt       time.Time `json:"built_at"`
}

// Snapshot is an immutable, searchable catalog version. It is reference
// counted: whoever obtains one from Store.Acquire must call Release.
type Snapshot struct {
	info    Info
	entries []domain.CatalogEntry
	bySKU   map[string]int
	index   semantic.Index
	refs    atomic.Int64
	log     *zap.Logger
}

// NewSnapshot wraps entries and their index. The caller holds the single
// initial reference.
func NewSnapshot(id, model string, entries []domain.CatalogEntry, index semantic.Index, log *zap.Logger) *Snapshot {
	s := &Snapshot{
		info: Info{
			ID:            id,
			ProductsCount: len(entries),
			Model:         model,
			BuiltAt:       time.Now().UTC(),
		},
		entries: entries,
		bySKU:   make(map[string]int, len(entries)),
		index:   index,
		log:     logger.OrNop(log),
	}
	for i, e := range entries {
		s.bySKU[e.SKU] = i
	}
	s.refs.Store(1)
	return s
}

func (s *Snapshot) ID() string    { return s.info.ID }
func (s *Snapshot) Info() Info    { return s.info }
func (s *Snapshot) Len() int      { return len(s.entries) }
func (s *Snapshot) Model() string { return s.info.Model }

// Entries returns the entries in catalog order. Callers must not modify them.
func (s *Snapshot) Entries() []domain.CatalogEntry { return s.entries }

// Lookup finds an entry by sku.
func (s *Snapshot) Lookup(sku string) (domain.CatalogEntry, bool) {
	i, ok := s.bySKU[sku]
	if !ok {
		return domain.CatalogEntry{}, false
	}
	return s.entries[i], true
}

// Search runs a k-nearest search over the snapshot's index.
func (s *Snapshot) Search(ctx context.Context, vec []float32, k int) ([]semantic.Hit, error) {
	return s.index.Search(ctx, vec, k)
}

// tryRetain adds a reference unless the snapshot is already retired.
func (s *Snapshot) tryRetain() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference. The last one closes the index.
func (s *Snapshot) Release() {
	switch n := s.refs.Add(-1); {
	case n == 0:
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := s.index.Close(ctx); err != nil {
			s.log.Warn("snapshot close failed", zap.String("snapshot_id", s.info.ID), zap.Error(err))
			return
		}
		s.log.Info("snapshot retired", zap.String("snapshot_id", s.info.ID))
	case n < 0:
		s.log.Error("snapshot released too many times", zap.String("snapshot_id", s.info.ID))
	}
}

// Retired reports whether the last reference has been released.
func (s *Snapshot) Retired() bool { return s.refs.Load() <= 0 }
