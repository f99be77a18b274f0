package catalog

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/WessleyAI/skumatch/engine/domain"
	"github.com/WessleyAI/skumatch/pkg/logger"
)

// Store holds the current snapshot. Readers are lock-free; swaps are
// serialized by the builder through buildMu.
type Store struct {
	cur     atomic.Pointer[Snapshot]
	buildMu sync.Mutex
	log     *zap.Logger
}

func NewStore(log *zap.Logger) *Store {
	return &Store{log: logger.OrNop(log)}
}

// Acquire returns the current snapshot with a reference held, or
// *domain.NotReadyError if none has ever been published.
func (st *Store) Acquire() (*Snapshot, error) {
	for {
		s := st.cur.Load()
		if s == nil {
			return nil, &domain.NotReadyError{}
		}
		if s.tryRetain() {
			return s, nil
		}
		// s was retired between Load and retain, so a newer one is current.
	}
}

// Swap publishes s, which must carry the reference the store now owns, and
// releases the store's reference to the previous snapshot.
func (st *Store) Swap(s *Snapshot) {
	old := st.cur.Swap(s)
	if old != nil {
		st.log.Info("snapshot superseded",
			zap.String("old_snapshot_id", old.ID()),
			zap.String("snapshot_id", s.ID()),
		)
		old.Release()
	}
}

// Ready reports whether a snapshot has been published.
func (st *Store) Ready() bool { return st.cur.Load() != nil }

// Info describes the current snapshot.
func (st *Store) Info() (Info, bool) {
	s := st.cur.Load()
	if s == nil {
		return Info{}, false
	}
	return s.Info(), true
}

// Close retires the current snapshot. Requests still holding a reference
// keep it alive until they release.
func (st *Store) Close() {
	st.buildMu.Lock()
	defer st.buildMu.Unlock()
	if old := st.cur.Swap(nil); old != nil {
		old.Release()
	}
}
