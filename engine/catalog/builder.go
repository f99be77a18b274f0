// Package catalog validates catalog tables, embeds and indexes them, and
// publishes the result as the current immutable snapshot.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/WessleyAI/skumatch/engine/domain"
	"github.com/WessleyAI/skumatch/engine/embed"
	"github.com/WessleyAI/skumatch/engine/events"
	"github.com/WessleyAI/skumatch/engine/semantic"
	"github.com/WessleyAI/skumatch/pkg/fn"
	"github.com/WessleyAI/skumatch/pkg/logger"
	"github.com/WessleyAI/skumatch/pkg/metrics"
)

// DefaultBatchSize is the number of rows per embedding request.
const DefaultBatchSize = 64

// Options configures a Builder. Zero values are usable.
type Options struct {
	BatchSize int
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Notifier  events.Notifier
}

// Builder turns a Table into a published Snapshot.
type Builder struct {
	embedder embed.Embedder
	indexes  semantic.Builder
	store    *Store
	opts     Options
	log      *zap.Logger
}

func NewBuilder(e embed.Embedder, indexes semantic.Builder, store *Store, opts Options) *Builder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	opts.Notifier = events.OrNop(opts.Notifier)
	return &Builder{
		embedder: e,
		indexes:  indexes,
		store:    store,
		opts:     opts,
		log:      logger.OrNop(opts.Logger),
	}
}

// Pipeline payloads.
type (
	canonicalized struct {
		entries []domain.CatalogEntry
		texts   []string
		names   []string
	}
	embedded struct {
		entries []domain.CatalogEntry
	}
)

// Build validates, embeds and indexes t, then swaps the new snapshot in.
// On any error nothing is swapped and the previous snapshot keeps serving.
// Builds are serialized.
func (b *Builder) Build(ctx context.Context, t Table) (Info, error) {
	b.store.buildMu.Lock()
	defer b.store.buildMu.Unlock()

	start := time.Now()
	id := uuid.NewString()
	log := b.log.With(zap.String("snapshot_id", id))
	log.Info("catalog build started", zap.Int("rows", len(t.Rows)))

	snap, err := b.pipeline(id, log)(ctx, t).Unwrap()
	if err != nil {
		b.opts.Metrics.CatalogBuilt("failed", 0)
		log.Error("catalog build failed",
			zap.String("kind", string(domain.KindOf(err))),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return Info{}, fmt.Errorf("catalog: build: %w", err)
	}

	b.store.Swap(snap)
	info := snap.Info()
	elapsed := time.Since(start)
	b.opts.Metrics.CatalogBuilt("ok", info.ProductsCount)
	log.Info("catalog build finished",
		zap.Int("products", info.ProductsCount),
		zap.String("model", info.Model),
		zap.Duration("duration", elapsed),
	)
	b.opts.Notifier.CatalogIndexed(ctx, events.CatalogIndexed{
		SnapshotID:    info.ID,
		ProductsCount: info.ProductsCount,
		DurationMS:    elapsed.Milliseconds(),
		Model:         info.Model,
	})
	return info, nil
}

// Validate runs only the validation stage. Used for dry runs.
func Validate(t Table) (int, error) {
	entries, err := ParseEntries(t)
	return len(entries), err
}

func (b *Builder) pipeline(id string, log *zap.Logger) fn.Stage[Table, *Snapshot] {
	validate := logged(log, "validate", fn.TracedStage("catalog.validate", validateStage))
	canon := logged(log, "canonicalize", fn.TracedStage("catalog.canonicalize", fn.MapStage(canonicalize)))
	emb := logged(log, "embed", fn.TracedStage("catalog.embed", b.embedStage))
	idx := logged(log, "index", fn.TracedStage("catalog.index", b.indexStage(id)))

	return fn.Then(fn.Then(fn.Then(validate, canon), emb), idx)
}

var validateStage fn.Stage[Table, []domain.CatalogEntry] = func(_ context.Context, t Table) fn.Result[[]domain.CatalogEntry] {
	entries, err := ParseEntries(t)
	return fn.FromPair(entries, err)
}

func canonicalize(entries []domain.CatalogEntry) canonicalized {
	c := canonicalized{
		entries: entries,
		texts:   make([]string, len(entries)),
		names:   make([]string, len(entries)),
	}
	for i, e := range entries {
		c.texts[i] = CanonicalText(e)
		c.names[i] = NameText(e)
	}
	return c
}

func (b *Builder) embedStage(ctx context.Context, c canonicalized) fn.Result[embedded] {
	dims := 0
	for start := 0; start < len(c.texts); start += b.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return fn.Err[embedded](err)
		}
		end := min(start+b.opts.BatchSize, len(c.texts))
		n := end - start

		// One request per chunk: canonical texts first, then names.
		texts := make([]string, 0, 2*n)
		texts = append(append(texts, c.texts[start:end]...), c.names[start:end]...)
		vecs, err := b.embedder.EmbedBatch(ctx, texts)
		if err != nil && ctx.Err() != nil {
			return fn.Err[embedded](ctx.Err())
		}
		if err != nil {
			return fn.Err[embedded](asEmbeddingError(fmt.Errorf("rows %d-%d: %w", start, end-1, err)))
		}
		if len(vecs) != 2*n {
			return fn.Err[embedded](asEmbeddingError(fmt.Errorf("rows %d-%d: got %d vectors for %d texts", start, end-1, len(vecs), 2*n)))
		}
		for i, v := range vecs {
			if dims == 0 {
				dims = len(v)
			}
			if len(v) == 0 || len(v) != dims {
				return fn.Err[embedded](asEmbeddingError(fmt.Errorf("row %d: vector dimension %d, want %d", start+i%n, len(v), dims)))
			}
			if i < n {
				c.entries[start+i].Vector = v
			} else {
				c.entries[start+i-n].NameVector = v
			}
		}
	}
	return fn.Ok(embedded{entries: c.entries})
}

func (b *Builder) indexStage(id string) fn.Stage[embedded, *Snapshot] {
	return func(ctx context.Context, e embedded) fn.Result[*Snapshot] {
		recs := make([]semantic.Record, len(e.entries))
		for i, en := range e.entries {
			recs[i] = semantic.Record{Key: en.SKU, Vector: en.Vector, Alt: [][]float32{en.NameVector}}
		}
		idx, err := b.indexes.Build(ctx, id, recs)
		if err != nil {
			if ctx.Err() != nil {
				return fn.Err[*Snapshot](ctx.Err())
			}
			return fn.Err[*Snapshot](&domain.SearchError{Wrapped: err})
		}
		return fn.Ok(NewSnapshot(id, b.embedder.Model(), e.entries, idx, b.log))
	}
}

func asEmbeddingError(err error) error {
	var ee *domain.EmbeddingError
	if errors.As(err, &ee) {
		return err
	}
	return &domain.EmbeddingError{Op: "build", Wrapped: err}
}

// logged wraps a stage with enter/exit logs.
func logged[In, Out any](log *zap.Logger, name string, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		log.Debug("stage.enter", zap.String("stage", name))
		start := time.Now()
		r := stage(ctx, in)
		if _, err := r.Unwrap(); err != nil {
			log.Debug("stage.exit", zap.String("stage", name), zap.Duration("duration", time.Since(start)), zap.Error(err))
		} else {
			log.Debug("stage.exit", zap.String("stage", name), zap.Duration("duration", time.Since(start)))
		}
		return r
	}
}
