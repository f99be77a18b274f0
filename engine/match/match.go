// Package match ranks catalog entries against a single free-text line item.
package match

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/WessleyAI/skumatch/engine/catalog"
	"github.com/WessleyAI/skumatch/engine/domain"
	"github.com/WessleyAI/skumatch/engine/embed"
	"github.com/WessleyAI/skumatch/pkg/logger"
)

const tracerName = "github.com/WessleyAI/skumatch/engine/match"

// DefaultTopK is used when Options.TopK <= 0.
const DefaultTopK = 5

type Options struct {
	// TopK is the number of candidates returned.
	TopK int
	// MinConfidence is the floor under which the best candidate is not
	// reported as a match. Zero always reports the best candidate.
	MinConfidence float64
	Logger        *zap.Logger
}

// Result is the outcome for one query. Best is nil when there is no match;
// Candidates are returned either way.
type Result struct {
	Query      string                  `json:"query"`
	SnapshotID string                  `json:"snapshot_id"`
	Candidates []domain.MatchCandidate `json:"candidates"`
	Best       *domain.MatchCandidate  `json:"best"`
}

// Confidence is the top-1 score, or 0 when there are no candidates.
func (r Result) Confidence() float64 {
	if len(r.Candidates) == 0 {
		return 0
	}
	return r.Candidates[0].Score
}

// Band of the top-1 score.
func (r Result) Band() domain.Band { return domain.BandFor(r.Confidence()) }

type Matcher struct {
	store    *catalog.Store
	embedder embed.Embedder
	opts     Options
	log      *zap.Logger
}

func New(store *catalog.Store, e embed.Embedder, opts Options) *Matcher {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	return &Matcher{store: store, embedder: e, opts: opts, log: logger.OrNop(opts.Logger)}
}

// Match acquires the current snapshot for the duration of one query.
func (m *Matcher) Match(ctx context.Context, text string) (Result, error) {
	snap, err := m.store.Acquire()
	if err != nil {
		return Result{}, err
	}
	defer snap.Release()
	return m.MatchIn(ctx, snap, text)
}

// MatchIn matches text against a snapshot the caller already holds.
func (m *Matcher) MatchIn(ctx context.Context, snap *catalog.Snapshot, text string) (Result, error) {
	q := domain.NormalizeText(text)
	if q == "" {
		return Result{}, domain.NewValidationError("line_item", text, domain.ErrEmptyLineItem)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "match.line_item")
	defer span.End()
	span.SetAttributes(attribute.String("snapshot_id", snap.ID()))

	res, err := m.match(ctx, snap, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.log.Debug("match failed",
			zap.String("query", q),
			zap.String("kind", string(domain.KindOf(err))),
			zap.Error(err),
		)
		return Result{}, err
	}
	span.SetAttributes(attribute.Float64("confidence", res.Confidence()))
	return res, nil
}

func (m *Matcher) match(ctx context.Context, snap *catalog.Snapshot, q string) (Result, error) {
	vec, err := m.embedder.Embed(ctx, q)
	if err != nil {
		var ee *domain.EmbeddingError
		if errors.As(err, &ee) {
			return Result{}, err
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, &domain.EmbeddingError{Op: "query", Wrapped: err}
	}

	hits, err := snap.Search(ctx, vec, m.opts.TopK)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, &domain.SearchError{Wrapped: err}
	}

	res := Result{
		Query:      q,
		SnapshotID: snap.ID(),
		Candidates: make([]domain.MatchCandidate, len(hits)),
	}
	for i, h := range hits {
		res.Candidates[i] = domain.MatchCandidate{SKU: h.Key, Score: h.Score, Rank: i + 1}
	}
	if len(res.Candidates) > 0 && res.Candidates[0].Score >= m.opts.MinConfidence {
		best := res.Candidates[0]
		res.Best = &best
	}
	return res, nil
}
