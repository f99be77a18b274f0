// Package batch matches every line item of an RFQ against one catalog
// snapshot with bounded concurrency.
package batch

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/WessleyAI/skumatch/engine/catalog"
	"github.com/WessleyAI/skumatch/engine/domain"
	"github.com/WessleyAI/skumatch/engine/enrich"
	"github.com/WessleyAI/skumatch/engine/events"
	"github.com/WessleyAI/skumatch/engine/match"
	"github.com/WessleyAI/skumatch/pkg/fn"
	"github.com/WessleyAI/skumatch/pkg/logger"
	"github.com/WessleyAI/skumatch/pkg/metrics"
)

const tracerName = "github.com/WessleyAI/skumatch/engine/batch"

// DefaultConcurrency is used when Options.Concurrency <= 0.
const DefaultConcurrency = 4

// Request is one RFQ's line items.
type Request struct {
	RFQID string               `json:"rfq_id"`
	Items []domain.RFQLineItem `json:"line_items"`
}

// Status is the batch-level outcome.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// Failure locates one failed item.
type Failure struct {
	Index   int              `json:"index"`
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

// Result has one enriched item per input item, in input order.
type Result struct {
	RFQID      string                    `json:"rfq_id"`
	Status     Status                    `json:"status"`
	Message    string                    `json:"message"`
	SnapshotID string                    `json:"snapshot_id"`
	Items      []domain.EnrichedLineItem `json:"line_items"`
	Failures   []Failure                 `json:"failures"`
	Matched    int                       `json:"matched"`
	NoMatch    int                       `json:"no_match"`
	Failed     int                       `json:"failed"`
}

type Options struct {
	Concurrency int
	Metrics     *metrics.Metrics
	Notifier    events.Notifier
	Logger      *zap.Logger
}

type Orchestrator struct {
	store   *catalog.Store
	matcher *match.Matcher
	opts    Options
	log     *zap.Logger
}

func New(store *catalog.Store, m *match.Matcher, opts Options) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	opts.Notifier = events.OrNop(opts.Notifier)
	return &Orchestrator{store: store, matcher: m, opts: opts, log: logger.OrNop(opts.Logger)}
}

// Run validates req, pins the current snapshot and matches every item.
// Invalid input rejects the whole batch; a failing item only fails itself.
// If ctx ends mid-batch, Run returns ctx.Err() and no partial result.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	if err := domain.ValidateLineItems(req.RFQID, req.Items); err != nil {
		return Result{}, err
	}
	snap, err := o.store.Acquire()
	if err != nil {
		return Result{}, err
	}
	defer snap.Release()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "batch.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("rfq_id", req.RFQID),
		attribute.Int("items", len(req.Items)),
		attribute.String("snapshot_id", snap.ID()),
	)

	start := time.Now()
	results := fn.ParMapResult(ctx, req.Items, o.opts.Concurrency,
		func(ctx context.Context, _ int, item domain.RFQLineItem) fn.Result[domain.EnrichedLineItem] {
			r, err := o.matcher.MatchIn(ctx, snap, item.LineItem)
			if err != nil {
				return fn.Err[domain.EnrichedLineItem](err)
			}
			return fn.Ok(enrich.Merge(item, r.Best, snap))
		})
	if err := ctx.Err(); err != nil {
		o.log.Warn("batch canceled", zap.String("rfq_id", req.RFQID), zap.Error(err))
		return Result{}, err
	}

	res := Result{
		RFQID:      req.RFQID,
		SnapshotID: snap.ID(),
		Items:      make([]domain.EnrichedLineItem, len(req.Items)),
		Failures:   []Failure{},
	}
	for i, r := range results {
		item, err := r.Unwrap()
		if err != nil {
			item = enrich.Failed(req.Items[i], err)
			res.Failures = append(res.Failures, Failure{Index: i, Kind: item.Error.Kind, Message: item.Error.Message})
		}
		res.Items[i] = item

		switch item.Status {
		case domain.StatusMatched:
			res.Matched++
			o.opts.Metrics.ItemMatched(string(item.Status), item.Match.Confidence)
		case domain.StatusNoMatch:
			res.NoMatch++
			o.opts.Metrics.ItemMatched(string(item.Status), 0)
		default:
			res.Failed++
			o.opts.Metrics.ItemMatched(string(domain.StatusFailed), 0)
		}
	}

	total := len(req.Items)
	switch {
	case res.Failed == 0:
		res.Status = StatusCompleted
	case res.Failed == total:
		res.Status = StatusFailed
	default:
		res.Status = StatusPartial
	}
	res.Message = fmt.Sprintf("matched %d of %d line items (%d without a match, %d failed)",
		res.Matched, total, res.NoMatch, res.Failed)

	o.opts.Metrics.BatchDone(start)
	o.log.Info("batch finished",
		zap.String("rfq_id", req.RFQID),
		zap.String("snapshot_id", snap.ID()),
		zap.String("status", string(res.Status)),
		zap.Int("total", total),
		zap.Int("matched", res.Matched),
		zap.Int("no_match", res.NoMatch),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", time.Since(start)),
	)
	o.opts.Notifier.RFQMatched(ctx, events.RFQMatched{
		RFQID:   req.RFQID,
		Status:  string(res.Status),
		Total:   total,
		Matched: res.Matched,
		NoMatch: res.NoMatch,
		Failed:  res.Failed,
	})
	return res, nil
}
