// Package events publishes skumatch lifecycle events to NATS.
package events

import (
	"context"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/WessleyAI/skumatch/pkg/logger"
	"github.com/WessleyAI/skumatch/pkg/natsutil"
)

const (
	// SubjectCatalogIndexed is published after a snapshot becomes current.
	SubjectCatalogIndexed = "skumatch.catalog.indexed"
	// SubjectRFQMatched is published after a batch completes.
	SubjectRFQMatched = "skumatch.rfq.matched"
)

type CatalogIndexed struct {
	SnapshotID    string `json:"snapshot_id"`
	ProductsCount int    `json:"products_count"`
	DurationMS    int64  `json:"duration_ms"`
	Model         string `json:"model"`
}

type RFQMatched struct {
	RFQID   string `json:"rfq_id"`
	Status  string `json:"status"`
	Total   int    `json:"total"`
	Matched int    `json:"matched"`
	NoMatch int    `json:"no_match"`
	Failed  int    `json:"failed"`
}

// Notifier receives events. Implementations never fail the caller.
type Notifier interface {
	CatalogIndexed(ctx context.Context, e CatalogIndexed)
	RFQMatched(ctx context.Context, e RFQMatched)
}

// Nop discards events.
type Nop struct{}

func (Nop) CatalogIndexed(context.Context, CatalogIndexed) {}
func (Nop) RFQMatched(context.Context, RFQMatched)         {}

// NATS publishes events with the trace context in the headers. Publish
// errors are logged.
type NATS struct {
	pub natsutil.MsgPublisher
	log *zap.Logger
}

func NewNATS(pub natsutil.MsgPublisher, log *zap.Logger) *NATS {
	return &NATS{pub: pub, log: logger.OrNop(log)}
}

func (n *NATS) CatalogIndexed(ctx context.Context, e CatalogIndexed) {
	publish(ctx, n, SubjectCatalogIndexed, e)
}

func (n *NATS) RFQMatched(ctx context.Context, e RFQMatched) {
	publish(ctx, n, SubjectRFQMatched, e)
}

func publish[T any](ctx context.Context, n *NATS, subject string, v T) {
	if err := natsutil.Publish(ctx, n.pub, subject, v); err != nil {
		n.log.Warn("event publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

// Connect dials url and returns a NATS notifier plus the connection to
// close on shutdown. An empty url yields Nop and a nil connection.
func Connect(url string, log *zap.Logger) (Notifier, *nats.Conn, error) {
	if url == "" {
		return Nop{}, nil, nil
	}
	nc, err := nats.Connect(url, nats.Name("skumatch"))
	if err != nil {
		return nil, nil, err
	}
	return NewNATS(nc, log), nc, nil
}

// Received is one event read back from NATS. Exactly one of Catalog and RFQ
// is set.
type Received struct {
	Subject string          `json:"subject"`
	Catalog *CatalogIndexed `json:"catalog_indexed,omitempty"`
	RFQ     *RFQMatched     `json:"rfq_matched,omitempty"`
}

// Subscribe delivers both event kinds to handler, which may be called from
// two goroutines at once. Malformed messages are logged and skipped. The
// caller unsubscribes the returned subscriptions.
func Subscribe(nc *nats.Conn, handler func(context.Context, Received), log *zap.Logger) ([]*nats.Subscription, error) {
	log = logger.OrNop(log)
	onBad := func(msg *nats.Msg, err error) {
		log.Warn("malformed event", zap.String("subject", msg.Subject), zap.Error(err))
	}

	catalogSub, err := natsutil.Subscribe(nc, SubjectCatalogIndexed, func(ctx context.Context, e CatalogIndexed) {
		handler(ctx, Received{Subject: SubjectCatalogIndexed, Catalog: &e})
	}, onBad)
	if err != nil {
		return nil, err
	}
	rfqSub, err := natsutil.Subscribe(nc, SubjectRFQMatched, func(ctx context.Context, e RFQMatched) {
		handler(ctx, Received{Subject: SubjectRFQMatched, RFQ: &e})
	}, onBad)
	if err != nil {
		_ = catalogSub.Unsubscribe()
		return nil, err
	}
	return []*nats.Subscription{catalogSub, rfqSub}, nil
}

// OrNop returns n, or Nop when n is nil.
func OrNop(n Notifier) Notifier {
	if n == nil {
		return Nop{}
	}
	return n
}
