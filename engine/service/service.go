// Package service assembles the matching engine from configuration. Both
// the HTTP server and the CLI run on top of it.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/WessleyAI/skumatch/engine/batch"
	"github.com/WessleyAI/skumatch/engine/catalog"
	"github.com/WessleyAI/skumatch/engine/embed"
	"github.com/WessleyAI/skumatch/engine/events"
	"github.com/WessleyAI/skumatch/engine/match"
	"github.com/WessleyAI/skumatch/engine/semantic"
	"github.com/WessleyAI/skumatch/pkg/config"
	"github.com/WessleyAI/skumatch/pkg/logger"
	"github.com/WessleyAI/skumatch/pkg/metrics"
)

type Service struct {
	Config   *config.Config
	Metrics  *metrics.Metrics
	Embedder embed.Embedder
	Store    *catalog.Store
	Builder  *catalog.Builder
	Matcher  *match.Matcher
	Batch    *batch.Orchestrator

	log     *zap.Logger
	closers []func() error
}

// New wires embedder, index backend, event publisher and the engine. The
// caller must Close the service.
func New(cfg *config.Config, log *zap.Logger) (*Service, error) {
	log = logger.OrNop(log)
	s := &Service{Config: cfg, Metrics: metrics.New(), log: log}

	e, closeEmbed, err := embed.NewFromConfig(cfg, s.Metrics, log)
	if err != nil {
		return nil, fmt.Errorf("service: embedder: %w", err)
	}
	s.Embedder = e
	s.closers = append(s.closers, closeEmbed)

	var indexes semantic.Builder = semantic.FlatBuilder{}
	if cfg.Index.Backend == "qdrant" {
		qb, err := semantic.DialQdrant(cfg.Index.QdrantAddr, "", log)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("service: %w", err)
		}
		indexes = qb
		s.closers = append(s.closers, qb.Close)
	}

	notifier, nc, err := events.Connect(cfg.NATS.URL, log)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("service: nats connect: %w", err)
	}
	if nc != nil {
		s.closers = append(s.closers, func() error { return nc.Drain() })
	}

	s.Store = catalog.NewStore(log)
	s.Builder = catalog.NewBuilder(e, indexes, s.Store, catalog.Options{
		BatchSize: cfg.Embedding.BatchSize,
		Metrics:   s.Metrics,
		Logger:    log,
		Notifier:  notifier,
	})
	s.Matcher = match.New(s.Store, e, match.Options{
		TopK:          cfg.Matching.TopK,
		MinConfidence: cfg.Matching.MinConfidence,
		Logger:        log,
	})
	s.Batch = batch.New(s.Store, s.Matcher, batch.Options{
		Concurrency: cfg.Matching.Concurrency,
		Metrics:     s.Metrics,
		Notifier:    notifier,
		Logger:      log,
	})

	log.Info("engine ready",
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("embedding_model", e.Model()),
		zap.String("index_backend", cfg.Index.Backend),
		zap.Bool("cache", cfg.Cache.Enabled),
		zap.Bool("events", nc != nil),
	)
	return s, nil
}

// IndexCSV reads a catalog CSV and publishes it as the current snapshot.
func (s *Service) IndexCSV(ctx context.Context, r io.Reader) (catalog.Info, error) {
	t, err := catalog.ReadCSV(r)
	if err != nil {
		return catalog.Info{}, err
	}
	return s.Builder.Build(ctx, t)
}

// Close retires the current snapshot, then releases clients in reverse
// order of creation.
func (s *Service) Close() error {
	if s.Store != nil {
		s.Store.Close()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
