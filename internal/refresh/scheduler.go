// Package refresh runs periodic corpus refresh: collect new articles from a
// source and hand them to the index for ingestion. URL deduplication at the
// index makes re-collecting the same feed cheap.
package refresh

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/models"
)

// Source produces candidate articles for ingestion, typically from a feed
// fetcher or an upstream collector service.
type Source interface {
	Collect(ctx context.Context) ([]*models.ArticleInput, error)
}

// Ingestor receives collected articles. Satisfied by index.Coordinator.
type Ingestor interface {
	Ingest(ctx context.Context, articles []*models.ArticleInput) (int, error)
}

// Scheduler triggers a refresh on a fixed interval until stopped.
type Scheduler struct {
	source   Source
	ingestor Ingestor
	interval time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	started  bool
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets a logger for refresh outcomes.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler creates a scheduler that refreshes every interval.
func NewScheduler(source Source, ingestor Ingestor, interval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:   source,
		ingestor: ingestor,
		interval: interval,
		logger:   zap.NewNop(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the refresh loop. It runs until ctx is cancelled or Stop is
// called. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				// Keep the loop alive: a failed collection retries on the
				// next tick.
				s.logger.Error("refresh failed", zap.Error(err))
			}
		}
	}
}

// Refresh collects from the source and ingests immediately. Used by the loop
// and exposed for manual triggering.
func (s *Scheduler) Refresh(ctx context.Context) error {
	articles, err := s.source.Collect(ctx)
	if err != nil {
		return err
	}
	if len(articles) == 0 {
		s.logger.Debug("refresh found nothing new")
		return nil
	}
	added, err := s.ingestor.Ingest(ctx, articles)
	if err != nil {
		return err
	}
	s.logger.Info("refresh finished",
		zap.Int("articles_collected", len(articles)),
		zap.Int("chunks_added", added),
	)
	return nil
}

// Stop terminates the refresh loop. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}
