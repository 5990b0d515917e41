// Package scheduler implements tick-based periodic collection and batching.
// One event loop services the collection tick, the batch tick and shutdown,
// one event at a time. The scheduler does not send data itself; it hands each
// completed batch to the BatchHandler given at construction.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/vitalis-app/telemetry-agent/internal/collector"
	"github.com/vitalis-app/telemetry-agent/internal/models"
	"github.com/vitalis-app/telemetry-agent/internal/telemetry"
)

// tickSlack is how far apart a collection tick and a batch tick may fire and
// still count as simultaneous.
const tickSlack = 100 * time.Millisecond

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Source runs all collectors for one cycle within ctx's deadline.
type Source interface {
	CollectAll(ctx context.Context) collector.Results
}

// BatchHandler receives every completed batch, in order, exactly once.
type BatchHandler interface {
	HandleBatch(ctx context.Context, batch models.Batch)
}

// Options configures the scheduler's timing. Zero values select defaults.
type Options struct {
	CollectInterval time.Duration
	BatchInterval   time.Duration
	CollectTimeout  time.Duration
	// ShutdownTimeout caps the final flush on shutdown; zero means no cap.
	ShutdownTimeout time.Duration
	Clock           clockwork.Clock
}

func (o Options) withDefaults() Options {
	if o.CollectInterval == 0 {
		o.CollectInterval = 15 * time.Second
	}
	if o.BatchInterval == 0 {
		o.BatchInterval = 60 * time.Second
	}
	if o.CollectTimeout == 0 {
		o.CollectTimeout = 10 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

// Scheduler manages periodic metric collection and batching.
type Scheduler struct {
	source  Source
	handler BatchHandler
	opts    Options
	clock   clockwork.Clock
	logger  *zap.Logger
	metrics *telemetry.Metrics

	started atomic.Bool

	// nextCollect is owned by the event loop.
	nextCollect time.Time

	mu      sync.Mutex
	pending []models.MetricSnapshot
}

// New creates a scheduler that collects from source and hands batches to
// handler.
func New(source Source, handler BatchHandler, opts Options, logger *zap.Logger, m *telemetry.Metrics) (*Scheduler, error) {
	if source == nil {
		return nil, errors.New("scheduler: source is required")
	}
	if handler == nil {
		return nil, errors.New("scheduler: batch handler is required")
	}
	opts = opts.withDefaults()
	if opts.CollectInterval < 0 || opts.BatchInterval < 0 || opts.CollectTimeout < 0 || opts.ShutdownTimeout < 0 {
		return nil, errors.New("scheduler: intervals must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = telemetry.New()
	}

	return &Scheduler{
		source:  source,
		handler: handler,
		opts:    opts,
		clock:   opts.Clock,
		logger:  logger.Named("scheduler"),
		metrics: m,
	}, nil
}

// Start collects once immediately, then runs the event loop until ctx is
// cancelled. Before returning it flushes any pending snapshots, bounded by
// ShutdownTimeout.
//
// When a collection tick and a batch tick fall due at the same instant, the
// collection runs first so its snapshot is part of the flushed batch.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	collectTicker := s.clock.NewTicker(s.opts.CollectInterval)
	defer collectTicker.Stop()
	batchTicker := s.clock.NewTicker(s.opts.BatchInterval)
	defer batchTicker.Stop()

	s.logger.Info("Scheduler started",
		zap.Duration("collect_interval", s.opts.CollectInterval),
		zap.Duration("batch_interval", s.opts.BatchInterval))

	start := s.clock.Now()
	s.collect(ctx)
	s.nextCollect = start.Add(s.opts.CollectInterval)

	for {
		select {
		case <-ctx.Done():
			s.shutdownFlush(ctx)
			return nil

		case tick := <-collectTicker.Chan():
			s.onCollectTick(ctx, tick)

		case tick := <-batchTicker.Chan():
			s.onBatchTick(ctx, tick)
		}
	}
}

// onCollectTick collects unless a batch tick at the same instant already
// did.
func (s *Scheduler) onCollectTick(ctx context.Context, tick time.Time) {
	if tick.Before(s.nextCollect.Add(-tickSlack)) {
		return
	}
	s.collect(ctx)
	s.nextCollect = tick.Add(s.opts.CollectInterval)
}

// onBatchTick flushes the pending batch. A collection due at the same
// instant that has not run yet runs first.
func (s *Scheduler) onBatchTick(ctx context.Context, tick time.Time) {
	if !tick.Add(tickSlack).Before(s.nextCollect) {
		s.collect(ctx)
		s.nextCollect = s.nextCollect.Add(s.opts.CollectInterval)
	}
	s.flush(ctx)
}

// Pending returns the number of snapshots waiting for the next flush.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// collect runs one collection cycle and appends its snapshot to the pending
// batch.
func (s *Scheduler) collect(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	snapshot := models.MetricSnapshot{Timestamp: s.clock.Now().UTC()}
	began := time.Now()

	collectCtx, cancel := context.WithTimeout(ctx, s.opts.CollectTimeout)
	results := s.source.CollectAll(collectCtx)
	cancel()
	results.Apply(&snapshot)

	s.mu.Lock()
	s.pending = append(s.pending, snapshot)
	n := len(s.pending)
	s.mu.Unlock()

	s.metrics.CollectionCycles.Inc()
	s.metrics.CollectionDuration.Observe(time.Since(began).Seconds())
	s.metrics.PendingSnapshots.Set(float64(n))

	s.logger.Debug("Collected metrics",
		zap.Time("timestamp", snapshot.Timestamp),
		zap.Int("failed_sources", results.Failed()),
		zap.Int("pending", n))
}

// flush hands the pending batch to the handler and resets it. An empty
// pending batch is a no-op.
func (s *Scheduler) flush(ctx context.Context) {
	s.mu.Lock()
	batch, err := models.NewBatch(s.pending)
	s.pending = nil
	s.mu.Unlock()

	if err != nil {
		s.logger.Debug("Nothing to flush")
		return
	}

	s.metrics.PendingSnapshots.Set(0)
	s.metrics.BatchesFlushed.Inc()
	s.metrics.SnapshotsFlushed.Add(float64(batch.Len()))
	s.logger.Info("Flushing batch", zap.Int("count", batch.Len()))

	s.handler.HandleBatch(ctx, batch)
}

// shutdownFlush flushes on a context detached from the cancelled parent so
// the final batch can still be sent, optionally capped by ShutdownTimeout.
func (s *Scheduler) shutdownFlush(ctx context.Context) {
	flushCtx := context.WithoutCancel(ctx)
	if s.opts.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(flushCtx, s.opts.ShutdownTimeout)
		defer cancel()
	}

	if n := s.Pending(); n > 0 {
		s.logger.Info("Flushing pending snapshots before shutdown", zap.Int("count", n))
	}
	s.flush(flushCtx)
	s.logger.Info("Scheduler stopped")
}
