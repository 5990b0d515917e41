// Package sender implements at-least-once delivery of metric batches.
// It encodes a batch to JSON, compresses it with gzip and POSTs it to the API
// ingestion endpoint with exponential backoff on failure. Batches that cannot
// be delivered are handed to the local buffer and replayed later by
// FlushBuffer.
package sender

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/vitalis-app/telemetry-agent/internal/buffer"
	"github.com/vitalis-app/telemetry-agent/internal/models"
	"github.com/vitalis-app/telemetry-agent/internal/telemetry"
)

const (
	defaultBaseDelay      = 2 * time.Second
	defaultRateLimitPause = 60 * time.Second
)

// Store is the durable fallback for undelivered batches.
type Store interface {
	Store(payload []byte) (uint64, error)
	RetrieveAll() ([]buffer.Record, error)
	Delete(seq uint64) error
}

// Options configures a Sender.
type Options struct {
	MachineToken string
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is the delay before the first retry; it doubles per retry.
	BaseDelay time.Duration
	// RateLimitPause suspends buffer drains after a 429 without Retry-After.
	RateLimitPause time.Duration
	Clock          clockwork.Clock
}

// Result describes how one Send or resend ended.
type Result struct {
	State    State
	Reason   string
	Attempts int
	// Seq is the buffer sequence number when the batch is or stays buffered.
	Seq  uint64
	Path []State
	Err  error
}

// DrainReport summarises one FlushBuffer run.
type DrainReport struct {
	Records   int
	Delivered int
	Dropped   int
	Remaining int
	Skipped   bool
	Err       error
}

// Sender delivers batches to the ingestion endpoint. Calls to Send and
// FlushBuffer are serialized so only one attempt sequence is in flight.
type Sender struct {
	transport Transport
	store     Store
	opts      Options
	clock     clockwork.Clock
	logger    *zap.Logger
	metrics   *telemetry.Metrics

	sleep    func(ctx context.Context, d time.Duration) error
	compress func([]byte) ([]byte, error)

	mu               sync.Mutex
	rateLimitedUntil time.Time
}

// New creates a Sender. A nil store means undeliverable batches are dropped.
func New(opts Options, transport Transport, store Store, logger *zap.Logger, m *telemetry.Metrics) *Sender {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.RateLimitPause <= 0 {
		opts.RateLimitPause = defaultRateLimitPause
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = telemetry.New()
	}

	s := &Sender{
		transport: transport,
		store:     store,
		opts:      opts,
		clock:     opts.Clock,
		logger:    logger.Named("sender"),
		metrics:   m,
		compress:  gzipCompress,
	}
	s.sleep = s.wait
	return s
}

// HandleBatch delivers a batch flushed by the scheduler.
func (s *Sender) HandleBatch(ctx context.Context, batch models.Batch) {
	s.Send(ctx, batch)
}

// Send delivers one batch. It blocks through backoff delays and returns once
// the batch is delivered, buffered or dropped. Cancelling ctx stops further
// retries and buffers the batch.
func (s *Sender) Send(ctx context.Context, batch models.Batch) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := Result{State: StateCollected, Path: []State{StateCollected}}

	if batch.Len() == 0 {
		res.Reason = ReasonEmpty
		s.advance(&res, StateDropped)
		return s.finish(res)
	}

	payload, err := encodeSnapshots(batch)
	if err == nil {
		var body []byte
		body, err = encodeEnvelope(s.opts.MachineToken, payload)
		if err == nil {
			return s.sendBody(ctx, res, payload, body)
		}
	}

	s.logger.Error("Failed to encode batch, dropping", zap.Int("snapshots", batch.Len()), zap.Error(err))
	res.Reason = ReasonEncodeFailed
	res.Err = err
	s.advance(&res, StateEncodeFailed)
	s.advance(&res, StateDropped)
	return s.finish(res)
}

func (s *Sender) sendBody(ctx context.Context, res Result, payload, body []byte) Result {
	compressed, err := s.compress(body)
	if err != nil {
		s.logger.Error("Failed to compress batch, buffering", zap.Error(err))
		res.Reason = ReasonCompressFailed
		res.Err = err
		s.advance(&res, StateCompressFailed)
		s.bufferPayload(&res, payload)
		return s.finish(res)
	}

	s.transmit(ctx, &res, compressed)
	if res.State != StateDelivered {
		s.bufferPayload(&res, payload)
	}
	return s.finish(res)
}

// transmit runs the retry loop and leaves res in Delivered, RateLimited,
// RetriesExhausted or Interrupted.
func (s *Sender) transmit(ctx context.Context, res *Result, body []byte) {
	s.advance(res, StateSending)

	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := s.opts.BaseDelay << (attempt - 1)
			s.logger.Warn("Retrying send",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			if err := s.sleep(ctx, delay); err != nil {
				s.logger.Warn("Send interrupted, buffering batch", zap.Error(err))
				res.Reason = ReasonInterrupted
				res.Err = err
				s.advance(res, StateInterrupted)
				return
			}
		}

		out := s.transport.Post(ctx, body)
		res.Attempts++
		s.metrics.SendAttempts.WithLabelValues(out.Kind.String()).Inc()

		switch out.Kind {
		case OutcomeDelivered:
			res.Reason = ""
			res.Err = nil
			s.advance(res, StateDelivered)
			return
		case OutcomeRateLimited:
			pause := out.RetryAfter
			if pause <= 0 {
				pause = s.opts.RateLimitPause
			}
			s.rateLimitedUntil = s.clock.Now().Add(pause)
			s.logger.Warn("Rate limited by server, buffering batch",
				zap.Duration("pause", pause),
				zap.Error(out.Err))
			res.Reason = ReasonRateLimited
			res.Err = out.Err
			s.advance(res, StateRateLimited)
			return
		}

		res.Err = out.Err
		s.logger.Warn("Send failed",
			zap.Int("attempt", attempt),
			zap.Int("status", out.StatusCode),
			zap.Error(out.Err))
	}

	s.logger.Error("All retries exhausted, buffering batch", zap.Int("attempts", res.Attempts))
	res.Reason = ReasonRetriesExhausted
	s.advance(res, StateRetriesExhausted)
}

// bufferPayload hands the encoded snapshots to the store, or drops them when
// the store is missing or fails.
func (s *Sender) bufferPayload(res *Result, payload []byte) {
	if s.store == nil {
		s.logger.Warn("No buffer available, dropping batch")
		res.Reason = ReasonNoBuffer
		s.advance(res, StateBufferFailed)
		s.advance(res, StateDropped)
		return
	}

	seq, err := s.store.Store(payload)
	if err != nil {
		s.logger.Error("Failed to buffer batch, dropping", zap.Error(err))
		res.Reason = ReasonBufferFailed
		res.Err = err
		s.advance(res, StateBufferFailed)
		s.advance(res, StateDropped)
		return
	}
	res.Seq = seq
	s.advance(res, StateBuffered)
}

func (s *Sender) advance(res *Result, next State) {
	if cur := res.Path[len(res.Path)-1]; !cur.CanTransition(next) {
		s.logger.DPanic("Invalid batch state transition",
			zap.Stringer("from", cur),
			zap.Stringer("to", next))
	}
	res.Path = append(res.Path, next)
	res.State = next
}

func (s *Sender) finish(res Result) Result {
	if !res.State.Terminal() {
		s.logger.DPanic("Batch finished in non-terminal state",
			zap.Stringer("state", res.State),
			zap.String("reason", res.Reason))
	}
	s.metrics.BatchOutcomes.WithLabelValues(res.State.String(), res.Reason).Inc()
	if res.State == StateDelivered {
		s.logger.Debug("Batch delivered", zap.Int("attempts", res.Attempts))
	}
	return res
}

// wait sleeps for d on the sender's clock, returning early with ctx's error.
func (s *Sender) wait(ctx context.Context, d time.Duration) error {
	timer := s.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}
