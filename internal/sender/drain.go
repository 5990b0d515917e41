package sender

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/vitalis-app/telemetry-agent/internal/buffer"
)

// FlushBuffer resends buffered batches in storage order through the same
// delivery path as Send. A record is deleted only after it is delivered or
// found to be unusable. The first record that cannot be delivered stays in
// place and ends the run, so later records keep their order for the next
// drain. Nothing is attempted while a server rate-limit pause is active.
func (s *Sender) FlushBuffer(ctx context.Context) DrainReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rep DrainReport
	if s.store == nil {
		return rep
	}

	if now := s.clock.Now(); now.Before(s.rateLimitedUntil) {
		s.logger.Debug("Skipping buffer drain while rate limited",
			zap.Duration("remaining", s.rateLimitedUntil.Sub(now)))
		rep.Skipped = true
		s.metrics.DrainRuns.WithLabelValues("skipped").Inc()
		return rep
	}

	records, err := s.store.RetrieveAll()
	if err != nil {
		s.logger.Error("Failed to retrieve buffered batches", zap.Error(err))
		rep.Err = err
		s.metrics.DrainRuns.WithLabelValues("read_error").Inc()
		return rep
	}

	rep.Records = len(records)
	if len(records) == 0 {
		s.metrics.DrainRuns.WithLabelValues("empty").Inc()
		return rep
	}

	s.logger.Info("Flushing buffered batches",
		zap.Int("batches", len(records)),
		zap.String("oldest", humanize.Time(records[0].CreatedAt)))

	for i, rec := range records {
		if ctx.Err() != nil {
			rep.Remaining = len(records) - i
			break
		}

		res := s.resend(ctx, rec)
		if res.State == StateBuffered {
			s.logger.Warn("Buffered batch still undeliverable, stopping drain",
				zap.Uint64("seq", rec.Seq),
				zap.String("reason", res.Reason),
				zap.Error(res.Err))
			rep.Remaining = len(records) - i
			break
		}

		if err := s.store.Delete(rec.Seq); err != nil {
			s.logger.Error("Failed to delete buffered batch", zap.Uint64("seq", rec.Seq), zap.Error(err))
			rep.Err = err
			rep.Remaining = len(records) - i
			break
		}
		if res.State == StateDelivered {
			rep.Delivered++
		} else {
			rep.Dropped++
		}
	}

	result := "complete"
	if rep.Remaining > 0 {
		result = "incomplete"
	}
	s.metrics.DrainRuns.WithLabelValues(result).Inc()
	s.logger.Info("Buffer drain finished",
		zap.Int("delivered", rep.Delivered),
		zap.Int("dropped", rep.Dropped),
		zap.Int("remaining", rep.Remaining))
	return rep
}

// resend runs one stored record through the delivery path. A record that is
// not delivered remains Buffered in place.
func (s *Sender) resend(ctx context.Context, rec buffer.Record) Result {
	res := Result{State: StateBuffered, Path: []State{StateBuffered}, Seq: rec.Seq}

	if !json.Valid(rec.Payload) {
		s.logger.Error("Dropping buffered batch with invalid payload", zap.Uint64("seq", rec.Seq))
		res.Reason = ReasonInvalidPayload
		s.advance(&res, StateDropped)
		return s.finish(res)
	}
	body, err := encodeEnvelope(s.opts.MachineToken, rec.Payload)
	if err != nil {
		s.logger.Error("Dropping buffered batch that cannot be wrapped", zap.Uint64("seq", rec.Seq), zap.Error(err))
		res.Reason = ReasonInvalidPayload
		res.Err = err
		s.advance(&res, StateDropped)
		return s.finish(res)
	}

	compressed, err := s.compress(body)
	if err != nil {
		res.Reason = ReasonCompressFailed
		res.Err = err
		s.advance(&res, StateCompressFailed)
		s.advance(&res, StateBuffered)
		return s.finish(res)
	}

	s.transmit(ctx, &res, compressed)
	if res.State != StateDelivered {
		s.advance(&res, StateBuffered)
	}
	return s.finish(res)
}

// RunDrainLoop calls FlushBuffer every interval until ctx is cancelled.
// A non-positive interval disables periodic draining.
func (s *Sender) RunDrainLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			s.FlushBuffer(ctx)
		}
	}
}
