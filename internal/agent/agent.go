// Package agent wires the telemetry pipeline together: collectors feed the
// scheduler, the scheduler hands batches to the sender, and the sender falls
// back to the durable buffer. Run owns the lifecycle of every long-running
// part.
package agent

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vitalis-app/telemetry-agent/internal/buffer"
	"github.com/vitalis-app/telemetry-agent/internal/collector"
	"github.com/vitalis-app/telemetry-agent/internal/config"
	"github.com/vitalis-app/telemetry-agent/internal/logging"
	"github.com/vitalis-app/telemetry-agent/internal/platform"
	"github.com/vitalis-app/telemetry-agent/internal/scheduler"
	"github.com/vitalis-app/telemetry-agent/internal/sender"
	"github.com/vitalis-app/telemetry-agent/internal/telemetry"
)

// Options overrides parts of the pipeline. Zero values select the
// production implementations built from the config.
type Options struct {
	// ConfigPath is watched for changes when non-empty.
	ConfigPath string
	// Reload re-reads the layered configuration after ConfigPath changes.
	Reload func() (*config.Config, error)

	Source    scheduler.Source
	Transport sender.Transport
	Metrics   *telemetry.Metrics
}

// Agent is one assembled pipeline.
type Agent struct {
	cfg     *config.Config
	opts    Options
	logger  *logging.Logger
	metrics *telemetry.Metrics

	buffer    *buffer.Buffer
	sender    *sender.Sender
	scheduler *scheduler.Scheduler
}

// New assembles the pipeline from cfg. A buffer that cannot be opened is
// logged and the agent runs without one: undeliverable batches are then
// dropped instead of stored.
func New(cfg *config.Config, logger *logging.Logger, opts Options) (*Agent, error) {
	if opts.Metrics == nil {
		opts.Metrics = telemetry.New()
	}
	a := &Agent{
		cfg:     cfg,
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
	}

	buf, err := OpenBuffer(cfg.Buffer, logger.Logger, a.metrics)
	if err != nil {
		logger.Error("Buffer unavailable, undeliverable batches will be dropped",
			zap.String("path", cfg.Buffer.Path), zap.Error(err))
	}
	a.buffer = buf

	// A nil *buffer.Buffer in the interface would not compare equal to nil.
	var store sender.Store
	if buf != nil {
		store = buf
	}

	transport := opts.Transport
	if transport == nil {
		transport = sender.NewHTTPTransport(cfg.Server.URL, cfg.Server.MachineToken, cfg.Server.RequestTimeout.Duration)
	}
	a.sender = sender.New(sender.Options{
		MachineToken:   cfg.Server.MachineToken,
		MaxRetries:     cfg.Delivery.MaxRetries,
		BaseDelay:      cfg.Delivery.BaseDelay.Duration,
		RateLimitPause: cfg.Delivery.RateLimitPause.Duration,
	}, transport, store, logger.Logger, a.metrics)

	source := opts.Source
	if source == nil {
		registry := collector.NewRegistry(logger.Logger, a.metrics)
		if err := collector.RegisterDefaults(registry, cfg.Collection.TopProcesses, platform.New(), logger.Logger); err != nil {
			a.Close()
			return nil, fmt.Errorf("registering collectors: %w", err)
		}
		source = registry
	}

	a.scheduler, err = scheduler.New(source, a.sender, scheduler.Options{
		CollectInterval: cfg.Collection.Interval.Duration,
		BatchInterval:   cfg.Collection.BatchInterval.Duration,
		CollectTimeout:  cfg.Collection.Timeout.Duration,
		ShutdownTimeout: cfg.Delivery.ShutdownTimeout.Duration,
	}, logger.Logger, a.metrics)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// OpenBuffer opens the durable buffer described by cfg.
func OpenBuffer(cfg config.BufferConfig, logger *zap.Logger, m *telemetry.Metrics) (*buffer.Buffer, error) {
	return buffer.Open(buffer.Options{
		Backend:    cfg.Backend,
		Path:       cfg.Path,
		MaxRecords: cfg.MaxRecords,
		MaxBytes:   cfg.MaxBytes(),
		Eviction:   buffer.EvictionPolicy(cfg.Eviction),
	}, logger, m)
}

// Run drains batches left over from a previous run, then collects, sends and
// drains until ctx is cancelled. The pending batch is flushed before Run
// returns.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Agent running",
		zap.String("server", a.cfg.Server.URL),
		zap.Duration("collect_interval", a.cfg.Collection.Interval.Duration),
		zap.Duration("batch_interval", a.cfg.Collection.BatchInterval.Duration),
		zap.Bool("buffered", a.buffer != nil))

	if rep := a.sender.FlushBuffer(ctx); rep.Records > 0 {
		a.logger.Info("Startup drain finished",
			zap.Int("delivered", rep.Delivered),
			zap.Int("dropped", rep.Dropped),
			zap.Int("remaining", rep.Remaining))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.scheduler.Start(gctx)
	})
	g.Go(func() error {
		return a.sender.RunDrainLoop(gctx, a.cfg.Delivery.DrainInterval.Duration)
	})
	if addr := a.cfg.Metrics.ListenAddr; addr != "" {
		g.Go(func() error {
			srv := telemetry.NewServer(addr, a.metrics, a.logger.Logger)
			if err := srv.Run(gctx); err != nil {
				a.logger.Error("Metrics server failed", zap.Error(err))
			}
			return nil
		})
	}
	if a.opts.ConfigPath != "" && a.opts.Reload != nil {
		g.Go(func() error {
			if err := config.Watch(gctx, a.opts.ConfigPath, a.opts.Reload, a.applyConfig, a.logger.Logger); err != nil {
				a.logger.Warn("Config watch disabled", zap.Error(err))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info("Agent stopped")
	return nil
}

// Drain runs one buffer drain and returns its report.
func (a *Agent) Drain(ctx context.Context) sender.DrainReport {
	return a.sender.FlushBuffer(ctx)
}

// Close releases the buffer.
func (a *Agent) Close() error {
	if a.buffer == nil {
		return nil
	}
	return a.buffer.Close()
}

// applyConfig takes the new log level immediately. Other settings are read
// once at startup.
func (a *Agent) applyConfig(next *config.Config) {
	if err := a.logger.SetLevel(next.Logging.Level); err != nil {
		a.logger.Warn("Ignoring log level from reloaded config", zap.Error(err))
	}
	if needsRestart(a.cfg, next) {
		a.logger.Warn("Config changed; restart the agent to apply settings other than logging.level")
	}
}

func needsRestart(cur, next *config.Config) bool {
	a, b := *cur, *next
	a.Logging.Level, b.Logging.Level = "", ""
	return !reflect.DeepEqual(a, b)
}
