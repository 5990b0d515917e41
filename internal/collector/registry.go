package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitalis-app/telemetry-agent/internal/telemetry"
)

// Registry manages all registered collectors and runs them concurrently.
type Registry struct {
	logger  *zap.Logger
	metrics *telemetry.Metrics

	mu         sync.RWMutex
	collectors []Collector
	names      map[string]struct{}
}

// NewRegistry creates an empty collector registry.
func NewRegistry(logger *zap.Logger, m *telemetry.Metrics) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = telemetry.New()
	}
	return &Registry{
		logger:  logger.Named("collector"),
		metrics: m,
		names:   make(map[string]struct{}),
	}
}

// Register adds a collector if it is available on the current platform.
// Names must be unique.
func (r *Registry) Register(c Collector) error {
	name := c.Name()
	if !c.IsAvailable() {
		r.logger.Warn("Collector not available, skipping", zap.String("name", name))
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.names[name]; dup {
		return fmt.Errorf("collector %q already registered", name)
	}
	r.names[name] = struct{}{}
	r.collectors = append(r.collectors, c)
	r.logger.Info("Registered collector", zap.String("name", name))
	return nil
}

// Collectors returns a copy of all registered collectors.
func (r *Registry) Collectors() []Collector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Collector, len(r.collectors))
	copy(out, r.collectors)
	return out
}

type namedResult struct {
	name string
	res  Result
}

// CollectAll runs every collector concurrently and waits until all have
// answered or ctx is done. Sources still running at that point are reported
// with ErrCollectionTimeout. Their late readings are handed to Discard when
// the collector implements Discarder.
func (r *Registry) CollectAll(ctx context.Context) Results {
	collectors := r.Collectors()
	results := make(Results, len(collectors))

	var (
		mu     sync.Mutex
		closed bool
	)
	// Buffered so a send under mu never blocks.
	ch := make(chan namedResult, len(collectors))
	for _, c := range collectors {
		go func(c Collector) {
			start := time.Now()
			reading, err := c.Collect(ctx)
			res := Result{Reading: reading, Err: err, Elapsed: time.Since(start)}

			mu.Lock()
			defer mu.Unlock()
			if !closed {
				ch <- namedResult{name: c.Name(), res: res}
				return
			}
			if d, ok := c.(Discarder); ok && err == nil && reading != nil {
				r.logger.Debug("Discarding late reading", zap.String("collector", c.Name()))
				d.Discard(reading)
			}
		}(c)
	}

	for received := 0; received < len(collectors); received++ {
		select {
		case n := <-ch:
			r.record(results, n)
		case <-ctx.Done():
			mu.Lock()
			closed = true
			mu.Unlock()
			// Readings sent before the cut-off still count.
			for len(ch) > 0 {
				r.record(results, <-ch)
			}
			for _, c := range collectors {
				name := c.Name()
				if _, ok := results[name]; ok {
					continue
				}
				r.logger.Warn("Collector timed out", zap.String("collector", name))
				r.metrics.CollectorErrors.WithLabelValues(name).Inc()
				results[name] = Result{Err: ErrCollectionTimeout}
			}
			return results
		}
	}
	return results
}

func (r *Registry) record(results Results, n namedResult) {
	if n.res.Err != nil {
		r.logger.Error("Collection failed",
			zap.String("collector", n.name),
			zap.Duration("elapsed", n.res.Elapsed),
			zap.Error(n.res.Err))
		r.metrics.CollectorErrors.WithLabelValues(n.name).Inc()
	}
	results[n.name] = n.res
}
