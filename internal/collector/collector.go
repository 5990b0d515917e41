// Package collector defines the Collector interface, the typed readings
// collectors produce, and implementations for the system metrics the agent
// reports.
package collector

import (
	"context"
	"errors"
	"time"

	"github.com/vitalis-app/telemetry-agent/internal/models"
)

// ErrCollectionTimeout marks a source that did not answer before the
// collection deadline.
var ErrCollectionTimeout = errors.New("collector missed the collection deadline")

// Collector is the interface that all metric collectors must implement.
type Collector interface {
	// Name returns the unique identifier for this collector.
	Name() string

	// Collect gathers one reading. It must honour ctx cancellation.
	Collect(ctx context.Context) (Reading, error)

	// IsAvailable reports whether the collector can run on this platform.
	// Unavailable collectors are not registered.
	IsAvailable() bool
}

// Discarder is implemented by collectors whose Collect advances internal
// state. The registry calls Discard with a reading that arrived after the
// cycle deadline and was never reported.
type Discarder interface {
	Discard(r Reading)
}

// Reading is the typed result of one collector. Each reading writes only the
// snapshot fields it owns. The set of readings is closed to this package.
type Reading interface {
	Apply(s *models.MetricSnapshot)
	reading()
}

// Result is the outcome of one collector in a cycle.
type Result struct {
	Reading Reading
	Err     error
	Elapsed time.Duration
}

// Results maps collector names to their outcome for one cycle.
type Results map[string]Result

// Apply writes every successful reading into s. Failed or missing sources
// leave their fields at the zero value.
func (r Results) Apply(s *models.MetricSnapshot) {
	for _, res := range r {
		if res.Err != nil || res.Reading == nil {
			continue
		}
		res.Reading.Apply(s)
	}
}

// Failed returns the number of sources that produced no reading.
func (r Results) Failed() int {
	n := 0
	for _, res := range r {
		if res.Err != nil {
			n++
		}
	}
	return n
}
