package collector

import (
	"context"
	"sync"

	"github.com/shirou/gopsutil/v3/net"
)

// NetworkCollector reports bytes received and sent since its previous
// reading. The first reading establishes a baseline and reports zero.
type NetworkCollector struct {
	counters func(ctx context.Context) (rx, tx uint64, err error)

	mu       sync.Mutex
	baseline netBaseline
	// undo is the baseline replaced by the reading with generation gen.
	undo netBaseline
	gen  uint64
}

type netBaseline struct {
	rx, tx uint64
	set    bool
}

// NewNetworkCollector creates a collector that sums counters across all
// interfaces.
func NewNetworkCollector() *NetworkCollector {
	return &NetworkCollector{counters: totalIOCounters}
}

// Name returns the collector identifier.
func (c *NetworkCollector) Name() string { return "network" }

// Collect reads the interface counters and advances the baseline.
func (c *NetworkCollector) Collect(ctx context.Context) (Reading, error) {
	rx, tx, err := c.counters(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	res := NetworkResult{}
	if c.baseline.set {
		res.Rx = counterDelta(c.baseline.rx, rx)
		res.Tx = counterDelta(c.baseline.tx, tx)
	}
	c.gen++
	c.undo = c.baseline
	c.baseline = netBaseline{rx: rx, tx: tx, set: true}
	res.gen = c.gen
	return res, nil
}

// Discard restores the baseline that r replaced, so the bytes of a reading
// that was never reported are counted by the next one. It is a no-op once
// a newer reading has been taken.
func (c *NetworkCollector) Discard(r Reading) {
	nr, ok := r.(NetworkResult)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if nr.gen != c.gen {
		return
	}
	c.baseline = c.undo
	c.gen++
}

// IsAvailable reports true; gopsutil reads counters on every platform.
func (c *NetworkCollector) IsAvailable() bool { return true }

func totalIOCounters(ctx context.Context) (uint64, uint64, error) {
	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil || len(counters) == 0 {
		return 0, 0, err
	}
	return counters[0].BytesRecv, counters[0].BytesSent, nil
}

// counterDelta treats a decreasing counter as a reset (interface removed or
// counter wrapped) and reports zero for that interval.
func counterDelta(prev, cur uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}
