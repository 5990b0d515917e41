package collector

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// CPUCollector collects overall and per-core CPU utilisation.
type CPUCollector struct {
	sample time.Duration
}

// NewCPUCollector creates a CPU collector that measures overall usage over a
// one second window.
func NewCPUCollector() *CPUCollector {
	return &CPUCollector{sample: time.Second}
}

// Name returns the collector identifier.
func (c *CPUCollector) Name() string { return "cpu" }

// Collect blocks for the sample window to compute overall usage; per-core
// usage is an instantaneous reading and is omitted when unavailable.
func (c *CPUCollector) Collect(ctx context.Context) (Reading, error) {
	overall, err := cpu.PercentWithContext(ctx, c.sample, false)
	if err != nil {
		return nil, err
	}

	res := CPUResult{}
	if len(overall) > 0 {
		res.Overall = overall[0]
	}
	if cores, err := cpu.PercentWithContext(ctx, 0, true); err == nil {
		res.Cores = cores
	}
	return res, nil
}

// IsAvailable reports true on every supported platform.
func (c *CPUCollector) IsAvailable() bool { return true }
