package collector

import (
	"context"

	"github.com/shirou/gopsutil/v3/mem"
)

// MemoryCollector collects RAM usage.
type MemoryCollector struct{}

func NewMemoryCollector() *MemoryCollector { return &MemoryCollector{} }

func (c *MemoryCollector) Name() string { return "memory" }

func (c *MemoryCollector) Collect(ctx context.Context) (Reading, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return MemoryResult{Used: v.Used, Total: v.Total}, nil
}

func (c *MemoryCollector) IsAvailable() bool { return true }
