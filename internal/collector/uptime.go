package collector

import (
	"context"

	"github.com/shirou/gopsutil/v3/host"
)

// UptimeCollector collects seconds since boot.
type UptimeCollector struct{}

func NewUptimeCollector() *UptimeCollector { return &UptimeCollector{} }

func (c *UptimeCollector) Name() string { return "uptime" }

func (c *UptimeCollector) Collect(ctx context.Context) (Reading, error) {
	uptime, err := host.UptimeWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return UptimeResult{Seconds: uptime}, nil
}

func (c *UptimeCollector) IsAvailable() bool { return true }
