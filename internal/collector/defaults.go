package collector

import (
	"go.uber.org/zap"

	"github.com/vitalis-app/telemetry-agent/internal/platform"
)

// RegisterDefaults registers the standard system collectors.
func RegisterDefaults(r *Registry, topProcesses int, p platform.Platform, logger *zap.Logger) error {
	for _, c := range []Collector{
		NewCPUCollector(),
		NewMemoryCollector(),
		NewDiskCollector(logger),
		NewNetworkCollector(),
		NewUptimeCollector(),
		NewTemperatureCollector(p, logger),
		NewProcessCollector(topProcesses),
		NewOSInfoCollector(),
	} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}
