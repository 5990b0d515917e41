package collector

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"

	"github.com/vitalis-app/telemetry-agent/internal/platform"
)

// Substrings of sensor keys per category, lower case. They cover Linux hwmon
// names (coretemp, k10temp, amdgpu, nouveau), macOS SMC keys (TC0P, TG0D)
// and Windows sensor labels.
var (
	cpuSensorKeys = []string{
		"cpu", "core", "package", "tctl", "tdie", "k10temp", "coretemp",
		"tc0p", "tc0d", "tcxc", "acpitz", "zenpower",
	}
	gpuSensorKeys = []string{
		"gpu", "nvidia", "amd", "radeon", "tg0p", "tg0d", "amdgpu", "nouveau",
	}
)

// Readings outside (0, 150] °C are treated as sensor errors.
const (
	minValidTemp = 0.0
	maxValidTemp = 150.0
)

// TemperatureCollector reports the hottest CPU and GPU sensor. When no GPU
// sensor is visible it asks the platform, e.g. nvidia-smi on Windows.
type TemperatureCollector struct {
	platform platform.Platform
	sensors  func(ctx context.Context) ([]host.TemperatureStat, error)
	logger   *zap.Logger
}

// NewTemperatureCollector creates a temperature collector. p may be nil.
func NewTemperatureCollector(p platform.Platform, logger *zap.Logger) *TemperatureCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemperatureCollector{
		platform: p,
		sensors:  host.SensorsTemperaturesWithContext,
		logger:   logger,
	}
}

func (c *TemperatureCollector) Name() string { return "temperature" }

// Collect never fails: missing sensors yield nil temperatures.
func (c *TemperatureCollector) Collect(ctx context.Context) (Reading, error) {
	temps, err := c.sensors(ctx)
	if err != nil {
		// gopsutil returns partial readings alongside warnings.
		c.logger.Debug("Temperature sensors reported an error", zap.Error(err))
	}

	var res TemperatureResult
	res.CPUTemp = hottest(temps, cpuSensorKeys)
	res.GPUTemp = hottest(temps, gpuSensorKeys)
	if res.GPUTemp == nil {
		res.GPUTemp = c.platformGPU(ctx)
	}
	return res, nil
}

func (c *TemperatureCollector) IsAvailable() bool { return true }

func (c *TemperatureCollector) platformGPU(ctx context.Context) *float64 {
	if c.platform == nil {
		return nil
	}
	temp, err := c.platform.GPUTemperature(ctx)
	if err != nil {
		c.logger.Debug("Platform GPU temperature failed", zap.Error(err))
		return nil
	}
	if temp == nil || !isValidTemperature(*temp) {
		return nil
	}
	return temp
}

// hottest returns the maximum valid reading among sensors whose key contains
// one of keys, or nil.
func hottest(temps []host.TemperatureStat, keys []string) *float64 {
	var (
		top   float64
		found bool
	)
	for _, t := range temps {
		if !isValidTemperature(t.Temperature) || !matchesSensor(strings.ToLower(t.SensorKey), keys) {
			continue
		}
		if !found || t.Temperature > top {
			top, found = t.Temperature, true
		}
	}
	if !found {
		return nil
	}
	return &top
}

func matchesSensor(name string, keys []string) bool {
	for _, key := range keys {
		if strings.Contains(name, key) {
			return true
		}
	}
	return false
}

func isValidTemperature(temp float64) bool {
	return temp > minValidTemp && temp <= maxValidTemp
}
