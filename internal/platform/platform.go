// Package platform provides OS-specific readings that gopsutil cannot supply
// on every system.
package platform

import "context"

// Platform provides OS-specific functionality beyond what gopsutil offers.
type Platform interface {
	// GPUTemperature returns the GPU temperature in °C, or nil when it cannot
	// be determined.
	GPUTemperature(ctx context.Context) (*float64, error)

	// Name returns the platform name (windows, generic).
	Name() string
}
