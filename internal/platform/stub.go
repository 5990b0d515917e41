//go:build !windows

package platform

import "context"

// Generic is used where sensors exposed through gopsutil are the only source.
type Generic struct{}

// New returns the platform implementation for the running OS.
func New() Platform {
	return &Generic{}
}

func (p *Generic) Name() string { return "generic" }

// GPUTemperature always reports no reading.
func (p *Generic) GPUTemperature(context.Context) (*float64, error) {
	return nil, nil
}
