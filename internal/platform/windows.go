//go:build windows

package platform

import (
	"context"
	"os/exec"
)

// Windows reads GPU temperature through nvidia-smi, since Windows exposes no
// GPU sensors to gopsutil.
type Windows struct{}

// New returns the platform implementation for the running OS.
func New() Platform {
	return &Windows{}
}

func (p *Windows) Name() string { return "windows" }

// GPUTemperature queries nvidia-smi. A missing tool or unparsable output
// means no reading rather than an error.
func (p *Windows) GPUTemperature(ctx context.Context) (*float64, error) {
	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=temperature.gpu", "--format=csv,noheader,nounits").Output()
	if err != nil {
		return nil, nil
	}
	return parseNvidiaSMI(string(out)), nil
}
