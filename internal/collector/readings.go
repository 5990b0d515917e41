package collector

import (
	"math"

	"github.com/vitalis-app/telemetry-agent/internal/models"
)

// CPUResult holds overall and per-core utilisation in percent.
type CPUResult struct {
	Overall float64
	Cores   []float64
}

// Apply sets the CPU fields, clamping each value to [0, 100].
func (r CPUResult) Apply(s *models.MetricSnapshot) {
	s.CPUOverall = clampPercent(r.Overall)
	if r.Cores == nil {
		return
	}
	s.CPUCores = make([]float64, len(r.Cores))
	for i, v := range r.Cores {
		s.CPUCores[i] = clampPercent(v)
	}
}

// MemoryResult holds RAM usage in bytes.
type MemoryResult struct {
	Used  uint64
	Total uint64
}

// Apply sets the RAM fields.
func (r MemoryResult) Apply(s *models.MetricSnapshot) {
	s.RAMUsed = r.Used
	s.RAMTotal = r.Total
}

// DiskResult holds usage for each reported mount.
type DiskResult struct {
	Disks []models.DiskInfo
}

// Apply sets DiskUsage to a copy of the mounts.
func (r DiskResult) Apply(s *models.MetricSnapshot) {
	s.DiskUsage = append([]models.DiskInfo(nil), r.Disks...)
}

// NetworkResult holds bytes received and sent since the previous reading.
type NetworkResult struct {
	Rx uint64
	Tx uint64

	gen uint64
}

// Apply sets the network byte counts.
func (r NetworkResult) Apply(s *models.MetricSnapshot) {
	s.NetworkRx = r.Rx
	s.NetworkTx = r.Tx
}

// UptimeResult holds seconds since boot.
type UptimeResult struct {
	Seconds uint64
}

// Apply sets UptimeSeconds.
func (r UptimeResult) Apply(s *models.MetricSnapshot) {
	s.UptimeSeconds = r.Seconds
}

// TemperatureResult holds the hottest CPU and GPU readings in °C. A nil
// pointer means no sensor was found.
type TemperatureResult struct {
	CPUTemp *float64
	GPUTemp *float64
}

// Apply sets the CPU and GPU temperatures.
func (r TemperatureResult) Apply(s *models.MetricSnapshot) {
	s.CPUTemp = copyFloat(r.CPUTemp)
	s.GPUTemp = copyFloat(r.GPUTemp)
}

// ProcessResult holds the top processes by CPU usage.
type ProcessResult struct {
	Processes []models.ProcessInfo
}

// Apply sets Processes, clamping negative or out of range values.
func (r ProcessResult) Apply(s *models.MetricSnapshot) {
	if r.Processes == nil {
		return
	}
	s.Processes = make([]models.ProcessInfo, len(r.Processes))
	for i, p := range r.Processes {
		p.CPU = clampPercent(p.CPU)
		if p.Memory < 0 || math.IsNaN(p.Memory) {
			p.Memory = 0
		}
		if p.PID < 0 {
			p.PID = 0
		}
		s.Processes[i] = p
	}
}

// OSInfoResult holds the OS name and version.
type OSInfoResult struct {
	OSName    string
	OSVersion string
}

// Apply sets the OS name and version.
func (r OSInfoResult) Apply(s *models.MetricSnapshot) {
	s.OSName = r.OSName
	s.OSVersion = r.OSVersion
}

func (CPUResult) reading()         {}
func (MemoryResult) reading()      {}
func (DiskResult) reading()        {}
func (NetworkResult) reading()     {}
func (UptimeResult) reading()      {}
func (TemperatureResult) reading() {}
func (ProcessResult) reading()     {}
func (OSInfoResult) reading()      {}

// clampPercent bounds v to [0,100]; NaN becomes 0.
func clampPercent(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
