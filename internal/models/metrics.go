// Package models defines the metric data structures used throughout the agent.
// These structures are serialized to JSON for transmission to the API.
package models

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrEmptyBatch is returned when a batch would contain no snapshots.
var ErrEmptyBatch = errors.New("batch has no snapshots")

// MetricSnapshot represents a single point-in-time collection of all system metrics.
// A snapshot is assembled once per collection cycle and never modified afterwards.
type MetricSnapshot struct {
	Timestamp     time.Time     `json:"timestamp"`
	CPUOverall    float64       `json:"cpu_overall"`
	CPUCores      []float64     `json:"cpu_cores"`
	RAMUsed       uint64        `json:"ram_used"`
	RAMTotal      uint64        `json:"ram_total"`
	DiskUsage     []DiskInfo    `json:"disk_usage"`
	NetworkRx     uint64        `json:"network_rx"`
	NetworkTx     uint64        `json:"network_tx"`
	UptimeSeconds uint64        `json:"uptime_seconds"`
	CPUTemp       *float64      `json:"cpu_temp"`
	GPUTemp       *float64      `json:"gpu_temp"`
	Processes     []ProcessInfo `json:"processes"`
	OSName        string        `json:"os_name,omitempty"`
	OSVersion     string        `json:"os_version,omitempty"`
}

// DiskInfo represents usage for a single disk/partition.
type DiskInfo struct {
	Mount string `json:"mount"`
	Fs    string `json:"fs,omitempty"`
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
}

// ProcessInfo represents a single process's resource usage.
type ProcessInfo struct {
	PID    int32   `json:"pid"`
	Name   string  `json:"name"`
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
	Status string  `json:"status"`
}

// Batch is an ordered group of snapshots flushed together, oldest first.
type Batch []MetricSnapshot

// NewBatch copies snapshots into a new Batch. It fails on empty input so that
// an empty batch never reaches the sender or the buffer.
func NewBatch(snapshots []MetricSnapshot) (Batch, error) {
	if len(snapshots) == 0 {
		return nil, ErrEmptyBatch
	}
	b := make(Batch, len(snapshots))
	copy(b, snapshots)
	return b, nil
}

// Len returns the number of snapshots in the batch.
func (b Batch) Len() int { return len(b) }

// IngestPayload is the body sent to the API via POST /api/ingest. Metrics
// holds the already encoded snapshot array so buffered batches are re-sent
// byte for byte.
type IngestPayload struct {
	MachineToken string          `json:"machine_token"`
	Metrics      json.RawMessage `json:"metrics"`
}
