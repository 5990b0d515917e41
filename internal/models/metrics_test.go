package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBatch_RejectsEmpty(t *testing.T) {
	b, err := NewBatch(nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)
	assert.Nil(t, b)
}

func TestNewBatch_CopiesInput(t *testing.T) {
	snaps := []MetricSnapshot{{CPUOverall: 1}, {CPUOverall: 2}}
	b, err := NewBatch(snaps)
	require.NoError(t, err)

	snaps[0].CPUOverall = 99
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 1.0, b[0].CPUOverall)
}

func TestIngestPayload_WireFieldNames(t *testing.T) {
	temp := 55.5
	metrics, err := json.Marshal([]MetricSnapshot{{
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		RAMTotal:  1024,
		DiskUsage: []DiskInfo{{Mount: "/", Total: 10}},
		CPUTemp:   &temp,
		Processes: []ProcessInfo{{PID: 1, Name: "init"}},
	}})
	require.NoError(t, err)
	payload := IngestPayload{MachineToken: "tok", Metrics: metrics}

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.Contains(t, string(data), string(metrics), "metrics are embedded verbatim")

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "tok", raw["machine_token"])

	list := raw["metrics"].([]any)
	require.Len(t, list, 1)
	snap := list[0].(map[string]any)

	for _, key := range []string{
		"timestamp", "cpu_overall", "cpu_cores", "ram_used", "ram_total",
		"disk_usage", "network_rx", "network_tx", "uptime_seconds",
		"cpu_temp", "gpu_temp", "processes",
	} {
		assert.Contains(t, snap, key)
	}
	assert.Nil(t, snap["gpu_temp"])
	assert.NotContains(t, snap, "os_name", "empty OS name is omitted")
	assert.Equal(t, "2024-01-02T03:04:05Z", snap["timestamp"])
}
