package collector

import (
	"context"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/vitalis-app/telemetry-agent/internal/models"
)

// statusAliases folds the per-OS status strings gopsutil reports into
// running, sleeping, idle, stopped or zombie.
var statusAliases = map[string]string{
	"running":               "running",
	"waking":                "running",
	"sleeping":              "sleeping",
	"sleep":                 "sleeping",
	"wait":                  "sleeping",
	"lock":                  "sleeping",
	"disk-sleep":            "sleeping",
	"wake-kill":             "sleeping",
	"uninterruptible-sleep": "sleeping",
	"idle":                  "idle",
	"parked":                "idle",
	"idle-interrupt":        "idle",
	"stopped":               "stopped",
	"tracing-stop":          "stopped",
	"suspended":             "stopped",
	"zombie":                "zombie",
	"dead":                  "zombie",
}

// normalizeStatus maps a raw status to a display value. Windows reports no
// status, so activity is inferred from CPU usage.
func normalizeStatus(raw string, cpuPct float64) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		if cpuPct > 0 {
			return "running"
		}
		return "idle"
	}
	if mapped, ok := statusAliases[key]; ok {
		return mapped
	}
	return key
}

// ProcessCollector collects the busiest processes by CPU usage.
type ProcessCollector struct {
	topN int
}

// NewProcessCollector returns a collector reporting at most topN processes.
func NewProcessCollector(topN int) *ProcessCollector {
	if topN <= 0 {
		topN = 10
	}
	return &ProcessCollector{topN: topN}
}

func (c *ProcessCollector) Name() string { return "processes" }

// Collect lists all processes and keeps the topN by CPU. Per-process errors
// leave the affected field empty rather than failing the reading.
func (c *ProcessCollector) Collect(ctx context.Context) (Reading, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]models.ProcessInfo, 0, len(procs))
	for _, p := range procs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		name, _ := p.NameWithContext(ctx)
		cpuPct, _ := p.CPUPercentWithContext(ctx)
		memPct, _ := p.MemoryPercentWithContext(ctx)
		var status string
		if st, _ := p.StatusWithContext(ctx); len(st) > 0 {
			status = st[0]
		}

		infos = append(infos, models.ProcessInfo{
			PID:    p.Pid,
			Name:   name,
			CPU:    cpuPct,
			Memory: float64(memPct),
			Status: normalizeStatus(status, cpuPct),
		})
	}
	return ProcessResult{Processes: topByCPU(infos, c.topN)}, nil
}

func (c *ProcessCollector) IsAvailable() bool { return true }

// topByCPU sorts infos by CPU descending, PID ascending on ties, and keeps n.
func topByCPU(infos []models.ProcessInfo, n int) []models.ProcessInfo {
	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].CPU != infos[j].CPU {
			return infos[i].CPU > infos[j].CPU
		}
		return infos[i].PID < infos[j].PID
	})
	if len(infos) > n {
		infos = infos[:n]
	}
	return infos
}
