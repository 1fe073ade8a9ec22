package control

import (
	"github.com/shirou/gopsutil/v3/process"

	"github.com/verdant-os/verdantd/pkg/supervisor"
)

// InstanceStatus is the wire form of a supervised instance's status,
// optionally enriched with live resource usage for running processes.
type InstanceStatus struct {
	supervisor.Status

	CPUPercent float64 `json:"cpu_percent,omitempty"`
	MemoryRSS  uint64  `json:"memory_rss_bytes,omitempty"`
}

// ShutdownResponse acknowledges a daemon shutdown request
type ShutdownResponse struct {
	Stopping bool `json:"stopping"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// enrich attaches CPU and memory usage to a status snapshot. Failures
// are ignored: the process may have exited between the snapshot and
// the probe.
func enrich(status supervisor.Status) InstanceStatus {
	out := InstanceStatus{Status: status}
	if status.Pid <= 0 || status.State != supervisor.StateRunning {
		return out
	}

	proc, err := process.NewProcess(int32(status.Pid))
	if err != nil {
		return out
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		out.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		out.MemoryRSS = mem.RSS
	}
	return out
}

func enrichAll(statuses []supervisor.Status) []InstanceStatus {
	out := make([]InstanceStatus, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, enrich(status))
	}
	return out
}
