// Package procstats reports host/process resource usage for the management
// API's health endpoint, using the teacher's shirou/gopsutil dependency
// (present in the teacher's go.mod but exercised by no teacher package
// directly — this is its first direct use in this module).
package procstats

import (
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"
)

// Snapshot is a point-in-time view of host resource usage.
type Snapshot struct {
	CPUPercent    float64
	MemUsedBytes  uint64
	MemPercent    float64
	UptimeSeconds uint64
}

// Collect samples CPU usage since the previous call (non-blocking: a zero
// interval asks gopsutil to compare against its last internal reading
// rather than sleeping), current memory usage, and host uptime.
func Collect() (Snapshot, error) {
	var snap Snapshot

	pct, err := cpu.Percent(0, false)
	if err != nil {
		return snap, err
	}
	if len(pct) > 0 {
		snap.CPUPercent = pct[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return snap, err
	}
	snap.MemUsedBytes = vm.Used
	snap.MemPercent = vm.UsedPercent

	uptime, err := host.Uptime()
	if err != nil {
		return snap, err
	}
	snap.UptimeSeconds = uptime

	return snap, nil
}
