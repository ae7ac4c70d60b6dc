// Package sysinfo samples host load so clients can see whether a software
// encode will compete with other work on the machine.
package sysinfo

import (
	"context"
	"log/slog"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Stats is one host load sample. Fields a platform cannot report stay zero.
type Stats struct {
	CPUCores      int     `json:"cpu_cores"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  float64 `json:"memory_used_mb"`
	Load1         float64 `json:"load_1,omitempty"`
}

type Sampler interface {
	Sample(ctx context.Context) Stats
}

// HostSampler reads host counters through gopsutil.
type HostSampler struct {
	logger *slog.Logger
}

func NewHostSampler(logger *slog.Logger) *HostSampler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HostSampler{logger: logger}
}

// Sample never blocks on a measuring interval: CPU usage is computed
// against the previous call.
func (s *HostSampler) Sample(ctx context.Context) Stats {
	var st Stats

	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		st.CPUCores = n
	} else {
		st.CPUCores = runtime.NumCPU()
	}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		s.logger.Debug("cpu sample failed", "error", err)
	} else if len(pct) > 0 {
		st.CPUPercent = pct[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		s.logger.Debug("memory sample failed", "error", err)
	} else {
		st.MemoryPercent = vm.UsedPercent
		st.MemoryUsedMB = float64(vm.Used) / (1024 * 1024)
	}

	// Not available on Windows.
	if avg, err := load.AvgWithContext(ctx); err == nil {
		st.Load1 = avg.Load1
	}

	return st
}
