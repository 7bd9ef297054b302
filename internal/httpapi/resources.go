// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package httpapi

import (
	"context"
	"fmt"
	"os"
	"runtime"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// Resources is the process resource usage reported by /api/status.
type Resources struct {
	CPUPercent  float64 `json:"cpu_percent"`
	RSSBytes    uint64  `json:"rss_bytes"`
	Goroutines  int     `json:"goroutines"`
	NetBytesIn  uint64  `json:"net_bytes_in"`
	NetBytesOut uint64  `json:"net_bytes_out"`
}

// ResourceSampler reports current resource usage.
type ResourceSampler interface {
	Sample(ctx context.Context) (Resources, error)
}

// ProcessSampler samples the running daemon process with gopsutil.
type ProcessSampler struct {
	proc *process.Process
}

// NewProcessSampler attaches to the current process.
func NewProcessSampler() (*ProcessSampler, error) {
	p, err := process.NewProcess(int32(os.Getpid())) // #nosec G115 -- pids fit in int32
	if err != nil {
		return nil, fmt.Errorf("attach to process: %w", err)
	}
	return &ProcessSampler{proc: p}, nil
}

// Sample returns CPU percent since process start, resident memory and the
// host-wide network byte counters.
func (s *ProcessSampler) Sample(ctx context.Context) (Resources, error) {
	res := Resources{Goroutines: runtime.NumGoroutine()}

	cpu, err := s.proc.CPUPercentWithContext(ctx)
	if err != nil {
		return res, fmt.Errorf("cpu percent: %w", err)
	}
	res.CPUPercent = cpu

	mem, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return res, fmt.Errorf("memory info: %w", err)
	}
	res.RSSBytes = mem.RSS

	counters, err := psnet.IOCountersWithContext(ctx, false)
	if err != nil {
		return res, fmt.Errorf("net counters: %w", err)
	}
	if len(counters) > 0 {
		res.NetBytesIn = counters[0].BytesRecv
		res.NetBytesOut = counters[0].BytesSent
	}
	return res, nil
}
