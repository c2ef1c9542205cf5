package container

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jamesprial/readings/internal/usage"
)

// statsResponse is the subset of /containers/{id}/stats?stream=false we use.
type statsResponse struct {
	CPUStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
		SystemCPUUsage uint64 `json:"system_cpu_usage"`
		OnlineCPUs     int    `json:"online_cpus"`
	} `json:"cpu_stats"`
	PreCPUStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
		SystemCPUUsage uint64 `json:"system_cpu_usage"`
	} `json:"precpu_stats"`
	MemoryStats struct {
		Usage uint64 `json:"usage"`
		Stats struct {
			Cache        uint64 `json:"cache"`
			InactiveFile uint64 `json:"inactive_file"`
		} `json:"stats"`
	} `json:"memory_stats"`
}

// inspectResponse is the subset of /containers/{id}/json?size=true we use.
type inspectResponse struct {
	SizeRw int64 `json:"SizeRw"`
	State  struct {
		Status    string `json:"Status"`
		Running   bool   `json:"Running"`
		StartedAt string `json:"StartedAt"`
	} `json:"State"`
}

// FetchUsage implements usage.Fetcher. CPU uses the delta between the two
// samples Docker returns, memory excludes page cache, disk is the size of
// the container's writable layer and uptime runs from the last start.
func (c *Client) FetchUsage(ctx context.Context) (usage.Reading, error) {
	body, err := c.do(ctx, http.MethodGet, c.containerPath("/stats?stream=false"))
	if err != nil {
		return usage.Reading{}, fmt.Errorf("container usage: %w", err)
	}
	var stats statsResponse
	if err := json.Unmarshal(body, &stats); err != nil {
		return usage.Reading{}, fmt.Errorf("container usage: decode stats: %w", err)
	}

	body, err = c.do(ctx, http.MethodGet, c.containerPath("/json?size=true"))
	if err != nil {
		return usage.Reading{}, fmt.Errorf("container usage: %w", err)
	}
	var info inspectResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return usage.Reading{}, fmt.Errorf("container usage: decode inspect: %w", err)
	}

	r := usage.Reading{
		CPUPercent:  cpuPercent(stats),
		MemoryBytes: int64(memoryUsed(stats)),
		DiskBytes:   info.SizeRw,
		State:       info.State.Status,
	}
	if info.State.Running {
		if started, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil {
			r.Uptime = c.now().Sub(started)
		}
	}
	return r, nil
}

func cpuPercent(s statsResponse) float64 {
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(s.CPUStats.SystemCPUUsage) - float64(s.PreCPUStats.SystemCPUUsage)
	if systemDelta <= 0 || cpuDelta <= 0 {
		return 0
	}
	cpus := s.CPUStats.OnlineCPUs
	if cpus == 0 {
		cpus = 1
	}
	return cpuDelta / systemDelta * float64(cpus) * 100
}

// memoryUsed subtracts the page cache: "cache" on cgroup v1,
// "inactive_file" on cgroup v2.
func memoryUsed(s statsResponse) uint64 {
	used := s.MemoryStats.Usage
	cache := s.MemoryStats.Stats.Cache
	if cache == 0 {
		cache = s.MemoryStats.Stats.InactiveFile
	}
	if cache <= used {
		used -= cache
	}
	return used
}
