package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Compile-time interface check.
var _ Fetcher = (*HostFetcher)(nil)

// HostFetcher samples the machine the agent runs on. It is used when the
// agent is deployed on the monitored node itself and no management API is
// available for usage data.
type HostFetcher struct {
	diskPath    string
	cpuInterval time.Duration

	// Swappable for tests.
	cpuPercent func(ctx context.Context, interval time.Duration, percpu bool) ([]float64, error)
	memory     func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	diskUsage  func(ctx context.Context, path string) (*disk.UsageStat, error)
	uptime     func(ctx context.Context) (uint64, error)
}

// NewHostFetcher returns a HostFetcher that reports disk usage of the
// filesystem mounted at diskPath ("/" when empty).
func NewHostFetcher(diskPath string) *HostFetcher {
	if diskPath == "" {
		diskPath = "/"
	}
	return &HostFetcher{
		diskPath:    diskPath,
		cpuInterval: 500 * time.Millisecond,
		cpuPercent:  cpu.PercentWithContext,
		memory:      mem.VirtualMemoryWithContext,
		diskUsage:   disk.UsageWithContext,
		uptime:      host.UptimeWithContext,
	}
}

// FetchUsage samples CPU over a short interval, then reads memory, disk and
// uptime.
func (f *HostFetcher) FetchUsage(ctx context.Context) (Reading, error) {
	var r Reading

	pcts, err := f.cpuPercent(ctx, f.cpuInterval, false)
	if err != nil {
		return Reading{}, fmt.Errorf("host usage: cpu: %w", err)
	}
	if len(pcts) > 0 {
		r.CPUPercent = pcts[0]
	}

	vm, err := f.memory(ctx)
	if err != nil {
		return Reading{}, fmt.Errorf("host usage: memory: %w", err)
	}
	r.MemoryBytes = int64(vm.Used)

	du, err := f.diskUsage(ctx, f.diskPath)
	if err != nil {
		return Reading{}, fmt.Errorf("host usage: disk %s: %w", f.diskPath, err)
	}
	r.DiskBytes = int64(du.Used)

	// Uptime is informational; a failure here does not void the sample.
	if secs, err := f.uptime(ctx); err == nil {
		r.Uptime = time.Duration(secs) * time.Second
	}
	r.State = "running"

	return r, nil
}
