package usage

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ParseResourceType_Cases(t *testing.T) {
	tests := []struct {
		in      string
		want    ResourceType
		wantErr bool
	}{
		{in: "cpu", want: CPU},
		{in: "CPU", want: CPU},
		{in: " memory ", want: Memory},
		{in: "mem", want: Memory},
		{in: "ram", want: Memory},
		{in: "Disk", want: Disk},
		{in: "network", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseResourceType(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func Test_Store_SetAndRead(t *testing.T) {
	s := NewStore()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	assert.False(t, s.Read().Populated())

	s.SetUsage(CPU, 42.5)
	s.SetUsage(Memory, 2048.9)
	s.SetUsage(Disk, 4096)
	s.SetUptime("1h 2m 3s")

	snap := s.Read()
	assert.Equal(t, 42.5, snap.CPUPercent)
	assert.Equal(t, int64(2048), snap.MemoryBytes)
	assert.Equal(t, int64(4096), snap.DiskBytes)
	assert.Equal(t, "1h 2m 3s", snap.Uptime)
	assert.Equal(t, fixed, snap.LastUpdated)
	assert.True(t, snap.Populated())
}

func Test_Store_UnknownResourceIgnored(t *testing.T) {
	s := NewStore()
	s.SetUsage(ResourceType(99), 1)
	assert.False(t, s.Read().Populated())
}

func Test_Store_ReadReturnsCopy(t *testing.T) {
	s := NewStore()
	s.SetUsage(CPU, 10)

	snap := s.Read()
	snap.CPUPercent = 99

	assert.Equal(t, 10.0, s.Read().CPUPercent)
}

func Test_Store_Apply(t *testing.T) {
	s := NewStore()
	s.Apply(Reading{
		CPUPercent:  12.5,
		MemoryBytes: 100,
		DiskBytes:   200,
		Uptime:      90 * time.Second,
	})

	snap := s.Read()
	assert.Equal(t, 12.5, snap.CPUPercent)
	assert.Equal(t, int64(100), snap.MemoryBytes)
	assert.Equal(t, int64(200), snap.DiskBytes)
	assert.Equal(t, "1m 30s", snap.Uptime)
}

// Two writers update different fields with values that are only valid as a
// whole (every bit set, or zero). A torn read would show anything else.
func Test_Store_ConcurrentWritesNeverTear(t *testing.T) {
	s := NewStore()
	const iterations = 2000
	big := float64(math.MaxInt64 >> 1)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			if i%2 == 0 {
				s.SetUsage(CPU, 100)
			} else {
				s.SetUsage(CPU, 0)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			if i%2 == 0 {
				s.SetUsage(Memory, big)
			} else {
				s.SetUsage(Memory, 0)
			}
			s.SetUptime("x")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			snap := s.Read()
			if snap.CPUPercent != 0 && snap.CPUPercent != 100 {
				t.Errorf("torn cpu value %v", snap.CPUPercent)
				return
			}
			if snap.MemoryBytes != 0 && snap.MemoryBytes != int64(big) {
				t.Errorf("torn memory value %v", snap.MemoryBytes)
				return
			}
		}
	}()
	wg.Wait()
}

func Test_Snapshot_Value(t *testing.T) {
	snap := Snapshot{CPUPercent: 1.5, MemoryBytes: 2, DiskBytes: 3}

	v, ok := snap.Value(CPU)
	assert.True(t, ok)
	assert.Equal(t, 1.5, v)

	v, ok = snap.Value(Memory)
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)

	v, ok = snap.Value(Disk)
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)

	_, ok = snap.Value(ResourceType(0))
	assert.False(t, ok)
}

func Test_FormatUptime_Cases(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: 0, want: "0s"},
		{in: 500 * time.Millisecond, want: "0s"},
		{in: 45 * time.Second, want: "45s"},
		{in: 61 * time.Second, want: "1m 1s"},
		{in: time.Hour, want: "1h 0m 0s"},
		{in: 26*time.Hour + 3*time.Minute + 4*time.Second, want: "1d 2h 3m 4s"},
		{in: 48 * time.Hour, want: "2d 0h 0m 0s"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUptime(tt.in))
		})
	}
}

func Test_FormatBytes(t *testing.T) {
	assert.Equal(t, "1.0 KiB", FormatBytes(1024))
	assert.Equal(t, "-1.0 KiB", FormatBytes(-1024))
	assert.Equal(t, "0 B", FormatBytes(0))
}

func Test_HostFetcher_FetchUsage(t *testing.T) {
	f := NewHostFetcher("")
	require.Equal(t, "/", f.diskPath)

	var gotPath string
	f.cpuPercent = func(context.Context, time.Duration, bool) ([]float64, error) { return []float64{37.5}, nil }
	f.memory = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Used: 1 << 30}, nil
	}
	f.diskUsage = func(_ context.Context, path string) (*disk.UsageStat, error) {
		gotPath = path
		return &disk.UsageStat{Used: 5 << 30}, nil
	}
	f.uptime = func(context.Context) (uint64, error) { return 3600, nil }

	r, err := f.FetchUsage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 37.5, r.CPUPercent)
	assert.Equal(t, int64(1<<30), r.MemoryBytes)
	assert.Equal(t, int64(5<<30), r.DiskBytes)
	assert.Equal(t, time.Hour, r.Uptime)
	assert.Equal(t, "/", gotPath)
}

func Test_HostFetcher_Errors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("cpu error", func(t *testing.T) {
		f := NewHostFetcher("/data")
		f.cpuPercent = func(context.Context, time.Duration, bool) ([]float64, error) { return nil, boom }
		_, err := f.FetchUsage(context.Background())
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "cpu")
	})

	t.Run("uptime error is ignored", func(t *testing.T) {
		f := NewHostFetcher("/data")
		f.cpuPercent = func(context.Context, time.Duration, bool) ([]float64, error) { return []float64{1}, nil }
		f.memory = func(context.Context) (*mem.VirtualMemoryStat, error) { return &mem.VirtualMemoryStat{}, nil }
		f.diskUsage = func(context.Context, string) (*disk.UsageStat, error) { return &disk.UsageStat{}, nil }
		f.uptime = func(context.Context) (uint64, error) { return 0, boom }

		r, err := f.FetchUsage(context.Background())
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), r.Uptime)
	})
}
