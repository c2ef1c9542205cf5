package usage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Reading is one raw usage sample as delivered by a transport, before it is
// split into store fields.
type Reading struct {
	CPUPercent  float64
	MemoryBytes int64
	DiskBytes   int64
	Uptime      time.Duration
	State       string
}

// Fetcher returns a single usage sample on demand. It is the poll endpoint
// used by the transport when push delivery is unavailable.
type Fetcher interface {
	FetchUsage(ctx context.Context) (Reading, error)
}

// FormatUptime renders d as "1d 2h 3m 4s", omitting leading zero units.
// Durations below one second render as "0s".
func FormatUptime(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}

	total := int64(d / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if days > 0 || hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if days > 0 || hours > 0 || minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	parts = append(parts, fmt.Sprintf("%ds", seconds))
	return strings.Join(parts, " ")
}

// FormatBytes renders n in IEC units, e.g. "1.5 GiB".
func FormatBytes(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}
