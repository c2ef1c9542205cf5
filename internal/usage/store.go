// Package usage holds the last known resource usage of the monitored node.
//
// The Store is written by the transport (push callback or poll tick) and
// read by the threshold evaluator. Each setter updates one field atomically;
// a reader may observe a mix of old and new fields across a single delivery.
package usage

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ResourceType selects one of the numeric usage fields.
type ResourceType int

const (
	CPU ResourceType = iota + 1
	Memory
	Disk
)

// String returns the lowercase selector used in threshold expressions.
func (r ResourceType) String() string {
	switch r {
	case CPU:
		return "cpu"
	case Memory:
		return "memory"
	case Disk:
		return "disk"
	default:
		return fmt.Sprintf("resource(%d)", int(r))
	}
}

// ParseResourceType maps "cpu", "memory"/"mem"/"ram" and "disk" to a
// ResourceType. Matching is case-insensitive.
func ParseResourceType(s string) (ResourceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpu":
		return CPU, nil
	case "memory", "mem", "ram":
		return Memory, nil
	case "disk":
		return Disk, nil
	default:
		return 0, fmt.Errorf("unknown resource %q", s)
	}
}

// Snapshot is a copy of the store's fields at the time of Read.
type Snapshot struct {
	CPUPercent  float64   `json:"cpu_percent"`
	MemoryBytes int64     `json:"memory_bytes"`
	DiskBytes   int64     `json:"disk_bytes"`
	Uptime      string    `json:"uptime"`
	LastUpdated time.Time `json:"last_updated"`
}

// Value returns the numeric field selected by r.
func (s Snapshot) Value(r ResourceType) (float64, bool) {
	switch r {
	case CPU:
		return s.CPUPercent, true
	case Memory:
		return float64(s.MemoryBytes), true
	case Disk:
		return float64(s.DiskBytes), true
	default:
		return 0, false
	}
}

// Populated reports whether any delivery has reached the store yet.
func (s Snapshot) Populated() bool {
	return !s.LastUpdated.IsZero()
}

// Store is safe for concurrent use. Writers hold the lock only for a single
// field assignment, so readers never wait on network I/O.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// SetUsage stores value for the given resource. CPU values are percentages;
// memory and disk values are bytes and are truncated to whole bytes.
func (s *Store) SetUsage(r ResourceType, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r {
	case CPU:
		s.snap.CPUPercent = value
	case Memory:
		s.snap.MemoryBytes = int64(value)
	case Disk:
		s.snap.DiskBytes = int64(value)
	default:
		return
	}
	s.snap.LastUpdated = s.now()
}

// SetUptime stores the formatted uptime string.
func (s *Store) SetUptime(uptime string) {
	s.mu.Lock()
	s.snap.Uptime = uptime
	s.snap.LastUpdated = s.now()
	s.mu.Unlock()
}

// Apply writes every field of r with the per-field contract of SetUsage and
// SetUptime.
func (s *Store) Apply(r Reading) {
	s.SetUsage(CPU, r.CPUPercent)
	s.SetUsage(Memory, float64(r.MemoryBytes))
	s.SetUsage(Disk, float64(r.DiskBytes))
	s.SetUptime(FormatUptime(r.Uptime))
}

// Read returns a copy of the current snapshot.
func (s *Store) Read() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}
