package transport

import (
	"time"

	"k8s.io/utils/clock"
)

// Scheduler runs f once after d on its own goroutine. The returned function
// cancels the pending call and reports whether it was still pending.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) (cancel func() bool)
}

// ClockScheduler adapts a clock to Scheduler.
type ClockScheduler struct {
	Clock clock.WithDelayedExecution
}

// NewClockScheduler returns a Scheduler backed by the wall clock.
func NewClockScheduler() *ClockScheduler {
	return &ClockScheduler{Clock: clock.RealClock{}}
}

func (s *ClockScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	t := s.Clock.AfterFunc(d, f)
	return t.Stop
}
