// Package clock abstracts the time source used for pool bookkeeping.
package clock

import (
	"sync"
	"time"
)

// Clock measures time. Values returned by Now are only compared with each
// other, never interpreted as wall time.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// System is the real clock. time.Now carries a monotonic reading, so
// durations computed by Since are immune to wall clock jumps.
type System struct{}

func (System) Now() time.Time                  { return time.Now() }
func (System) Since(t time.Time) time.Duration { return time.Since(t) }

// Manual is a clock that only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
