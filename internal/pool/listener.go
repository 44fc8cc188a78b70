package pool

import "time"

// EvictReason tells why a session left the pool.
type EvictReason uint8

const (
	EvictError EvictReason = iota
	EvictIdle
	EvictLifetime
	EvictClosed
)

func (r EvictReason) String() string {
	switch r {
	case EvictError:
		return "error"
	case EvictIdle:
		return "idle"
	case EvictLifetime:
		return "lifetime"
	case EvictClosed:
		return "closed"
	}
	return "unknown"
}

// StatementEvictReason tells why a statement left a session's cache.
type StatementEvictReason uint8

const (
	StatementClosed StatementEvictReason = iota
	StatementError
)

func (r StatementEvictReason) String() string {
	switch r {
	case StatementClosed:
		return "closed"
	case StatementError:
		return "error"
	}
	return "unknown"
}

// Listener observes pool events. Methods are called synchronously from the
// goroutine that caused the event and must not block.
type Listener interface {
	PoolCreated(name string)
	PoolClosed(name string)
	EntryCreated(elapsed time.Duration)
	AcquireTimeout(waited time.Duration)
	Acquired(waited time.Duration)
	Returned(held time.Duration)
	Evicted(reason EvictReason)
	StatementCacheHit()
	StatementCacheMiss()
	StatementEvicted(reason StatementEvictReason)
}

// NopListener ignores every event. Embed it to implement a subset of
// Listener.
type NopListener struct{}

var _ Listener = NopListener{}

func (NopListener) PoolCreated(string)                    {}
func (NopListener) PoolClosed(string)                     {}
func (NopListener) EntryCreated(time.Duration)            {}
func (NopListener) AcquireTimeout(time.Duration)          {}
func (NopListener) Acquired(time.Duration)                {}
func (NopListener) Returned(time.Duration)                {}
func (NopListener) Evicted(EvictReason)                   {}
func (NopListener) StatementCacheHit()                    {}
func (NopListener) StatementCacheMiss()                   {}
func (NopListener) StatementEvicted(StatementEvictReason) {}
