package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yuku/connpool/driver"
	"github.com/yuku/connpool/internal/clock"
	"github.com/yuku/connpool/internal/failure"
)

const (
	// DefaultAcquireTimeout bounds Take when no timeout is configured.
	DefaultAcquireTimeout = 30 * time.Second

	// NoTimeout makes Take wait until its context is done.
	NoTimeout time.Duration = -1
)

// Executor runs maintenance tasks. Submit must not block for long.
type Executor interface {
	Submit(task func())
}

// Config configures the pool engine.
type Config struct {
	// Name identifies the pool in logs and metrics.
	Name string

	// CoreSize is the number of sessions the pool keeps alive.
	CoreSize int32

	// MaxSize is the hard limit on live sessions.
	MaxSize int32

	// AcquireTimeout bounds Take. Zero means DefaultAcquireTimeout and
	// NoTimeout disables the limit.
	AcquireTimeout time.Duration

	// IdleTimeout evicts sessions idle longer than this while the pool is
	// above CoreSize. Zero disables idle eviction.
	IdleTimeout time.Duration

	// LifetimeTimeout evicts sessions older than this. Zero disables it.
	LifetimeTimeout time.Duration

	// ValidationTimeout bounds the ping of a freshly opened session. Zero
	// skips the ping.
	ValidationTimeout time.Duration

	// StatementCacheSize is the per-session statement cache capacity. Zero
	// disables caching.
	StatementCacheSize int

	// Open opens a physical session. Required.
	Open func(ctx context.Context) (driver.Session, error)

	// Init prepares a freshly opened session before it is pooled.
	Init func(ctx context.Context, s driver.Session) error

	// Executor runs maintenance. When nil the pool starts its own worker.
	Executor Executor

	Handler  failure.Handler
	Listener Listener
	Clock    clock.Clock
	Logger   *zap.Logger
}

// Validate checks the sizing and required hooks.
func (c Config) Validate() error {
	if c.Open == nil {
		return fmt.Errorf("open function cannot be nil")
	}
	if c.MaxSize <= 0 {
		return fmt.Errorf("max size must be positive: given %d", c.MaxSize)
	}
	if c.CoreSize < 0 || c.MaxSize < c.CoreSize {
		return fmt.Errorf("core size must be between 0 and max size %d: given %d", c.MaxSize, c.CoreSize)
	}
	if c.StatementCacheSize < 0 {
		return fmt.Errorf("statement cache size must not be negative: given %d", c.StatementCacheSize)
	}
	if c.AcquireTimeout < 0 && c.AcquireTimeout != NoTimeout {
		return fmt.Errorf("acquire timeout must not be negative: given %s", c.AcquireTimeout)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "pool-" + uuid.NewString()[:8]
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = DefaultAcquireTimeout
	}
	if c.Handler == nil {
		c.Handler = failure.DefaultHandler{}
	}
	if c.Listener == nil {
		c.Listener = NopListener{}
	}
	if c.Clock == nil {
		c.Clock = clock.System{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
