package connpool

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yuku/connpool/driver"
	"github.com/yuku/connpool/internal/clock"
	"github.com/yuku/connpool/internal/defaults"
	"github.com/yuku/connpool/internal/failure"
	"github.com/yuku/connpool/internal/pool"
)

// Config holds the configuration for creating a pool.
type Config struct {
	// Name identifies the pool in logs and metrics. Defaults to a random
	// name.
	Name string

	// Connector opens physical sessions. Required.
	Connector driver.Connector

	// User and Password are passed to Connector.Connect.
	User     string
	Password string

	// ConnectionTimeout bounds Acquire. Zero means DefaultConnectionTimeout
	// and NoTimeout waits until the context is done.
	ConnectionTimeout time.Duration

	// IdleTimeout evicts sessions idle longer than this while the pool is
	// above CorePoolSize. Zero disables idle eviction.
	IdleTimeout time.Duration

	// LifetimeTimeout evicts sessions older than this. Zero disables it.
	LifetimeTimeout time.Duration

	// ValidationTimeout bounds the ping of every new session and of
	// Conn.IsValid. Required.
	ValidationTimeout time.Duration

	CorePoolSize int32
	MaxPoolSize  int32

	// StatementCacheSize is the number of prepared statements cached per
	// session. Zero disables caching.
	StatementCacheSize int

	// MaintenanceExecutor runs maintenance passes. When nil the pool starts
	// its own worker goroutine.
	MaintenanceExecutor Executor

	// Defaults overrides the session defaults captured from the backend.
	Defaults Overrides

	ExceptionHandler ExceptionHandler
	Listener         Listener
	Logger           *zap.Logger
	Clock            clock.Clock
}

// ConfigError reports an invalid Config field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks c before any session is opened.
func (c Config) Validate() error {
	if c.Connector == nil {
		return &ConfigError{Field: "Connector", Reason: "connector cannot be nil"}
	}
	if c.ValidationTimeout <= 0 {
		return &ConfigError{Field: "ValidationTimeout", Reason: fmt.Sprintf("must be positive: given %s", c.ValidationTimeout)}
	}
	if c.MaxPoolSize <= 0 {
		return &ConfigError{Field: "MaxPoolSize", Reason: fmt.Sprintf("must be positive: given %d", c.MaxPoolSize)}
	}
	if c.CorePoolSize < 0 || c.MaxPoolSize < c.CorePoolSize {
		return &ConfigError{
			Field:  "CorePoolSize",
			Reason: fmt.Sprintf("must be between 0 and max pool size %d: given %d", c.MaxPoolSize, c.CorePoolSize),
		}
	}
	if c.StatementCacheSize < 0 {
		return &ConfigError{Field: "StatementCacheSize", Reason: fmt.Sprintf("must not be negative: given %d", c.StatementCacheSize)}
	}
	if c.ConnectionTimeout < 0 && c.ConnectionTimeout != NoTimeout {
		return &ConfigError{Field: "ConnectionTimeout", Reason: fmt.Sprintf("must not be negative: given %s", c.ConnectionTimeout)}
	}
	if c.IdleTimeout < 0 {
		return &ConfigError{Field: "IdleTimeout", Reason: fmt.Sprintf("must not be negative: given %s", c.IdleTimeout)}
	}
	if c.LifetimeTimeout < 0 {
		return &ConfigError{Field: "LifetimeTimeout", Reason: fmt.Sprintf("must not be negative: given %s", c.LifetimeTimeout)}
	}
	return nil
}

// Pool is a pool of database sessions.
type Pool struct {
	engine     *pool.Pool
	defaults   *defaults.Defaults
	handler    ExceptionHandler
	validation time.Duration
	logger     *zap.Logger
}

// New creates a pool. It opens one session to capture the session
// defaults, closes it, and then lets the pool open its core sessions in the
// background.
func New(ctx context.Context, conf Config) (*Pool, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool configuration: %w", err)
	}
	if conf.Name == "" {
		conf.Name = "connpool-" + uuid.NewString()
	}
	if conf.ExceptionHandler == nil {
		conf.ExceptionHandler = failure.DefaultHandler{}
	}
	if conf.Logger == nil {
		conf.Logger = zap.NewNop()
	}

	d, err := captureDefaults(ctx, conf)
	if err != nil {
		return nil, err
	}

	open := func(ctx context.Context) (driver.Session, error) {
		return conf.Connector.Connect(ctx, conf.User, conf.Password)
	}
	engine, err := pool.New(pool.Config{
		Name:               conf.Name,
		CoreSize:           conf.CorePoolSize,
		MaxSize:            conf.MaxPoolSize,
		AcquireTimeout:     conf.ConnectionTimeout,
		IdleTimeout:        conf.IdleTimeout,
		LifetimeTimeout:    conf.LifetimeTimeout,
		ValidationTimeout:  conf.ValidationTimeout,
		StatementCacheSize: conf.StatementCacheSize,
		Open:               open,
		Init:               d.Initialize,
		Executor:           conf.MaintenanceExecutor,
		Handler:            conf.ExceptionHandler,
		Listener:           conf.Listener,
		Clock:              conf.Clock,
		Logger:             conf.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Pool{
		engine:     engine,
		defaults:   d,
		handler:    conf.ExceptionHandler,
		validation: conf.ValidationTimeout,
		logger:     conf.Logger.With(zap.String("pool", conf.Name)),
	}, nil
}

func captureDefaults(ctx context.Context, conf Config) (*defaults.Defaults, error) {
	baseline, err := conf.Connector.Connect(ctx, conf.User, conf.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to open baseline session: %w", err)
	}
	d, err := defaults.Capture(ctx, baseline, conf.Defaults)
	if cerr := baseline.Close(ctx); cerr != nil {
		conf.Logger.Warn("failed to close baseline session", zap.String("pool", conf.Name), zap.Error(cerr))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to capture session defaults: %w", err)
	}
	return d, nil
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.engine.Name()
}

// Acquire checks out a session. It waits up to the connection timeout for
// one to become available and fails with ErrTimeout otherwise.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	e, err := p.engine.Take(ctx)
	if err != nil {
		return nil, err
	}
	return newConn(p, e), nil
}

// SoftEvict retires every session. Idle sessions are closed right away and
// checked-out ones when they are released; the pool opens replacements in
// the background.
func (p *Pool) SoftEvict() {
	p.engine.SoftEvict()
	p.logger.Info("soft eviction requested")
}

// Stats returns a snapshot of the pool state.
func (p *Pool) Stats() Stats {
	return p.engine.Stats()
}

// AddCloseHook registers fn to run when the pool closes.
func (p *Pool) AddCloseHook(fn func() error) {
	p.engine.AddCloseHook(fn)
}

// Close closes every session, including checked-out ones. Failures are
// collected; multierr.Errors lists them with the first failure first.
func (p *Pool) Close() error {
	return p.engine.Close()
}
