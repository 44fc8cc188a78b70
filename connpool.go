package connpool

import (
	"github.com/yuku/connpool/internal/defaults"
	"github.com/yuku/connpool/internal/failure"
	"github.com/yuku/connpool/internal/pool"
)

// Listener observes pool events.
// This is a wrapper around the internal implementation.
type Listener = pool.Listener

// NopListener ignores every event. Embed it to implement a subset of
// Listener.
type NopListener = pool.NopListener

// EvictReason tells why a session left the pool.
type EvictReason = pool.EvictReason

const (
	EvictError    = pool.EvictError
	EvictIdle     = pool.EvictIdle
	EvictLifetime = pool.EvictLifetime
	EvictClosed   = pool.EvictClosed
)

// StatementEvictReason tells why a statement left a session's cache.
type StatementEvictReason = pool.StatementEvictReason

const (
	StatementClosed = pool.StatementClosed
	StatementError  = pool.StatementError
)

// Executor runs maintenance tasks in place of the pool's own worker.
type Executor = pool.Executor

// Stats is a snapshot of the pool state.
type Stats = pool.Stats

// ExceptionHandler classifies errors raised by sessions.
type ExceptionHandler = failure.Handler

// DefaultExceptionHandler treats connection exceptions (SQLSTATE class 08)
// and errors without a SQLSTATE as fatal to the session.
type DefaultExceptionHandler = failure.DefaultHandler

// Overrides replaces captured session defaults. Nil fields keep the captured
// value.
type Overrides = defaults.Overrides

// PropertyError reports an invalid default override.
type PropertyError = defaults.ConfigError

var (
	// ErrClosed is returned by Acquire after Close.
	ErrClosed = pool.ErrClosed

	// ErrTimeout is returned by Acquire when no session became available
	// within the connection timeout.
	ErrTimeout = pool.ErrTimeout
)

const (
	// DefaultConnectionTimeout is used when Config.ConnectionTimeout is zero.
	DefaultConnectionTimeout = pool.DefaultAcquireTimeout

	// NoTimeout makes Acquire wait until its context is done.
	NoTimeout = pool.NoTimeout
)
