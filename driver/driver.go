// Package driver defines the capability set the pool requires from a database
// session. Implementations wrap a physical connection of some backend; the pool
// never looks inside them.
package driver

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by a Session when a property or feature is not
// available on its backend.
var ErrNotSupported = errors.New("driver: not supported")

// Connector opens physical sessions.
type Connector interface {
	// Connect opens a new physical session authenticated with the given
	// credentials. Empty credentials mean the connector's own defaults.
	Connect(ctx context.Context, user, password string) (Session, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, user, password string) (Session, error)

// Connect calls f.
func (f ConnectorFunc) Connect(ctx context.Context, user, password string) (Session, error) {
	return f(ctx, user, password)
}

// Session is one physical connection to a backend.
//
// A Session is used by a single goroutine at a time; the pool guarantees
// exclusive ownership while it is checked out.
type Session interface {
	// Prepare prepares a statement described by req.
	Prepare(ctx context.Context, req *PrepareRequest) (Stmt, error)

	// Property reads the current value of p. It returns ErrNotSupported when
	// the backend has no such property.
	Property(ctx context.Context, p Property) (any, error)

	// SetProperty changes p. The value has the Go type documented on p.
	SetProperty(ctx context.Context, p Property, value any) error

	// Commit commits the current transaction when auto-commit is off.
	Commit(ctx context.Context) error

	// Rollback rolls back the current transaction when auto-commit is off.
	Rollback(ctx context.Context) error

	// Ping checks that the session is alive.
	Ping(ctx context.Context) error

	// Close closes the physical session.
	Close(ctx context.Context) error
}

// Stmt is a prepared statement bound to the session that prepared it.
//
// Implementations must be comparable (pointer types are), since the pool
// indexes statements by identity.
type Stmt interface {
	// Exec executes the statement and returns the number of affected rows.
	Exec(ctx context.Context, args ...any) (int64, error)

	// Query executes the statement and returns a cursor over its result.
	Query(ctx context.Context, args ...any) (Rows, error)

	// Close releases the statement on the backend.
	Close(ctx context.Context) error
}

// Rows is an open cursor.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// WarningClearer is implemented by sessions that accumulate warnings.
type WarningClearer interface {
	ClearWarnings(ctx context.Context) error
}

// EventListener receives out-of-band events from a session.
type EventListener interface {
	// StatementClosed reports that the driver closed stmt on its own, for
	// example because its cached plan became invalid.
	StatementClosed(stmt Stmt)

	// ConnectionError reports an error observed on the session outside of a
	// call made by the pool.
	ConnectionError(err error)
}

// EventSource is implemented by sessions that report events to listeners.
type EventSource interface {
	AddEventListener(l EventListener)
	RemoveEventListener(l EventListener)
}
