package connpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/yuku/connpool/driver"
	"github.com/yuku/connpool/internal/defaults"
	"github.com/yuku/connpool/internal/failure"
	"github.com/yuku/connpool/internal/pool"
)

// ErrConnClosed is returned by Conn methods after Release.
var ErrConnClosed = errors.New("connection released")

// Conn is a session checked out from a pool. A Conn must not be used from
// more than one goroutine at a time.
type Conn struct {
	pool  *Pool
	entry *pool.Entry

	// dirty marks properties changed away from their defaults.
	dirty      defaults.Flags
	autoCommit bool

	released    bool
	releaseOnce sync.Once
	releaseErr  error
}

func newConn(p *Pool, e *pool.Entry) *Conn {
	return &Conn{
		pool:       p,
		entry:      e,
		autoCommit: p.defaults.AutoCommit(),
	}
}

// ID returns the identifier of the underlying pooled session.
func (c *Conn) ID() string {
	return c.entry.ID()
}

// Session returns the physical session. Callers must not close it or change
// its properties directly.
func (c *Conn) Session() driver.Session {
	return c.entry.Session()
}

// Prepare prepares sql, reusing a cached statement when the session already
// prepared the same request.
func (c *Conn) Prepare(ctx context.Context, sql string) (*Stmt, error) {
	return c.PrepareRequest(ctx, driver.NewPrepareRequest(sql))
}

// PrepareCall prepares a stored procedure call.
func (c *Conn) PrepareCall(ctx context.Context, sql string) (*Stmt, error) {
	return c.PrepareRequest(ctx, driver.NewCallRequest(sql))
}

// PrepareRequest prepares req through the statement cache.
func (c *Conn) PrepareRequest(ctx context.Context, req *driver.PrepareRequest) (*Stmt, error) {
	if c.released {
		return nil, ErrConnClosed
	}
	stmt, err := c.entry.Cache().Prepare(ctx, c.entry.Session(), req)
	if err != nil {
		return nil, c.fail(ctx, fmt.Errorf("failed to prepare statement: %w", err))
	}
	c.entry.Cache().Pin(stmt)
	s := &Stmt{conn: c, stmt: stmt}
	c.entry.Enlist(s)
	return s, nil
}

// SetAutoCommit switches auto-commit mode. The pool default is restored on
// release.
func (c *Conn) SetAutoCommit(ctx context.Context, v bool) error {
	if err := c.set(ctx, driver.AutoCommit, v); err != nil {
		return err
	}
	c.autoCommit = v
	return nil
}

// SetIsolation sets the transaction isolation level.
func (c *Conn) SetIsolation(ctx context.Context, v driver.IsolationLevel) error {
	if !v.Valid() {
		return fmt.Errorf("invalid isolation level: %d", v)
	}
	return c.set(ctx, driver.Isolation, v)
}

// SetReadOnly marks the session read-only or read-write.
func (c *Conn) SetReadOnly(ctx context.Context, v bool) error {
	return c.set(ctx, driver.ReadOnly, v)
}

// SetHoldability sets whether cursors survive a commit.
func (c *Conn) SetHoldability(ctx context.Context, v driver.CursorHoldability) error {
	if !v.Valid() {
		return fmt.Errorf("invalid cursor holdability: %d", v)
	}
	return c.set(ctx, driver.Holdability, v)
}

// SetCatalog selects the session catalog.
func (c *Conn) SetCatalog(ctx context.Context, v string) error {
	return c.set(ctx, driver.Catalog, v)
}

// SetSchema selects the session schema.
func (c *Conn) SetSchema(ctx context.Context, v string) error {
	return c.set(ctx, driver.Schema, v)
}

// SetTypeMap installs a custom type mapping.
func (c *Conn) SetTypeMap(ctx context.Context, v map[string]string) error {
	return c.set(ctx, driver.TypeMap, v)
}

// SetClientInfo replaces the client info reported to the server.
func (c *Conn) SetClientInfo(ctx context.Context, v map[string]string) error {
	return c.set(ctx, driver.ClientInfo, v)
}

// SetNetworkTimeout bounds how long the session waits on the network.
func (c *Conn) SetNetworkTimeout(ctx context.Context, v time.Duration) error {
	return c.set(ctx, driver.NetworkTimeout, v)
}

func (c *Conn) set(ctx context.Context, p driver.Property, v any) error {
	if c.released {
		return ErrConnClosed
	}
	if err := c.pool.defaults.Set(ctx, c.entry.Session(), &c.dirty, p, v); err != nil {
		return c.fail(ctx, fmt.Errorf("failed to set %s: %w", p, err))
	}
	return nil
}

// AutoCommit reports whether auto-commit is on.
func (c *Conn) AutoCommit(ctx context.Context) (bool, error) {
	return property[bool](ctx, c, driver.AutoCommit)
}

// Isolation returns the transaction isolation level.
func (c *Conn) Isolation(ctx context.Context) (driver.IsolationLevel, error) {
	return property[driver.IsolationLevel](ctx, c, driver.Isolation)
}

// ReadOnly reports whether the session is read-only.
func (c *Conn) ReadOnly(ctx context.Context) (bool, error) {
	return property[bool](ctx, c, driver.ReadOnly)
}

// Holdability returns the cursor holdability.
func (c *Conn) Holdability(ctx context.Context) (driver.CursorHoldability, error) {
	return property[driver.CursorHoldability](ctx, c, driver.Holdability)
}

// Catalog returns the session catalog.
func (c *Conn) Catalog(ctx context.Context) (string, error) {
	return property[string](ctx, c, driver.Catalog)
}

// Schema returns the session schema.
func (c *Conn) Schema(ctx context.Context) (string, error) {
	return property[string](ctx, c, driver.Schema)
}

// TypeMap returns the custom type mapping.
func (c *Conn) TypeMap(ctx context.Context) (map[string]string, error) {
	return property[map[string]string](ctx, c, driver.TypeMap)
}

// ClientInfo returns the client info reported to the server.
func (c *Conn) ClientInfo(ctx context.Context) (map[string]string, error) {
	return property[map[string]string](ctx, c, driver.ClientInfo)
}

// NetworkTimeout returns the network timeout of the session.
func (c *Conn) NetworkTimeout(ctx context.Context) (time.Duration, error) {
	return property[time.Duration](ctx, c, driver.NetworkTimeout)
}

func property[T any](ctx context.Context, c *Conn, p driver.Property) (T, error) {
	var zero T
	if c.released {
		return zero, ErrConnClosed
	}
	v, err := c.entry.Session().Property(ctx, p)
	if err != nil {
		return zero, c.fail(ctx, fmt.Errorf("failed to get %s: %w", p, err))
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected %s value of type %T", p, v)
	}
	return t, nil
}

// Commit commits the current transaction.
func (c *Conn) Commit(ctx context.Context) error {
	if c.released {
		return ErrConnClosed
	}
	if err := c.entry.Session().Commit(ctx); err != nil {
		return c.fail(ctx, fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// Rollback rolls back the current transaction.
func (c *Conn) Rollback(ctx context.Context) error {
	if c.released {
		return ErrConnClosed
	}
	if err := c.entry.Session().Rollback(ctx); err != nil {
		return c.fail(ctx, fmt.Errorf("failed to roll back: %w", err))
	}
	return nil
}

// IsValid pings the session, bounded by the pool's validation timeout.
func (c *Conn) IsValid(ctx context.Context) bool {
	if c.released || c.entry.Closed() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.pool.validation)
	defer cancel()
	return c.entry.Session().Ping(ctx) == nil
}

// fail classifies err. An error fatal to the session tears it down at once
// and the teardown failures are merged into the returned error.
func (c *Conn) fail(ctx context.Context, err error) error {
	if errors.Is(err, driver.ErrNotSupported) || !c.pool.handler.IsFatal(err) {
		return err
	}
	c.entry.MarkFailed()
	return failure.Combine(c.pool.handler, err, c.release(ctx, true))
}

// Release returns the session to the pool. Statements and result sets left
// open are closed and session properties changed during the checkout are
// restored.
// It is safe to call Release multiple times; subsequent calls will be no-ops.
// This allows for both defer c.Release(ctx) and explicit release patterns.
func (c *Conn) Release(ctx context.Context) error {
	return c.release(ctx, false)
}

// Close releases the session back to the pool with a background context.
// It is equivalent to calling Release with a background context.
func (c *Conn) Close() error {
	return c.Release(context.Background())
}

func (c *Conn) release(ctx context.Context, broken bool) error {
	c.releaseOnce.Do(func() {
		c.released = true
		c.releaseErr = c.giveBack(ctx, broken)
	})
	return c.releaseErr
}

func (c *Conn) giveBack(ctx context.Context, broken bool) error {
	fatal, errs := c.entry.CloseResources(ctx)
	broken = broken || fatal || c.entry.Failed()

	if !broken && !c.entry.Closed() {
		if _, err := c.pool.defaults.Reset(ctx, c.entry.Session(), c.dirty, c.autoCommit); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to reset session: %w", err))
			if c.pool.handler.IsFatal(err) {
				broken = true
			}
		}
	}
	c.dirty = 0

	return multierr.Append(errs, c.entry.Close(ctx, broken))
}
