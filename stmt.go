package connpool

import (
	"context"
	"errors"
	"fmt"

	"github.com/yuku/connpool/driver"
	"github.com/yuku/connpool/internal/failure"
)

// ErrStmtClosed is returned by Stmt methods after Close.
var ErrStmtClosed = errors.New("statement closed")

// Stmt is a prepared statement on a checked-out session. Closing it keeps
// the physical statement open when the session caches it.
type Stmt struct {
	conn   *Conn
	stmt   driver.Stmt
	closed bool
}

// Exec runs the statement and returns the number of affected rows.
func (s *Stmt) Exec(ctx context.Context, args ...any) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	n, err := s.stmt.Exec(ctx, args...)
	if err != nil {
		return 0, s.fail(ctx, err)
	}
	return n, nil
}

// Query runs the statement and returns its result set. The result set is
// closed on release if the caller does not close it.
func (s *Stmt) Query(ctx context.Context, args ...any) (*Rows, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	r, err := s.stmt.Query(ctx, args...)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	rows := &Rows{conn: s.conn, rows: r}
	s.conn.entry.Enlist(rowsResource{rows})
	return rows, nil
}

// Close closes the statement. A cached statement stays prepared on the
// session for later reuse.
func (s *Stmt) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.conn.entry.Delist(s)
	if err := s.conn.entry.Cache().Unpin(ctx, s.stmt); err != nil {
		return fmt.Errorf("failed to close statement: %w", err)
	}
	return nil
}

func (s *Stmt) check() error {
	if s.conn.released {
		return ErrConnClosed
	}
	if s.closed {
		return ErrStmtClosed
	}
	return nil
}

// fail handles an execution error. A statement-fatal error evicts only this
// statement; a session-fatal one tears down the whole session.
func (s *Stmt) fail(ctx context.Context, err error) error {
	h := s.conn.pool.handler
	if h.IsFatal(err) || !h.IsStatementFatal(err) {
		return s.conn.fail(ctx, err)
	}

	s.closed = true
	s.conn.entry.Delist(s)
	return failure.Combine(h, err, s.conn.entry.EvictStatement(ctx, s.stmt))
}

// Rows is the result set of a query.
type Rows struct {
	conn   *Conn
	rows   driver.Rows
	closed bool
}

func (r *Rows) Next() bool             { return !r.closed && r.rows.Next() }
func (r *Rows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *Rows) Err() error             { return r.rows.Err() }

// Close closes the result set.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.conn.entry.Delist(rowsResource{r})
	return r.rows.Close()
}

// rowsResource lets the session force a result set closed on release.
type rowsResource struct {
	r *Rows
}

func (rr rowsResource) Close(context.Context) error {
	return rr.r.Close()
}
