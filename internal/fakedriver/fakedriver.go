// Package fakedriver is an in-memory driver used by tests. It records every
// call so tests can assert on what the pool did to a session.
package fakedriver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yuku/connpool/driver"
)

// Error is a driver error carrying a SQLSTATE code.
type Error struct {
	Code string
	Msg  string
}

func (e *Error) Error() string    { return e.Code + ": " + e.Msg }
func (e *Error) SQLState() string { return e.Code }

// Connector hands out fake sessions.
type Connector struct {
	mu       sync.Mutex
	sessions []*Session
	err      error

	// Configure, when set, is applied to every new session.
	Configure func(*Session)
}

var _ driver.Connector = (*Connector)(nil)

func (c *Connector) Connect(ctx context.Context, user, password string) (driver.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	s := NewSession()
	s.User, s.Password = user, password
	if c.Configure != nil {
		c.Configure(s)
	}
	c.sessions = append(c.sessions, s)
	return s, nil
}

// FailWith makes every following Connect fail with err. A nil err restores
// normal behavior.
func (c *Connector) FailWith(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// Sessions returns every session opened so far.
func (c *Connector) Sessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Session(nil), c.sessions...)
}

// Opened returns the number of sessions opened so far.
func (c *Connector) Opened() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Session is a fake physical session.
type Session struct {
	User, Password string

	mu          sync.Mutex
	props       map[driver.Property]any
	unsupported map[driver.Property]bool
	getCalls    map[driver.Property]int
	setCalls    map[driver.Property]int
	listeners   []driver.EventListener
	stmts       []*Stmt
	prepared    int
	commits     int
	rollbacks   int
	warnings    int
	closed      atomic.Bool

	PrepareErr error
	PingErr    error
	CloseErr   error
	ResetErr   error
}

var (
	_ driver.Session        = (*Session)(nil)
	_ driver.EventSource    = (*Session)(nil)
	_ driver.WarningClearer = (*Session)(nil)
)

// NewSession returns a session with backend-default property values.
func NewSession() *Session {
	return &Session{
		props: map[driver.Property]any{
			driver.AutoCommit:     true,
			driver.Isolation:      driver.IsolationReadCommitted,
			driver.ReadOnly:       false,
			driver.Holdability:    driver.HoldCursorsOverCommit,
			driver.Catalog:        "main",
			driver.Schema:         "public",
			driver.TypeMap:        map[string]string{},
			driver.ClientInfo:     map[string]string{},
			driver.NetworkTimeout: time.Duration(0),
		},
		unsupported: make(map[driver.Property]bool),
		getCalls:    make(map[driver.Property]int),
		setCalls:    make(map[driver.Property]int),
	}
}

// Unsupport makes p fail with driver.ErrNotSupported.
func (s *Session) Unsupport(p driver.Property) {
	s.mu.Lock()
	s.unsupported[p] = true
	s.mu.Unlock()
}

func (s *Session) Prepare(ctx context.Context, req *driver.PrepareRequest) (driver.Stmt, error) {
	if s.closed.Load() {
		return nil, errors.New("fakedriver: session closed")
	}
	if s.PrepareErr != nil {
		return nil, s.PrepareErr
	}
	st := &Stmt{session: s, Req: req}
	s.mu.Lock()
	s.prepared++
	s.stmts = append(s.stmts, st)
	s.mu.Unlock()
	return st, nil
}

func (s *Session) Property(ctx context.Context, p driver.Property) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsupported[p] {
		return nil, driver.ErrNotSupported
	}
	s.getCalls[p]++
	return s.props[p], nil
}

func (s *Session) SetProperty(ctx context.Context, p driver.Property, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsupported[p] {
		return driver.ErrNotSupported
	}
	if s.ResetErr != nil {
		return s.ResetErr
	}
	s.setCalls[p]++
	s.props[p] = value
	return nil
}

func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	s.commits++
	s.mu.Unlock()
	return nil
}

func (s *Session) Rollback(ctx context.Context) error {
	s.mu.Lock()
	s.rollbacks++
	s.mu.Unlock()
	return nil
}

func (s *Session) ClearWarnings(ctx context.Context) error {
	s.mu.Lock()
	s.warnings++
	s.mu.Unlock()
	return nil
}

func (s *Session) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return errors.New("fakedriver: session closed")
	}
	return s.PingErr
}

func (s *Session) Close(ctx context.Context) error {
	s.closed.Store(true)
	return s.CloseErr
}

func (s *Session) AddEventListener(l driver.EventListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

func (s *Session) RemoveEventListener(l driver.EventListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, x := range s.listeners {
		if x == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// Listeners returns the number of attached event listeners.
func (s *Session) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// FireStatementClosed notifies listeners that stmt was closed by the driver.
func (s *Session) FireStatementClosed(stmt driver.Stmt) {
	s.mu.Lock()
	ls := append([]driver.EventListener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range ls {
		l.StatementClosed(stmt)
	}
}

// FireConnectionError notifies listeners of an out-of-band error.
func (s *Session) FireConnectionError(err error) {
	s.mu.Lock()
	ls := append([]driver.EventListener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range ls {
		l.ConnectionError(err)
	}
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool { return s.closed.Load() }

// Value returns the current value of p without counting a read.
func (s *Session) Value(p driver.Property) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.props[p]
}

// Put sets p without counting a write.
func (s *Session) Put(p driver.Property, v any) {
	s.mu.Lock()
	s.props[p] = v
	s.mu.Unlock()
}

// SetCalls returns how many times p was written.
func (s *Session) SetCalls(p driver.Property) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setCalls[p]
}

// ResetCalls zeroes the read and write counters.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	s.getCalls = make(map[driver.Property]int)
	s.setCalls = make(map[driver.Property]int)
	s.mu.Unlock()
}

// Prepared returns how many statements were prepared.
func (s *Session) Prepared() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prepared
}

// Stmts returns every statement prepared so far.
func (s *Session) Stmts() []*Stmt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Stmt(nil), s.stmts...)
}

// Rollbacks returns how many times Rollback was called.
func (s *Session) Rollbacks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbacks
}

// Commits returns how many times Commit was called.
func (s *Session) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// WarningsCleared returns how many times ClearWarnings was called.
func (s *Session) WarningsCleared() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.warnings
}

// Stmt is a fake prepared statement.
type Stmt struct {
	Req *driver.PrepareRequest

	session *Session
	closes  atomic.Int32
	rows    []*Rows

	ExecErr  error
	QueryErr error
	CloseErr error
}

var _ driver.Stmt = (*Stmt)(nil)

func (st *Stmt) Exec(ctx context.Context, args ...any) (int64, error) {
	if st.ExecErr != nil {
		return 0, st.ExecErr
	}
	return int64(len(args)), nil
}

func (st *Stmt) Query(ctx context.Context, args ...any) (driver.Rows, error) {
	if st.QueryErr != nil {
		return nil, st.QueryErr
	}
	r := &Rows{values: args}
	st.rows = append(st.rows, r)
	return r, nil
}

func (st *Stmt) Close(ctx context.Context) error {
	st.closes.Add(1)
	return st.CloseErr
}

// Closes returns how many times Close was called.
func (st *Stmt) Closes() int { return int(st.closes.Load()) }

// Rows returns every result set opened by Query.
func (st *Stmt) Rows() []*Rows { return st.rows }

// Rows yields each query argument as a one-column row.
type Rows struct {
	values []any
	pos    int
	closed atomic.Bool

	CloseErr error
}

var _ driver.Rows = (*Rows)(nil)

func (r *Rows) Next() bool {
	if r.closed.Load() || r.pos >= len(r.values) {
		return false
	}
	r.pos++
	return true
}

func (r *Rows) Scan(dest ...any) error {
	if len(dest) != 1 {
		return errors.New("fakedriver: expected one destination")
	}
	p, ok := dest[0].(*any)
	if !ok {
		return errors.New("fakedriver: destination must be *any")
	}
	*p = r.values[r.pos-1]
	return nil
}

func (r *Rows) Err() error { return nil }

func (r *Rows) Close() error {
	r.closed.Store(true)
	return r.CloseErr
}

// Closed reports whether Close was called.
func (r *Rows) Closed() bool { return r.closed.Load() }
