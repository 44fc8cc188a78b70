package pgxsession

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/yuku/connpool/driver"
)

// SQLSTATE codes the session reacts to.
const (
	codeFeatureNotSupported = "0A000"
	codeInvalidStatement    = "26000"
)

// Session is a PostgreSQL session.
//
// Auto-commit is emulated: with auto-commit off, the first statement opens
// a transaction that lasts until Commit or Rollback.
type Session struct {
	conn       *pgx.Conn
	tx         pgx.Tx
	autoCommit bool
	seq        uint64

	clientInfo map[string]string

	mu        sync.Mutex
	listeners []driver.EventListener
	warnings  []*pgconn.Notice
}

var (
	_ driver.Session        = (*Session)(nil)
	_ driver.EventSource    = (*Session)(nil)
	_ driver.WarningClearer = (*Session)(nil)
)

// Conn returns the underlying pgx connection.
func (s *Session) Conn() *pgx.Conn { return s.conn }

func (s *Session) Prepare(ctx context.Context, req *driver.PrepareRequest) (driver.Stmt, error) {
	sql, err := statementSQL(req)
	if err != nil {
		return nil, err
	}
	s.seq++
	name := fmt.Sprintf("connpool_%d", s.seq)
	if _, err := s.conn.Prepare(ctx, name, sql); err != nil {
		return nil, err
	}
	return &Stmt{session: s, name: name}, nil
}

// statementSQL renders req as SQL. Requested generated columns become a
// RETURNING clause.
func statementSQL(req *driver.PrepareRequest) (string, error) {
	if req.CursorType != driver.Unset && req.CursorType != driver.CursorForwardOnly {
		return "", fmt.Errorf("%w: scrollable cursors", driver.ErrNotSupported)
	}
	if req.Concurrency == driver.ConcurrencyUpdatable {
		return "", fmt.Errorf("%w: updatable cursors", driver.ErrNotSupported)
	}
	if req.ColumnIndexes != nil {
		return "", fmt.Errorf("%w: generated column indexes", driver.ErrNotSupported)
	}

	sql := strings.TrimSpace(req.SQL)
	switch {
	case len(req.ColumnNames) > 0:
		cols := make([]string, len(req.ColumnNames))
		for i, name := range req.ColumnNames {
			cols[i] = pgx.Identifier{name}.Sanitize()
		}
		sql += " RETURNING " + strings.Join(cols, ", ")
	case req.GeneratedKeys == driver.ReturnGeneratedKeys:
		sql += " RETURNING *"
	}
	return sql, nil
}

var isolationNames = map[driver.IsolationLevel]string{
	driver.IsolationReadUncommitted: "read uncommitted",
	driver.IsolationReadCommitted:   "read committed",
	driver.IsolationRepeatableRead:  "repeatable read",
	driver.IsolationSerializable:    "serializable",
}

func (s *Session) Property(ctx context.Context, p driver.Property) (any, error) {
	switch p {
	case driver.AutoCommit:
		return s.autoCommit, nil
	case driver.Isolation:
		name, err := s.setting(ctx, "default_transaction_isolation")
		if err != nil {
			return nil, err
		}
		for level, n := range isolationNames {
			if n == name {
				return level, nil
			}
		}
		return nil, fmt.Errorf("unknown isolation level %q", name)
	case driver.ReadOnly:
		v, err := s.setting(ctx, "default_transaction_read_only")
		if err != nil {
			return nil, err
		}
		return v == "on", nil
	case driver.Catalog:
		var db string
		if err := s.conn.QueryRow(ctx, "SELECT current_database()").Scan(&db); err != nil {
			return nil, err
		}
		return db, nil
	case driver.Schema:
		return s.setting(ctx, "search_path")
	case driver.ClientInfo:
		name, err := s.setting(ctx, "application_name")
		if err != nil {
			return nil, err
		}
		info := map[string]string{"application_name": name}
		for k, v := range s.clientInfo {
			if k != "application_name" {
				info[k] = v
			}
		}
		return info, nil
	case driver.NetworkTimeout:
		var ms int64
		err := s.conn.QueryRow(ctx,
			"SELECT (EXTRACT(EPOCH FROM current_setting('statement_timeout')::interval) * 1000)::bigint",
		).Scan(&ms)
		if err != nil {
			return nil, err
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	return nil, driver.ErrNotSupported
}

func (s *Session) SetProperty(ctx context.Context, p driver.Property, value any) error {
	switch p {
	case driver.AutoCommit:
		v, ok := value.(bool)
		if !ok {
			return typeError(p, value)
		}
		if v && s.tx != nil {
			if err := s.Commit(ctx); err != nil {
				return err
			}
		}
		s.autoCommit = v
		return nil
	case driver.Isolation:
		v, ok := value.(driver.IsolationLevel)
		if !ok {
			return typeError(p, value)
		}
		name, ok := isolationNames[v]
		if !ok {
			return fmt.Errorf("%w: isolation level %s", driver.ErrNotSupported, v)
		}
		_, err := s.conn.Exec(ctx, "SET SESSION CHARACTERISTICS AS TRANSACTION ISOLATION LEVEL "+strings.ToUpper(name))
		return err
	case driver.ReadOnly:
		v, ok := value.(bool)
		if !ok {
			return typeError(p, value)
		}
		mode := "READ WRITE"
		if v {
			mode = "READ ONLY"
		}
		_, err := s.conn.Exec(ctx, "SET SESSION CHARACTERISTICS AS TRANSACTION "+mode)
		return err
	case driver.Catalog:
		v, ok := value.(string)
		if !ok {
			return typeError(p, value)
		}
		if v != s.conn.Config().Database {
			return fmt.Errorf("%w: switching database", driver.ErrNotSupported)
		}
		return nil
	case driver.Schema:
		v, ok := value.(string)
		if !ok {
			return typeError(p, value)
		}
		return s.setSetting(ctx, "search_path", v)
	case driver.ClientInfo:
		v, ok := value.(map[string]string)
		if !ok {
			return typeError(p, value)
		}
		if err := s.setSetting(ctx, "application_name", v["application_name"]); err != nil {
			return err
		}
		s.clientInfo = v
		return nil
	case driver.NetworkTimeout:
		v, ok := value.(time.Duration)
		if !ok {
			return typeError(p, value)
		}
		return s.setSetting(ctx, "statement_timeout", fmt.Sprintf("%dms", v.Milliseconds()))
	}
	return driver.ErrNotSupported
}

func (s *Session) setting(ctx context.Context, name string) (string, error) {
	var v string
	if err := s.conn.QueryRow(ctx, "SELECT current_setting($1)", name).Scan(&v); err != nil {
		return "", err
	}
	return v, nil
}

func (s *Session) setSetting(ctx context.Context, name, value string) error {
	_, err := s.conn.Exec(ctx, "SELECT set_config($1, $2, false)", name, value)
	return err
}

func typeError(p driver.Property, v any) error {
	return fmt.Errorf("invalid %s value of type %T", p, v)
}

// begin opens the emulated transaction when auto-commit is off.
func (s *Session) begin(ctx context.Context) error {
	if s.autoCommit || s.tx != nil {
		return nil
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	s.tx = tx
	return nil
}

func (s *Session) Commit(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	return tx.Commit(ctx)
}

func (s *Session) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	return tx.Rollback(ctx)
}

func (s *Session) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

func (s *Session) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

// ClearWarnings drops the warnings collected so far.
func (s *Session) ClearWarnings(context.Context) error {
	s.mu.Lock()
	s.warnings = nil
	s.mu.Unlock()
	return nil
}

// Warnings returns the server warnings received since the last
// ClearWarnings.
func (s *Session) Warnings() []*pgconn.Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*pgconn.Notice(nil), s.warnings...)
}

func (s *Session) handleNotice(_ *pgconn.PgConn, n *pgconn.Notice) {
	if n.Severity != "WARNING" {
		return
	}
	s.mu.Lock()
	s.warnings = append(s.warnings, n)
	s.mu.Unlock()
}

// handlePgError reports FATAL server errors to listeners. The connection is
// closed afterwards, as pgx does by default.
func (s *Session) handlePgError(_ *pgconn.PgConn, pgErr *pgconn.PgError) bool {
	if pgErr.Severity != "FATAL" {
		return true
	}
	s.fireConnectionError(pgErr)
	return false
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

func (s *Session) eventListeners() []driver.EventListener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]driver.EventListener(nil), s.listeners...)
}

func (s *Session) fireConnectionError(err error) {
	for _, l := range s.eventListeners() {
		l.ConnectionError(err)
	}
}

// observe reacts to a statement error. A statement whose plan the server
// invalidated, or which the server no longer knows, is deallocated and
// reported closed.
func (s *Session) observe(ctx context.Context, st *Stmt, err error) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return
	}
	switch {
	case pgErr.Code == codeInvalidStatement:
	case pgErr.Code == codeFeatureNotSupported && strings.Contains(pgErr.Message, "cached plan"):
	default:
		return
	}
	_ = st.Close(ctx)
	for _, l := range s.eventListeners() {
		l.StatementClosed(st)
	}
}

// Stmt is a server-side prepared statement.
type Stmt struct {
	session *Session
	name    string
	closed  bool
}

var _ driver.Stmt = (*Stmt)(nil)

// Name returns the server-side statement name.
func (st *Stmt) Name() string { return st.name }

func (st *Stmt) Exec(ctx context.Context, args ...any) (int64, error) {
	if err := st.session.begin(ctx); err != nil {
		return 0, err
	}
	tag, err := st.session.conn.Exec(ctx, st.name, args...)
	if err != nil {
		st.session.observe(ctx, st, err)
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (st *Stmt) Query(ctx context.Context, args ...any) (driver.Rows, error) {
	if err := st.session.begin(ctx); err != nil {
		return nil, err
	}
	rows, err := st.session.conn.Query(ctx, st.name, args...)
	if err != nil {
		st.session.observe(ctx, st, err)
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

// Close deallocates the statement. Calls after the first do nothing.
func (st *Stmt) Close(ctx context.Context) error {
	if st.closed {
		return nil
	}
	st.closed = true
	if st.session.conn.IsClosed() {
		return nil
	}
	return st.session.conn.Deallocate(ctx, st.name)
}

// Rows adapts pgx.Rows.
type Rows struct {
	rows pgx.Rows
}

var _ driver.Rows = (*Rows)(nil)

func (r *Rows) Next() bool             { return r.rows.Next() }
func (r *Rows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *Rows) Err() error             { return r.rows.Err() }

func (r *Rows) Close() error {
	r.rows.Close()
	return r.rows.Err()
}
