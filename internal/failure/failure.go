// Package failure decides whether an error observed on a session or a
// statement makes that resource unusable.
package failure

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/multierr"
)

// ConnectionExceptionClass is the SQLSTATE class of connection exceptions.
const ConnectionExceptionClass = "08"

// Handler classifies errors.
type Handler interface {
	// IsFatal reports whether err leaves the session unusable. A fatal
	// session is closed and evicted instead of returned to the pool.
	IsFatal(err error) bool

	// IsStatementFatal reports whether err leaves the statement unusable.
	// Such a statement is dropped from its session's cache; the session
	// itself stays pooled.
	IsStatementFatal(err error) bool
}

// DefaultHandler treats errors without a SQLSTATE and connection exceptions
// as fatal to the session, and no error as fatal to a statement.
type DefaultHandler struct{}

var _ Handler = DefaultHandler{}

func (DefaultHandler) IsFatal(err error) bool {
	if err == nil {
		return false
	}
	code, ok := SQLState(err)
	if !ok {
		return true
	}
	return strings.HasPrefix(code, ConnectionExceptionClass)
}

func (DefaultHandler) IsStatementFatal(error) bool { return false }

// SQLState extracts the five character SQLSTATE code carried by err.
//
// It understands pgx and MySQL driver errors as well as any error in the
// chain with a SQLState() string method.
func SQLState(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code != "" {
		return pgErr.Code, true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.SQLState != [5]byte{} {
		return string(myErr.SQLState[:]), true
	}

	var coded interface{ SQLState() string }
	if errors.As(err, &coded) {
		if code := coded.SQLState(); code != "" {
			return code, true
		}
	}
	return "", false
}

// Combine merges the error that triggered a teardown with the error the
// teardown itself produced. The triggering error stays primary unless only
// the teardown error is fatal.
func Combine(h Handler, primary, secondary error) error {
	if primary == nil || secondary == nil {
		return multierr.Append(primary, secondary)
	}
	if h.IsFatal(secondary) && !h.IsFatal(primary) {
		return multierr.Append(secondary, primary)
	}
	return multierr.Append(primary, secondary)
}

// Primary returns the first error aggregated in err.
func Primary(err error) error {
	if errs := multierr.Errors(err); len(errs) > 0 {
		return errs[0]
	}
	return err
}
