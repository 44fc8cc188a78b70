package pool

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/yuku/connpool/driver"
	"github.com/yuku/connpool/internal/stmtcache"
)

// Resource is a sub-resource opened on a checked-out session, such as a
// statement or a cursor, that must be closed before the session is reused.
type Resource interface {
	Close(ctx context.Context) error
}

// Entry is one pooled physical session with its bookkeeping.
//
// Between Take and Close the entry belongs to a single caller, so its
// cache and enlisted set are not locked.
type Entry struct {
	id      string
	pool    *Pool
	session driver.Session
	cache   stmtcache.Cache
	events  *entryEvents

	// enlisted maps open resources to their enlistment order.
	enlisted  map[Resource]uint64
	enlistSeq uint64

	// Timestamps are nanoseconds since the pool epoch.
	createdAt    int64
	lastAcquired atomic.Int64
	lastAccessed atomic.Int64

	expired  atomic.Bool
	broken   atomic.Bool
	failed   atomic.Bool
	detached atomic.Bool
}

func newEntry(p *Pool, s driver.Session, cache stmtcache.Cache) *Entry {
	now := p.nanotime()
	e := &Entry{
		id:        uuid.NewString(),
		pool:      p,
		session:   s,
		cache:     cache,
		enlisted:  make(map[Resource]uint64),
		createdAt: now,
	}
	e.lastAcquired.Store(now)
	e.lastAccessed.Store(now)
	if src, ok := s.(driver.EventSource); ok {
		e.events = &entryEvents{entry: e}
		src.AddEventListener(e.events)
	}
	return e
}

// ID returns a unique identifier of the entry.
func (e *Entry) ID() string { return e.id }

// Session returns the physical session.
func (e *Entry) Session() driver.Session { return e.session }

// Cache returns the statement cache of the session.
func (e *Entry) Cache() stmtcache.Cache { return e.cache }

// Age returns the time since the entry was created.
func (e *Entry) Age() time.Duration {
	return time.Duration(e.pool.nanotime() - e.createdAt)
}

// CreatedAt returns the creation time of the entry.
func (e *Entry) CreatedAt() time.Time {
	return e.pool.epoch.Add(time.Duration(e.createdAt))
}

// Closed reports whether the physical session has been closed.
func (e *Entry) Closed() bool { return e.broken.Load() }

// Failed reports whether a fatal error was observed on the session.
func (e *Entry) Failed() bool { return e.failed.Load() }

// MarkFailed makes the next Close tear the session down.
func (e *Entry) MarkFailed() { e.failed.Store(true) }

// Enlist tracks r so that Close can force it closed.
func (e *Entry) Enlist(r Resource) {
	e.enlistSeq++
	e.enlisted[r] = e.enlistSeq
}

// Delist stops tracking r.
func (e *Entry) Delist(r Resource) { delete(e.enlisted, r) }

// Enlisted returns the number of tracked resources.
func (e *Entry) Enlisted() int { return len(e.enlisted) }

// CloseResources closes every enlisted resource, most recent first, so that
// cursors close before the statements that opened them. It continues past
// failures; fatal reports whether any failure was fatal to the session.
func (e *Entry) CloseResources(ctx context.Context) (fatal bool, err error) {
	resources := make([]Resource, 0, len(e.enlisted))
	for r := range e.enlisted {
		resources = append(resources, r)
	}
	slices.SortFunc(resources, func(a, b Resource) int {
		return cmp.Compare(e.enlisted[b], e.enlisted[a])
	})
	clear(e.enlisted)

	for _, r := range resources {
		if cerr := r.Close(ctx); cerr != nil {
			err = multierr.Append(err, cerr)
			if e.pool.handler.IsFatal(cerr) {
				fatal = true
			}
		}
	}
	return fatal, err
}

// EvictStatement drops stmt from the cache and closes it on behalf of a
// caller holding a pin on it. A statement that is no longer cached is
// closed by its last pin.
func (e *Entry) EvictStatement(ctx context.Context, stmt driver.Stmt) error {
	var err error
	if e.cache.Remove(stmt) {
		e.pool.listener.StatementEvicted(StatementError)
		err = stmt.Close(ctx)
	} else {
		err = e.cache.Unpin(ctx, stmt)
	}
	if err != nil {
		return fmt.Errorf("failed to close evicted statement: %w", err)
	}
	return nil
}

// Close hands the entry back after a checkout. Enlisted resources are
// closed first; the session is then torn down and evicted when broken is
// set or a fatal error showed up, finalized when it has expired, and
// returned to the pool otherwise. Calls after a teardown do nothing.
func (e *Entry) Close(ctx context.Context, broken bool) error {
	if e.broken.Load() {
		return nil
	}
	e.lastAccessed.Store(e.pool.nanotime())

	fatal, errs := e.CloseResources(ctx)
	switch {
	case fatal || broken || e.failed.Load():
		errs = multierr.Append(errs, e.teardown(ctx, true))
	case e.expired.Load():
		errs = multierr.Append(errs, e.teardown(ctx, false))
	default:
		e.pool.Give(e)
	}
	return errs
}

// teardown closes the physical session once. With remove set the entry is
// also dropped from the pool.
func (e *Entry) teardown(ctx context.Context, remove bool) error {
	if !e.broken.CompareAndSwap(false, true) {
		return nil
	}
	e.detach()
	errs := multierr.Append(
		e.cache.Close(ctx),
		e.session.Close(ctx),
	)
	if errs != nil {
		e.pool.logger.Warn("failed to close session",
			zap.String("entry", e.id),
			zap.Error(errs),
		)
	}
	if remove {
		e.pool.Remove(e)
	}
	return errs
}

// detach unregisters the driver event listener.
func (e *Entry) detach() {
	if e.events == nil || !e.detached.CompareAndSwap(false, true) {
		return
	}
	e.session.(driver.EventSource).RemoveEventListener(e.events)
}

func (e *Entry) idleFor(now int64) time.Duration {
	return time.Duration(now - e.lastAccessed.Load())
}

// entryEvents relays driver events to the entry.
type entryEvents struct {
	entry *Entry
}

func (l *entryEvents) StatementClosed(stmt driver.Stmt) {
	if l.entry.cache.Remove(stmt) {
		l.entry.pool.listener.StatementEvicted(StatementClosed)
	}
}

func (l *entryEvents) ConnectionError(err error) {
	if l.entry.pool.handler.IsFatal(err) {
		l.entry.failed.Store(true)
	}
}
