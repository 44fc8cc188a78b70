package stmtcache

import (
	"context"
	"fmt"

	"github.com/yuku/connpool/driver"
)

// Cache maps prepare requests of one session to prepared statements.
//
// A Cache belongs to a single pooled session and is used by one goroutine
// at a time, so implementations do no locking.
type Cache interface {
	// Prepare returns a cached statement equivalent to req, preparing it on s
	// when there is none.
	Prepare(ctx context.Context, s driver.Session, req *driver.PrepareRequest) (driver.Stmt, error)

	// Pin marks stmt as held by a caller. An evicted statement stays open
	// while it is pinned.
	Pin(stmt driver.Stmt)

	// Unpin releases one hold on stmt and closes it when it is neither
	// cached nor pinned any longer.
	Unpin(ctx context.Context, stmt driver.Stmt) error

	// Remove drops stmt from the cache without closing it, forgetting any
	// pins. It reports whether stmt was cached.
	Remove(stmt driver.Stmt) bool

	// Contains reports whether stmt is owned by the cache.
	Contains(stmt driver.Stmt) bool

	// Len returns the number of cached statements.
	Len() int

	// Cap returns the maximum number of cached statements.
	Cap() int

	// Close closes and drops every cached or pinned statement.
	Close(ctx context.Context) error
}

// Observer is told about each cache lookup.
type Observer func(hit bool)

// New returns an LRU cache holding up to capacity statements, or a
// pass-through cache when capacity is zero.
func New(capacity int, observe Observer) (Cache, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("statement cache capacity must not be negative: given %d", capacity)
	}
	if capacity == 0 {
		return Nop{}, nil
	}
	return NewLRU(capacity, observe)
}

// Nop prepares every request afresh and retains nothing.
type Nop struct{}

var _ Cache = Nop{}

func (Nop) Prepare(ctx context.Context, s driver.Session, req *driver.PrepareRequest) (driver.Stmt, error) {
	return s.Prepare(ctx, req)
}

func (Nop) Pin(driver.Stmt)             {}
func (Nop) Remove(driver.Stmt) bool     { return false }
func (Nop) Contains(driver.Stmt) bool   { return false }
func (Nop) Len() int                    { return 0 }
func (Nop) Cap() int                    { return 0 }
func (Nop) Close(context.Context) error { return nil }

// Unpin closes stmt, which is never cached.
func (Nop) Unpin(ctx context.Context, stmt driver.Stmt) error {
	return stmt.Close(ctx)
}
