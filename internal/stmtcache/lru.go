package stmtcache

import (
	"context"
	"fmt"
	"slices"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/multierr"

	"github.com/yuku/connpool/driver"
)

// LRU is a bounded cache that evicts the least recently used statement.
// Evicted statements are closed once no caller pins them.
type LRU struct {
	lru      *simplelru.LRU[Fingerprint, driver.Stmt]
	reverse  map[driver.Stmt]Fingerprint
	pins     map[driver.Stmt]int
	capacity int
	observe  Observer

	// evicted collects statements dropped by the LRU that still need closing.
	evicted []driver.Stmt
	// detaching suppresses closing while Remove drops a statement.
	detaching bool
}

var _ Cache = (*LRU)(nil)

// NewLRU returns an LRU cache holding up to capacity statements.
func NewLRU(capacity int, observe Observer) (*LRU, error) {
	c := &LRU{
		reverse:  make(map[driver.Stmt]Fingerprint, capacity),
		pins:     make(map[driver.Stmt]int),
		capacity: capacity,
		observe:  observe,
	}
	lru, err := simplelru.NewLRU(capacity, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create statement cache: %w", err)
	}
	c.lru = lru
	return c, nil
}

func (c *LRU) onEvict(_ Fingerprint, stmt driver.Stmt) {
	delete(c.reverse, stmt)
	if !c.detaching {
		c.evicted = append(c.evicted, stmt)
	}
}

// Prepare returns the cached statement for req or prepares and caches a new
// one, evicting the least recently used statement when full.
func (c *LRU) Prepare(ctx context.Context, s driver.Session, req *driver.PrepareRequest) (driver.Stmt, error) {
	fp := NewFingerprint(req)
	if stmt, ok := c.lru.Get(fp); ok {
		c.report(true)
		return stmt, nil
	}

	stmt, err := s.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	c.lru.Add(fp, stmt)
	c.reverse[stmt] = fp
	c.report(false)

	if err := c.closeEvicted(ctx); err != nil {
		return stmt, fmt.Errorf("failed to close evicted statement: %w", err)
	}
	return stmt, nil
}

func (c *LRU) Pin(stmt driver.Stmt) { c.pins[stmt]++ }

// Unpin releases a hold on stmt. A statement evicted while pinned is closed
// by its last Unpin.
func (c *LRU) Unpin(ctx context.Context, stmt driver.Stmt) error {
	n, ok := c.pins[stmt]
	if !ok {
		return nil
	}
	if n > 1 {
		c.pins[stmt] = n - 1
		return nil
	}
	delete(c.pins, stmt)
	if c.Contains(stmt) {
		return nil
	}
	return stmt.Close(ctx)
}

// Remove drops stmt without closing it.
func (c *LRU) Remove(stmt driver.Stmt) bool {
	delete(c.pins, stmt)
	fp, ok := c.reverse[stmt]
	if !ok {
		return false
	}
	c.detaching = true
	defer func() { c.detaching = false }()
	return c.lru.Remove(fp)
}

func (c *LRU) Contains(stmt driver.Stmt) bool {
	_, ok := c.reverse[stmt]
	return ok
}

func (c *LRU) Len() int { return c.lru.Len() }
func (c *LRU) Cap() int { return c.capacity }

// Close closes every cached or pinned statement, continuing past failures.
func (c *LRU) Close(ctx context.Context) error {
	c.lru.Purge()
	for stmt := range c.pins {
		if !slices.Contains(c.evicted, stmt) {
			c.evicted = append(c.evicted, stmt)
		}
	}
	clear(c.pins)
	return c.closeEvicted(ctx)
}

// closeEvicted closes evicted statements nobody pins. Pinned ones are left
// to Unpin.
func (c *LRU) closeEvicted(ctx context.Context) error {
	var errs error
	for _, stmt := range c.evicted {
		if c.pins[stmt] > 0 {
			continue
		}
		errs = multierr.Append(errs, stmt.Close(ctx))
	}
	c.evicted = c.evicted[:0]
	return errs
}

func (c *LRU) report(hit bool) {
	if c.observe != nil {
		c.observe(hit)
	}
}
