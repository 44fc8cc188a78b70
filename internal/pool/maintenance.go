package pool

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/yuku/connpool/driver"
	"github.com/yuku/connpool/internal/stmtcache"
)

// trigger schedules a maintenance pass. Triggers that arrive while a pass
// is already queued coalesce into it.
func (p *Pool) trigger() {
	if p.closed.Load() {
		return
	}
	if p.conf.Executor != nil {
		if p.pending.CompareAndSwap(false, true) {
			p.conf.Executor.Submit(p.runPending)
		}
		return
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) runPending() {
	p.pending.Store(false)
	p.maintain()
}

func (p *Pool) worker() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		case <-p.wake:
			p.maintain()
		}
	}
}

// maintain runs one maintenance pass: it grows the pool up to core size
// (or by one when every session is busy), evicts sessions idle above core
// size and expires sessions past their lifetime.
func (p *Pool) maintain() {
	p.maintMu.Lock()
	defer p.maintMu.Unlock()

	for {
		if p.closed.Load() {
			return
		}
		count := p.count.Load()

		grown := true
		switch {
		case count < p.conf.CoreSize || (p.free.len() == 0 && count < p.conf.MaxSize):
			grown = p.grow()
		case count > p.conf.CoreSize:
			p.evictIdle()
		}
		p.expireOld()

		if !grown || p.count.Load() >= p.conf.CoreSize {
			return
		}
	}
}

// grow opens one session and adds it to the pool. It reports whether the
// pool gained a session.
func (p *Pool) grow() bool {
	start := p.clock.Now()

	s, err := p.open()
	if err != nil {
		p.logger.Warn("failed to open session", zap.Error(err))
		return false
	}

	if !p.reserve() {
		p.discard(s)
		return false
	}

	cache, err := stmtcache.New(p.conf.StatementCacheSize, p.observeCache)
	if err != nil {
		// Config.Validate rejects negative sizes.
		panic(err)
	}
	e := newEntry(p, s, cache)
	if !p.admit(e) {
		return false
	}

	elapsed := p.clock.Since(start)
	p.listener.EntryCreated(elapsed)
	p.logger.Debug("session created", zap.String("entry", e.id), zap.Duration("elapsed", elapsed))
	p.free.put(e)
	return true
}

// admit adds e, whose slot was taken by reserve, to the live set. When the
// pool closed in the meantime the slot is given back and e is torn down.
func (p *Pool) admit(e *Entry) bool {
	p.allMu.Lock()
	if p.closed.Load() {
		p.count.Add(-1)
		p.allMu.Unlock()
		_ = e.teardown(context.Background(), false)
		return false
	}
	p.all[e] = struct{}{}
	p.allMu.Unlock()
	return true
}

// open opens, validates and initializes a physical session.
func (p *Pool) open() (driver.Session, error) {
	s, err := p.conf.Open(p.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	if p.conf.ValidationTimeout > 0 {
		ctx, cancel := context.WithTimeout(p.ctx, p.conf.ValidationTimeout)
		err := s.Ping(ctx)
		cancel()
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("failed to validate session: %w", err), s.Close(context.Background()))
		}
	}

	if p.conf.Init != nil {
		if err := p.conf.Init(p.ctx, s); err != nil {
			return nil, multierr.Append(fmt.Errorf("failed to initialize session: %w", err), s.Close(context.Background()))
		}
	}
	return s, nil
}

// reserve claims a slot below the max size.
func (p *Pool) reserve() bool {
	for {
		n := p.count.Load()
		if n >= p.conf.MaxSize {
			return false
		}
		if p.count.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (p *Pool) discard(s driver.Session) {
	if err := s.Close(context.Background()); err != nil {
		p.logger.Warn("failed to close surplus session", zap.Error(err))
	}
}

func (p *Pool) observeCache(hit bool) {
	if hit {
		p.listener.StatementCacheHit()
	} else {
		p.listener.StatementCacheMiss()
	}
}

// evictIdle closes the first idle session that has not been used for the
// idle timeout.
func (p *Pool) evictIdle() {
	if p.conf.IdleTimeout <= 0 {
		return
	}
	now := p.nanotime()
	e := p.free.removeFunc(func(e *Entry) bool {
		return e.idleFor(now) > p.conf.IdleTimeout
	})
	if e != nil {
		p.retireIdle(e, now)
	}
}

// retireIdle tears down e after it was taken off the free list. A
// concurrent eviction may already have dropped e from the live set; the
// session is closed either way.
func (p *Pool) retireIdle(e *Entry, now int64) {
	e.expired.Store(true)
	if p.forget(e) {
		p.listener.Evicted(EvictIdle)
		p.logger.Debug("idle session evicted", zap.String("entry", e.id), zap.Duration("idle", e.idleFor(now)))
	}
	if err := e.teardown(context.Background(), false); err != nil {
		p.logger.Warn("failed to close idle session", zap.String("entry", e.id), zap.Error(err))
	}
}

// expireOld expires the first session found past its lifetime, whether it
// is idle or checked out.
func (p *Pool) expireOld() {
	if p.conf.LifetimeTimeout <= 0 {
		return
	}
	limit := int64(p.conf.LifetimeTimeout)
	now := p.nanotime()

	var victim *Entry
	p.allMu.Lock()
	for e := range p.all {
		if now-e.createdAt > limit && !e.expired.Load() {
			victim = e
			break
		}
	}
	p.allMu.Unlock()

	if victim != nil {
		p.expire(victim, EvictLifetime)
	}
}
