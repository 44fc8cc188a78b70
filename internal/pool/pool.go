// Package pool implements the session pool engine: a bounded set of pooled
// entries, a FIFO free list and a background task that grows the pool and
// evicts idle and expired sessions.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/yuku/connpool/internal/clock"
	"github.com/yuku/connpool/internal/failure"
)

var (
	// ErrClosed is returned by Take after Close.
	ErrClosed = errors.New("pool closed")

	// ErrTimeout is returned by Take when no session became available in
	// time.
	ErrTimeout = errors.New("pool timeout")
)

// Pool is the pool engine.
type Pool struct {
	conf     Config
	clock    clock.Clock
	epoch    time.Time
	handler  failure.Handler
	listener Listener
	logger   *zap.Logger

	free freeList

	allMu sync.Mutex
	all   map[*Entry]struct{}
	count atomic.Int32

	closed     atomic.Bool
	closeHooks []func() error
	hooksMu    sync.Mutex

	// ctx is cancelled by Close and bounds background session opening.
	ctx    context.Context
	cancel context.CancelFunc

	maintMu sync.Mutex
	pending atomic.Bool
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// New creates a pool and schedules its first maintenance pass, which opens
// the core sessions in the background.
func New(conf Config) (*Pool, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool configuration: %w", err)
	}
	conf = conf.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		conf:     conf,
		clock:    conf.Clock,
		handler:  conf.Handler,
		listener: conf.Listener,
		logger:   conf.Logger.With(zap.String("pool", conf.Name)),
		all:      make(map[*Entry]struct{}, conf.MaxSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	p.epoch = p.clock.Now()

	if conf.Executor == nil {
		p.wake = make(chan struct{}, 1)
		p.stop = make(chan struct{})
		p.done = make(chan struct{})
		go p.worker()
	}

	p.listener.PoolCreated(conf.Name)
	p.logger.Debug("pool created",
		zap.Int32("core_size", conf.CoreSize),
		zap.Int32("max_size", conf.MaxSize),
	)
	p.trigger()
	return p, nil
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.conf.Name }

// Take checks out an idle entry, waiting up to the acquire timeout for one
// to become available.
func (p *Pool) Take(ctx context.Context) (*Entry, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	p.trigger()

	start := p.clock.Now()
	var deadline time.Time
	if p.conf.AcquireTimeout > 0 {
		deadline = time.Now().Add(p.conf.AcquireTimeout)
	}
	for {
		timeout := NoTimeout
		if !deadline.IsZero() {
			timeout = max(time.Until(deadline), 0)
		}

		e, err := p.free.take(ctx, timeout)
		if err != nil {
			waited := p.clock.Since(start)
			if errors.Is(err, errWaitTimeout) {
				p.listener.AcquireTimeout(waited)
				return nil, fmt.Errorf("%w: no session available after %s", ErrTimeout, waited)
			}
			return nil, err
		}

		if p.closed.Load() {
			_ = e.teardown(context.Background(), false)
			return nil, ErrClosed
		}
		// An entry that expired while being returned is finalized here
		// instead of being handed out.
		if e.expired.Load() || e.broken.Load() {
			if err := e.teardown(context.Background(), false); err != nil {
				p.logger.Warn("failed to finalize expired session", zap.Error(err))
			}
			continue
		}

		e.lastAcquired.Store(p.nanotime())
		p.listener.Acquired(p.clock.Since(start))
		return e, nil
	}
}

// Give returns e to the free list, or finalizes it when it has expired. It
// does nothing once the pool is closed.
func (p *Pool) Give(e *Entry) {
	if p.closed.Load() {
		return
	}
	p.listener.Returned(time.Duration(p.nanotime() - e.lastAcquired.Load()))
	if e.expired.Load() {
		if err := e.teardown(context.Background(), false); err != nil {
			p.logger.Warn("failed to finalize expired session", zap.String("entry", e.id), zap.Error(err))
		}
		return
	}
	p.free.put(e)
}

// Remove drops a broken entry from the pool and schedules a refill. It does
// nothing once the pool is closed.
func (p *Pool) Remove(e *Entry) {
	if p.closed.Load() {
		return
	}
	if !p.forget(e) {
		return
	}
	e.detach()
	p.listener.Evicted(EvictError)
	p.logger.Debug("session evicted", zap.String("entry", e.id), zap.Stringer("reason", EvictError))
	p.trigger()
}

// SoftEvict expires every live entry. Idle entries are closed now and
// checked-out ones when they are returned; maintenance opens replacements.
func (p *Pool) SoftEvict() {
	if p.closed.Load() {
		return
	}
	for _, e := range p.entries() {
		p.expire(e, EvictLifetime)
	}
	p.trigger()
}

// AddCloseHook registers fn to run when the pool closes, after every
// session has been closed.
func (p *Pool) AddCloseHook(fn func() error) {
	p.hooksMu.Lock()
	p.closeHooks = append(p.closeHooks, fn)
	p.hooksMu.Unlock()
}

// Close closes every session, including checked-out ones, and stops
// maintenance. Every session gets a chance to close; failures are combined
// into the returned error. Calls after the first do nothing.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()
	ctx := context.Background()

	var errs error
	for _, e := range p.free.drain() {
		errs = multierr.Append(errs, e.teardown(ctx, false))
	}

	p.allMu.Lock()
	rest := make([]*Entry, 0, len(p.all))
	for e := range p.all {
		rest = append(rest, e)
	}
	clear(p.all)
	// Slots reserved by an in-flight grow are given back by admit.
	p.count.Add(-int32(len(rest)))
	p.allMu.Unlock()

	for _, e := range rest {
		errs = multierr.Append(errs, e.teardown(ctx, false))
		p.listener.Evicted(EvictClosed)
	}

	p.hooksMu.Lock()
	hooks := p.closeHooks
	p.closeHooks = nil
	p.hooksMu.Unlock()
	for _, fn := range hooks {
		errs = multierr.Append(errs, fn())
	}

	if p.stop != nil {
		close(p.stop)
		<-p.done
	}

	p.listener.PoolClosed(p.conf.Name)
	if errs != nil {
		p.logger.Warn("pool closed with errors", zap.Error(errs))
	} else {
		p.logger.Debug("pool closed")
	}
	return errs
}

// Closed reports whether Close has been called.
func (p *Pool) Closed() bool { return p.closed.Load() }

// Stats is a snapshot of the pool state.
type Stats struct {
	Name   string
	Live   int32
	Idle   int32
	Core   int32
	Max    int32
	Closed bool
}

// Stats returns a snapshot of the pool state.
func (p *Pool) Stats() Stats {
	return Stats{
		Name:   p.conf.Name,
		Live:   p.count.Load(),
		Idle:   int32(p.free.len()),
		Core:   p.conf.CoreSize,
		Max:    p.conf.MaxSize,
		Closed: p.closed.Load(),
	}
}

// forget drops e from the live set. It reports whether e was live.
func (p *Pool) forget(e *Entry) bool {
	p.allMu.Lock()
	defer p.allMu.Unlock()
	if _, ok := p.all[e]; !ok {
		return false
	}
	delete(p.all, e)
	p.count.Add(-1)
	return true
}

func (p *Pool) entries() []*Entry {
	p.allMu.Lock()
	defer p.allMu.Unlock()
	entries := make([]*Entry, 0, len(p.all))
	for e := range p.all {
		entries = append(entries, e)
	}
	return entries
}

// expire marks e expired and drops it from the pool. An idle e is closed
// right away; a checked-out one is finalized when it comes back.
func (p *Pool) expire(e *Entry, reason EvictReason) {
	if !e.expired.CompareAndSwap(false, true) {
		return
	}
	if !p.forget(e) {
		return
	}
	p.listener.Evicted(reason)
	p.logger.Debug("session expired",
		zap.String("entry", e.id),
		zap.Stringer("reason", reason),
		zap.Duration("age", e.Age()),
	)
	if p.free.remove(e) {
		if err := e.teardown(context.Background(), false); err != nil {
			p.logger.Warn("failed to close expired session", zap.String("entry", e.id), zap.Error(err))
		}
	}
}

func (p *Pool) nanotime() int64 {
	return int64(p.clock.Since(p.epoch))
}
