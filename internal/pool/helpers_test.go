package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yuku/connpool/driver"
	"github.com/yuku/connpool/internal/fakedriver"
)

// manualExecutor queues maintenance tasks until the test runs them.
type manualExecutor struct {
	mu    sync.Mutex
	tasks []func()
}

func (x *manualExecutor) Submit(task func()) {
	x.mu.Lock()
	x.tasks = append(x.tasks, task)
	x.mu.Unlock()
}

func (x *manualExecutor) Pending() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.tasks)
}

// RunAll runs queued tasks until none are left.
func (x *manualExecutor) RunAll() {
	for {
		x.mu.Lock()
		if len(x.tasks) == 0 {
			x.mu.Unlock()
			return
		}
		task := x.tasks[0]
		x.tasks = x.tasks[1:]
		x.mu.Unlock()
		task()
	}
}

// recordingListener counts every event it receives.
type recordingListener struct {
	mu               sync.Mutex
	created          int
	closed           int
	entries          int
	timeouts         int
	acquired         int
	returned         int
	evicted          map[EvictReason]int
	hits, misses     int
	statementEvicted map[StatementEvictReason]int
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		evicted:          make(map[EvictReason]int),
		statementEvicted: make(map[StatementEvictReason]int),
	}
}

func (l *recordingListener) do(fn func()) {
	l.mu.Lock()
	fn()
	l.mu.Unlock()
}

func (l *recordingListener) PoolCreated(string)           { l.do(func() { l.created++ }) }
func (l *recordingListener) PoolClosed(string)            { l.do(func() { l.closed++ }) }
func (l *recordingListener) EntryCreated(time.Duration)   { l.do(func() { l.entries++ }) }
func (l *recordingListener) AcquireTimeout(time.Duration) { l.do(func() { l.timeouts++ }) }
func (l *recordingListener) Acquired(time.Duration)       { l.do(func() { l.acquired++ }) }
func (l *recordingListener) Returned(time.Duration)       { l.do(func() { l.returned++ }) }
func (l *recordingListener) Evicted(r EvictReason)        { l.do(func() { l.evicted[r]++ }) }
func (l *recordingListener) StatementCacheHit()           { l.do(func() { l.hits++ }) }
func (l *recordingListener) StatementCacheMiss()          { l.do(func() { l.misses++ }) }
func (l *recordingListener) StatementEvicted(r StatementEvictReason) {
	l.do(func() { l.statementEvicted[r]++ })
}

func (l *recordingListener) Evictions(r EvictReason) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.evicted[r]
}

func (l *recordingListener) Count(field *int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *field
}

type testPool struct {
	*Pool
	conn     *fakedriver.Connector
	exec     *manualExecutor
	listener *recordingListener
}

// newTestPool builds a pool over a fake connector whose maintenance only
// runs when the test calls exec.RunAll. Pass a nil Executor in mutate to
// use the owned worker instead.
func newTestPool(t *testing.T, conf Config) *testPool {
	t.Helper()
	tp := &testPool{
		conn:     &fakedriver.Connector{},
		exec:     &manualExecutor{},
		listener: newRecordingListener(),
	}
	conf.Open = func(ctx context.Context) (driver.Session, error) {
		return tp.conn.Connect(ctx, "", "")
	}
	if conf.Executor == nil {
		conf.Executor = tp.exec
	} else if conf.Executor == ownedWorker {
		conf.Executor = nil
	}
	conf.Listener = tp.listener
	conf.Logger = zaptest.NewLogger(t)

	p, err := New(conf)
	require.NoError(t, err, "failed to create pool")
	t.Cleanup(func() { _ = p.Close() })
	tp.Pool = p
	return tp
}

// ownedWorker selects the pool's own maintenance goroutine in newTestPool.
var ownedWorker Executor = &manualExecutor{}

func (tp *testPool) runMaintenance() {
	tp.Pool.trigger()
	tp.exec.RunAll()
}

func mustTake(t *testing.T, p *Pool) *Entry {
	t.Helper()
	e, err := p.Take(context.Background())
	require.NoError(t, err, "failed to take entry")
	return e
}

func sessionOf(e *Entry) *fakedriver.Session {
	return e.Session().(*fakedriver.Session)
}
