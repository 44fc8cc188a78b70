package pool

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

var errWaitTimeout = errors.New("wait timed out")

// freeList is a FIFO of idle entries. Takers that find it empty queue up
// and are served in arrival order.
type freeList struct {
	mu      sync.Mutex
	items   list.List // *Entry
	waiters list.List // chan *Entry
}

// put hands e to the longest waiting taker, or appends it.
func (f *freeList) put(e *Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w := f.waiters.Front(); w != nil {
		f.waiters.Remove(w)
		// Waiter channels have capacity 1 and receive at most one entry.
		w.Value.(chan *Entry) <- e
		return
	}
	f.items.PushBack(e)
}

// take removes the oldest entry, waiting up to timeout for one to arrive.
// A negative timeout waits until ctx is done.
func (f *freeList) take(ctx context.Context, timeout time.Duration) (*Entry, error) {
	f.mu.Lock()
	if front := f.items.Front(); front != nil {
		f.items.Remove(front)
		f.mu.Unlock()
		return front.Value.(*Entry), nil
	}
	if timeout == 0 {
		f.mu.Unlock()
		return nil, errWaitTimeout
	}
	ch := make(chan *Entry, 1)
	w := f.waiters.PushBack(ch)
	f.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var err error
	select {
	case e := <-ch:
		return e, nil
	case <-expired:
		err = errWaitTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	// put may have served us after the wait ended; keep what it handed over.
	select {
	case e := <-ch:
		return e, nil
	default:
	}
	f.waiters.Remove(w)
	return nil, err
}

// remove drops e if it is idle. It reports whether e was found.
func (f *freeList) remove(e *Entry) bool {
	return f.removeFunc(func(x *Entry) bool { return x == e }) != nil
}

// removeFunc drops and returns the first idle entry matching pred.
func (f *freeList) removeFunc(pred func(*Entry) bool) *Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	for el := f.items.Front(); el != nil; el = el.Next() {
		if e := el.Value.(*Entry); pred(e) {
			f.items.Remove(el)
			return e
		}
	}
	return nil
}

// drain removes and returns every idle entry.
func (f *freeList) drain() []*Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := make([]*Entry, 0, f.items.Len())
	for el := f.items.Front(); el != nil; el = el.Next() {
		entries = append(entries, el.Value.(*Entry))
	}
	f.items.Init()
	return entries
}

func (f *freeList) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items.Len()
}
