// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package iocp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eapache/queue"

	"code.hybscloud.com/iocp/internal/ncpu"
)

// Infinite makes Remove wait without a deadline.
const Infinite time.Duration = -1

// Queue is a FIFO completion queue with bounded consumer concurrency.
//
// Insert never blocks. Remove delivers the head entry to a caller only
// while fewer than Limit threads are active; otherwise the caller waits
// even though entries are pending. Waiters are served in arrival order,
// and an entry handed to a waiter by Insert goes to that waiter alone.
//
// After Rundown the queue is terminal.
type Queue struct {
	mu      sync.Mutex
	entries *queue.Queue // Entry
	waiters *queue.Queue // *waiter, abandoned ones are skipped and compacted
	waiting int          // Waiters still pending
	active  int
	limit   int
	rundown bool
}

type waitState uint8

const (
	waitPending waitState = iota
	waitDelivered
	waitAbandoned
	waitRundown
)

type waiter struct {
	thread *Thread
	ready  chan struct{}
	state  waitState // Guarded by Queue.mu
	entry  Entry
}

// NewQueue creates a queue admitting at most limit active threads.
// A limit <= 0 selects the number of processing units.
func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = ncpu.Count()
	}
	return &Queue{
		entries: queue.New(),
		waiters: queue.New(),
		limit:   limit,
	}
}

// Insert appends e. If a thread is waiting and the limit admits another
// active thread, e is handed to the longest waiting thread directly.
// Panics if e is invalid or the queue has been run down.
func (q *Queue) Insert(e Entry) {
	if !q.tryInsert(e) {
		panic("iocp: insert after rundown")
	}
}

// tryInsert is Insert that reports false instead of panicking once the
// queue has been run down.
func (q *Queue) tryInsert(e Entry) bool {
	if !e.Valid() {
		panic("iocp: insert of an invalid entry")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.rundown {
		return false
	}
	if q.waiting > 0 && q.active < q.limit {
		q.deliverLocked(q.nextWaiterLocked(), e)
		return true
	}
	q.entries.Add(e)
	return true
}

// Remove takes the head entry for t.
//
// If t was active on this queue it stops being active first, which may
// admit a thread already waiting. Remove then returns immediately if an
// entry is pending and the limit admits t. Otherwise it waits until an
// entry is delivered, timeout elapses ([ErrTimeout]), or the wait is
// aborted by [Thread.Alert], ctx, or Rundown ([ErrCancelled]).
//
// A timeout of 0 polls; a negative timeout such as [Infinite] waits
// without a deadline. Timeout and cancellation leave the queue unchanged.
func (q *Queue) Remove(ctx context.Context, t *Thread, timeout time.Duration) (Entry, error) {
	if t == nil {
		panic("iocp: nil thread")
	}
	if t.queue != q {
		t.leave()
		t.queue = q
	}

	q.mu.Lock()
	q.deactivateLocked(t)
	if q.rundown {
		q.mu.Unlock()
		return Entry{}, ErrCancelled
	}
	if q.entries.Length() > 0 && q.active < q.limit {
		e := q.entries.Remove().(Entry)
		q.activateLocked(t)
		q.mu.Unlock()
		return e, nil
	}
	if timeout == 0 {
		q.mu.Unlock()
		return Entry{}, ErrTimeout
	}
	w := &waiter{thread: t, ready: make(chan struct{})}
	q.pruneLocked()
	q.waiters.Add(w)
	q.waiting++
	q.mu.Unlock()

	return q.wait(ctx, w, timeout)
}

func (q *Queue) wait(ctx context.Context, w *waiter, timeout time.Duration) (Entry, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var reason error
	alerted := false
	select {
	case <-w.ready:
	case <-expired:
		reason = ErrTimeout
	case <-w.thread.alerts:
		reason = ErrCancelled
		alerted = true
	case <-ctx.Done():
		reason = fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	switch w.state {
	case waitDelivered:
		// Delivery raced the abort; the entry wins and the alert stays pending.
		if alerted {
			w.thread.Alert()
		}
		return w.entry, nil
	case waitRundown:
		return Entry{}, ErrCancelled
	}
	w.state = waitAbandoned
	q.waiting--
	q.compactLocked()
	return Entry{}, reason
}

// Depth returns the number of pending entries. The value is a snapshot.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Length()
}

// Limit returns the concurrency limit.
func (q *Queue) Limit() int { return q.limit }

// Active returns the number of active threads. The value is a snapshot.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Waiting returns the number of threads blocked in Remove. The value is a
// snapshot.
func (q *Queue) Waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiting
}

// Rundown makes the queue terminal. Every blocked Remove returns
// [ErrCancelled], and the entries never delivered are returned in FIFO
// order for the caller to release. A second Rundown returns nil.
func (q *Queue) Rundown() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.rundown {
		return nil
	}
	q.rundown = true

	out := make([]Entry, 0, q.entries.Length())
	for q.entries.Length() > 0 {
		out = append(out, q.entries.Remove().(Entry))
	}
	for q.waiters.Length() > 0 {
		w := q.waiters.Remove().(*waiter)
		if w.state == waitPending {
			w.state = waitRundown
			close(w.ready)
		}
	}
	q.waiting = 0
	q.active = 0
	return out
}

func (q *Queue) activateLocked(t *Thread) {
	t.active = true
	q.active++
}

// deactivateLocked ends t's activity and admits waiters into the freed slot.
func (q *Queue) deactivateLocked(t *Thread) {
	if !t.active {
		return
	}
	t.active = false
	if q.rundown {
		return
	}
	q.active--
	q.dispatchLocked()
}

// dispatchLocked hands pending entries to waiters while the limit allows.
func (q *Queue) dispatchLocked() {
	for q.active < q.limit && q.waiting > 0 && q.entries.Length() > 0 {
		q.deliverLocked(q.nextWaiterLocked(), q.entries.Remove().(Entry))
	}
}

// nextWaiterLocked pops the longest pending waiter. q.waiting must be > 0.
func (q *Queue) nextWaiterLocked() *waiter {
	for {
		w := q.waiters.Remove().(*waiter)
		if w.state == waitPending {
			q.waiting--
			return w
		}
	}
}

// pruneLocked drops abandoned waiters from the head of the waiter FIFO.
func (q *Queue) pruneLocked() {
	for q.waiters.Length() > 0 && q.waiters.Peek().(*waiter).state != waitPending {
		q.waiters.Remove()
	}
}

// compactLocked keeps abandoned waiters from outnumbering pending ones.
// Once they do, the FIFO is rebuilt from the pending waiters in order.
func (q *Queue) compactLocked() {
	if q.waiting == 0 {
		if q.waiters.Length() > 0 {
			q.waiters = queue.New()
		}
		return
	}
	q.pruneLocked()
	if q.waiters.Length() <= 2*q.waiting {
		return
	}
	pending := queue.New()
	for q.waiters.Length() > 0 {
		if w := q.waiters.Remove().(*waiter); w.state == waitPending {
			pending.Add(w)
		}
	}
	q.waiters = pending
}

func (q *Queue) deliverLocked(w *waiter, e Entry) {
	w.entry = e
	w.state = waitDelivered
	q.activateLocked(w.thread)
	close(w.ready)
}
