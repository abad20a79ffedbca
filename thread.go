// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package iocp

// Thread is a consumer's association with a completion queue.
//
// A Thread becomes active on a queue when Remove delivers it an entry and
// stays active until it calls Remove again, removes from another queue,
// or calls Exit. A queue admits at most its concurrency limit of active
// threads. Use one Thread per worker goroutine; a Thread must not be used
// by two goroutines at once, except for Alert.
type Thread struct {
	// Caller is the execution context used to free packets this thread
	// removes.
	Caller

	queue  *Queue // Written only by the owning goroutine
	active bool   // Guarded by queue.mu
	alerts chan struct{}
}

// NewThread creates a Thread that frees packets as c.
func NewThread(c Caller) *Thread {
	return &Thread{Caller: c, alerts: make(chan struct{}, 1)}
}

// Alert aborts the thread's current blocking Remove with [ErrCancelled].
// If the thread is not blocked, the alert stays pending and aborts the
// next Remove that would block. Alert may be called from any goroutine;
// alerts do not accumulate.
func (t *Thread) Alert() {
	select {
	case t.alerts <- struct{}{}:
	default:
	}
}

// Exit ends the thread's activity on its queue, letting the queue admit
// another waiter. Exit is idempotent.
func (t *Thread) Exit() {
	t.leave()
}

// leave detaches t from its current queue.
func (t *Thread) leave() {
	q := t.queue
	if q == nil {
		return
	}
	q.mu.Lock()
	q.deactivateLocked(t)
	q.mu.Unlock()
	t.queue = nil
}
