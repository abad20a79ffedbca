// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package iocp_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"code.hybscloud.com/iocp"
)

// entry returns a request entry carrying key.
func entry(key uintptr) iocp.Entry {
	return iocp.RequestEntry(&fakeRequest{c: iocp.Completion{Key: key}})
}

type fakeRequest struct {
	c iocp.Completion
}

func (r *fakeRequest) Completion() iocp.Completion { return r.c }

func keyOf(t *testing.T, e iocp.Entry) uintptr {
	t.Helper()
	require.True(t, e.Valid(), "got invalid entry")
	return e.Completion().Key
}

// waitFor polls cond until it holds or a second elapses.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, time.Millisecond, "timed out waiting for %s", what)
}

type removed struct {
	e   iocp.Entry
	err error
}

func removeAsync(ctx context.Context, q *iocp.Queue, th *iocp.Thread, timeout time.Duration) <-chan removed {
	ch := make(chan removed, 1)
	go func() {
		e, err := q.Remove(ctx, th, timeout)
		ch <- removed{e, err}
	}()
	return ch
}

// requireKey checks that r delivered key without error.
func requireKey(t *testing.T, r removed, key uintptr) {
	t.Helper()
	require.NoError(t, r.err)
	require.Equal(t, key, keyOf(t, r.e))
}

// =============================================================================
// Ordering
// =============================================================================

// TestQueueFIFO tests that removes yield entries in insertion order.
func TestQueueFIFO(t *testing.T) {
	q := iocp.NewQueue(1)
	th := iocp.NewThread(iocp.Caller{})
	ctx := context.Background()

	for i := range 10 {
		q.Insert(entry(uintptr(i + 1)))
	}
	require.Equal(t, 10, q.Depth())
	for i := range 10 {
		e, err := q.Remove(ctx, th, 0)
		require.NoError(t, err, "Remove(%d)", i)
		require.Equal(t, uintptr(i+1), keyOf(t, e))
	}
	require.Zero(t, q.Depth())
}

// TestQueueDirectHandoff tests that an insert wakes the longest waiting
// thread and gives it exactly the inserted entry.
func TestQueueDirectHandoff(t *testing.T) {
	q := iocp.NewQueue(4)
	ctx := context.Background()

	first := iocp.NewThread(iocp.Caller{})
	second := iocp.NewThread(iocp.Caller{})
	r1 := removeAsync(ctx, q, first, iocp.Infinite)
	waitFor(t, "first waiter", func() bool { return q.Waiting() == 1 })
	r2 := removeAsync(ctx, q, second, iocp.Infinite)
	waitFor(t, "second waiter", func() bool { return q.Waiting() == 2 })

	q.Insert(entry(7))
	requireKey(t, <-r1, 7)
	require.Zero(t, q.Depth(), "handed-off entry was also queued")

	q.Insert(entry(8))
	requireKey(t, <-r2, 8)
}

// =============================================================================
// Concurrency limit
// =============================================================================

// TestQueueConcurrencyLimit tests that with limit K and K+1 entries, only
// K threads are admitted, and the next waits until an active thread calls
// Remove again.
func TestQueueConcurrencyLimit(t *testing.T) {
	const k = 2
	q := iocp.NewQueue(k)
	ctx := context.Background()
	for i := range k + 1 {
		q.Insert(entry(uintptr(i + 1)))
	}

	threads := make([]*iocp.Thread, k+1)
	for i := range threads {
		threads[i] = iocp.NewThread(iocp.Caller{Processor: i})
	}
	for i := range k {
		e, err := q.Remove(ctx, threads[i], 0)
		require.NoError(t, err, "Remove(%d)", i)
		require.Equal(t, uintptr(i+1), keyOf(t, e))
	}
	require.Equal(t, k, q.Active())

	// Poll is refused although an entry is pending.
	_, err := q.Remove(ctx, threads[k], 0)
	require.ErrorIs(t, err, iocp.ErrTimeout)

	last := removeAsync(ctx, q, threads[k], iocp.Infinite)
	waitFor(t, "blocked thread", func() bool { return q.Waiting() == 1 })
	select {
	case r := <-last:
		require.FailNow(t, "thread over the limit was admitted", "err: %v", r.err)
	case <-time.After(20 * time.Millisecond):
	}
	require.Equal(t, 1, q.Depth())

	// threads[0] re-enters: its slot goes to the waiter, then it waits itself.
	again := removeAsync(ctx, q, threads[0], iocp.Infinite)
	requireKey(t, <-last, k+1)
	waitFor(t, "re-entered thread", func() bool { return q.Waiting() == 1 })
	require.Equal(t, k, q.Active())

	threads[0].Alert()
	require.ErrorIs(t, (<-again).err, iocp.ErrCancelled)
}

// TestQueueExitAdmitsWaiter tests that Exit frees an active slot.
func TestQueueExitAdmitsWaiter(t *testing.T) {
	q := iocp.NewQueue(1)
	ctx := context.Background()
	q.Insert(entry(1))
	q.Insert(entry(2))

	a := iocp.NewThread(iocp.Caller{})
	b := iocp.NewThread(iocp.Caller{})
	_, err := q.Remove(ctx, a, 0)
	require.NoError(t, err)
	rb := removeAsync(ctx, q, b, iocp.Infinite)
	waitFor(t, "waiter", func() bool { return q.Waiting() == 1 })

	a.Exit()
	requireKey(t, <-rb, 2)
	a.Exit() // idempotent
	require.Equal(t, 1, q.Active())
}

// TestQueueThreadMigration tests that removing from another queue ends
// activity on the first one.
func TestQueueThreadMigration(t *testing.T) {
	qa := iocp.NewQueue(1)
	qb := iocp.NewQueue(1)
	ctx := context.Background()
	th := iocp.NewThread(iocp.Caller{})

	qa.Insert(entry(1))
	_, err := qa.Remove(ctx, th, 0)
	require.NoError(t, err)
	require.Equal(t, 1, qa.Active())

	_, err = qb.Remove(ctx, th, 0)
	require.ErrorIs(t, err, iocp.ErrTimeout)
	require.Zero(t, qa.Active(), "activity on the first queue after migration")
}

// =============================================================================
// Timeout and cancellation
// =============================================================================

// TestQueueTimeout tests that Remove on an empty queue returns ErrTimeout
// no earlier than the timeout and leaves the queue unchanged.
func TestQueueTimeout(t *testing.T) {
	q := iocp.NewQueue(1)
	th := iocp.NewThread(iocp.Caller{})

	const timeout = 30 * time.Millisecond
	start := time.Now()
	_, err := q.Remove(context.Background(), th, timeout)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, iocp.ErrTimeout)
	require.True(t, iocp.IsNonFailure(err), "ErrTimeout should be a non-failure")
	require.GreaterOrEqual(t, elapsed, timeout)
	require.Zero(t, q.Depth())
	require.Zero(t, q.Waiting())
	require.Zero(t, q.Active())

	// An abandoned waiter must not swallow a later entry.
	q.Insert(entry(5))
	e, err := q.Remove(context.Background(), th, 0)
	require.NoError(t, err)
	require.Equal(t, uintptr(5), keyOf(t, e))
}

// TestQueueAlert tests that Alert cancels a blocked Remove, and that a
// pending alert cancels the next blocking Remove.
func TestQueueAlert(t *testing.T) {
	q := iocp.NewQueue(1)
	th := iocp.NewThread(iocp.Caller{})
	ctx := context.Background()

	r := removeAsync(ctx, q, th, iocp.Infinite)
	waitFor(t, "waiter", func() bool { return q.Waiting() == 1 })
	th.Alert()
	require.ErrorIs(t, (<-r).err, iocp.ErrCancelled)
	require.Zero(t, q.Waiting())

	th.Alert()
	_, err := q.Remove(ctx, th, iocp.Infinite)
	require.ErrorIs(t, err, iocp.ErrCancelled, "pending alert")
}

// TestQueueContextCancel tests that a cancelled context aborts the wait
// with ErrCancelled wrapping the context's cause.
func TestQueueContextCancel(t *testing.T) {
	q := iocp.NewQueue(1)
	th := iocp.NewThread(iocp.Caller{})
	ctx, cancel := context.WithCancel(context.Background())

	r := removeAsync(ctx, q, th, iocp.Infinite)
	waitFor(t, "waiter", func() bool { return q.Waiting() == 1 })
	cancel()

	err := (<-r).err
	require.ErrorIs(t, err, iocp.ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// Rundown
// =============================================================================

// TestQueueRundown tests that Rundown returns every pending entry once and
// cancels every waiter.
func TestQueueRundown(t *testing.T) {
	// Waiters exist only while the queue is empty or at its limit: use
	// limit 1 with one active thread so entries and waiters coexist.
	q := iocp.NewQueue(1)
	ctx := context.Background()
	active := iocp.NewThread(iocp.Caller{})
	q.Insert(entry(100))
	_, err := q.Remove(ctx, active, 0)
	require.NoError(t, err)
	for i := range 3 {
		q.Insert(entry(uintptr(i + 1)))
	}

	results := make([]<-chan removed, 3)
	for i := range results {
		results[i] = removeAsync(ctx, q, iocp.NewThread(iocp.Caller{}), iocp.Infinite)
	}
	waitFor(t, "waiters", func() bool { return q.Waiting() == 3 })

	rest := q.Rundown()
	require.Len(t, rest, 3)
	for i, e := range rest {
		require.Equal(t, uintptr(i+1), keyOf(t, e), "Rundown[%d]", i)
	}
	for i, ch := range results {
		require.ErrorIs(t, (<-ch).err, iocp.ErrCancelled, "waiter %d", i)
	}

	require.Nil(t, q.Rundown(), "second Rundown")
	_, err = q.Remove(ctx, active, iocp.Infinite)
	require.ErrorIs(t, err, iocp.ErrCancelled, "Remove after rundown")
	require.Panics(t, func() { q.Insert(entry(9)) }, "Insert after rundown")
}

// =============================================================================
// Delivery under contention
// =============================================================================

// TestQueueAtMostOnce inserts from several producers while several
// consumers remove; every entry must be delivered exactly once.
func TestQueueAtMostOnce(t *testing.T) {
	const (
		producers   = 4
		consumers   = 6
		perProducer = 2000
		total       = producers * perProducer
	)
	q := iocp.NewQueue(3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := make(map[uintptr]int, total)
	var got sync.WaitGroup
	got.Add(total)

	var consumersWg sync.WaitGroup
	for c := range consumers {
		consumersWg.Add(1)
		go func(proc int) {
			defer consumersWg.Done()
			th := iocp.NewThread(iocp.Caller{Processor: proc})
			defer th.Exit()
			for {
				e, err := q.Remove(ctx, th, iocp.Infinite)
				if err != nil {
					return
				}
				mu.Lock()
				seen[e.Completion().Key]++
				mu.Unlock()
				got.Done()
			}
		}(c)
	}

	var producersWg sync.WaitGroup
	for p := range producers {
		producersWg.Add(1)
		go func(base int) {
			defer producersWg.Done()
			for i := range perProducer {
				q.Insert(entry(uintptr(base*perProducer + i + 1)))
			}
		}(p)
	}
	producersWg.Wait()
	got.Wait()
	cancel()
	consumersWg.Wait()

	require.Len(t, seen, total)
	for k, n := range seen {
		require.Equal(t, 1, n, "entry %d delivery count", k)
	}
	require.Zero(t, q.Depth())
}
