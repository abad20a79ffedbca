// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package iocp provides I/O completion ports: FIFO completion queues that
// throttle how many consumer goroutines work on their results at once.
//
// Producers queue completion records, either by posting one explicitly or
// by handing over a finished request that carries its own record.
// Consumers call Remove, which blocks until a record is available and the
// port's concurrency limit admits the caller.
//
// # Quick Start
//
//	p := iocp.New().Concurrency(4).Build()
//	defer p.Close(iocp.Caller{})
//
//	// Producer (never blocks)
//	err := p.Post(iocp.Caller{}, iocp.Completion{Key: connID, Information: n}, false)
//	if errors.Is(err, iocp.ErrResourceExhausted) {
//	    // Severe memory pressure - retry later or drop
//	}
//
//	// Consumer
//	t := iocp.NewThread(iocp.Caller{Processor: worker})
//	defer t.Exit()
//	for {
//	    c, err := p.Remove(ctx, t, iocp.Infinite)
//	    if err != nil {
//	        return err // ErrCancelled once the port closes
//	    }
//	    handle(c)
//	}
//
// # Concurrency Limit
//
// A [Thread] is active from the moment Remove hands it an entry until it
// calls Remove again, removes from another port, or calls Exit. While
// Concurrency threads are active, further callers wait even if entries
// are pending:
//
//	limit 2, entries [A B C], threads t1 t2 t3
//
//	t1.Remove → A     active 1
//	t2.Remove → B     active 2
//	t3.Remove → waits (C pending, limit reached)
//	t1.Remove → t1 leaves, C goes to t3, t1 waits
//
// Size a worker pool larger than the limit; the port keeps only Concurrency
// of them busy and the rest parked, without spinning.
//
// Waiters are served in arrival order. An entry inserted while a thread
// waits and the limit allows goes directly to the longest waiting thread.
//
// # Waiting
//
// Remove takes a timeout:
//
//	p.Remove(ctx, t, 0)              // Poll: ErrTimeout if nothing is admitted now
//	p.Remove(ctx, t, time.Second)    // ErrTimeout after at least one second
//	p.Remove(ctx, t, iocp.Infinite)  // No deadline
//
// A wait is aborted with [ErrCancelled] by [Thread.Alert], by ctx, or by
// the port being closed. Neither timeout nor cancellation consumes an
// entry.
//
// # Packets
//
// Posted completions travel in small standalone packets drawn from a
// tiered [PacketPool]:
//
//	per-processor tier → shared tier → heap
//
// Each tier is a bounded free list ([Ring] by default, [LockedStack] with
// [Builder.Locked]) with its own allocation and free counters. Allocation
// falls through on a miss; Free overflows the same way and finally
// releases to the heap. A heap allocation may be charged to a [Quota];
// the charge is returned exactly once, when the packet is freed or the
// port is deleted.
//
// The tier is picked by [Caller].Processor. Any stable per-worker index
// keeps tiers mostly uncontended:
//
//	pool := iocp.New().Processors(8).LookasideDepth(16, 1024).BuildPool()
//	p := iocp.New().Pool(pool).Build()
//	t := iocp.NewThread(iocp.Caller{Processor: workerID})
//
// Completed [Request] values skip the pool entirely: the request carries
// its own record and goes to the port's [Releaser] once removed.
//
// # Ports and Handles
//
// A [Directory] names ports and counts references:
//
//	d := iocp.NewDirectory(nil)
//	h, _ := d.Create("net", iocp.AccessAll, iocp.New().Concurrency(4))
//	q, _ := d.Open("net", iocp.AccessQueryState)
//	n, _ := q.Depth()
//	q.Close(iocp.Caller{})
//	h.Close(iocp.Caller{}) // Last handle: port is deleted
//
// # Error Handling
//
// [ErrTimeout] and [ErrCancelled] are routine outcomes of waiting:
//
//	iocp.IsNonFailure(err)  // true for nil, ErrTimeout, ErrCancelled
//
// Lookaside tiers report misses with [ErrWouldBlock] from
// [code.hybscloud.com/iox]. Misuse that would leak or corrupt state, such
// as inserting into a queue after rundown, panics.
//
// # Dependencies
//
// This package uses [code.hybscloud.com/atomix] for atomic primitives with
// explicit memory ordering, [code.hybscloud.com/spin] for CPU pause in CAS
// loops, [code.hybscloud.com/iox] for semantic errors,
// [github.com/eapache/queue] for the completion and waiter FIFOs, and
// [github.com/rs/zerolog] for lifecycle logging.
package iocp
