// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package iocp

import "unsafe"

// Stack is a bounded concurrent free list of completion packets.
//
// Stack backs one lookaside tier. Reuse order is unspecified: an
// implementation may hand packets back LIFO, FIFO, or anything else.
// The only contract is the bound: a Stack never holds more than
// MaxDepth packets.
//
// Push and Pop never block. Both return [ErrWouldBlock] when they cannot
// proceed (stack full or empty).
//
// Example:
//
//	s := iocp.NewRing(64)
//	if err := s.Push(p); iocp.IsWouldBlock(err) {
//	    // Tier is full - overflow to the next tier
//	}
//	p, err := s.Pop()
//	if iocp.IsWouldBlock(err) {
//	    // Tier is empty - miss
//	}
type Stack interface {
	// Push adds a free packet.
	// Returns nil on success, ErrWouldBlock if the stack is at MaxDepth.
	Push(p *Packet) error

	// Pop removes a free packet.
	// Returns (nil, ErrWouldBlock) if the stack is empty.
	Pop() (*Packet, error)

	// Depth returns the number of packets currently held.
	// The value is a snapshot and may be stale under concurrent use.
	Depth() int

	// MaxDepth returns the configured bound.
	MaxDepth() int
}

// Request is an in-flight I/O request that carries its own completion
// record. Its storage is owned by the caller that issued it; a port
// only borrows it between Complete and the Releaser hand-off.
//
// Example:
//
//	type readOp struct {
//	    buf  []byte
//	    key  uintptr
//	    n    int
//	    err  iocp.Status
//	}
//
//	func (r *readOp) Completion() iocp.Completion {
//	    return iocp.Completion{Key: r.key, Status: r.err, Information: uintptr(r.n)}
//	}
type Request interface {
	// Completion returns the request's completion record.
	Completion() Completion
}

// Releaser frees request objects once a port is done with them.
//
// ReleaseRequest is called exactly once per request handed to
// [Port.Complete]: after Remove has copied its completion out, or during
// teardown when no consumer ever saw it. ReleaseRequest must not fail;
// a panic escapes to the caller of Remove or Close.
type Releaser interface {
	ReleaseRequest(r Request)
}

// ReleaserFunc adapts a function to [Releaser].
type ReleaserFunc func(r Request)

// ReleaseRequest calls f(r).
func (f ReleaserFunc) ReleaseRequest(r Request) { f(r) }

// discardRequests is the Releaser used when none is configured. Request
// storage is left to the garbage collector.
var discardRequests = ReleaserFunc(func(Request) {})

// ptrSize is the size of a pointer in bytes.
const ptrSize = int(unsafe.Sizeof(uintptr(0)))

// pad is cache line padding to prevent false sharing.
type pad [64]byte

// padSlot fills a cache line after an 8-byte sequence and a pointer.
type padSlot [64 - 8 - ptrSize]byte
