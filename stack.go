// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package iocp

import (
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// Ring is a lock-free bounded free list built on a sequence-numbered ring.
//
// Each slot carries a sequence number that tells producers and consumers
// whose turn it is, which gives ABA safety even though packets are
// recycled through the same ring over and over. The ring has a power of 2
// number of slots; a separate depth counter enforces the exact MaxDepth.
//
// Push reserves depth before claiming a slot and Pop gives depth back only
// after releasing its slot, so the number of occupied slots never exceeds
// the reserved depth.
//
// Memory: roundToPow2(maxDepth) slots, one cache line each.
type Ring struct {
	_        pad
	tail     atomix.Uint64 // Producer index
	_        pad
	head     atomix.Uint64 // Consumer index
	_        pad
	depth    atomix.Int64 // Reserved depth
	_        pad
	buffer   []ringSlot
	mask     uint64
	capacity uint64
	maxDepth int64
}

type ringSlot struct {
	seq    atomix.Uint64
	packet *Packet
	_      padSlot
}

// NewRing creates a lock-free free list holding at most maxDepth packets.
// A maxDepth of 0 creates a disabled tier on which every Push and Pop
// misses. Panics if maxDepth < 0.
func NewRing(maxDepth int) *Ring {
	if maxDepth < 0 {
		panic("iocp: lookaside depth must be >= 0")
	}

	n := uint64(roundToPow2(maxDepth))
	r := &Ring{
		buffer:   make([]ringSlot, n),
		mask:     n - 1,
		capacity: n,
		maxDepth: int64(maxDepth),
	}

	for i := uint64(0); i < n; i++ {
		r.buffer[i].seq.StoreRelaxed(i)
	}

	return r
}

// Push adds a free packet.
// Returns ErrWouldBlock if the ring already holds MaxDepth packets.
func (r *Ring) Push(p *Packet) error {
	if r.depth.AddAcqRel(1) > r.maxDepth {
		r.depth.AddAcqRel(-1)
		return ErrWouldBlock
	}

	sw := spin.Wait{}
	for {
		tail := r.tail.LoadAcquire()
		slot := &r.buffer[tail&r.mask]
		seq := slot.seq.LoadAcquire()
		diff := int64(seq) - int64(tail)

		if diff == 0 {
			if r.tail.CompareAndSwapAcqRel(tail, tail+1) {
				slot.packet = p
				slot.seq.StoreRelease(tail + 1)
				return nil
			}
		} else if diff < 0 {
			r.depth.AddAcqRel(-1)
			return ErrWouldBlock
		}
		sw.Once()
	}
}

// Pop removes a free packet.
// Returns (nil, ErrWouldBlock) if the ring is empty.
func (r *Ring) Pop() (*Packet, error) {
	sw := spin.Wait{}
	for {
		head := r.head.LoadAcquire()
		slot := &r.buffer[head&r.mask]
		seq := slot.seq.LoadAcquire()
		diff := int64(seq) - int64(head+1)

		if diff == 0 {
			if r.head.CompareAndSwapAcqRel(head, head+1) {
				p := slot.packet
				slot.packet = nil
				slot.seq.StoreRelease(head + r.capacity)
				r.depth.AddAcqRel(-1)
				return p, nil
			}
		} else if diff < 0 {
			return nil, ErrWouldBlock
		}
		sw.Once()
	}
}

// Depth returns the number of packets held, including in-flight pushes.
func (r *Ring) Depth() int {
	d := r.depth.Load()
	if d < 0 {
		return 0
	}
	return int(d)
}

// MaxDepth returns the configured bound.
func (r *Ring) MaxDepth() int {
	return int(r.maxDepth)
}

// LockedStack is a mutex-guarded LIFO free list.
//
// LockedStack reuses the most recently freed packet first, which keeps
// hot packets in cache. It trades lock-freedom for that locality; use it
// where Free is never called from a context that must not block.
type LockedStack struct {
	mu       sync.Mutex
	items    []*Packet
	maxDepth int
}

// NewLockedStack creates a mutex-guarded free list holding at most
// maxDepth packets. Panics if maxDepth < 0.
func NewLockedStack(maxDepth int) *LockedStack {
	if maxDepth < 0 {
		panic("iocp: lookaside depth must be >= 0")
	}
	return &LockedStack{items: make([]*Packet, 0, maxDepth), maxDepth: maxDepth}
}

// Push adds a free packet.
// Returns ErrWouldBlock if the stack already holds MaxDepth packets.
func (s *LockedStack) Push(p *Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) >= s.maxDepth {
		return ErrWouldBlock
	}
	s.items = append(s.items, p)
	return nil
}

// Pop removes the most recently pushed packet.
// Returns (nil, ErrWouldBlock) if the stack is empty.
func (s *LockedStack) Pop() (*Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.items)
	if n == 0 {
		return nil, ErrWouldBlock
	}
	p := s.items[n-1]
	s.items[n-1] = nil
	s.items = s.items[:n-1]
	return p, nil
}

// Depth returns the number of packets held.
func (s *LockedStack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// MaxDepth returns the configured bound.
func (s *LockedStack) MaxDepth() int {
	return s.maxDepth
}

// roundToPow2 rounds n up to the next power of 2.
func roundToPow2(n int) int {
	if n < 2 {
		return 2
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
