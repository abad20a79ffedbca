// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package iocp

import (
	"fmt"

	"code.hybscloud.com/atomix"
)

// Caller identifies the execution context of a pool operation.
//
// Processor selects the per-processor lookaside tier; it is reduced modulo
// the number of tiers, so any stable per-worker index works. Quota, if
// set, is charged by quota allocations.
type Caller struct {
	Processor int
	Quota     *Quota
}

// PacketPool is a tiered allocator for standalone completion packets.
//
// Allocate tries the caller's per-processor tier, then the shared tier,
// then the heap. Free tries the same tiers in the same order and releases
// to the heap when both are full. Neither operation blocks or takes a lock
// unless the tiers were built with [Builder.Locked].
//
// A PacketPool may be shared by any number of ports.
type PacketPool struct {
	perCore   []*Lookaside
	shared    *Lookaside
	heapLimit int64

	_          pad
	live       atomix.Int64 // Heap packets not yet released
	heapAllocs atomix.Uint64
	heapFrees  atomix.Uint64
}

// PoolStats is a snapshot of a PacketPool's counters.
type PoolStats struct {
	PerCore    []LookasideStats
	Shared     LookasideStats
	HeapAllocs uint64
	HeapFrees  uint64
	Live       int64 // Packets allocated from the heap and not yet released to it
}

// NewPacketPool creates a pool with one tier per element of perCore,
// backed by shared. A heapLimit > 0 caps Live for low-priority
// allocations. Panics if perCore is empty or any tier is nil.
func NewPacketPool(perCore []*Lookaside, shared *Lookaside, heapLimit int) *PacketPool {
	if len(perCore) == 0 {
		panic("iocp: packet pool needs at least one per-processor tier")
	}
	if shared == nil {
		panic("iocp: nil shared lookaside")
	}
	for _, l := range perCore {
		if l == nil {
			panic("iocp: nil per-processor lookaside")
		}
	}
	return &PacketPool{
		perCore:   perCore,
		shared:    shared,
		heapLimit: int64(heapLimit),
	}
}

func (pp *PacketPool) tier(c Caller) *Lookaside {
	n := len(pp.perCore)
	i := c.Processor % n
	if i < 0 {
		i += n
	}
	return pp.perCore[i]
}

// Allocate returns a packet ready for installation.
//
// On a miss in both lookaside tiers the packet comes from the heap. With
// chargeQuota set and a non-nil c.Quota, the packet size is charged to
// c.Quota and the packet is tagged [PacketQuota]; otherwise it is a
// low-priority [PacketHeap] allocation that fails once the pool's heap
// limit is reached.
//
// Returns an error wrapping [ErrResourceExhausted] only if the heap step
// fails.
func (pp *PacketPool) Allocate(c Caller, chargeQuota bool) (*Packet, error) {
	if p, ok := pp.tier(c).allocate(); ok {
		p.kind = PacketLookaside
		return p, nil
	}
	if p, ok := pp.shared.allocate(); ok {
		p.kind = PacketLookaside
		return p, nil
	}

	if chargeQuota && c.Quota != nil {
		if err := c.Quota.Charge(packetSize); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrResourceExhausted, err)
		}
		pp.live.Add(1)
		pp.heapAllocs.Add(1)
		return &Packet{kind: PacketQuota, quota: c.Quota}, nil
	}

	if n := pp.live.AddAcqRel(1); pp.heapLimit > 0 && n > pp.heapLimit {
		pp.live.AddAcqRel(-1)
		return nil, fmt.Errorf("%w: heap limit of %d packets reached", ErrResourceExhausted, pp.heapLimit)
	}
	pp.heapAllocs.Add(1)
	return &Packet{kind: PacketHeap}, nil
}

// Free gives p back to the pool. Free never fails and never blocks.
//
// A quota charge carried by p is returned first, whichever tier p ends up
// in. Passing a packet that is still queued, or freeing it twice, corrupts
// the pool.
func (pp *PacketPool) Free(c Caller, p *Packet) {
	if p == nil {
		panic("iocp: free of nil packet")
	}
	if p.kind == PacketQuota {
		p.quota.Return(packetSize)
		p.quota = nil
		p.kind = PacketHeap
	}
	p.completion = Completion{}

	if pp.tier(c).free(p) {
		return
	}
	if pp.shared.free(p) {
		return
	}
	pp.live.Add(-1)
	pp.heapFrees.Add(1)
}

// Processors returns the number of per-processor tiers.
func (pp *PacketPool) Processors() int { return len(pp.perCore) }

// Stats returns a snapshot of every tier and of the heap fallback.
func (pp *PacketPool) Stats() PoolStats {
	s := PoolStats{
		PerCore:    make([]LookasideStats, len(pp.perCore)),
		Shared:     pp.shared.Stats(),
		HeapAllocs: pp.heapAllocs.Load(),
		HeapFrees:  pp.heapFrees.Load(),
		Live:       pp.live.Load(),
	}
	for i, l := range pp.perCore {
		s.PerCore[i] = l.Stats()
	}
	return s
}
