// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package iocp

import "code.hybscloud.com/atomix"

// Lookaside is one tier of the packet pool: a bounded free list plus the
// allocation and free counters for that tier.
//
// A tier counts every request that consults it. A request the tier
// cannot satisfy is also counted as a miss, and falls through to the
// next tier.
type Lookaside struct {
	stack          Stack
	_              pad
	totalAllocates atomix.Uint64
	allocateMisses atomix.Uint64
	_              pad
	totalFrees     atomix.Uint64
	freeMisses     atomix.Uint64
	_              pad
}

// LookasideStats is a snapshot of one tier's counters.
type LookasideStats struct {
	Depth          int
	MaxDepth       int
	TotalAllocates uint64
	AllocateMisses uint64
	TotalFrees     uint64
	FreeMisses     uint64
}

// NewLookaside wraps s as a counted pool tier. Panics if s is nil.
func NewLookaside(s Stack) *Lookaside {
	if s == nil {
		panic("iocp: nil lookaside stack")
	}
	return &Lookaside{stack: s}
}

// allocate pops a free packet, charging the tier's allocation counters.
func (l *Lookaside) allocate() (*Packet, bool) {
	l.totalAllocates.Add(1)
	p, err := l.stack.Pop()
	if err != nil {
		l.allocateMisses.Add(1)
		return nil, false
	}
	return p, true
}

// free pushes p, charging the tier's free counters.
func (l *Lookaside) free(p *Packet) bool {
	l.totalFrees.Add(1)
	if err := l.stack.Push(p); err != nil {
		l.freeMisses.Add(1)
		return false
	}
	return true
}

// Stats returns a snapshot of the tier's counters.
func (l *Lookaside) Stats() LookasideStats {
	return LookasideStats{
		Depth:          l.stack.Depth(),
		MaxDepth:       l.stack.MaxDepth(),
		TotalAllocates: l.totalAllocates.Load(),
		AllocateMisses: l.allocateMisses.Load(),
		TotalFrees:     l.totalFrees.Load(),
		FreeMisses:     l.freeMisses.Load(),
	}
}
