// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package iocp

import "unsafe"

// Status is the completion status code of an operation.
type Status int32

// StatusSuccess is the zero status.
const StatusSuccess Status = 0

// Completion is the record delivered by Remove.
type Completion struct {
	// Key is the producer-defined key context, typically identifying the
	// file or connection an operation was issued against.
	Key uintptr

	// Context is the caller context supplied when the operation was issued.
	Context uintptr

	// Status is the completion status of the operation.
	Status Status

	// Information is the status information word, e.g. a byte count.
	Information uintptr
}

// PacketKind identifies where a completion entry's storage came from, and
// therefore how it is released.
type PacketKind uint8

const (
	// PacketRequest marks an entry embedded in a caller-owned [Request].
	PacketRequest PacketKind = iota
	// PacketLookaside marks a standalone packet taken from a lookaside tier.
	PacketLookaside
	// PacketHeap marks a standalone packet from a low-priority heap allocation.
	PacketHeap
	// PacketQuota marks a standalone packet whose allocation was charged
	// against a [Quota].
	PacketQuota
)

func (k PacketKind) String() string {
	switch k {
	case PacketRequest:
		return "request"
	case PacketLookaside:
		return "lookaside"
	case PacketHeap:
		return "heap"
	case PacketQuota:
		return "quota"
	}
	return "unknown"
}

// Packet is a standalone completion record.
//
// Packets are produced by [PacketPool.Allocate] and must be returned with
// [PacketPool.Free]. While queued a packet is owned by the queue.
type Packet struct {
	kind       PacketKind
	completion Completion
	quota      *Quota // set only while kind == PacketQuota
}

// packetSize is the number of bytes charged to a Quota per packet.
const packetSize = int64(unsafe.Sizeof(Packet{}))

// Kind reports the packet's origin.
func (p *Packet) Kind() PacketKind { return p.kind }

// Completion returns the installed completion record.
func (p *Packet) Completion() Completion { return p.completion }

func (p *Packet) install(c Completion) { p.completion = c }

// Entry is one unit carried by a completion queue: either a standalone
// [Packet] or a [Request] that embeds its own completion record.
// The zero Entry is invalid.
type Entry struct {
	packet  *Packet
	request Request
}

// PacketEntry wraps a standalone packet.
func PacketEntry(p *Packet) Entry {
	if p == nil {
		panic("iocp: nil packet")
	}
	return Entry{packet: p}
}

// RequestEntry wraps a request whose completion record lives inside it.
func RequestEntry(r Request) Entry {
	if r == nil {
		panic("iocp: nil request")
	}
	return Entry{request: r}
}

// Kind reports the entry's variant. Standalone packets report their
// allocation origin.
func (e Entry) Kind() PacketKind {
	if e.request != nil {
		return PacketRequest
	}
	return e.packet.kind
}

// Packet returns the standalone packet, or nil for a request entry.
func (e Entry) Packet() *Packet { return e.packet }

// Request returns the embedding request, or nil for a standalone packet.
func (e Entry) Request() Request { return e.request }

// Completion reads the entry's completion record without releasing it.
func (e Entry) Completion() Completion {
	if e.request != nil {
		return e.request.Completion()
	}
	return e.packet.completion
}

// Valid reports whether e carries a packet or a request.
func (e Entry) Valid() bool { return e.packet != nil || e.request != nil }

// disposer releases entries taken off a queue back to where they came from.
type disposer struct {
	pool     *PacketPool
	releaser Releaser
}

// extract copies e's completion record out and releases e. The caller
// holds the only reference to e, so the record is observed exactly once.
func (d disposer) extract(e Entry, c Caller) Completion {
	comp := e.Completion()
	d.release(e, c)
	return comp
}

// release gives e's storage back without reading it.
func (d disposer) release(e Entry, c Caller) {
	switch {
	case e.request != nil:
		d.releaser.ReleaseRequest(e.request)
	case e.packet != nil:
		d.pool.Free(c, e.packet)
	default:
		panic("iocp: release of an invalid entry")
	}
}
