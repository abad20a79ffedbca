// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package iocp

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"code.hybscloud.com/iocp/internal/ncpu"
)

const (
	// DefaultPerCoreDepth is the default depth of each per-processor tier.
	DefaultPerCoreDepth = 4

	// DefaultSharedDepth is the default depth of the shared tier.
	DefaultSharedDepth = 256
)

// Options configures port and packet pool creation.
type Options struct {
	name string

	// Queue
	concurrency int // 0 selects the number of processing units

	// Packet pool
	pool         *PacketPool // Shared pool; overrides the fields below
	processors   int         // Per-processor tiers, 0 selects the number of processing units
	perCoreDepth int
	sharedDepth  int
	heapLimit    int  // Live heap packets for low-priority allocations, 0 is unlimited
	locked       bool // Mutex-guarded tiers instead of lock-free rings

	releaser  Releaser
	logger    zerolog.Logger
	loggerSet bool
}

// Builder creates ports with fluent configuration.
//
// Example:
//
//	// Port for a pool of 8 workers, default lookaside tiers
//	p := iocp.New().Concurrency(8).Build()
//
//	// Several ports sharing one packet pool
//	pool := iocp.New().LookasideDepth(16, 1024).BuildPool()
//	a := iocp.New().Pool(pool).Build()
//	b := iocp.New().Pool(pool).Build()
type Builder struct {
	opts Options
}

// New creates a builder with default settings: concurrency and processor
// count equal to the number of processing units, per-processor depth
// [DefaultPerCoreDepth], shared depth [DefaultSharedDepth], no heap limit,
// lock-free tiers, and a disabled logger.
func New() *Builder {
	return &Builder{opts: Options{
		perCoreDepth: DefaultPerCoreDepth,
		sharedDepth:  DefaultSharedDepth,
		logger:       zerolog.Nop(),
	}}
}

// Name sets the port name. Unnamed ports get a random UUID.
func (b *Builder) Name(name string) *Builder {
	b.opts.name = name
	return b
}

// Concurrency sets the maximum number of concurrently active threads.
// Zero selects the number of processing units. Panics if n < 0.
func (b *Builder) Concurrency(n int) *Builder {
	if n < 0 {
		panic("iocp: concurrency must be >= 0")
	}
	b.opts.concurrency = n
	return b
}

// Processors sets the number of per-processor lookaside tiers.
// Zero selects the number of processing units. Panics if n < 0.
func (b *Builder) Processors(n int) *Builder {
	if n < 0 {
		panic("iocp: processors must be >= 0")
	}
	b.opts.processors = n
	return b
}

// LookasideDepth sets the maximum depth of each per-processor tier and of
// the shared tier. A depth of 0 disables that tier.
// Panics if either depth is negative.
func (b *Builder) LookasideDepth(perCore, shared int) *Builder {
	if perCore < 0 || shared < 0 {
		panic("iocp: lookaside depth must be >= 0")
	}
	b.opts.perCoreDepth = perCore
	b.opts.sharedDepth = shared
	return b
}

// HeapLimit caps the number of live heap packets a low-priority
// allocation may create. Zero removes the cap. Quota allocations are
// bounded by their [Quota] instead. Panics if n < 0.
func (b *Builder) HeapLimit(n int) *Builder {
	if n < 0 {
		panic("iocp: heap limit must be >= 0")
	}
	b.opts.heapLimit = n
	return b
}

// Locked selects mutex-guarded LIFO tiers ([LockedStack]) instead of
// lock-free rings ([Ring]).
//
// Trade-off: better cache reuse of recently freed packets, but Free may
// block briefly under contention.
func (b *Builder) Locked() *Builder {
	b.opts.locked = true
	return b
}

// Pool makes the port draw packets from pp instead of building its own.
// Tier settings on the builder are then ignored.
func (b *Builder) Pool(pp *PacketPool) *Builder {
	b.opts.pool = pp
	return b
}

// Releaser sets the routine that frees requests handed to
// [Port.Complete]. Without one, request storage is left to the garbage
// collector.
func (b *Builder) Releaser(r Releaser) *Builder {
	b.opts.releaser = r
	return b
}

// Logger sets the logger for lifecycle events.
func (b *Builder) Logger(l zerolog.Logger) *Builder {
	b.opts.logger = l
	b.opts.loggerSet = true
	return b
}

func (b *Builder) hasLogger() bool { return b.opts.loggerSet }

// BuildPool creates a packet pool from the builder's tier settings.
func (b *Builder) BuildPool() *PacketPool {
	o := &b.opts
	n := o.processors
	if n == 0 {
		n = ncpu.Count()
	}
	perCore := make([]*Lookaside, n)
	for i := range perCore {
		perCore[i] = NewLookaside(o.newStack(o.perCoreDepth))
	}
	return NewPacketPool(perCore, NewLookaside(o.newStack(o.sharedDepth)), o.heapLimit)
}

// Build creates a port.
func (b *Builder) Build() *Port {
	o := b.opts
	if o.pool == nil {
		o.pool = b.BuildPool()
	}
	if o.name == "" {
		o.name = uuid.NewString()
	}
	if o.releaser == nil {
		o.releaser = discardRequests
	}
	return newPort(o)
}

func (o *Options) newStack(depth int) Stack {
	if o.locked {
		return NewLockedStack(depth)
	}
	return NewRing(depth)
}
