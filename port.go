// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package iocp

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"github.com/rs/zerolog"
)

// InformationClass selects what Query reports.
type InformationClass uint32

const (
	// BasicInformation reports the queue depth as a little-endian int32.
	BasicInformation InformationClass = iota
)

// BasicInformationSize is the buffer length BasicInformation requires.
const BasicInformationSize = 4

// Port is an I/O completion port.
//
// Producers post completions with Post or hand finished requests over
// with Complete. Consumers wait for them with Remove. At most the
// configured concurrency of threads are active against a port at once.
//
// Post, Complete, Depth and Query never block. Remove is the only call
// that waits.
type Port struct {
	name   string
	queue  *Queue
	dsp    disposer
	logger zerolog.Logger

	closed atomix.Bool
	once   sync.Once
}

func newPort(o Options) *Port {
	p := &Port{
		name:   o.name,
		queue:  NewQueue(o.concurrency),
		dsp:    disposer{pool: o.pool, releaser: o.releaser},
		logger: o.logger.With().Str("port", o.name).Logger(),
	}
	p.logger.Debug().
		Int("concurrency", p.queue.Limit()).
		Int("processors", o.pool.Processors()).
		Msg("completion port created")
	return p
}

// Name returns the port's name.
func (p *Port) Name() string { return p.name }

// Concurrency returns the maximum number of concurrently active threads.
func (p *Port) Concurrency() int { return p.queue.Limit() }

// Pool returns the packet pool the port allocates from.
func (p *Port) Pool() *PacketPool { return p.dsp.pool }

// Queue returns the port's completion queue.
func (p *Port) Queue() *Queue { return p.queue }

// Post queues a completion carrying comp.
//
// The packet is allocated as c; with chargeQuota set a heap fallback is
// charged to c.Quota. Returns an error wrapping [ErrResourceExhausted] if
// no packet could be allocated, or [ErrObjectReference] if the port has
// been closed.
func (p *Port) Post(c Caller, comp Completion, chargeQuota bool) error {
	if p.closed.LoadAcquire() {
		return ErrObjectReference
	}
	pkt, err := p.dsp.pool.Allocate(c, chargeQuota)
	if err != nil {
		p.logger.Warn().Err(err).Bool("quota", chargeQuota).Msg("completion packet allocation failed")
		return err
	}
	pkt.install(comp)
	if !p.queue.tryInsert(PacketEntry(pkt)) {
		p.dsp.pool.Free(c, pkt)
		return ErrObjectReference
	}
	return nil
}

// Complete queues a finished request. The request's own completion record
// is delivered by Remove, after which the request goes to the port's
// [Releaser]. Returns [ErrObjectReference] if the port has been closed, in
// which case the request still belongs to the caller.
func (p *Port) Complete(r Request) error {
	if p.closed.LoadAcquire() {
		return ErrObjectReference
	}
	if !p.queue.tryInsert(RequestEntry(r)) {
		return ErrObjectReference
	}
	return nil
}

// Remove waits for a completion on behalf of t. See [Queue.Remove] for the
// admission rule and the meaning of timeout. The entry is released before
// Remove returns: a standalone packet to the pool as t.Caller, a request
// to the port's Releaser.
func (p *Port) Remove(ctx context.Context, t *Thread, timeout time.Duration) (Completion, error) {
	if p.closed.LoadAcquire() {
		return Completion{}, ErrObjectReference
	}
	e, err := p.queue.Remove(ctx, t, timeout)
	if err != nil {
		return Completion{}, err
	}
	return p.dsp.extract(e, t.Caller), nil
}

// Depth returns the number of pending completions. The value is a snapshot.
func (p *Port) Depth() int { return p.queue.Depth() }

// Query writes the information selected by class into buf and returns the
// number of bytes written. Returns [ErrInvalidInfoClass] or
// [ErrInfoLengthMismatch] for malformed requests.
func (p *Port) Query(class InformationClass, buf []byte) (int, error) {
	if err := validateQuery(class, buf); err != nil {
		return 0, err
	}
	binary.LittleEndian.PutUint32(buf, uint32(int32(p.queue.Depth())))
	return BasicInformationSize, nil
}

// validateQuery checks a Query request before any port state is read.
func validateQuery(class InformationClass, buf []byte) error {
	if class != BasicInformation {
		return ErrInvalidInfoClass
	}
	if len(buf) != BasicInformationSize {
		return ErrInfoLengthMismatch
	}
	return nil
}

// Close deletes a port that is not managed by a [Directory]. Pending
// completions are released as c without being delivered, and every
// blocked Remove returns [ErrCancelled]. Close is idempotent.
func (p *Port) Close(c Caller) {
	p.delete(c)
}

// delete runs the port down and releases every undelivered entry.
// A panic from a Releaser is a leak and is not recovered.
func (p *Port) delete(c Caller) {
	p.once.Do(func() {
		p.closed.StoreRelease(true)
		var packets, requests int
		for _, e := range p.queue.Rundown() {
			if e.request != nil {
				requests++
			} else {
				packets++
			}
			p.dsp.release(e, c)
		}
		p.logger.Debug().
			Int("packets", packets).
			Int("requests", requests).
			Msg("completion port deleted")
	})
}
