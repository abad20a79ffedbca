// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package iocp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Access is a set of rights held by a [Handle].
type Access uint32

const (
	// AccessQueryState permits Depth and Query.
	AccessQueryState Access = 1 << iota
	// AccessModifyState permits Post, Complete and Remove.
	AccessModifyState

	// AccessAll grants every right.
	AccessAll = AccessQueryState | AccessModifyState
)

// Directory is a namespace of completion ports with reference-counted
// handles. All ports in a directory share one packet pool.
//
// A port lives as long as any handle to it is open. Closing the last
// handle removes the name and deletes the port: undelivered completions
// are released and blocked consumers return [ErrCancelled].
type Directory struct {
	mu      sync.Mutex
	objects map[string]*object
	pool    *PacketPool
	logger  zerolog.Logger
}

type object struct {
	port *Port
	refs int // Guarded by Directory.mu
}

// NewDirectory creates an empty directory. Its shared packet pool and its
// logger come from b; a nil b uses [New] defaults.
func NewDirectory(b *Builder) *Directory {
	if b == nil {
		b = New()
	}
	pool := b.opts.pool
	if pool == nil {
		pool = b.BuildPool()
	}
	return &Directory{
		objects: make(map[string]*object),
		pool:    pool,
		logger:  b.opts.logger,
	}
}

// Pool returns the packet pool shared by the directory's ports.
func (d *Directory) Pool() *PacketPool { return d.pool }

// Create makes a port named name and opens a handle to it with access.
// An empty name is replaced by a random UUID. The port's queue and
// releaser settings come from b (nil for defaults); its packet pool is
// always the directory's. Returns an error wrapping [ErrNameCollision] if
// name is taken.
func (d *Directory) Create(name string, access Access, b *Builder) (*Handle, error) {
	if b == nil {
		b = New()
	}
	if name == "" {
		name = uuid.NewString()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.objects[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrNameCollision, name)
	}

	o := b.opts
	o.name = name
	o.pool = d.pool
	if o.releaser == nil {
		o.releaser = discardRequests
	}
	if !b.hasLogger() {
		o.logger = d.logger
	}
	obj := &object{port: newPort(o), refs: 1}
	d.objects[name] = obj
	return &Handle{dir: d, obj: obj, access: access}, nil
}

// Open returns a new handle with access to the port named name.
// Returns an error wrapping [ErrObjectReference] if no such port exists.
func (d *Directory) Open(name string, access Access) (*Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj, ok := d.objects[name]
	if !ok {
		return nil, fmt.Errorf("%w: no port named %q", ErrObjectReference, name)
	}
	obj.refs++
	d.logger.Debug().Str("port", name).Int("refs", obj.refs).Msg("completion port opened")
	return &Handle{dir: d, obj: obj, access: access}, nil
}

// Len returns the number of ports in the directory.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.objects)
}

// release drops one reference to obj, deleting the port on the last one.
func (d *Directory) release(obj *object, c Caller) {
	d.mu.Lock()
	obj.refs--
	last := obj.refs == 0
	if last {
		delete(d.objects, obj.port.name)
	}
	refs := obj.refs
	d.mu.Unlock()

	d.logger.Debug().Str("port", obj.port.name).Int("refs", refs).Msg("completion port handle closed")
	if last {
		obj.port.delete(c)
	}
}

// Handle is one open reference to a port in a [Directory].
//
// Every operation checks the handle's access rights and returns an error
// wrapping [ErrObjectReference] on a closed handle.
type Handle struct {
	dir    *Directory
	obj    *object
	access Access
	closed atomix.Bool
	once   sync.Once
}

// Name returns the port's name.
func (h *Handle) Name() string { return h.obj.port.name }

// Access returns the rights the handle was opened with.
func (h *Handle) Access() Access { return h.access }

func (h *Handle) check(want Access) (*Port, error) {
	if h.closed.LoadAcquire() {
		return nil, fmt.Errorf("%w: handle closed", ErrObjectReference)
	}
	if h.access&want != want {
		return nil, ErrAccessDenied
	}
	return h.obj.port, nil
}

// Post is [Port.Post] through the handle. Requires [AccessModifyState].
func (h *Handle) Post(c Caller, comp Completion, chargeQuota bool) error {
	p, err := h.check(AccessModifyState)
	if err != nil {
		return err
	}
	return p.Post(c, comp, chargeQuota)
}

// Complete is [Port.Complete] through the handle. Requires
// [AccessModifyState].
func (h *Handle) Complete(r Request) error {
	p, err := h.check(AccessModifyState)
	if err != nil {
		return err
	}
	return p.Complete(r)
}

// Remove is [Port.Remove] through the handle. Requires [AccessModifyState].
func (h *Handle) Remove(ctx context.Context, t *Thread, timeout time.Duration) (Completion, error) {
	p, err := h.check(AccessModifyState)
	if err != nil {
		return Completion{}, err
	}
	return p.Remove(ctx, t, timeout)
}

// Depth is [Port.Depth] through the handle. Requires [AccessQueryState].
func (h *Handle) Depth() (int, error) {
	p, err := h.check(AccessQueryState)
	if err != nil {
		return 0, err
	}
	return p.Depth(), nil
}

// Query is [Port.Query] through the handle. Requires [AccessQueryState].
// Malformed arguments are reported before the handle is checked.
func (h *Handle) Query(class InformationClass, buf []byte) (int, error) {
	if err := validateQuery(class, buf); err != nil {
		return 0, err
	}
	p, err := h.check(AccessQueryState)
	if err != nil {
		return 0, err
	}
	return p.Query(class, buf)
}

// Close releases the handle's reference. Closing the last handle deletes
// the port, releasing undelivered completions as c. A second Close
// returns an error wrapping [ErrObjectReference].
func (h *Handle) Close(c Caller) error {
	err := fmt.Errorf("%w: handle already closed", ErrObjectReference)
	h.once.Do(func() {
		h.closed.StoreRelease(true)
		h.dir.release(h.obj, c)
		err = nil
	})
	return err
}
