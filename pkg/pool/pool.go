// Package pool provides typed object pools with usage statistics.
//
//	bufs := pool.New(
//	    func() *bytes.Buffer { return new(bytes.Buffer) },
//	    func(b *bytes.Buffer) { b.Reset() },
//	)
//	buf := bufs.Get()
//	defer bufs.Put(buf)
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// Pool is a type safe wrapper of sync.Pool. It is safe for concurrent use.
type Pool[T any] struct {
	pool   sync.Pool
	reset  func(T)
	accept func(T) bool

	allocated atomic.Int64
	inUse     atomic.Int64
	gets      atomic.Int64
}

// Option configures a pool
type Option[T any] func(*Pool[T])

// WithAccept drops objects rejected by accept instead of pooling them,
// e.g. buffers that grew too large
func WithAccept[T any](accept func(T) bool) Option[T] {
	return func(p *Pool[T]) { p.accept = accept }
}

// New creates a pool. reset, if not nil, runs before an object is pooled.
func New[T any](newFn func() T, reset func(T), opts ...Option[T]) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		p.allocated.Add(1)
		return newFn()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Get takes an object from the pool, allocating when it is empty
func (p *Pool[T]) Get() T {
	p.gets.Add(1)
	p.inUse.Add(1)
	return p.pool.Get().(T)
}

// Put returns obj to the pool
func (p *Pool[T]) Put(obj T) {
	p.inUse.Add(-1)
	if p.accept != nil && !p.accept(obj) {
		return
	}
	if p.reset != nil {
		p.reset(obj)
	}
	p.pool.Put(obj)
}

// Stats reports the objects allocated so far, the objects currently taken,
// and how many Gets were served without allocating
func (p *Pool[T]) Stats() (allocated, inUse, hits int64) {
	allocated = p.allocated.Load()
	hits = p.gets.Load() - allocated
	if hits < 0 {
		hits = 0
	}
	return allocated, p.inUse.Load(), hits
}

const maxPooledBuffer = 1 << 20

// Buffers pools byte buffers up to 1 MiB
var Buffers = New(
	func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, 4096)) },
	func(b *bytes.Buffer) { b.Reset() },
	WithAccept(func(b *bytes.Buffer) bool { return b.Cap() <= maxPooledBuffer }),
)
