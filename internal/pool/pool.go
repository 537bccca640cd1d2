// Package pool provides a recyclable byte-slab pool for bucket
// serialization and keyed-data-store scratch buffers (§5 "Resource
// policy": "a recyclable memory buffer pool provides pre-sized slabs for
// serialization and for raw key/value stores").
package pool

import "sync"

// SlabPool hands out byte slices pre-sized to minSize, recycling
// returned slabs via sync.Pool rather than allocating on every request.
type SlabPool struct {
	minSize int
	pool    sync.Pool
}

// New returns a SlabPool whose slabs are allocated with at least minSize
// capacity.
func New(minSize int) *SlabPool {
	p := &SlabPool{minSize: minSize}

	p.pool.New = func() any {
		buf := make([]byte, 0, minSize)
		return &buf
	}

	return p
}

// Get returns a zero-length slab with at least minSize capacity.
func (p *SlabPool) Get() []byte {
	buf := p.pool.Get().(*[]byte)
	return (*buf)[:0]
}

// Put returns buf to the pool for reuse. Callers must not use buf after
// calling Put. Slabs that grew well beyond minSize are dropped rather
// than retained, so one oversized serialization does not permanently
// inflate the pool's footprint.
func (p *SlabPool) Put(buf []byte) {
	if cap(buf) > p.minSize*8 {
		return
	}

	p.pool.Put(&buf)
}
