// Package keyedstore implements the Keyed Data Store (§4.6): one merged
// buffer plus zero or more unmerged buffers, consolidated via a k-way
// ordered merge once the unmerged buffers grow past a size threshold or
// before the store is serialized/queried.
package keyedstore

import (
	"container/heap"
	"fmt"
	"sync"

	"github.com/calvinalkan/metricstore/internal/buffer"
	"github.com/calvinalkan/metricstore/internal/dimension"
)

// ConsolidationThreshold is the approximate cumulative unmerged-buffer
// size (in rows-worth of bytes) past which new unmerged writes trigger a
// consolidation merge (§4.6: "approximately 8 MiB").
const ConsolidationThreshold = 8 * 1024 * 1024

// defaultWritableCapacity is the row capacity of a freshly-opened writable
// slab; chosen so a handful of fills keeps individual buffers well under
// ConsolidationThreshold.
const defaultWritableCapacity = 4096

// Store holds one counter-dimension-key's worth of keyed data: a single
// merged buffer (the result of the last consolidation) and a list of
// unmerged buffers (the current writable slab plus any sealed-but-not-yet-
// merged buffers, including ones absorbed via TakeData).
type Store struct {
	mu sync.Mutex

	set *dimension.DimensionSet

	writable *buffer.Buffer
	unmerged []*buffer.Buffer
	merged   *buffer.Buffer

	unmergedBytes int64
	dirty         bool
}

// New returns an empty Store over set.
func New(set *dimension.DimensionSet) *Store {
	return &Store{set: set}
}

// DimensionSet returns the set the store's buffers are currently indexed under.
func (s *Store) DimensionSet() *dimension.DimensionSet {
	return s.set
}

// Dirty reports whether the store has unmerged or unpersisted changes.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dirty || s.writable != nil || len(s.unmerged) > 0
}

func (s *Store) rowBytes() int64 {
	return int64(s.set.Len()*4 + 8)
}

// Write appends (key, value) to the store's current writable slab,
// allocating a new one on first use or once the current one is full.
func (s *Store) Write(key dimension.Key, val int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.writable == nil {
			s.writable = buffer.New(s.set, defaultWritableCapacity)
		}

		err := s.writable.TryWrite(key, val)
		if err == nil {
			s.dirty = true
			return nil
		}

		if err != buffer.ErrFull {
			return err
		}

		s.rotateWritableLocked()
	}
}

// rotateWritableLocked seals the current writable slab into the unmerged
// list and, if the cumulative unmerged size has crossed
// ConsolidationThreshold, consolidates immediately. Caller holds s.mu.
func (s *Store) rotateWritableLocked() {
	if s.writable == nil {
		return
	}

	s.writable.Seal()
	s.unmerged = append(s.unmerged, s.writable)
	s.unmergedBytes += int64(s.writable.Len()) * s.rowBytes()
	s.writable = nil

	if s.unmergedBytes >= ConsolidationThreshold {
		s.consolidateLocked()
	}
}

// consolidateLocked remaps+sorts+k-way-merges every unmerged buffer into
// one new unmerged buffer, replacing the unmerged list with it. Caller
// holds s.mu.
func (s *Store) consolidateLocked() {
	if len(s.unmerged) < 2 {
		return
	}

	merged, err := kWayMerge(s.set, s.unmerged)
	if err != nil {
		// A consolidation failure leaves the unmerged list as-is;
		// the next merge() pass will surface the same error.
		return
	}

	s.unmerged = []*buffer.Buffer{merged}
	s.unmergedBytes = int64(merged.Len()) * s.rowBytes()
}

// Merge implements §4.6's merge(): seals the writable slab, remaps+sorts
// all unmerged buffers and the merged buffer together, and reduces them
// via the k-way ordered merge into a single new merged buffer. Called
// before serialization or query.
func (s *Store) Merge() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rotateWritableLocked()

	if len(s.unmerged) == 0 {
		return nil
	}

	inputs := s.unmerged
	if s.merged != nil {
		inputs = append([]*buffer.Buffer{s.merged}, inputs...)
	}

	merged, err := kWayMerge(s.set, inputs)
	if err != nil {
		return fmt.Errorf("keyedstore: merge: %w", err)
	}

	s.merged = merged
	s.unmerged = nil
	s.unmergedBytes = 0
	s.dirty = false

	return nil
}

// TakeData moves other's merged and unmerged buffers into s's unmerged
// list (§4.6), leaving other empty. Safe against concurrent appenders on
// either store.
func (s *Store) TakeData(other *Store) {
	other.mu.Lock()
	other.rotateWritableLocked()

	taken := other.unmerged
	if other.merged != nil {
		taken = append(taken, other.merged)
	}

	var takenBytes int64
	for _, buf := range taken {
		takenBytes += int64(buf.Len()) * other.rowBytes()
	}

	other.unmerged = nil
	other.merged = nil
	other.unmergedBytes = 0
	other.dirty = false
	other.mu.Unlock()

	s.mu.Lock()
	s.unmerged = append(s.unmerged, taken...)
	s.unmergedBytes += takenBytes
	s.dirty = true
	s.mu.Unlock()
}

// ForEach enumerates every row in the merged buffer (after Merge has been
// called), optionally filtered by filter.
func (s *Store) ForEach(filter *dimension.Key, fn func(key dimension.Key, value int64) bool) {
	s.mu.Lock()
	merged := s.merged
	s.mu.Unlock()

	if merged == nil {
		return
	}

	merged.ForEach(filter, fn)
}

// Len returns the number of distinct keys in the merged buffer.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.merged == nil {
		return 0
	}

	return s.merged.Len()
}

// Serialize appends the merged buffer's rows. Callers must Merge first if
// there may be unmerged writes pending.
func (s *Store) Serialize(buf []byte) []byte {
	s.mu.Lock()
	merged := s.merged
	s.mu.Unlock()

	if merged == nil {
		return buf
	}

	return merged.Serialize(buf)
}

// kWayMerge remaps every input buffer to set, sorts each, and reduces them
// via the k-way ordered merge described in §4.6: at each step the minimum
// key across all non-exhausted streams is selected; every stream whose
// next key equals that minimum contributes its value to an accumulator
// (summed, matching HitCount/Histogram-raw accumulation); one row is
// emitted per distinct key.
func kWayMerge(set *dimension.DimensionSet, buffers []*buffer.Buffer) (*buffer.Buffer, error) {
	total := 0

	cursors := make([]*cursor, 0, len(buffers))

	for _, buf := range buffers {
		if !buf.Sealed() {
			buf.Seal()
		}

		if buf.DimensionSet() != set {
			conv := dimension.NewConverter(set, buf.DimensionSet())
			if err := buf.Remap(conv, set); err != nil {
				return nil, err
			}
		}

		if err := buf.Sort(); err != nil {
			return nil, err
		}

		total += buf.Len()

		if buf.Len() == 0 {
			continue
		}

		keys := make([]dimension.Key, 0, buf.Len())
		vals := make([]int64, 0, buf.Len())

		buf.ForEach(nil, func(k dimension.Key, v int64) bool {
			keys = append(keys, k)
			vals = append(vals, v)
			return true
		})

		cursors = append(cursors, &cursor{keys: keys, vals: vals})
	}

	out := buffer.New(set, total)

	h := &cursorHeap{cursors: cursors}
	heap.Init(h)

	for h.Len() > 0 {
		minKey := h.cursors[0].key()
		var acc int64

		for h.Len() > 0 && h.cursors[0].key().Equal(minKey) {
			c := h.cursors[0]
			acc += c.val()

			if c.advance() {
				heap.Fix(h, 0)
			} else {
				heap.Pop(h)
			}
		}

		if err := out.TryWrite(minKey, acc); err != nil {
			return nil, err
		}
	}

	out.Seal()

	return out, nil
}

// cursor walks one sorted (keys, vals) stream during the k-way merge.
type cursor struct {
	keys []dimension.Key
	vals []int64
	pos  int
}

func (c *cursor) key() dimension.Key { return c.keys[c.pos] }
func (c *cursor) val() int64         { return c.vals[c.pos] }

// advance moves to the next row, returning false if the stream is now
// exhausted.
func (c *cursor) advance() bool {
	c.pos++
	return c.pos < len(c.keys)
}

// cursorHeap is a container/heap min-heap over cursors' current keys.
type cursorHeap struct {
	cursors []*cursor
}

func (h *cursorHeap) Len() int { return len(h.cursors) }

func (h *cursorHeap) Less(i, j int) bool {
	return h.cursors[i].key().Compare(h.cursors[j].key()) < 0
}

func (h *cursorHeap) Swap(i, j int) {
	h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i]
}

func (h *cursorHeap) Push(x any) {
	h.cursors = append(h.cursors, x.(*cursor))
}

func (h *cursorHeap) Pop() any {
	n := len(h.cursors)
	last := h.cursors[n-1]
	h.cursors = h.cursors[:n-1]

	return last
}
