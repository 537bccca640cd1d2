package dimension

import (
	"fmt"
	"sort"
	"sync"
)

// DimensionSet is the ordered tuple of [Dimension]s attached to a counter
// (§3). Two sets are equal if they contain the same named dimensions in
// any order.
type DimensionSet struct {
	dims []*Dimension

	wildcardOnce sync.Once
	wildcardKey  Key
}

// NewSet builds a DimensionSet from dims in the given order. Panics if any
// two dimensions share a name (case-insensitively) - that is a programming
// error, not a runtime condition callers should recover from.
func NewSet(dims ...*Dimension) *DimensionSet {
	for i := range dims {
		for j := i + 1; j < len(dims); j++ {
			if dims[i].Equal(dims[j]) {
				panic(fmt.Sprintf("dimension: duplicate dimension name %q in set", dims[i].Name()))
			}
		}
	}

	cp := make([]*Dimension, len(dims))
	copy(cp, dims)

	return &DimensionSet{dims: cp}
}

// Len returns the number of dimensions in the set.
func (s *DimensionSet) Len() int { return len(s.dims) }

// At returns the dimension at position i.
func (s *DimensionSet) At(i int) *Dimension { return s.dims[i] }

// Dimensions returns a read-only view of the set's dimensions in order.
func (s *DimensionSet) Dimensions() []*Dimension { return s.dims }

// Equal reports whether s and other contain the same named dimensions, in
// any order (§3).
func (s *DimensionSet) Equal(other *DimensionSet) bool {
	if s == nil || other == nil {
		return s == other
	}

	if len(s.dims) != len(other.dims) {
		return false
	}

	remaining := make([]*Dimension, len(other.dims))
	copy(remaining, other.dims)

	for _, d := range s.dims {
		found := -1

		for i, o := range remaining {
			if o != nil && d.Equal(o) {
				found = i
				break
			}
		}

		if found == -1 {
			return false
		}

		remaining[found] = nil
	}

	return true
}

// OffsetOf returns the slot index of the dimension named name. Fails with
// [ErrUnknownDimension] if no dimension in the set has that name (§4.3).
func (s *DimensionSet) OffsetOf(name string) (int, error) {
	for i, d := range s.dims {
		if sameName(d.Name(), name) {
			return i, nil
		}
	}

	return -1, fmt.Errorf("%w: %q", ErrUnknownDimension, name)
}

func sameName(a, b string) bool {
	d := New(a)
	return d.Equal(New(b))
}

// GetWildcardKey returns a cached all-wildcard key of this set's arity
// (§4.3: "cached per set-length for common sizes").
func (s *DimensionSet) GetWildcardKey() Key {
	s.wildcardOnce.Do(func() {
		s.wildcardKey = WildcardKey(len(s.dims))
	})

	return s.wildcardKey
}

// CreateKey resolves dict (dimension name -> value string) into a Key
// under this set: for every dimension in the set, look up its name in
// dict; if present, resolve through IndexOf, otherwise use Wildcard.
// Returns the key plus whether every dimension's value was supplied
// (§4.3).
func (s *DimensionSet) CreateKey(dict map[string]string) (Key, bool, error) {
	values := make([]uint32, len(s.dims))
	allProvided := true

	for i, d := range s.dims {
		v, ok := dict[d.Name()]
		if !ok {
			v, ok = lookupCaseInsensitive(dict, d.Name())
		}

		if !ok {
			values[i] = Wildcard
			allProvided = false

			continue
		}

		idx, err := d.IndexOf(v)
		if err != nil {
			return Key{}, false, err
		}

		values[i] = idx
	}

	return Key{values: values}, allProvided, nil
}

func lookupCaseInsensitive(dict map[string]string, name string) (string, bool) {
	for k, v := range dict {
		if sameName(k, name) {
			return v, true
		}
	}

	return "", false
}

// ReorderByPopularity returns a new DimensionSet with the same dimensions
// sorted by descending number of interned values (§3: "dimensions may be
// reordered heuristically (most-populous first) to shorten sort keys").
// Ties keep their original relative order.
func (s *DimensionSet) ReorderByPopularity() *DimensionSet {
	ordered := make([]*Dimension, len(s.dims))
	copy(ordered, s.dims)

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Len() > ordered[j].Len()
	})

	return NewSet(ordered...)
}
