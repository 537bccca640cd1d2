package dimension

import (
	"github.com/calvinalkan/metricstore/internal/codec"
)

// Key is a fixed-length tuple of 32-bit dimension-value indices, one per
// dimension of the [DimensionSet] it belongs to (§3, §4.3). Keys are
// freely copyable.
type Key struct {
	values []uint32
}

// NewKey returns a Key wrapping values directly (no copy). Callers that do
// not own values exclusively should copy first.
func NewKey(values []uint32) Key {
	return Key{values: values}
}

// WildcardKey returns a Key of length n with every slot set to [Wildcard].
func WildcardKey(n int) Key {
	v := make([]uint32, n)
	for i := range v {
		v[i] = Wildcard
	}

	return Key{values: v}
}

// Len returns the key's arity (number of dimensions).
func (k Key) Len() int { return len(k.values) }

// At returns the index stored at slot i.
func (k Key) At(i int) uint32 { return k.values[i] }

// WithSlot returns a copy of k with slot i set to v, leaving k unmodified.
func (k Key) WithSlot(i int, v uint32) Key {
	out := make([]uint32, len(k.values))
	copy(out, k.values)
	out[i] = v

	return Key{values: out}
}

// Clone returns an independent copy of k.
func (k Key) Clone() Key {
	out := make([]uint32, len(k.values))
	copy(out, k.values)

	return Key{values: out}
}

// Raw exposes the underlying slice read-only; callers must not mutate it.
func (k Key) Raw() []uint32 { return k.values }

// Compare returns -1, 0, or 1 using lexicographic order over the index
// tuple (§4.3).
func (k Key) Compare(other Key) int {
	n := len(k.values)
	if len(other.values) < n {
		n = len(other.values)
	}

	for i := 0; i < n; i++ {
		if k.values[i] < other.values[i] {
			return -1
		}

		if k.values[i] > other.values[i] {
			return 1
		}
	}

	switch {
	case len(k.values) < len(other.values):
		return -1
	case len(k.values) > len(other.values):
		return 1
	default:
		return 0
	}
}

// Equal reports whether k and other have identical tuples.
func (k Key) Equal(other Key) bool {
	return k.Compare(other) == 0
}

// Matches implements the wildcard-aware matching semantics of §3: a key
// with wildcards matches another key iff every non-wildcard position in k
// equals the corresponding position in other.
func (k Key) Matches(other Key) bool {
	if len(k.values) != len(other.values) {
		return false
	}

	for i, v := range k.values {
		if v == Wildcard {
			continue
		}

		if v != other.values[i] {
			return false
		}
	}

	return true
}

// Serialize appends the key's fixed-length wire representation: n
// consecutive 32-bit indices.
func (k Key) Serialize(buf []byte) []byte {
	for _, v := range k.values {
		buf = codec.PutFixedU32(buf, v)
	}

	return buf
}

// DeserializeKey reads n consecutive 32-bit indices starting at buf[pos].
func DeserializeKey(buf []byte, pos int, n int) (Key, int, error) {
	values := make([]uint32, n)

	for i := 0; i < n; i++ {
		v, next, err := codec.FixedU32(buf, pos)
		if err != nil {
			return Key{}, 0, err
		}

		values[i] = v
		pos = next
	}

	return Key{values: values}, pos, nil
}
