// Package dimension implements the dimension-keyed column store's static
// schema pieces: interned [Dimension] value tables, the ordered
// [DimensionSet] attached to a counter, the fixed-length [Key] tuple, and
// the [Converter] used to remap a key from one dimension set to another.
package dimension

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/calvinalkan/metricstore/internal/codec"
)

// Wildcard is the reserved sentinel index meaning "unset / any" (§3).
const Wildcard uint32 = 0xFFFFFFFF

// MaxValues is the maximum number of distinct values a single Dimension may
// hold (§3: "Maximum distinct values per dimension: 2^20").
const MaxValues = 1 << 20

// Sentinel errors.
var (
	ErrUnknownDimension = errors.New("dimension: unknown dimension")
	ErrReservedName     = errors.New("dimension: reserved dimension name")
	ErrTooManyValues    = errors.New("dimension: too many distinct values")
	ErrInvalidArgument  = errors.New("dimension: invalid argument")
)

// reservedNames holds the dimension names §3 reserves for query plumbing;
// a counter may not define a user dimension with one of these names.
var reservedNames = map[string]struct{}{
	"starttime":   {},
	"endtime":     {},
	"environment": {},
	"datacenter":  {},
	"machine":     {},
	"percentile":  {},
	"split-by":    {},
	"aggregate":   {},
}

// IsReservedName reports whether name (compared case-insensitively) is one
// of the reserved dimension names that may not be used for a user-defined
// dimension.
func IsReservedName(name string) bool {
	_, ok := reservedNames[strings.ToLower(name)]
	return ok
}

// Dimension is a named, case-insensitive, immutable-name label with a
// dense, append-only index of the string values observed for it so far.
//
// Safe for concurrent use: indexOf is called from every ingest goroutine
// touching this dimension, so the index table is guarded by a mutex per
// §5 ("Each dimension's index list is guarded by a mutex... never held
// across I/O").
type Dimension struct {
	name string // original case, used for serialization/display

	mu        sync.Mutex
	values    []string       // index -> value
	index     map[string]uint32
	whitelist map[string]struct{} // nil means unrestricted
}

// New creates a Dimension with the given display name and no whitelist.
func New(name string) *Dimension {
	return &Dimension{
		name:  name,
		index: make(map[string]uint32),
	}
}

// NewWithWhitelist creates a Dimension restricted to the given set of
// allowed values; values outside the whitelist resolve to [Wildcard] on
// write (§3). The allowed values are interned up front, in the given
// order, so Len reports the full whitelist from construction on.
func NewWithWhitelist(name string, allowed []string) *Dimension {
	d := New(name)

	if allowed != nil {
		wl := make(map[string]struct{}, len(allowed))
		for _, v := range allowed {
			wl[v] = struct{}{}

			if _, seen := d.index[v]; !seen && v != "" {
				d.index[v] = uint32(len(d.values))
				d.values = append(d.values, v)
			}
		}

		d.whitelist = wl
	}

	return d
}

// Name returns the dimension's display name.
func (d *Dimension) Name() string { return d.name }

// Equal reports whether d and other share the same name, compared
// case-insensitively (§3).
func (d *Dimension) Equal(other *Dimension) bool {
	if d == nil || other == nil {
		return d == other
	}

	return strings.EqualFold(d.name, other.name)
}

// IndexOf returns the dense index for value, allocating a new one if value
// has not been seen before. Returns [Wildcard] for an empty string or for
// a value outside the whitelist (if one is configured).
func (d *Dimension) IndexOf(value string) (uint32, error) {
	if value == "" {
		return Wildcard, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.whitelist != nil {
		if _, ok := d.whitelist[value]; !ok {
			return Wildcard, nil
		}
	}

	if idx, ok := d.index[value]; ok {
		return idx, nil
	}

	if len(d.values) >= MaxValues {
		return 0, fmt.Errorf("%w: dimension %q has %d values", ErrTooManyValues, d.name, len(d.values))
	}

	idx := uint32(len(d.values))
	d.values = append(d.values, value)
	d.index[value] = idx

	return idx, nil
}

// StringAt returns the value string stored at index, or "" if index is
// [Wildcard] or otherwise out of range.
func (d *Dimension) StringAt(index uint32) string {
	if index == Wildcard {
		return ""
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if int(index) >= len(d.values) {
		return ""
	}

	return d.values[index]
}

// Len returns the number of distinct values interned so far. Used by
// DimensionSet's most-populous-first reordering heuristic.
func (d *Dimension) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.values)
}

// snapshot returns a copy of the current value list, used by Serialize so
// the lock is not held across I/O.
func (d *Dimension) snapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]string, len(d.values))
	copy(out, d.values)

	return out
}

// Serialize appends the dimension's wire representation to buf: name
// string, varint value count, then each value string in index order
// (§4.2).
func (d *Dimension) Serialize(buf []byte) []byte {
	values := d.snapshot()

	buf = codec.PutString(buf, d.name)
	buf = codec.PutUvarint(buf, uint64(len(values)))

	for _, v := range values {
		buf = codec.PutString(buf, v)
	}

	return buf
}

// Deserialize reads a Dimension written by Serialize starting at buf[pos].
// Returns [codec.ErrCorrupt] wrapped with additional context if a value is
// duplicated (§4.2: "Duplicate values on load fail with CorruptData").
func Deserialize(buf []byte, pos int) (*Dimension, int, error) {
	name, pos, err := codec.String(buf, pos)
	if err != nil {
		return nil, 0, err
	}

	count, pos, err := codec.Uvarint(buf, pos)
	if err != nil {
		return nil, 0, err
	}

	d := New(name)

	for i := uint64(0); i < count; i++ {
		var value string

		value, pos, err = codec.String(buf, pos)
		if err != nil {
			return nil, 0, err
		}

		if _, exists := d.index[value]; exists {
			return nil, 0, fmt.Errorf("%w: duplicate dimension value %q in %q", codec.ErrCorrupt, value, name)
		}

		d.index[value] = uint32(len(d.values))
		d.values = append(d.values, value)
	}

	return d, pos, nil
}
