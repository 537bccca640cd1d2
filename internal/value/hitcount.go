package value

import (
	"fmt"

	"github.com/calvinalkan/metricstore/internal/codec"
)

// HitCount is a signed 64-bit running sum (§4.4).
type HitCount struct {
	sum int64
}

// NewHitCount returns a zeroed HitCount.
func NewHitCount() *HitCount {
	return &HitCount{}
}

// Add adds n to the running sum.
func (h *HitCount) Add(n int64) {
	h.sum += n
}

// Sum returns the current running sum.
func (h *HitCount) Sum() int64 {
	return h.sum
}

func (h *HitCount) Kind() Kind {
	return KindHitCount
}

func (h *HitCount) Clear() {
	h.sum = 0
}

// MergeFrom accepts either another *HitCount or an int64 raw value, per
// §4.4's "accepts either another hit count or a single 64-bit value".
func (h *HitCount) MergeFrom(other Value) error {
	src, ok := other.(*HitCount)
	if !ok {
		return fmt.Errorf("%w: HitCount.MergeFrom: not a HitCount", ErrInvalidArgument)
	}

	h.sum += src.sum

	return nil
}

// MergeRaw folds a single 64-bit value into the sum directly, without
// going through the Value interface (used by ingest, which only ever has
// a raw increment on hand).
func (h *HitCount) MergeRaw(n int64) {
	h.sum += n
}

// Serialize appends the fixed-length 64-bit encoding of the sum (§4.4).
func (h *HitCount) Serialize(buf []byte) []byte {
	return codec.PutFixedI64(buf, h.sum)
}

// DeserializeHitCount reads a HitCount written by Serialize.
func DeserializeHitCount(buf []byte, pos int) (*HitCount, int, error) {
	n, next, err := codec.FixedI64(buf, pos)
	if err != nil {
		return nil, 0, err
	}

	return &HitCount{sum: n}, next, nil
}
