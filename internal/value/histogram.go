package value

import (
	"fmt"
	"sort"

	"github.com/calvinalkan/metricstore/internal/codec"
)

// compressedLengthFlag is the high bit of the 32-bit length prefix (§4.4),
// set when the body uses the compressed (value, count) pair encoding
// rather than bare repeated-by-frequency varints.
const compressedLengthFlag uint32 = 1 << 31

// RawSampleSource lets a Histogram merge directly from a buffered value
// slab (§4.5) without that package depending back on value, and without
// materializing an intermediate Histogram. internal/buffer does not
// implement it; HistogramStore folds buffered rows in through AddValue.
type RawSampleSource interface {
	// ForEachSample calls fn once per stored sample, with repeats for
	// repeated values (fn(v, 1)) or pre-aggregated (fn(v, freq)).
	ForEachSample(fn func(v int64, freq uint32))
}

// Histogram maps a signed sample value to its observed frequency, plus a
// running total sample count (§4.4).
type Histogram struct {
	freq  map[int64]uint32
	total uint64
}

// NewHistogram returns an empty Histogram.
func NewHistogram() *Histogram {
	return &Histogram{freq: make(map[int64]uint32)}
}

func (h *Histogram) Kind() Kind {
	return KindHistogram
}

func (h *Histogram) Clear() {
	h.freq = make(map[int64]uint32)
	h.total = 0
}

// AddValue increments the frequency of v and the total sample count.
func (h *Histogram) AddValue(v int64) {
	h.freq[v]++
	h.total++
}

// Total returns the running total sample count.
func (h *Histogram) Total() uint64 {
	return h.total
}

// MergeFrom accepts another *Histogram, unioning the two frequency maps
// and summing frequencies for shared values (§4.4).
func (h *Histogram) MergeFrom(other Value) error {
	src, ok := other.(*Histogram)
	if !ok {
		return fmt.Errorf("%w: Histogram.MergeFrom: not a Histogram", ErrInvalidArgument)
	}

	for v, f := range src.freq {
		h.freq[v] += f
	}

	h.total += src.total

	return nil
}

// MergeRaw folds every sample in src into h, per §4.4's "slab reference"
// raw-merge variant.
func (h *Histogram) MergeRaw(src RawSampleSource) {
	src.ForEachSample(func(v int64, f uint32) {
		h.freq[v] += f
		h.total += uint64(f)
	})
}

// ForEach calls fn once per distinct sample value with its observed
// frequency, in ascending value order.
func (h *Histogram) ForEach(fn func(v int64, freq uint32)) {
	for _, v := range h.sortedValues() {
		fn(v, h.freq[v])
	}
}

// sortedValues returns the distinct sample values in ascending order.
func (h *Histogram) sortedValues() []int64 {
	vals := make([]int64, 0, len(h.freq))
	for v := range h.freq {
		vals = append(vals, v)
	}

	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })

	return vals
}

// Average returns floor(Σ v·f / Σ f) using 64-bit accumulation (§4.4).
// Returns 0, false on an empty histogram.
func (h *Histogram) Average() (int64, bool) {
	if h.total == 0 {
		return 0, false
	}

	var sum int64
	for v, f := range h.freq {
		sum += v * int64(f)
	}

	return sum / int64(h.total), true
}

// Min returns the smallest observed value. Returns 0, false if empty.
func (h *Histogram) Min() (int64, bool) {
	if len(h.freq) == 0 {
		return 0, false
	}

	min := int64(0)
	first := true

	for v := range h.freq {
		if first || v < min {
			min = v
			first = false
		}
	}

	return min, true
}

// Max returns the largest observed value. Returns 0, false if empty.
func (h *Histogram) Max() (int64, bool) {
	if len(h.freq) == 0 {
		return 0, false
	}

	max := int64(0)
	first := true

	for v := range h.freq {
		if first || v > max {
			max = v
			first = false
		}
	}

	return max, true
}

// Percentile returns the first value whose cumulative frequency is at
// least ceil(p/100 * total), walking distinct values in ascending order
// (§4.4). p must be in [0, 100].
func (h *Histogram) Percentile(p int) (int64, error) {
	if p < 0 || p > 100 {
		return 0, fmt.Errorf("%w: percentile must be in [0, 100], got %d", ErrInvalidArgument, p)
	}

	if h.total == 0 {
		return 0, fmt.Errorf("%w: percentile on empty histogram", ErrInvalidArgument)
	}

	target := (uint64(p)*h.total + 99) / 100

	var cumulative uint64

	for _, v := range h.sortedValues() {
		cumulative += uint64(h.freq[v])
		if cumulative >= target {
			return v, nil
		}
	}

	return h.sortedValues()[len(h.freq)-1], nil
}

// Serialize appends the current-format encoding (§4.4): a 32-bit length
// prefix (high bit = compressed flag) followed by the body. Compression
// is chosen when 2*distinct < total.
func (h *Histogram) Serialize(buf []byte) []byte {
	vals := h.sortedValues()
	compressed := uint64(2*len(vals)) < h.total

	var body []byte

	if compressed {
		for _, v := range vals {
			body = codec.PutVarint(body, v)
			body = codec.PutUvarint(body, uint64(h.freq[v]))
		}
	} else {
		for _, v := range vals {
			f := h.freq[v]
			for i := uint32(0); i < f; i++ {
				body = codec.PutVarint(body, v)
			}
		}
	}

	length := uint32(len(body))
	if compressed {
		length |= compressedLengthFlag
	}

	buf = codec.PutFixedU32(buf, length)
	buf = append(buf, body...)

	return buf
}

// DeserializeHistogram reads a Histogram written by Serialize.
func DeserializeHistogram(buf []byte, pos int) (*Histogram, int, error) {
	lengthWord, pos, err := codec.FixedU32(buf, pos)
	if err != nil {
		return nil, 0, err
	}

	compressed := lengthWord&compressedLengthFlag != 0
	length := int(lengthWord &^ compressedLengthFlag)

	if pos+length > len(buf) {
		return nil, 0, fmt.Errorf("%w: truncated histogram body", codec.ErrCorrupt)
	}

	end := pos + length
	h := NewHistogram()

	for pos < end {
		v, next, err := codec.Varint(buf, pos)
		if err != nil {
			return nil, 0, err
		}

		pos = next

		if compressed {
			f, next, err := codec.Uvarint(buf, pos)
			if err != nil {
				return nil, 0, err
			}

			pos = next
			h.freq[v] += uint32(f)
			h.total += f
		} else {
			h.freq[v]++
			h.total++
		}
	}

	return h, end, nil
}
