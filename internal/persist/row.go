package persist

import (
	"fmt"

	"github.com/calvinalkan/metricstore/internal/codec"
	"github.com/calvinalkan/metricstore/internal/dimension"
	"github.com/calvinalkan/metricstore/internal/value"
)

// Row is one persisted (key, value) pair. Exactly one of HitCount or
// Histogram is set, matching the block's DataType.
type Row struct {
	Key       dimension.Key
	HitCount  *value.HitCount
	Histogram *value.Histogram
}

// encodeData appends the data frame payload for rows under dataType: each
// row's key followed by either a fixed 64-bit hit-count value or a u32
// pointer into the histogram supplemental buffer appended after the last
// row (§6.1).
func encodeData(buf []byte, dataType DataType, rows []Row) ([]byte, error) {
	var supplemental []byte

	for _, row := range rows {
		buf = row.Key.Serialize(buf)

		switch dataType {
		case DataTypeHitCount:
			if row.HitCount == nil {
				return nil, fmt.Errorf("%w: hit-count row missing value", ErrCorrupt)
			}

			buf = row.HitCount.Serialize(buf)

		case DataTypeHistogram:
			if row.Histogram == nil {
				return nil, fmt.Errorf("%w: histogram row missing value", ErrCorrupt)
			}

			offset := uint32(len(supplemental))
			buf = codec.PutFixedU32(buf, offset)
			supplemental = row.Histogram.Serialize(supplemental)

		default:
			return nil, fmt.Errorf("%w: unknown data-type code %d", ErrCorrupt, dataType)
		}
	}

	buf = append(buf, supplemental...)

	return buf, nil
}

// decodeData reads count rows (plus the trailing supplemental buffer, for
// histograms) from a data frame payload under set and dataType.
func decodeData(buf []byte, set *dimension.DimensionSet, dataType DataType, count uint32) ([]Row, error) {
	arity := set.Len()
	rows := make([]Row, count)
	pos := 0

	// Histogram rows store a pointer into the supplemental buffer that
	// follows the last row, so the rows themselves must be scanned
	// first to know where that buffer starts.
	type pending struct {
		offset uint32
	}

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
			h, _, err := value.DeserializeHistogram(buf, supplementalStart+int(p.offset))
			if err != nil {
				return nil, err
			}

			rows[i].Histogram = h
		}
	}

	return rows, nil
}
