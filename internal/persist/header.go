package persist

import (
	"fmt"
	"strings"

	"github.com/calvinalkan/metricstore/internal/codec"
	"github.com/calvinalkan/metricstore/internal/dimension"
)

// Header is the decoded form of a block's header payload (§6.1).
type Header struct {
	Name         string
	StartTimeMS  int64
	EndTimeMS    int64
	DataType     DataType
	Sources      []Source
	DimensionSet *dimension.DimensionSet
	DataCount    uint32
}

// encodeHeader appends Header h in the current-version wire format.
func encodeHeader(buf []byte, h Header) []byte {
	buf = codec.PutString(buf, h.Name)
	buf = codec.PutVarint(buf, h.StartTimeMS)
	buf = codec.PutVarint(buf, h.EndTimeMS)
	buf = codec.PutVarint(buf, int64(h.DataType))

	buf = codec.PutVarint(buf, int64(len(h.Sources)))
	for _, src := range h.Sources {
		buf = codec.PutString(buf, src.Name)
		buf = codec.PutVarint(buf, int64(src.Status))
	}

	buf = codec.PutVarint(buf, int64(h.DimensionSet.Len()))

	for i := 0; i < h.DimensionSet.Len(); i++ {
		buf = h.DimensionSet.At(i).Serialize(buf)
	}

	buf = codec.PutUvarint(buf, uint64(h.DataCount))

	return buf
}

// decodeHeader parses a header payload written by encodeHeader.
func decodeHeader(buf []byte) (Header, error) {
	var h Header

	pos := 0

	name, pos, err := codec.String(buf, pos)
	if err != nil {
		return h, err
	}

	h.Name = name

	h.StartTimeMS, pos, err = codec.Varint(buf, pos)
	if err != nil {
		return h, err
	}

	h.EndTimeMS, pos, err = codec.Varint(buf, pos)
	if err != nil {
		return h, err
	}

	dataType, pos, err := codec.Varint(buf, pos)
	if err != nil {
		return h, err
	}

	h.DataType = DataType(dataType)
	if h.DataType != DataTypeHitCount && h.DataType != DataTypeHistogram {
		return h, fmt.Errorf("%w: unknown data-type code %d", ErrCorrupt, dataType)
	}

	srcCount, pos, err := codec.Varint(buf, pos)
	if err != nil {
		return h, err
	}

	h.Sources = make([]Source, srcCount)

	for i := range h.Sources {
		var name string

		name, pos, err = codec.String(buf, pos)
		if err != nil {
			return h, err
		}

		var status int64

		status, pos, err = codec.Varint(buf, pos)
		if err != nil {
			return h, err
		}

		h.Sources[i] = Source{Name: name, Status: SourceStatus(status)}
	}

	dimCount, pos, err := codec.Varint(buf, pos)
	if err != nil {
		return h, err
	}

	dims := make([]*dimension.Dimension, dimCount)
	seen := make(map[string]struct{}, dimCount)

	for i := range dims {
		var d *dimension.Dimension

		d, pos, err = dimension.Deserialize(buf, pos)
		if err != nil {
			return h, err
		}

		key := strings.ToLower(d.Name())
		if _, dup := seen[key]; dup {
			return h, fmt.Errorf("%w: duplicate dimension %q in header", ErrCorrupt, d.Name())
		}

		seen[key] = struct{}{}
		dims[i] = d
	}

	h.DimensionSet = dimension.NewSet(dims...)

	dataCount, pos, err := codec.Uvarint(buf, pos)
	if err != nil {
		return h, err
	}

	h.DataCount = uint32(dataCount)

	_ = pos

	return h, nil
}
