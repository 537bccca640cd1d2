package persist

import (
	"fmt"

	"github.com/calvinalkan/metricstore/internal/codec"
)

// EncodeBlock builds a complete current-version block (§6.1): u16
// version, u64 block length, a deflate-compressed+framed header, and a
// raw+framed data frame. The length is computed directly since the block
// is built entirely in memory; on a streaming writer this field is
// conventionally back-patched after the body is known.
func EncodeBlock(h Header, rows []Row) ([]byte, error) {
	h.DataCount = uint32(len(rows))

	headerPayload := encodeHeader(nil, h)

	dataPayload, err := encodeData(nil, h.DataType, rows)
	if err != nil {
		return nil, err
	}

	var body []byte

	body, err = encodeFrame(body, headerPayload, true)
	if err != nil {
		return nil, fmt.Errorf("persist: encode header frame: %w", err)
	}

	body, err = encodeFrame(body, dataPayload, false)
	if err != nil {
		return nil, fmt.Errorf("persist: encode data frame: %w", err)
	}

	out := make([]byte, 0, 2+8+len(body))
	out = append(out, byte(CurrentVersion), byte(CurrentVersion>>8))
	out = codec.PutFixedU64(out, uint64(len(body)))
	out = append(out, body...)

	return out, nil
}

// DecodeBlock parses a block written by EncodeBlock, or one written under
// PreviousVersion (decoded via the legacy path, see legacy.go).
func DecodeBlock(buf []byte) (Header, []Row, error) {
	if len(buf) < 2 {
		return Header{}, nil, fmt.Errorf("%w: truncated block version", ErrCorrupt)
	}

	version := uint16(buf[0]) | uint16(buf[1])<<8

	switch version {
	case CurrentVersion:
		return decodeCurrentBlock(buf[2:])
	case PreviousVersion:
		return decodeLegacyBlock(buf[2:])
	default:
		return Header{}, nil, fmt.Errorf("%w: version %d", ErrUnsupportedVersion, version)
	}
}

func decodeCurrentBlock(buf []byte) (Header, []Row, error) {
	blockLen, pos, err := codec.FixedU64(buf, 0)
	if err != nil {
		return Header{}, nil, err
	}

	if pos+int(blockLen) > len(buf) {
		return Header{}, nil, fmt.Errorf("%w: truncated block body", ErrCorrupt)
	}

	body := buf[pos : pos+int(blockLen)]

	headerPayload, next, err := decodeFrame(body, 0)
	if err != nil {
		return Header{}, nil, err
	}

	dataPayload, _, err := decodeFrame(body, next)
	if err != nil {
		return Header{}, nil, err
	}

	h, err := decodeHeader(headerPayload)
	if err != nil {
		return Header{}, nil, err
	}

	rows, err := decodeData(dataPayload, h.DimensionSet, h.DataType, h.DataCount)
	if err != nil {
		return Header{}, nil, err
	}

	return h, rows, nil
}
