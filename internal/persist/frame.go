package persist

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"

	"github.com/calvinalkan/metricstore/internal/codec"
)

// compressionKind occupies bits 56-62 of a current-version frame's
// encoded-length field (§6.1).
type compressionKind uint8

const (
	compressionNone   compressionKind = 0
	compressionDeflate compressionKind = 1
)

const (
	frameCompressedBit = uint64(1) << 63
	frameKindShift     = 56
	frameKindMask      = uint64(0x7f) << frameKindShift
	frameLengthMask    = (uint64(1) << 56) - 1
)

// encodeFrame appends a current-version frame (§6.1) wrapping raw. When
// compress is true, raw is deflate-compressed and the uncompressed length
// is stored alongside the on-disk length; CRC32 is always computed over
// the uncompressed bytes.
func encodeFrame(buf []byte, raw []byte, compress bool) ([]byte, error) {
	crc := codec.CRC32(raw)

	payload := raw
	kind := compressionNone

	if compress {
		compressed, err := deflateBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("persist: compress frame: %w", err)
		}

		payload = compressed
		kind = compressionDeflate
	}

	if uint64(len(payload)) > frameLengthMask {
		return nil, fmt.Errorf("%w: frame payload too large", ErrCorrupt)
	}

	encoded := uint64(len(payload)) & frameLengthMask
	if compress {
		encoded |= frameCompressedBit
		encoded |= (uint64(kind) << frameKindShift) & frameKindMask
	}

	buf = codec.PutFixedI64(buf, int64(encoded))

	if compress {
		buf = codec.PutFixedU64(buf, uint64(len(raw)))
	}

	buf = codec.PutFixedU32(buf, crc)
	buf = append(buf, payload...)

	return buf, nil
}

// decodeFrame reads a current-version frame starting at buf[pos] and
// returns its decompressed payload.
func decodeFrame(buf []byte, pos int) ([]byte, int, error) {
	encU, pos, err := codec.FixedI64(buf, pos)
	if err != nil {
		return nil, 0, err
	}

	enc := uint64(encU)
	compressed := enc&frameCompressedBit != 0
	kind := compressionKind((enc & frameKindMask) >> frameKindShift)
	onDiskLen := int(enc & frameLengthMask)

	var uncompressedLen uint64

	if compressed {
		uncompressedLen, pos, err = codec.FixedU64(buf, pos)
		if err != nil {
			return nil, 0, err
		}
	}

	crc, pos, err := codec.FixedU32(buf, pos)
	if err != nil {
		return nil, 0, err
	}

	if pos+onDiskLen > len(buf) {
		return nil, 0, fmt.Errorf("%w: truncated frame payload", ErrCorrupt)
	}

	onDisk := buf[pos : pos+onDiskLen]
	pos += onDiskLen

	var payload []byte

	switch {
	case !compressed:
		payload = onDisk
	case kind == compressionDeflate:
		payload, err = inflateBytes(onDisk, int(uncompressedLen))
		if err != nil {
			return nil, 0, fmt.Errorf("%w: inflate frame: %v", ErrCorrupt, err)
		}
	default:
		return nil, 0, fmt.Errorf("%w: unknown compression kind %d", ErrCorrupt, kind)
	}

	if codec.CRC32(payload) != crc {
		return nil, 0, fmt.Errorf("%w: frame CRC mismatch", ErrCorrupt)
	}

	return payload, pos, nil
}

func deflateBytes(raw []byte) ([]byte, error) {
	var out bytes.Buffer

	w, err := flate.NewWriter(&out, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}

	if _, err := w.Write(raw); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	return out.Bytes(), nil
}

func inflateBytes(compressed []byte, uncompressedLen int) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()

	out := make([]byte, 0, uncompressedLen)
	buf := bytes.NewBuffer(out)

	if _, err := io.Copy(buf, r); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
