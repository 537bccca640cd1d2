package persist_test

import (
	"bytes"
	"compress/flate"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/metricstore/internal/codec"
	"github.com/calvinalkan/metricstore/internal/dimension"
	"github.com/calvinalkan/metricstore/internal/persist"
	"github.com/calvinalkan/metricstore/internal/value"
)

func buildSet(t *testing.T, names ...string) *dimension.DimensionSet {
	t.Helper()

	dims := make([]*dimension.Dimension, len(names))
	for i, n := range names {
		dims[i] = dimension.New(n)
	}

	return dimension.NewSet(dims...)
}

func TestBlock_HitCount_RoundTrip(t *testing.T) {
	t.Parallel()

	set := buildSet(t, "region")
	idx, err := set.At(0).IndexOf("us")
	require.NoError(t, err)

	hc := value.NewHitCount()
	hc.Add(42)

	h := persist.Header{
		Name:        "requests",
		StartTimeMS: 1000,
		EndTimeMS:   2000,
		DataType:    persist.DataTypeHitCount,
		Sources: []persist.Source{
			{Name: "host-a", Status: persist.SourceAvailable},
		},
		DimensionSet: set,
	}

	rows := []persist.Row{
		{Key: dimension.NewKey([]uint32{idx}), HitCount: hc},
	}

	block, err := persist.EncodeBlock(h, rows)
	require.NoError(t, err)

	gotHeader, gotRows, err := persist.DecodeBlock(block)
	require.NoError(t, err)

	require.Equal(t, "requests", gotHeader.Name)
	require.Equal(t, int64(1000), gotHeader.StartTimeMS)
	require.Equal(t, int64(2000), gotHeader.EndTimeMS)
	require.Len(t, gotHeader.Sources, 1)
	require.Equal(t, persist.SourceAvailable, gotHeader.Sources[0].Status)
	require.Len(t, gotRows, 1)
	require.Equal(t, int64(42), gotRows[0].HitCount.Sum())
	require.Equal(t, idx, gotRows[0].Key.At(0))
}

func TestBlock_Histogram_RoundTrip(t *testing.T) {
	t.Parallel()

	set := buildSet(t, "region")

	hist := value.NewHistogram()
	hist.AddValue(1)
	hist.AddValue(2)
	hist.AddValue(2)

	h := persist.Header{
		Name:         "latency",
		StartTimeMS:  0,
		EndTimeMS:    60000,
		DataType:     persist.DataTypeHistogram,
		DimensionSet: set,
	}

	rows := []persist.Row{
		{Key: dimension.WildcardKey(1), Histogram: hist},
	}

	block, err := persist.EncodeBlock(h, rows)
	require.NoError(t, err)

	_, gotRows, err := persist.DecodeBlock(block)
	require.NoError(t, err)

	require.Len(t, gotRows, 1)
	require.Equal(t, uint64(3), gotRows[0].Histogram.Total())

	avg, ok := gotRows[0].Histogram.Average()
	require.True(t, ok)
	wantAvg, _ := hist.Average()
	require.Equal(t, wantAvg, avg)
}

func TestBlock_MultipleHistogramRows(t *testing.T) {
	t.Parallel()

	set := buildSet(t, "region")

	hist1 := value.NewHistogram()
	hist1.AddValue(10)

	hist2 := value.NewHistogram()
	hist2.AddValue(20)
	hist2.AddValue(30)

	h := persist.Header{
		Name:         "latency",
		DataType:     persist.DataTypeHistogram,
		DimensionSet: set,
	}

	rows := []persist.Row{
		{Key: dimension.WildcardKey(1), Histogram: hist1},
		{Key: dimension.WildcardKey(1), Histogram: hist2},
	}

	block, err := persist.EncodeBlock(h, rows)
	require.NoError(t, err)

	_, gotRows, err := persist.DecodeBlock(block)
	require.NoError(t, err)
	require.Len(t, gotRows, 2)
	require.Equal(t, uint64(1), gotRows[0].Histogram.Total())
	require.Equal(t, uint64(2), gotRows[1].Histogram.Total())
}

func TestBlock_CorruptVersion(t *testing.T) {
	t.Parallel()

	buf := []byte{0xff, 0xff, 0, 0, 0, 0, 0, 0, 0, 0}

	_, _, err := persist.DecodeBlock(buf)
	require.ErrorIs(t, err, persist.ErrUnsupportedVersion)
}

func TestBlock_CorruptCRC(t *testing.T) {
	t.Parallel()

	set := buildSet(t, "region")
	hc := value.NewHitCount()
	hc.Add(1)

	h := persist.Header{
		Name:         "requests",
		DataType:     persist.DataTypeHitCount,
		DimensionSet: set,
	}

	rows := []persist.Row{{Key: dimension.WildcardKey(1), HitCount: hc}}

	block, err := persist.EncodeBlock(h, rows)
	require.NoError(t, err)

	// Flip a byte well inside the data frame's payload region.
	block[len(block)-1] ^= 0xff

	_, _, err = persist.DecodeBlock(block)
	require.ErrorIs(t, err, persist.ErrCorrupt)
}

func TestBlock_Truncated(t *testing.T) {
	t.Parallel()

	set := buildSet(t, "region")
	hc := value.NewHitCount()
	hc.Add(1)

	h := persist.Header{Name: "requests", DataType: persist.DataTypeHitCount, DimensionSet: set}
	rows := []persist.Row{{Key: dimension.WildcardKey(1), HitCount: hc}}

	block, err := persist.EncodeBlock(h, rows)
	require.NoError(t, err)

	_, _, err = persist.DecodeBlock(block[:len(block)-3])
	require.ErrorIs(t, err, persist.ErrCorrupt)
}

// buildLegacyBlock hand-assembles a PreviousVersion block using the
// distinct 32-bit-length/CRC frame wrapper and raw-fixed-sample histogram
// encoding, to exercise the reader's backward-compatible path without a
// legacy writer (the module never writes PreviousVersion blocks).
func buildLegacyBlock(t *testing.T, headerPayload, dataPayload []byte) []byte {
	t.Helper()

	var out []byte
	out = append(out, byte(persist.PreviousVersion), byte(persist.PreviousVersion>>8))
	out = appendLegacyFrame(t, out, headerPayload, true)
	out = appendLegacyFrame(t, out, dataPayload, false)

	return out
}

func appendLegacyFrame(t *testing.T, buf, payload []byte, compress bool) []byte {
	t.Helper()

	onDisk := payload

	if compress {
		var b bytes.Buffer

		w, err := flate.NewWriter(&b, flate.DefaultCompression)
		require.NoError(t, err)
		_, err = w.Write(payload)
		require.NoError(t, err)
		require.NoError(t, w.Close())

		onDisk = b.Bytes()
	}

	buf = codec.PutFixedU32(buf, uint32(len(onDisk)))
	buf = codec.PutFixedU32(buf, codec.CRC32(payload))
	buf = append(buf, onDisk...)

	return buf
}

func TestBlock_LegacyVersion_RoundTrip(t *testing.T) {
	t.Parallel()

	set := buildSet(t, "region")

	h := persist.Header{
		Name:         "requests",
		StartTimeMS:  5,
		EndTimeMS:    10,
		DataType:     persist.DataTypeHitCount,
		DimensionSet: set,
		DataCount:    1,
	}

	var headerPayload []byte
	headerPayload = codec.PutString(headerPayload, h.Name)
	headerPayload = codec.PutVarint(headerPayload, h.StartTimeMS)
	headerPayload = codec.PutVarint(headerPayload, h.EndTimeMS)
	headerPayload = codec.PutVarint(headerPayload, int64(h.DataType))
	headerPayload = codec.PutVarint(headerPayload, 0) // no sources
	headerPayload = codec.PutVarint(headerPayload, int64(set.Len()))
	headerPayload = set.At(0).Serialize(headerPayload)
	headerPayload = codec.PutUvarint(headerPayload, uint64(h.DataCount))

	var dataPayload []byte
	dataPayload = dimension.WildcardKey(1).Serialize(dataPayload)

	hc := value.NewHitCount()
	hc.Add(77)
	dataPayload = hc.Serialize(dataPayload)

	block := buildLegacyBlock(t, headerPayload, dataPayload)

	gotHeader, gotRows, err := persist.DecodeBlock(block)
	require.NoError(t, err)
	require.Equal(t, "requests", gotHeader.Name)
	require.Len(t, gotRows, 1)
	require.Equal(t, int64(77), gotRows[0].HitCount.Sum())
}
