package value_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/metricstore/internal/value"
)

func buildHistogram(t *testing.T, from, to int64) *value.Histogram {
	t.Helper()

	h := value.NewHistogram()
	for v := from; v <= to; v++ {
		h.AddValue(v)
	}

	return h
}

func TestHistogram_Percentiles_1To100(t *testing.T) {
	t.Parallel()

	h := buildHistogram(t, 1, 100)

	p95, err := h.Percentile(95)
	require.NoError(t, err)
	require.Equal(t, int64(95), p95)

	p50, err := h.Percentile(50)
	require.NoError(t, err)
	require.Equal(t, int64(50), p50)

	p0, err := h.Percentile(0)
	require.NoError(t, err)
	require.Equal(t, int64(1), p0)

	p100, err := h.Percentile(100)
	require.NoError(t, err)
	require.Equal(t, int64(100), p100)
}

func TestHistogram_Percentile_OutOfRange(t *testing.T) {
	t.Parallel()

	h := buildHistogram(t, 1, 10)

	_, err := h.Percentile(-1)
	require.Error(t, err)

	_, err = h.Percentile(101)
	require.Error(t, err)
}

func TestHistogram_AverageMinMax(t *testing.T) {
	t.Parallel()

	h := value.NewHistogram()
	h.AddValue(10)
	h.AddValue(20)
	h.AddValue(30)

	avg, ok := h.Average()
	require.True(t, ok)
	require.Equal(t, int64(20), avg)

	min, ok := h.Min()
	require.True(t, ok)
	require.Equal(t, int64(10), min)

	max, ok := h.Max()
	require.True(t, ok)
	require.Equal(t, int64(30), max)
}

func TestHistogram_Average_Empty(t *testing.T) {
	t.Parallel()

	h := value.NewHistogram()

	_, ok := h.Average()
	require.False(t, ok)
}

func TestHistogram_MergeFrom(t *testing.T) {
	t.Parallel()

	a := value.NewHistogram()
	a.AddValue(1)
	a.AddValue(1)

	b := value.NewHistogram()
	b.AddValue(1)
	b.AddValue(2)

	require.NoError(t, a.MergeFrom(b))
	require.Equal(t, uint64(4), a.Total())

	p100, err := a.Percentile(100)
	require.NoError(t, err)
	require.Equal(t, int64(2), p100)
}

type fakeRawSamples struct {
	values []int64
}

func (f fakeRawSamples) ForEachSample(fn func(v int64, freq uint32)) {
	for _, v := range f.values {
		fn(v, 1)
	}
}

func TestHistogram_MergeRaw(t *testing.T) {
	t.Parallel()

	h := value.NewHistogram()
	h.MergeRaw(fakeRawSamples{values: []int64{1, 1, 2, 3}})

	require.Equal(t, uint64(4), h.Total())

	avg, ok := h.Average()
	require.True(t, ok)
	require.Equal(t, int64(1), avg)
}

func TestHistogram_SerializeRoundTrip_Uncompressed(t *testing.T) {
	t.Parallel()

	h := value.NewHistogram()
	h.AddValue(1)
	h.AddValue(2)
	h.AddValue(3)

	buf := h.Serialize(nil)

	got, next, err := value.DeserializeHistogram(buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(buf), next)
	require.Equal(t, h.Total(), got.Total())

	gotAvg, _ := got.Average()
	wantAvg, _ := h.Average()
	require.Equal(t, wantAvg, gotAvg)
}

func TestHistogram_SerializeRoundTrip_Compressed(t *testing.T) {
	t.Parallel()

	h := value.NewHistogram()
	for i := 0; i < 1000; i++ {
		h.AddValue(7)
	}
	h.AddValue(8)

	buf := h.Serialize(nil)

	got, next, err := value.DeserializeHistogram(buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(buf), next)
	require.Equal(t, h.Total(), got.Total())

	p50, err := got.Percentile(50)
	require.NoError(t, err)
	require.Equal(t, int64(7), p50)
}

func TestHistogram_Clear(t *testing.T) {
	t.Parallel()

	h := value.NewHistogram()
	h.AddValue(1)
	h.Clear()

	require.Equal(t, uint64(0), h.Total())
	_, ok := h.Min()
	require.False(t, ok)
}
