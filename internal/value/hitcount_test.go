package value_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/metricstore/internal/value"
)

func TestHitCount_AddAndMerge(t *testing.T) {
	t.Parallel()

	a := value.NewHitCount()
	a.Add(3)
	a.Add(4)
	require.Equal(t, int64(7), a.Sum())

	b := value.NewHitCount()
	b.Add(10)

	require.NoError(t, a.MergeFrom(b))
	require.Equal(t, int64(17), a.Sum())
}

func TestHitCount_MergeFrom_RejectsOtherKind(t *testing.T) {
	t.Parallel()

	a := value.NewHitCount()
	h := value.NewHistogram()

	require.Error(t, a.MergeFrom(h))
}

func TestHitCount_SerializeRoundTrip(t *testing.T) {
	t.Parallel()

	a := value.NewHitCount()
	a.Add(-42)
	a.Add(100)

	buf := a.Serialize(nil)
	require.Len(t, buf, 8)

	got, next, err := value.DeserializeHitCount(buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(buf), next)
	require.Equal(t, a.Sum(), got.Sum())
}

func TestHitCount_Clear(t *testing.T) {
	t.Parallel()

	a := value.NewHitCount()
	a.Add(5)
	a.Clear()
	require.Equal(t, int64(0), a.Sum())
}
