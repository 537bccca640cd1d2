package dimension_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/metricstore/internal/dimension"
)

func TestKey_CompareLexicographic(t *testing.T) {
	t.Parallel()

	a := dimension.NewKey([]uint32{1, 2})
	b := dimension.NewKey([]uint32{1, 3})
	c := dimension.NewKey([]uint32{1, 2})

	require.Equal(t, -1, a.Compare(b))
	require.Equal(t, 1, b.Compare(a))
	require.Equal(t, 0, a.Compare(c))
	require.True(t, a.Equal(c))
}

func TestKey_Matches_Wildcard(t *testing.T) {
	t.Parallel()

	concrete := dimension.NewKey([]uint32{5, 7})
	filter := dimension.NewKey([]uint32{5, dimension.Wildcard})
	other := dimension.NewKey([]uint32{5, 8})

	require.True(t, filter.Matches(concrete))
	require.True(t, filter.Matches(other))

	mismatched := dimension.NewKey([]uint32{6, dimension.Wildcard})
	require.False(t, mismatched.Matches(concrete))
}

func TestKey_SerializeRoundTrip(t *testing.T) {
	t.Parallel()

	k := dimension.NewKey([]uint32{1, 2, dimension.Wildcard})
	buf := k.Serialize(nil)

	got, next, err := dimension.DeserializeKey(buf, 0, 3)
	require.NoError(t, err)
	require.Equal(t, len(buf), next)
	require.True(t, k.Equal(got))
}

func TestKey_WithSlot_DoesNotMutateOriginal(t *testing.T) {
	t.Parallel()

	k := dimension.NewKey([]uint32{1, 2})
	k2 := k.WithSlot(1, dimension.Wildcard)

	require.Equal(t, uint32(2), k.At(1))
	require.Equal(t, dimension.Wildcard, k2.At(1))
}
