package dimension_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/metricstore/internal/dimension"
)

func TestDimensionSet_Equal_IgnoresOrder(t *testing.T) {
	t.Parallel()

	a := dimension.NewSet(dimension.New("region"), dimension.New("datacenter"))
	b := dimension.NewSet(dimension.New("datacenter"), dimension.New("region"))
	c := dimension.NewSet(dimension.New("region"))

	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}

func TestDimensionSet_CreateKey(t *testing.T) {
	t.Parallel()

	set := dimension.NewSet(dimension.New("region"), dimension.New("env"))

	key, all, err := set.CreateKey(map[string]string{"region": "us", "env": "prod"})
	require.NoError(t, err)
	require.True(t, all)
	require.Equal(t, 2, key.Len())

	key2, all2, err := set.CreateKey(map[string]string{"region": "us"})
	require.NoError(t, err)
	require.False(t, all2)
	require.Equal(t, dimension.Wildcard, key2.At(1))
}

func TestDimensionSet_OffsetOf_UnknownDimension(t *testing.T) {
	t.Parallel()

	set := dimension.NewSet(dimension.New("region"))

	_, err := set.OffsetOf("missing")
	require.ErrorIs(t, err, dimension.ErrUnknownDimension)
}

func TestDimensionSet_GetWildcardKey_Cached(t *testing.T) {
	t.Parallel()

	set := dimension.NewSet(dimension.New("region"), dimension.New("env"))

	k1 := set.GetWildcardKey()
	k2 := set.GetWildcardKey()

	require.Equal(t, k1, k2)
	require.Equal(t, dimension.Wildcard, k1.At(0))
	require.Equal(t, dimension.Wildcard, k1.At(1))
}

func TestDimensionSet_ReorderByPopularity(t *testing.T) {
	t.Parallel()

	region := dimension.New("region")
	env := dimension.New("env")

	_, _ = region.IndexOf("us")
	_, _ = region.IndexOf("eu")
	_, _ = region.IndexOf("ap")
	_, _ = env.IndexOf("prod")

	set := dimension.NewSet(env, region)
	reordered := set.ReorderByPopularity()

	require.Equal(t, "region", reordered.At(0).Name())
	require.Equal(t, "env", reordered.At(1).Name())
	require.True(t, set.Equal(reordered))
}
