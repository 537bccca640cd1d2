package dimension_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/metricstore/internal/dimension"
)

func TestConverter_MapsSharedDimensionsAndWildcardsRest(t *testing.T) {
	t.Parallel()

	srcRegion := dimension.New("region")
	srcSet := dimension.NewSet(srcRegion)

	srcKey, _, err := srcSet.CreateKey(map[string]string{"region": "us"})
	require.NoError(t, err)

	dstRegion := dimension.New("region")
	dstEnv := dimension.New("env")
	dstSet := dimension.NewSet(dstRegion, dstEnv)

	conv := dimension.NewConverter(dstSet, srcSet)

	dstKey, err := conv.Convert(srcKey)
	require.NoError(t, err)

	require.Equal(t, "us", dstRegion.StringAt(dstKey.At(0)))
	require.Equal(t, dimension.Wildcard, dstKey.At(1))
}
