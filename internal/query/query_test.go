package query_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/metricstore/internal/dataset"
	"github.com/calvinalkan/metricstore/internal/dimension"
	"github.com/calvinalkan/metricstore/internal/persist"
	"github.com/calvinalkan/metricstore/internal/query"
	"github.com/calvinalkan/metricstore/pkg/fs"
)

func buildSet(t *testing.T, names ...string) *dimension.DimensionSet {
	t.Helper()

	dims := make([]*dimension.Dimension, len(names))
	for i, n := range names {
		dims[i] = dimension.New(n)
	}

	return dimension.NewSet(dims...)
}

func newTestDataSet(t *testing.T, opts dataset.Options) *dataset.DataSet {
	t.Helper()

	if opts.Set == nil {
		opts.Set = buildSet(t, "region")
	}

	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}

	if opts.FS == nil {
		opts.FS = fs.NewReal()
	}

	if opts.CounterName == "" {
		opts.CounterName = "requests"
	}

	if opts.DataType == 0 {
		opts.DataType = persist.DataTypeHitCount
	}

	if opts.SealAfter == 0 {
		opts.SealAfter = time.Hour
	}

	if opts.MaxAge == 0 {
		opts.MaxAge = 24 * time.Hour
	}

	ds, err := dataset.New(opts)
	require.NoError(t, err)

	return ds
}

func keyFor(t *testing.T, set *dimension.DimensionSet, dims map[string]string) dimension.Key {
	t.Helper()

	key, _, err := set.CreateKey(dims)
	require.NoError(t, err)

	return key
}

func sampleByRegion(samples []query.Sample, region string) (query.Sample, bool) {
	for _, s := range samples {
		if s.Dimensions["region"] == region {
			return s, true
		}
	}

	return query.Sample{}, false
}

func TestRun_CombinedNoSplit_SumsHitCount(t *testing.T) {
	t.Parallel()

	set := buildSet(t, "region")
	ds := newTestDataSet(t, dataset.Options{Set: set})

	base := time.UnixMilli(0).UTC()
	require.NoError(t, ds.AddValue(3, keyFor(t, set, map[string]string{"region": "us"}), base.Add(1*time.Second)))
	require.NoError(t, ds.AddValue(7, keyFor(t, set, map[string]string{"region": "us"}), base.Add(2*time.Second)))
	require.NoError(t, ds.AddValue(5, keyFor(t, set, map[string]string{"region": "eu"}), base.Add(2*time.Second)))

	samples, err := query.Run(ds, query.Params{
		Filter: map[string]string{
			"startTime": "0",
			"endTime":   "3000",
		},
		Combine: true,
	})
	require.NoError(t, err)
	require.Len(t, samples, 1)
	require.Equal(t, int64(15), samples[0].HitCount)
}

func TestRun_SplitByDimension(t *testing.T) {
	t.Parallel()

	set := buildSet(t, "region")
	ds := newTestDataSet(t, dataset.Options{Set: set})

	base := time.UnixMilli(0).UTC()
	require.NoError(t, ds.AddValue(3, keyFor(t, set, map[string]string{"region": "us"}), base.Add(1*time.Second)))
	require.NoError(t, ds.AddValue(7, keyFor(t, set, map[string]string{"region": "us"}), base.Add(2*time.Second)))
	require.NoError(t, ds.AddValue(5, keyFor(t, set, map[string]string{"region": "eu"}), base.Add(2*time.Second)))

	samples, err := query.Run(ds, query.Params{
		Filter: map[string]string{
			"startTime": "0",
			"endTime":   "3000",
		},
		SplitBy: "region",
		Combine: true,
	})
	require.NoError(t, err)
	require.Len(t, samples, 2)

	us, ok := sampleByRegion(samples, "us")
	require.True(t, ok)
	require.Equal(t, int64(10), us.HitCount)

	eu, ok := sampleByRegion(samples, "eu")
	require.True(t, ok)
	require.Equal(t, int64(5), eu.HitCount)
}

func TestRun_HistogramPercentile(t *testing.T) {
	t.Parallel()

	set := dimension.NewSet()
	ds := newTestDataSet(t, dataset.Options{Set: set, DataType: persist.DataTypeHistogram})

	ts := time.UnixMilli(0).UTC()

	for v := int64(1); v <= 100; v++ {
		require.NoError(t, ds.AddValue(v, set.GetWildcardKey(), ts))
	}

	run := func(p int) int64 {
		samples, err := query.Run(ds, query.Params{
			Filter: map[string]string{
				"startTime": "0",
				"endTime":   "120000",
			},
			Combine:    true,
			Type:       query.Percentile,
			Percentile: p,
		})
		require.NoError(t, err)
		require.Len(t, samples, 1)

		return samples[0].Percentile
	}

	require.Equal(t, int64(95), run(95))
	require.Equal(t, int64(50), run(50))
	require.Equal(t, int64(1), run(0))
	require.Equal(t, int64(100), run(100))
}

func TestRun_PercentileOnHitCount_DowngradesToNormal(t *testing.T) {
	t.Parallel()

	set := buildSet(t, "region")
	ds := newTestDataSet(t, dataset.Options{Set: set})

	ts := time.UnixMilli(0).UTC()
	require.NoError(t, ds.AddValue(3, keyFor(t, set, map[string]string{"region": "us"}), ts))

	samples, err := query.Run(ds, query.Params{
		Filter: map[string]string{
			"startTime": "0",
			"endTime":   "60000",
		},
		Combine:    true,
		Type:       query.Percentile,
		Percentile: 50,
	})
	require.NoError(t, err)
	require.Len(t, samples, 1)
	require.Equal(t, int64(3), samples[0].HitCount)
	require.Equal(t, int64(0), samples[0].Percentile)
}

func TestRun_OnlyOneOfStartEndSupplied_ReturnsEmpty(t *testing.T) {
	t.Parallel()

	set := buildSet(t, "region")
	ds := newTestDataSet(t, dataset.Options{Set: set})

	ts := time.UnixMilli(0).UTC()
	require.NoError(t, ds.AddValue(1, keyFor(t, set, map[string]string{"region": "us"}), ts))

	samples, err := query.Run(ds, query.Params{Filter: map[string]string{"startTime": "0"}})
	require.NoError(t, err)
	require.Empty(t, samples)
}

func TestRun_StartAfterEnd_FailsInvalidArgument(t *testing.T) {
	t.Parallel()

	set := buildSet(t, "region")
	ds := newTestDataSet(t, dataset.Options{Set: set})

	_, err := query.Run(ds, query.Params{
		Filter: map[string]string{"startTime": "1000", "endTime": "500"},
	})
	require.ErrorIs(t, err, query.ErrInvalidArgument)
}

func TestRun_GlobFilter_MatchesMultipleValues(t *testing.T) {
	t.Parallel()

	set := buildSet(t, "region", "env")
	ds := newTestDataSet(t, dataset.Options{Set: set})

	ts := time.UnixMilli(0).UTC()
	require.NoError(t, ds.AddValue(1, keyFor(t, set, map[string]string{"region": "us", "env": "prod"}), ts))
	require.NoError(t, ds.AddValue(2, keyFor(t, set, map[string]string{"region": "us", "env": "test"}), ts))
	require.NoError(t, ds.AddValue(4, keyFor(t, set, map[string]string{"region": "eu", "env": "prod"}), ts))

	samples, err := query.Run(ds, query.Params{
		Filter: map[string]string{
			"startTime": "0",
			"endTime":   "60000",
			"region":    "us",
			"env":       "*",
		},
		Combine: true,
	})
	require.NoError(t, err)
	require.Len(t, samples, 1)
	require.Equal(t, int64(3), samples[0].HitCount)
}

func TestRun_NoBuckets_ReturnsEmpty(t *testing.T) {
	t.Parallel()

	set := buildSet(t, "region")
	ds := newTestDataSet(t, dataset.Options{Set: set})

	samples, err := query.Run(ds, query.Params{})
	require.NoError(t, err)
	require.Empty(t, samples)
}
