package dataset_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/metricstore/internal/dataset"
	"github.com/calvinalkan/metricstore/internal/dimension"
	"github.com/calvinalkan/metricstore/internal/events"
	"github.com/calvinalkan/metricstore/internal/persist"
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

func keyFor(t *testing.T, set *dimension.DimensionSet, region string) dimension.Key {
	t.Helper()

	key, _, err := set.CreateKey(map[string]string{"region": region})
	require.NoError(t, err)

	return key
}

func TestDataSet_AddValue_CreatesBucketAtFinestInterval(t *testing.T) {
	t.Parallel()

	set := buildSet(t, "region")
	ds := newTestDataSet(t, dataset.Options{Set: set})

	now := time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC)
	require.NoError(t, ds.AddValue(5, keyFor(t, set, "us"), now))
	require.Equal(t, 1, ds.Len())

	require.NoError(t, ds.AddValue(7, keyFor(t, set, "us"), now.Add(10*time.Second)))
	require.Equal(t, 1, ds.Len(), "a second write within the same minute must land in the same bucket")
}

func TestDataSet_AddValue_RejectsTooOldAfterSeal(t *testing.T) {
	t.Parallel()

	set := buildSet(t, "region")
	bus := events.New()
	ds := newTestDataSet(t, dataset.Options{Set: set, Bus: bus, SealAfter: time.Minute})

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, ds.AddValue(1, keyFor(t, set, "us"), base))

	ds.MaintenanceScan(base.Add(5 * time.Minute))

	ch, unsubscribe := bus.Subscribe("requests")
	defer unsubscribe()

	err := ds.AddValue(1, keyFor(t, set, "us"), base)
	require.NoError(t, err)

	select {
	case ev := <-ch:
		_, ok := ev.(events.EventDropped)
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected an EventDropped notification")
	}
}

func TestDataSet_MaintenanceScan_DeletesBucketsPastMaxAge(t *testing.T) {
	t.Parallel()

	set := buildSet(t, "region")
	ds := newTestDataSet(t, dataset.Options{Set: set, SealAfter: time.Minute, MaxAge: 10 * time.Minute})

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, ds.AddValue(1, keyFor(t, set, "us"), base))
	require.Equal(t, 1, ds.Len())

	ds.MaintenanceScan(base.Add(20 * time.Minute))
	require.Equal(t, 0, ds.Len(), "bucket past MaxAge should be deleted")
}

func TestDataSet_Compact_MergesSiblingsIntoCoarserBucket(t *testing.T) {
	t.Parallel()

	set := buildSet(t, "region")
	dir := t.TempDir()
	ds := newTestDataSet(t, dataset.Options{
		Set:       set,
		Dir:       dir,
		SealAfter: time.Minute,
		MaxAge:    365 * 24 * time.Hour,
		Ladder: []dataset.CompactionStep{
			{Interval: time.Minute, Duration: time.Hour},
			{Interval: 5 * time.Minute, Duration: dataset.Forever},
		},
	})

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Three one-minute buckets inside the same five-minute window.
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, ds.AddValue(int64(i+1), keyFor(t, set, "us"), ts))
		ds.MaintenanceScan(ts.Add(2 * time.Minute))
	}

	require.Equal(t, 3, ds.Len())

	// Age them past the 1h rung so the ladder prescribes 5-minute buckets.
	require.NoError(t, ds.Compact(base.Add(2*time.Hour)))
	require.Equal(t, 1, ds.Len())
}

func TestDataSet_Serialize_WritesBucketsInRange(t *testing.T) {
	t.Parallel()

	set := buildSet(t, "region")
	ds := newTestDataSet(t, dataset.Options{Set: set})

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, ds.AddValue(1, keyFor(t, set, "us"), base))
	require.NoError(t, ds.AddValue(2, keyFor(t, set, "us"), base.Add(time.Hour)))

	var buf bytes.Buffer
	require.NoError(t, ds.Serialize(base.Add(-time.Minute), base.Add(time.Minute), &buf))

	header, rows, err := persist.DecodeBlock(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, base.UTC().UnixMilli(), header.StartTimeMS)
}

func TestDataSet_GetNextPendingData_PrefersMostPendingSources(t *testing.T) {
	t.Parallel()

	set := buildSet(t, "region")
	ds := newTestDataSet(t, dataset.Options{Set: set, LocalSource: "host-a", Peers: []string{"host-b"}})

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, ds.AddValue(1, keyFor(t, set, "us"), base))
	require.NoError(t, ds.AddValue(1, keyFor(t, set, "us"), base.Add(5*time.Minute)))

	b, ok := ds.GetNextPendingData(base.Add(10 * time.Minute).UnixMilli())
	require.True(t, ok)
	require.NotNil(t, b)
	require.Contains(t, b.PendingSources(), "host-b")
}

func TestDataSet_LoadStoredData_ReloadsSealedBucket(t *testing.T) {
	t.Parallel()

	set := buildSet(t, "region")
	dir := t.TempDir()
	fsys := fs.NewReal()

	ds := newTestDataSet(t, dataset.Options{Set: set, Dir: dir, FS: fsys, SealAfter: time.Hour})

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, ds.AddValue(1, keyFor(t, set, "us"), now))
	require.Equal(t, 1, ds.Len())

	ds.MaintenanceScan(now.Add(2 * time.Hour))

	reopened := newTestDataSet(t, dataset.Options{Set: set, Dir: dir, FS: fsys, SealAfter: time.Hour})
	require.NoError(t, reopened.LoadStoredData(context.Background()))
	require.Equal(t, 1, reopened.Len())
}
