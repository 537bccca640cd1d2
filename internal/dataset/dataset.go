// Package dataset implements the Data Set (§4.10): the descending-time
// list of Data Buckets for one counter, bucket lookup/creation, the
// maintenance scan (seal/delete aging buckets), interval-ladder
// compaction, and directory-backed recovery on startup.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/calvinalkan/fileproc"

	"github.com/calvinalkan/metricstore/internal/bucket"
	"github.com/calvinalkan/metricstore/internal/dimension"
	"github.com/calvinalkan/metricstore/internal/events"
	"github.com/calvinalkan/metricstore/internal/persist"
	"github.com/calvinalkan/metricstore/pkg/fs"
)

// ErrInvalidArgument is returned for malformed caller input (e.g. a
// compaction ladder rejected by ValidateLadder).
var ErrInvalidArgument = errors.New("dataset: invalid argument")

// Options configures a new DataSet.
type Options struct {
	CounterName string
	DataType    persist.DataType
	Set         *dimension.DimensionSet
	Dir         string
	FS          fs.FS
	Bus         *events.Bus
	LocalSource string
	// Peers lists the other known source hosts contributing to this
	// counter; every newly created bucket registers each as Unknown so
	// pendingSources/getNextPendingData can track who has reported in
	// (§3 Source set, §4.10 getNextPendingData).
	Peers []string

	// Ladder defaults to DefaultLadder when nil.
	Ladder []CompactionStep
	// SealAfter is how long past a bucket's end time the maintenance scan
	// waits before sealing it.
	SealAfter time.Duration
	// MaxAge is how long past a bucket's end time the maintenance scan
	// waits before deleting it.
	MaxAge time.Duration
}

// DataSet holds every Data Bucket for one counter, newest-first.
type DataSet struct {
	mu sync.RWMutex

	counterName string
	dataType    persist.DataType
	set         *dimension.DimensionSet
	dir         string
	fsys        fs.FS
	bus         *events.Bus
	localSource string
	peers       []string

	ladder         []CompactionStep
	finestInterval time.Duration
	sealAfter      time.Duration
	maxAge         time.Duration

	buckets []*bucket.Bucket // descending by StartMS (newest first)

	compacting atomic.Bool
}

// New validates opts and returns an empty DataSet.
func New(opts Options) (*DataSet, error) {
	ladder := opts.Ladder
	if ladder == nil {
		ladder = DefaultLadder
	}

	if err := ValidateLadder(ladder); err != nil {
		return nil, err
	}

	if opts.SealAfter <= 0 || opts.MaxAge <= 0 {
		return nil, fmt.Errorf("%w: SealAfter and MaxAge must be positive", ErrInvalidArgument)
	}

	return &DataSet{
		counterName:    opts.CounterName,
		dataType:       opts.DataType,
		set:            opts.Set,
		dir:            opts.Dir,
		fsys:           opts.FS,
		bus:            opts.Bus,
		localSource:    opts.LocalSource,
		peers:          opts.Peers,
		ladder:         ladder,
		finestInterval: ladder[0].Interval,
		sealAfter:      opts.SealAfter,
		maxAge:         opts.MaxAge,
	}, nil
}

// Len returns the current number of buckets (for tests/diagnostics).
func (d *DataSet) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.buckets)
}

// CounterName returns the name of the counter this data set belongs to.
func (d *DataSet) CounterName() string { return d.counterName }

// DimensionSet returns the dimension set shared by every bucket in this
// data set.
func (d *DataSet) DimensionSet() *dimension.DimensionSet { return d.set }

// BucketsOverlapping returns every bucket whose [StartMS, EndMS) range
// intersects [startMS, endMS), newest-first (§4.11 query algorithm step 1).
func (d *DataSet) BucketsOverlapping(startMS, endMS int64) []*bucket.Bucket {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*bucket.Bucket

	for _, b := range d.buckets {
		if b.StartMS() < endMS && b.EndMS() > startMS {
			out = append(out, b)
		}
	}

	return out
}

// Bounds returns the oldest loaded bucket's start time and the newest
// bucket's end time, used to default a query's time window when the
// caller supplies neither startTime nor endTime (§4.11). ok is false when
// the data set holds no buckets.
func (d *DataSet) Bounds() (oldestStartMS, newestEndMS int64, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(d.buckets) == 0 {
		return 0, 0, false
	}

	return d.buckets[len(d.buckets)-1].StartMS(), d.buckets[0].EndMS(), true
}

func floorToInterval(ms int64, interval time.Duration) int64 {
	step := interval.Milliseconds()
	return (ms / step) * step
}

// findCoveringBucketLocked returns the unsealed bucket containing tsMS,
// or nil. A sealed bucket whose range contains tsMS no longer accepts
// writes, so it is reported as not found; the caller falls through to
// getOrCreateDataBucket's too-old rejection. Caller holds d.mu (read or
// write).
func (d *DataSet) findCoveringBucketLocked(tsMS int64) *bucket.Bucket {
	idx := sort.Search(len(d.buckets), func(i int) bool {
		return d.buckets[i].StartMS() <= tsMS
	})

	if idx == len(d.buckets) {
		return nil
	}

	b := d.buckets[idx]
	if tsMS >= b.StartMS() && tsMS < b.EndMS() && !b.State().Sealed() {
		return b
	}

	return nil
}

// insertBucketLocked inserts b preserving descending-StartMS order.
// Caller holds d.mu for writing.
func (d *DataSet) insertBucketLocked(b *bucket.Bucket) {
	idx := sort.Search(len(d.buckets), func(i int) bool {
		return d.buckets[i].StartMS() <= b.StartMS()
	})

	d.buckets = append(d.buckets, nil)
	copy(d.buckets[idx+1:], d.buckets[idx:])
	d.buckets[idx] = b
}

// removeBucketsLocked drops every bucket in victims from d.buckets.
// Caller holds d.mu for writing.
func (d *DataSet) removeBucketsLocked(victims []*bucket.Bucket) {
	drop := make(map[*bucket.Bucket]bool, len(victims))
	for _, v := range victims {
		drop[v] = true
	}

	kept := d.buckets[:0]

	for _, b := range d.buckets {
		if !drop[b] {
			kept = append(kept, b)
		}
	}

	d.buckets = kept
}

// earliestUnsealedBucketTimeLocked is the lower admission bound for new
// writes (§4.10 addValue step 2). Caller holds d.mu.
func (d *DataSet) earliestUnsealedBucketTimeLocked() int64 {
	if len(d.buckets) == 0 {
		return math.MinInt64
	}

	earliest := int64(math.MaxInt64)
	found := false

	for _, b := range d.buckets {
		if !b.State().Sealed() && b.StartMS() < earliest {
			earliest = b.StartMS()
			found = true
		}
	}

	if !found {
		// every existing bucket is already sealed: only writes landing
		// after the newest one may still open a new bucket.
		return d.buckets[0].EndMS()
	}

	return earliest
}

// AddValue normalizes ts to UTC and forwards (dims, v) to the bucket
// covering it, creating one at the finest interval if needed. Writes
// older than the earliest unsealed bucket are dropped silently, firing
// an EventDropped notification (§4.10 addValue).
func (d *DataSet) AddValue(v int64, dims dimension.Key, ts time.Time) error {
	tsMS := ts.UTC().UnixMilli()

	d.mu.RLock()
	b := d.findCoveringBucketLocked(tsMS)
	d.mu.RUnlock()

	if b != nil {
		return b.AddValue(dims, v)
	}

	b, tooOld, err := d.getOrCreateDataBucket(tsMS)
	if err != nil {
		return err
	}

	if tooOld {
		if d.bus != nil {
			d.bus.Publish(d.counterName, events.EventDropped{Counter: d.counterName, TimeMS: tsMS})
		}

		return nil
	}

	return b.AddValue(dims, v)
}

// getOrCreateDataBucket returns the bucket covering tsMS, creating one at
// the finest interval if tsMS is not too old (§4.10). The bool return is
// true when tsMS was rejected as too old (no bucket is returned).
func (d *DataSet) getOrCreateDataBucket(tsMS int64) (*bucket.Bucket, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if b := d.findCoveringBucketLocked(tsMS); b != nil {
		return b, false, nil
	}

	if tsMS < d.earliestUnsealedBucketTimeLocked() {
		return nil, true, nil
	}

	start := floorToInterval(tsMS, d.finestInterval)
	end := start + d.finestInterval.Milliseconds()

	b := bucket.New(d.counterName, start, end, d.dataType, d.set, d.dir, d.fsys)
	b.MarkSourceAvailable(d.localSource)

	for _, peer := range d.peers {
		if peer == d.localSource {
			continue
		}

		b.Sources().Set(peer, persist.SourceUnknown)
	}

	d.insertBucketLocked(b)
	d.maintenanceScanLocked(time.UnixMilli(tsMS))

	return b, false, nil
}

// MaintenanceScan runs the periodic maintenance pass: walking buckets
// oldest to newest, sealing those past sealAfter and deleting those past
// maxAge (§4.10).
func (d *DataSet) MaintenanceScan(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maintenanceScanLocked(now)
}

func (d *DataSet) maintenanceScanLocked(now time.Time) {
	nowMS := now.UTC().UnixMilli()

	latest := nowMS
	if len(d.buckets) > 0 && d.buckets[0].EndMS() > latest {
		latest = d.buckets[0].EndMS()
	}

	deleteBefore := latest - d.maxAge.Milliseconds()
	sealBefore := latest - d.sealAfter.Milliseconds()

	var toDelete []*bucket.Bucket

	for i := len(d.buckets) - 1; i >= 0; i-- {
		b := d.buckets[i]

		if b.EndMS() <= deleteBefore {
			toDelete = append(toDelete, b)
			continue
		}

		if !b.State().Sealed() && b.EndMS() <= sealBefore {
			if err := b.Seal(); err != nil {
				continue
			}

			_ = b.Persist()

			if d.bus != nil {
				d.bus.Publish(d.counterName, events.EventSealed{
					Counter:     d.counterName,
					BucketStart: b.StartMS(),
					BucketEnd:   b.EndMS(),
				})
			}
		}
	}

	if len(toDelete) > 0 {
		d.removeBucketsLocked(toDelete)

		for _, b := range toDelete {
			_ = b.Delete()
		}
	}
}

// Compact runs one compaction pass (§4.10): sealed buckets whose current
// interval is shorter than their age-correct interval are grouped with
// siblings rolling into the same coarser window, merged, and sealed.
// Mutually exclusive with itself via a compare-and-swap flag; a call that
// finds compaction already running is a no-op.
func (d *DataSet) Compact(now time.Time) error {
	if !d.compacting.CompareAndSwap(false, true) {
		return nil
	}
	defer d.compacting.Store(false)

	d.mu.Lock()
	defer d.mu.Unlock()

	nowMS := now.UTC().UnixMilli()

	type group struct {
		target  time.Duration
		members []*bucket.Bucket
	}

	groups := make(map[int64]*group)

	for _, b := range d.buckets {
		if !b.State().Sealed() {
			continue
		}

		age := time.Duration(nowMS-b.StartMS()) * time.Millisecond
		target := intervalForAge(d.ladder, age)
		current := time.Duration(b.EndMS()-b.StartMS()) * time.Millisecond

		if current >= target {
			continue
		}

		coarseStart := floorToInterval(b.StartMS(), target)

		g, ok := groups[coarseStart]
		if !ok {
			g = &group{target: target}
			groups[coarseStart] = g
		}

		g.members = append(g.members, b)
	}

	coarseStarts := make([]int64, 0, len(groups))
	for start := range groups {
		coarseStarts = append(coarseStarts, start)
	}

	sort.Slice(coarseStarts, func(i, j int) bool { return coarseStarts[i] < coarseStarts[j] })

	for _, coarseStart := range coarseStarts {
		g := groups[coarseStart]
		coarseEnd := coarseStart + g.target.Milliseconds()

		merged := bucket.New(d.counterName, coarseStart, coarseEnd, d.dataType, d.set, d.dir, d.fsys)

		for _, m := range g.members {
			if err := merged.AbsorbSealed(m); err != nil {
				return fmt.Errorf("dataset: compact: %w", err)
			}
		}

		if err := merged.Seal(); err != nil {
			return fmt.Errorf("dataset: compact: seal: %w", err)
		}

		if err := merged.Persist(); err != nil {
			return fmt.Errorf("dataset: compact: persist: %w", err)
		}

		d.removeBucketsLocked(g.members)

		for _, m := range g.members {
			_ = m.Delete()
		}

		d.insertBucketLocked(merged)
	}

	return nil
}

// Serialize writes every bucket whose start time lies in [start, end),
// oldest first (§4.10).
func (d *DataSet) Serialize(start, end time.Time, out io.Writer) error {
	startMS := start.UTC().UnixMilli()
	endMS := end.UTC().UnixMilli()

	d.mu.RLock()
	var matched []*bucket.Bucket

	for i := len(d.buckets) - 1; i >= 0; i-- {
		b := d.buckets[i]
		if b.StartMS() >= startMS && b.StartMS() < endMS {
			matched = append(matched, b)
		}
	}
	d.mu.RUnlock()

	for _, b := range matched {
		if err := b.Serialize(out); err != nil {
			return err
		}
	}

	return nil
}

// GetNextPendingData scans newest to oldest for the unsealed bucket with
// the most Unknown-status sources among those older than previousStartMS;
// if none qualify, it repeats the search once over every bucket with no
// start-time bound (§4.10).
func (d *DataSet) GetNextPendingData(previousStartMS int64) (*bucket.Bucket, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	find := func(strictlyBefore int64) *bucket.Bucket {
		var best *bucket.Bucket
		bestPending := 0

		for _, b := range d.buckets {
			if b.State().Sealed() || b.StartMS() >= strictlyBefore {
				continue
			}

			pending := len(b.PendingSources())
			if pending > bestPending {
				best = b
				bestPending = pending
			}
		}

		return best
	}

	if b := find(previousStartMS); b != nil {
		return b, true
	}

	if b := find(math.MaxInt64); b != nil {
		return b, true
	}

	return nil, false
}

// loadResult is one directory entry classified by LoadStoredData.
type loadResult struct {
	header   persist.Header
	fileName string
}

// LoadStoredData enumerates the counter's directory (§4.10), skipping
// files whose time range duplicates an already-known bucket (favoring
// the one already present — compaction-crash recovery) and loading every
// remaining file's metadata. The newest bucket's rows are loaded eagerly;
// if its seal deadline has not yet passed it is reopened unsealed so
// ingestion can resume after a restart. All others load lazily on first
// access.
func (d *DataSet) LoadStoredData(ctx context.Context) error {
	opts := fileproc.Options{
		Recursive: false,
		Suffix:    ".msdata",
	}

	results, errs := fileproc.ProcessStat(ctx, d.dir, func(path []byte, _ fileproc.Stat, f fileproc.LazyFile) (*loadResult, error) {
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}

		header, _, err := persist.DecodeBlock(data)
		if err != nil {
			return nil, fmt.Errorf("dataset: decode %s: %w", string(path), err)
		}

		return &loadResult{header: header, fileName: string(path)}, nil
	}, opts)

	if len(errs) > 0 {
		return fmt.Errorf("dataset: load stored data: %w", errors.Join(errs...))
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Value.fileName < results[j].Value.fileName
	})

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, r := range results {
		res := r.Value

		duplicate := false

		for _, existing := range d.buckets {
			if existing.StartMS() == res.header.StartTimeMS && existing.EndMS() == res.header.EndTimeMS {
				duplicate = true
				break
			}
		}

		if duplicate {
			_ = d.fsys.Remove(filepath.Join(d.dir, res.fileName))
			continue
		}

		d.insertBucketLocked(bucket.NewFromHeader(res.header, res.fileName, d.dir, d.fsys))
	}

	if len(d.buckets) == 0 {
		return nil
	}

	newest := d.buckets[0]

	nowMS := time.Now().UTC().UnixMilli()
	if nowMS-newest.EndMS() < d.sealAfter.Milliseconds() {
		reopened, err := bucket.ReopenUnsealed(persist.Header{
			Name:         d.counterName,
			StartTimeMS:  newest.StartMS(),
			EndTimeMS:    newest.EndMS(),
			DataType:     d.dataType,
			Sources:      newest.Sources().Snapshot(),
			DimensionSet: d.set,
		}, filepath.Base(newest.FilePath()), d.dir, d.fsys)
		if err != nil {
			return fmt.Errorf("dataset: reopen newest bucket: %w", err)
		}

		d.removeBucketsLocked([]*bucket.Bucket{newest})
		d.insertBucketLocked(reopened)

		return nil
	}

	return newest.Pin()
}
