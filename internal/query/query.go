// Package query implements the Query Engine (§4.11): resolving a filter +
// split/combine/type specification against a [dataset.DataSet]'s buckets,
// pinning (load-on-demand) and unloading each bucket touched by the scan,
// and deriving percentile/average/min/max payloads with a silent downgrade
// to Normal when a bucket's value type cannot satisfy the requested type
// (§7 UnsupportedQuery).
package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ryanuber/go-glob"

	"github.com/calvinalkan/metricstore/internal/bucket"
	"github.com/calvinalkan/metricstore/internal/dataset"
	"github.com/calvinalkan/metricstore/internal/dimension"
	"github.com/calvinalkan/metricstore/internal/value"
)

// ErrInvalidArgument is returned for malformed query input (§7).
var ErrInvalidArgument = errors.New("query: invalid argument")

// Type selects the post-processing applied to each emitted sample.
type Type int

const (
	Normal Type = iota
	Percentile
	Average
	Min
	Max
)

// Reserved filter-dict keys (§6.3).
const (
	dimStartTime = "startTime"
	dimEndTime   = "endTime"
)

// Params is one query specification (§4.11).
type Params struct {
	// Filter maps dimension name to either an exact value or a glob
	// pattern (containing '*' or '?', §6.3). startTime/endTime are also
	// read from here.
	Filter map[string]string

	// SplitBy is the dimension name to emit one sample per distinct
	// value for; empty means no split.
	SplitBy string

	// Combine aggregates across buckets into a single sample per split
	// value instead of one sample per bucket per split value.
	Combine bool

	Type Type
	// Percentile is used when Type == Percentile and must be in [0, 100].
	Percentile int
}

// Sample is one emitted query result (§4.11).
type Sample struct {
	CounterName string
	Dimensions  map[string]string
	StartMS     int64
	EndMS       int64

	HitCount   int64
	Histogram  *value.Histogram
	Percentile int64
	Average    int64
	Min        int64
	Max        int64
}

// Run executes params against ds, returning every resulting sample. The
// lazy stream described by §4.11 is realized as a materialized slice here:
// a query's bucket set is bounded by the data set's retention window, so
// there is no unbounded-cardinality concern that would call for a channel
// the way the teacher's Scan reserves channels for truly open-ended scans.
func Run(ds *dataset.DataSet, params Params) ([]Sample, error) {
	startMS, endMS, ok, err := resolveWindow(ds, params.Filter)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, nil
	}

	set := ds.DimensionSet()

	splitSlot := -1
	if params.SplitBy != "" {
		splitSlot, err = set.OffsetOf(params.SplitBy)
		if err != nil {
			return nil, err
		}
	}

	filterKeys, globSlots, err := buildFilterKeys(set, params.Filter)
	if err != nil {
		return nil, err
	}

	if len(filterKeys) == 0 {
		return nil, nil
	}

	buckets := ds.BucketsOverlapping(startMS, endMS)

	type combineKey struct {
		splitVal uint32
		hasSplit bool
	}

	combined := make(map[combineKey]*bucket.Sample)
	var combinedOrder []combineKey

	var samples []Sample

	for _, b := range buckets {
		wasUnloaded := b.State() == bucket.StateSealedUnloaded

		raws, scanErr := collectBucket(b, filterKeys, splitSlot)

		if wasUnloaded {
			_ = b.ReleaseData()
		}

		if scanErr != nil {
			return nil, scanErr
		}

		for _, r := range raws {
			if !params.Combine {
				samples = append(samples, toQuerySample(set, r.sample, params, globSlots))
				continue
			}

			key := combineKey{splitVal: r.splitVal, hasSplit: r.hasSplit}

			existing, seen := combined[key]
			if !seen {
				cp := r.sample
				combined[key] = &cp
				combinedOrder = append(combinedOrder, key)

				continue
			}

			mergeBucketSample(existing, &r.sample)
		}
	}

	if params.Combine {
		for _, key := range combinedOrder {
			samples = append(samples, toQuerySample(set, *combined[key], params, globSlots))
		}
	}

	return samples, nil
}

// rawResult is one bucket-level match, before cross-bucket combination.
type rawResult struct {
	splitVal uint32
	hasSplit bool
	sample   bucket.Sample
}

// collectBucket pins b (via GetMatches/GetMatchesSplitByDimension's
// internal ensureLoadedLocked) and gathers every match across filterKeys
// (one key per glob expansion), merging same-split-value matches from
// different filter-key alternatives together (§4.11 step 2).
func collectBucket(b *bucket.Bucket, filterKeys []dimension.Key, splitSlot int) ([]rawResult, error) {
	if splitSlot < 0 {
		var merged *bucket.Sample

		for _, fk := range filterKeys {
			s, err := b.GetMatches(fk)
			if err != nil {
				return nil, err
			}

			if merged == nil {
				cp := s
				merged = &cp

				continue
			}

			mergeBucketSample(merged, &s)
		}

		if merged == nil {
			return nil, nil
		}

		return []rawResult{{sample: *merged}}, nil
	}

	acc := make(map[uint32]*bucket.Sample)

	var order []uint32

	for _, fk := range filterKeys {
		matches, err := b.GetMatchesSplitByDimension(fk, splitSlot)
		if err != nil {
			return nil, err
		}

		for splitVal, s := range matches {
			existing, ok := acc[splitVal]
			if !ok {
				cp := s
				acc[splitVal] = &cp
				order = append(order, splitVal)

				continue
			}

			mergeBucketSample(existing, &s)
		}
	}

	out := make([]rawResult, 0, len(order))

	for _, v := range order {
		out = append(out, rawResult{splitVal: v, hasSplit: true, sample: *acc[v]})
	}

	return out, nil
}

// mergeBucketSample folds src into dst: extremal time bounds, summed hit
// count, merged histogram (§4.11 step 3: "merged internal data and
// extremal start/end").
func mergeBucketSample(dst, src *bucket.Sample) {
	if src.StartMS < dst.StartMS {
		dst.StartMS = src.StartMS
	}

	if src.EndMS > dst.EndMS {
		dst.EndMS = src.EndMS
	}

	if src.HitCount != nil {
		if dst.HitCount == nil {
			dst.HitCount = value.NewHitCount()
		}

		dst.HitCount.MergeRaw(src.HitCount.Sum())
	}

	if src.Histogram != nil {
		if dst.Histogram == nil {
			dst.Histogram = value.NewHistogram()
		}

		_ = dst.Histogram.MergeFrom(src.Histogram)
	}
}

// toQuerySample resolves raw's key into a dimension-name map (masking any
// glob-expanded slot, whose resolved value is ambiguous once several
// matches have been folded together) and applies the query type's
// post-processing, downgrading silently to Normal when the bucket's value
// type cannot satisfy it (§7 UnsupportedQuery).
func toQuerySample(set *dimension.DimensionSet, raw bucket.Sample, params Params, globSlots []int) Sample {
	key := raw.Key
	for _, slot := range globSlots {
		key = key.WithSlot(slot, dimension.Wildcard)
	}

	out := Sample{
		CounterName: raw.CounterName,
		Dimensions:  resolveDimensions(set, key),
		StartMS:     raw.StartMS,
		EndMS:       raw.EndMS,
	}

	if raw.HitCount != nil {
		out.HitCount = raw.HitCount.Sum()
	}

	qtype := params.Type
	if qtype != Normal && raw.Histogram == nil {
		qtype = Normal
	}

	out.Histogram = raw.Histogram

	switch qtype {
	case Percentile:
		if p, err := raw.Histogram.Percentile(params.Percentile); err == nil {
			out.Percentile = p
		}
	case Average:
		if avg, ok := raw.Histogram.Average(); ok {
			out.Average = avg
		}
	case Min:
		if mn, ok := raw.Histogram.Min(); ok {
			out.Min = mn
		}
	case Max:
		if mx, ok := raw.Histogram.Max(); ok {
			out.Max = mx
		}
	}

	return out
}

func resolveDimensions(set *dimension.DimensionSet, key dimension.Key) map[string]string {
	out := make(map[string]string)

	for i := 0; i < set.Len(); i++ {
		v := key.At(i)
		if v == dimension.Wildcard {
			continue
		}

		out[set.At(i).Name()] = set.At(i).StringAt(v)
	}

	return out
}

// resolveWindow extracts [start, end) from the reserved startTime/endTime
// filter entries, defaulting to ds's loaded bounds when neither is
// supplied. If both are supplied and start >= end, it fails with
// ErrInvalidArgument; if only one is supplied, ok is false so the caller
// returns an empty result rather than failing (§4.11).
func resolveWindow(ds *dataset.DataSet, filter map[string]string) (startMS, endMS int64, ok bool, err error) {
	startStr, hasStart := filter[dimStartTime]
	endStr, hasEnd := filter[dimEndTime]

	switch {
	case hasStart && hasEnd:
		start, errStart := strconv.ParseInt(startStr, 10, 64)
		end, errEnd := strconv.ParseInt(endStr, 10, 64)

		if errStart != nil || errEnd != nil {
			return 0, 0, false, fmt.Errorf("%w: malformed startTime/endTime", ErrInvalidArgument)
		}

		if start >= end {
			return 0, 0, false, fmt.Errorf("%w: startTime must be before endTime", ErrInvalidArgument)
		}

		return start, end, true, nil

	case hasStart || hasEnd:
		return 0, 0, false, nil

	default:
		oldest, newest, has := ds.Bounds()
		if !has {
			return 0, 0, false, nil
		}

		return oldest, newest, true, nil
	}
}

// buildFilterKeys resolves filter into one or more concrete filter keys:
// exact-value dimensions resolve directly to a single slot index; glob
// patterns (value containing '*' or '?') expand to one key per currently
// interned value the pattern matches (§6.3). Reserved names are skipped.
// Returns (nil, nil, nil) if a glob pattern matches nothing, meaning the
// query yields an empty result.
func buildFilterKeys(set *dimension.DimensionSet, filter map[string]string) ([]dimension.Key, []int, error) {
	base := set.GetWildcardKey()

	var globSlots []int

	var alternatives [][]uint32

	for name, val := range filter {
		if dimension.IsReservedName(name) {
			continue
		}

		slot, err := set.OffsetOf(name)
		if err != nil {
			return nil, nil, err
		}

		if isGlobPattern(val) {
			indices := matchGlobIndices(set.At(slot), val)
			if len(indices) == 0 {
				return nil, nil, nil
			}

			globSlots = append(globSlots, slot)
			alternatives = append(alternatives, indices)

			continue
		}

		idx, err := set.At(slot).IndexOf(val)
		if err != nil {
			return nil, nil, err
		}

		base = base.WithSlot(slot, idx)
	}

	if len(globSlots) == 0 {
		return []dimension.Key{base}, nil, nil
	}

	keys := []dimension.Key{base}

	for i, slot := range globSlots {
		next := make([]dimension.Key, 0, len(keys)*len(alternatives[i]))

		for _, k := range keys {
			for _, idx := range alternatives[i] {
				next = append(next, k.WithSlot(slot, idx))
			}
		}

		keys = next
	}

	return keys, globSlots, nil
}

func isGlobPattern(v string) bool {
	return strings.ContainsAny(v, "*?")
}

// matchGlobIndices returns the indices of d's interned values matching
// pattern, using '*'/'?' glob semantics only (§6.3).
func matchGlobIndices(d *dimension.Dimension, pattern string) []uint32 {
	var out []uint32

	n := d.Len()
	for i := 0; i < n; i++ {
		if glob.Glob(pattern, d.StringAt(uint32(i))) {
			out = append(out, uint32(i))
		}
	}

	return out
}
