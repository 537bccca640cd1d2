package metricstore

import (
	"bytes"
	"io"
	"time"

	"github.com/calvinalkan/metricstore/internal/dataset"
	"github.com/calvinalkan/metricstore/internal/dimension"
	iquery "github.com/calvinalkan/metricstore/internal/query"
)

// counterCore holds the state shared by [HitCounter] and [HistogramCounter]:
// query and serialization, which don't differ by value kind (§6.3).
type counterCore struct {
	engine *Engine
	name   string
	set    *dimension.DimensionSet
	ds     *dataset.DataSet
}

// Name returns the counter's name, including its leading '/'.
func (c *counterCore) Name() string { return c.name }

// Query runs paramDict against the counter (§6.3, §4.11). Reserved keys:
// "start"/"end" (time window, ms since Unix epoch UTC), "dimension"
// (split-by target), "aggregate" ("true" to combine across buckets),
// "percentile" (an integer 0-100, or one of "average"/"minimum"/"maximum").
// Every other key is a dimension filter; a value containing '*' or '?' is
// matched as a glob (§6.3).
func (c *counterCore) Query(paramDict map[string]string) ([]Sample, error) {
	if c.engine.shuttingDown.Load() {
		return nil, ErrShutdown
	}

	params, err := buildQueryParams(paramDict)
	if err != nil {
		return nil, err
	}

	raw, err := iquery.Run(c.ds, params)
	if err != nil {
		return nil, classifyErr(err)
	}

	out := make([]Sample, len(raw))
	for i, s := range raw {
		out[i] = toPublicSample(s)
	}

	return out, nil
}

// Serialize writes every bucket whose start time lies in [start, end) to
// out, oldest first (§4.10 serialize). Writes are staged through the
// engine's slab pool rather than straight to out, so repeated
// serialization (e.g. periodic cross-host shipping) does not allocate a
// fresh buffer per call (§5 "Resource policy").
func (c *counterCore) Serialize(start, end time.Time, out io.Writer) error {
	if c.engine.shuttingDown.Load() {
		return ErrShutdown
	}

	slab := c.engine.slabs.Get()
	defer c.engine.slabs.Put(slab)

	buf := bytes.NewBuffer(slab)

	if err := c.ds.Serialize(start, end, buf); err != nil {
		return classifyErr(err)
	}

	_, err := out.Write(buf.Bytes())

	return err
}

// HitCounter accumulates scalar increments (§4.4 Hit count).
type HitCounter struct {
	counterCore
}

// Increment adds amount to the hit count for dims at ts (§6.3
// hitCounter.increment). dims may omit dimensions; missing values resolve
// to wildcard.
func (c *HitCounter) Increment(amount int64, dims map[string]string, ts time.Time) error {
	if c.engine.shuttingDown.Load() {
		return ErrShutdown
	}

	key, _, err := c.set.CreateKey(dims)
	if err != nil {
		return classifyErr(err)
	}

	return classifyErr(c.ds.AddValue(amount, key, ts))
}

// HistogramCounter accumulates value→frequency samples (§4.4 Histogram).
type HistogramCounter struct {
	counterCore
}

// AddValue feeds v unrounded into the histogram for dims at ts (§6.3
// histogramCounter.addValue).
func (c *HistogramCounter) AddValue(v int64, dims map[string]string, ts time.Time) error {
	return c.AddValueRounded(v, dims, ts, RoundNone, 0)
}

// AddValueRounded is [HistogramCounter.AddValue] with the optional
// rounding mode and factor §6.3 names.
func (c *HistogramCounter) AddValueRounded(v int64, dims map[string]string, ts time.Time, mode RoundingMode, factor int) error {
	if c.engine.shuttingDown.Load() {
		return ErrShutdown
	}

	key, _, err := c.set.CreateKey(dims)
	if err != nil {
		return classifyErr(err)
	}

	rounded := round(CounterOptions{Rounding: mode, Factor: factor}, v)

	return classifyErr(c.ds.AddValue(rounded, key, ts))
}
