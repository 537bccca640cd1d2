package metricstore

import (
	"fmt"
	"strconv"
	"strings"

	iquery "github.com/calvinalkan/metricstore/internal/query"
)

// Reserved paramDict keys (§6.3).
const (
	paramStart      = "start"
	paramEnd        = "end"
	paramDimension  = "dimension"
	paramAggregate  = "aggregate"
	paramPercentile = "percentile"
)

// HistogramPoint is one (value, frequency) pair from a [Sample]'s
// histogram (§4.4). Exposed as a snapshot slice rather than the internal
// mutable histogram type.
type HistogramPoint struct {
	Value     int64
	Frequency uint32
}

// Sample is one query result (§4.11): a counter name, its resolved
// dimension values, the covered time range, and a type-specific payload.
type Sample struct {
	CounterName string
	Dimensions  map[string]string
	StartMS     int64
	EndMS       int64

	HitCount  int64
	Histogram []HistogramPoint

	Percentile int64
	Average    int64
	Min        int64
	Max        int64
}

func toPublicSample(s iquery.Sample) Sample {
	out := Sample{
		CounterName: s.CounterName,
		Dimensions:  s.Dimensions,
		StartMS:     s.StartMS,
		EndMS:       s.EndMS,
		HitCount:    s.HitCount,
		Percentile:  s.Percentile,
		Average:     s.Average,
		Min:         s.Min,
		Max:         s.Max,
	}

	if s.Histogram != nil {
		var points []HistogramPoint

		s.Histogram.ForEach(func(v int64, freq uint32) {
			points = append(points, HistogramPoint{Value: v, Frequency: freq})
		})

		out.Histogram = points
	}

	return out
}

// buildQueryParams translates a public paramDict (§6.3 reserved keys:
// start, end, dimension, aggregate, percentile) into [iquery.Params],
// passing every other key through as a dimension filter.
func buildQueryParams(paramDict map[string]string) (iquery.Params, error) {
	filter := make(map[string]string, len(paramDict))

	var params iquery.Params

	for k, v := range paramDict {
		switch strings.ToLower(k) {
		case paramStart:
			filter["startTime"] = v
		case paramEnd:
			filter["endTime"] = v
		case paramDimension:
			params.SplitBy = v
		case paramAggregate:
			combine, err := strconv.ParseBool(v)
			if err != nil {
				return iquery.Params{}, fmt.Errorf("%w: aggregate must be a bool, got %q", ErrInvalidArgument, v)
			}

			params.Combine = combine
		case paramPercentile:
			qtype, percentile, err := parsePercentileParam(v)
			if err != nil {
				return iquery.Params{}, err
			}

			params.Type = qtype
			params.Percentile = percentile
		default:
			filter[k] = v
		}
	}

	params.Filter = filter

	return params, nil
}

func parsePercentileParam(v string) (iquery.Type, int, error) {
	switch strings.ToLower(v) {
	case "average":
		return iquery.Average, 0, nil
	case "minimum":
		return iquery.Min, 0, nil
	case "maximum":
		return iquery.Max, 0, nil
	}

	p, err := strconv.Atoi(v)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: percentile must be numeric or average|minimum|maximum, got %q", ErrInvalidArgument, v)
	}

	if p < 0 || p > 100 {
		return 0, 0, fmt.Errorf("%w: percentile %d out of range [0,100]", ErrInvalidArgument, p)
	}

	return iquery.Percentile, p, nil
}
