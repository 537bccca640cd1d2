package metricstore

import (
	"time"

	"github.com/calvinalkan/metricstore/internal/dataset"
	"github.com/calvinalkan/metricstore/pkg/fs"
)

// EngineOptions configures a new [Engine] (§6.3, §5 Concurrency & Resource
// Model).
type EngineOptions struct {
	// Dir is the root directory under which every counter gets its own
	// subdirectory (§6.2: "One counter's files live under a directory
	// whose name is derived from the counter name").
	Dir string

	// FS is the filesystem seam used for every bucket file. Defaults to
	// [fs.NewReal] when nil.
	FS fs.FS

	// LocalSource identifies this host in source-set bookkeeping (§3). A
	// random [github.com/google/uuid] value is used when empty.
	LocalSource string

	// Peers lists the other known hosts contributing to every counter
	// opened through this engine.
	Peers []string

	// SealAfter and MaxAge configure the maintenance scan (§4.10).
	// Default to one hour and 30 days respectively.
	SealAfter time.Duration
	MaxAge    time.Duration

	// Ladder configures compaction (§4.10). Defaults to
	// [dataset.DefaultLadder].
	Ladder []dataset.CompactionStep

	// MaintenanceInterval is how often the background maintenance scan
	// runs for every open counter. Zero selects the default (one
	// minute); a negative value disables the background loop entirely,
	// leaving callers to invoke [Engine.Flush] themselves.
	MaintenanceInterval time.Duration

	// CompactionInterval is how often the background compaction pass
	// runs. Zero selects the default (five minutes); negative disables
	// it.
	CompactionInterval time.Duration

	// Parallelism caps the number of goroutines background maintenance
	// and compaction may use across counters at once (§5 "Background
	// maintenance and compaction run on a thread pool with a
	// caller-configured parallelism cap"). Defaults to 4.
	Parallelism int
}

// Dimension describes one counter dimension to create alongside a counter
// (§3). The zero value is an unrestricted dimension once named via
// [NewDimension].
type Dimension struct {
	name      string
	whitelist []string
}

// NewDimension returns a Dimension named name. If whitelist is non-empty,
// values outside it are treated as wildcard on write (§3).
func NewDimension(name string, whitelist ...string) Dimension {
	return Dimension{name: name, whitelist: whitelist}
}

// RoundingMode controls how [HistogramCounter.AddValue] rounds a raw
// sample before it is folded into the histogram (§6.3).
type RoundingMode int

const (
	// RoundNone stores values unrounded.
	RoundNone RoundingMode = iota

	// RoundSignificantDigits keeps only the leading Factor significant
	// decimal digits, rounding the remainder (e.g. Factor=2 rounds 12345
	// to 12000).
	RoundSignificantDigits

	// RoundByteCount buckets values into the nearest power-of-two no
	// finer than Factor bytes, the common bucketing scheme for byte-size
	// histograms (allocation sizes, payload lengths).
	RoundByteCount
)

// CounterOptions configures rounding for a [HistogramCounter]. The zero
// value stores samples unrounded.
type CounterOptions struct {
	Rounding RoundingMode
	// Factor is interpreted per Rounding: significant-digit count for
	// RoundSignificantDigits, minimum bucket width for RoundByteCount.
	Factor int
}

func round(opts CounterOptions, v int64) int64 {
	switch opts.Rounding {
	case RoundSignificantDigits:
		return roundSignificantDigits(v, opts.Factor)
	case RoundByteCount:
		return roundByteCount(v, opts.Factor)
	default:
		return v
	}
}

func roundSignificantDigits(v int64, digits int) int64 {
	if v == 0 || digits <= 0 {
		return v
	}

	neg := v < 0

	x := v
	if neg {
		x = -x
	}

	magnitude := 0

	for tmp := x; tmp >= 10; tmp /= 10 {
		magnitude++
	}

	shift := magnitude - (digits - 1)
	if shift <= 0 {
		if neg {
			return -x
		}

		return x
	}

	div := int64(1)
	for i := 0; i < shift; i++ {
		div *= 10
	}

	rounded := ((x + div/2) / div) * div
	if neg {
		rounded = -rounded
	}

	return rounded
}

func roundByteCount(v int64, factor int) int64 {
	if v <= 0 {
		return 0
	}

	if factor < 1 {
		factor = 1
	}

	p := int64(1)
	for p < int64(factor) {
		p <<= 1
	}

	for p < v {
		p <<= 1
	}

	half := p / 2
	if half >= int64(factor) && (v-half) < (p-v) {
		return half
	}

	return p
}
