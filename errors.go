package metricstore

import (
	"errors"
	"fmt"

	"github.com/calvinalkan/metricstore/internal/bucket"
	"github.com/calvinalkan/metricstore/internal/dataset"
	"github.com/calvinalkan/metricstore/internal/dimension"
	"github.com/calvinalkan/metricstore/internal/persist"
	iquery "github.com/calvinalkan/metricstore/internal/query"
)

// Sentinel error kinds (§7 ERROR HANDLING DESIGN).
var (
	// ErrInvalidArgument marks malformed caller input: a bad counter name,
	// a negative rounding factor, an empty source list, or a query window
	// with start >= end when both were user-supplied.
	ErrInvalidArgument = errors.New("metricstore: invalid argument")

	// ErrSealed marks a write or update attempted against a sealed bucket.
	ErrSealed = errors.New("metricstore: bucket is sealed")

	// ErrUnknownDimension marks a dimension name absent from a counter's set.
	ErrUnknownDimension = errors.New("metricstore: unknown dimension")

	// ErrCorruptData marks a truncated stream, CRC mismatch, duplicate
	// dimension value, unknown type code, or unsupported protocol version
	// encountered while reading a persisted bucket file.
	ErrCorruptData = errors.New("metricstore: corrupt data")

	// ErrUnsupportedQuery marks a percentile/average/min/max query against
	// a hit-count counter. Query downgrades such a query silently to
	// Normal, so no operation in this package returns it.
	ErrUnsupportedQuery = errors.New("metricstore: unsupported query type for counter")

	// ErrShutdown marks an operation attempted after Engine.Shutdown.
	ErrShutdown = errors.New("metricstore: engine is shutting down")
)

// classifyErr maps an internal-package sentinel to its public counterpart,
// preserving the original error for errors.Is/errors.As against the
// internal sentinel too. Errors that don't match a known kind pass
// through unchanged (e.g. an I/O error from the filesystem seam).
func classifyErr(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, dimension.ErrUnknownDimension):
		return fmt.Errorf("%w: %w", ErrUnknownDimension, err)
	case errors.Is(err, dimension.ErrReservedName),
		errors.Is(err, dimension.ErrTooManyValues),
		errors.Is(err, dimension.ErrInvalidArgument),
		errors.Is(err, dataset.ErrInvalidArgument),
		errors.Is(err, dataset.ErrInvalidLadder),
		errors.Is(err, iquery.ErrInvalidArgument):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	case errors.Is(err, bucket.ErrSealed):
		return fmt.Errorf("%w: %w", ErrSealed, err)
	case errors.Is(err, persist.ErrCorrupt), errors.Is(err, persist.ErrUnsupportedVersion):
		return fmt.Errorf("%w: %w", ErrCorruptData, err)
	default:
		return err
	}
}
