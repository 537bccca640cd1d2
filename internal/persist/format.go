// Package persist implements the persisted bucket block format (§4.7,
// §6.1): a versioned, length-framed, CRC-protected block holding a
// deflate-compressed header (name, time range, data type, sources,
// dimension set, row count) followed by a raw data frame of (key, value)
// rows. Readers accept the current protocol version and the immediately
// previous one.
package persist

import "errors"

// Protocol versions. CurrentVersion is written by Writer; PreviousVersion
// is the only other version Reader accepts, per §4.7's "current version
// and the immediately previous version."
const (
	CurrentVersion  uint16 = 2
	PreviousVersion uint16 = 1
)

// DataType identifies which internal value kind a block's rows hold
// (§6.1: "1 = hit-count, 3 = variable-encoded histogram; type 2 is
// reserved legacy").
type DataType int32

const (
	DataTypeHitCount  DataType = 1
	dataTypeReserved2 DataType = 2
	DataTypeHistogram DataType = 3
)

// SourceStatus is one source's contribution status for a bucket (§3).
type SourceStatus int32

const (
	SourceUnknown SourceStatus = iota
	SourceAvailable
	SourceUnavailable
	SourcePartial
)

// Combine implements §3's symmetric status-combination table:
// Partial absorbs anything; Unknown+Available = Partial;
// Unknown+Unavailable = Unknown; Available+Unavailable = Partial.
func (s SourceStatus) Combine(other SourceStatus) SourceStatus {
	if s == SourcePartial || other == SourcePartial {
		return SourcePartial
	}

	if s == other {
		return s
	}

	switch {
	case s == SourceUnknown && other == SourceAvailable, s == SourceAvailable && other == SourceUnknown:
		return SourcePartial
	case s == SourceUnknown && other == SourceUnavailable, s == SourceUnavailable && other == SourceUnknown:
		return SourceUnknown
	case s == SourceAvailable && other == SourceUnavailable, s == SourceUnavailable && other == SourceAvailable:
		return SourcePartial
	default:
		return SourcePartial
	}
}

// Source is one logical data source's recorded status for a bucket.
type Source struct {
	Name   string
	Status SourceStatus
}

// ErrCorrupt is returned for truncated reads, CRC mismatches, unknown
// versions/data-type codes, or duplicate dimension values (§4.7).
var ErrCorrupt = errors.New("persist: corrupt block")

// ErrUnsupportedVersion is returned when a block's protocol version is
// neither CurrentVersion nor PreviousVersion.
var ErrUnsupportedVersion = errors.New("persist: unsupported protocol version")
