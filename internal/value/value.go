// Package value implements the two internal data kinds a counter can hold
// (§4.4): a scalar HitCount and a frequency-mapped Histogram. Their shared
// capabilities — kind, clear, merge-from-another and serialize — form the
// Value interface; raw merging (MergeRaw) and the histogram derivations
// (Percentile, Average, Min, Max) are methods of the concrete types, not
// of the interface. The interface is used rather than a tagged union,
// since the two kinds differ enough in their raw-merge payload type that a single struct with
// a kind tag would need as much branching as the interface does.
package value

import (
	"errors"
)

// ErrInvalidArgument is returned for out-of-range percentile requests.
var ErrInvalidArgument = errors.New("value: invalid argument")

// Kind identifies which concrete implementation a Value is, for callers
// that need to branch without a type switch (e.g. the persisted format's
// data-type byte, §6.1).
type Kind uint8

const (
	KindHitCount Kind = iota
	KindHistogram
)

// Value is the capability set shared by HitCount and Histogram.
type Value interface {
	Kind() Kind
	Clear()
	MergeFrom(other Value) error
	Serialize(buf []byte) []byte
}
