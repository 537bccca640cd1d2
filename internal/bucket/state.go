// Package bucket implements the Data Bucket (§4.9): the per-time-window
// container of keyed data for one counter, with its unsealed/sealed,
// loaded/unloaded state machine, source-set bookkeeping, and on-disk
// persistence through pkg/fs.AtomicWriter.
package bucket

import "fmt"

// State is one of the Data Bucket lifecycle states (§3, §4.9):
// unsealed-dirty -> unsealed-clean -> sealed-loaded -> sealed-unloaded ->
// deleted. A sealed bucket may never accept writes again.
type State int

const (
	StateUnsealedDirty State = iota
	StateUnsealedClean
	StateSealedLoaded
	StateSealedUnloaded
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateUnsealedDirty:
		return "unsealed-dirty"
	case StateUnsealedClean:
		return "unsealed-clean"
	case StateSealedLoaded:
		return "sealed-loaded"
	case StateSealedUnloaded:
		return "sealed-unloaded"
	case StateDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("bucket.State(%d)", int(s))
	}
}

// Sealed reports whether s is one of the two sealed states.
func (s State) Sealed() bool {
	return s == StateSealedLoaded || s == StateSealedUnloaded
}
