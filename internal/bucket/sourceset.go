package bucket

import (
	"sync"

	"github.com/calvinalkan/metricstore/internal/persist"
)

// SourceSet records, per logical data source, whether it has contributed
// to a bucket yet (§3). Status combination is symmetric: Partial absorbs
// anything; Unknown+Available = Partial; Unknown+Unavailable = Unknown;
// Available+Unavailable = Partial - implemented by persist.SourceStatus.Combine.
type SourceSet struct {
	mu      sync.Mutex
	status  map[string]persist.SourceStatus
	order   []string
}

// NewSourceSet returns an empty SourceSet.
func NewSourceSet() *SourceSet {
	return &SourceSet{status: make(map[string]persist.SourceStatus)}
}

// Set records name's status, combining with any prior status per §3.
func (s *SourceSet) Set(name string, status persist.SourceStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setLocked(name, status)
}

func (s *SourceSet) setLocked(name string, status persist.SourceStatus) {
	prev, ok := s.status[name]
	if !ok {
		s.order = append(s.order, name)
		s.status[name] = status

		return
	}

	s.status[name] = prev.Combine(status)
}

// MarkAvailable marks name Available, combining with any prior status.
func (s *SourceSet) MarkAvailable(name string) {
	s.Set(name, persist.SourceAvailable)
}

// Pending returns the names whose status is Unknown (§4.9 pendingSources).
func (s *SourceSet) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string

	for _, name := range s.order {
		if s.status[name] == persist.SourceUnknown {
			out = append(out, name)
		}
	}

	return out
}

// Snapshot returns every recorded source and its status, in insertion order.
func (s *SourceSet) Snapshot() []persist.Source {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]persist.Source, len(s.order))
	for i, name := range s.order {
		out[i] = persist.Source{Name: name, Status: s.status[name]}
	}

	return out
}

// Merge folds other's entries into s, combining statuses per §3.
func (s *SourceSet) Merge(other *SourceSet) {
	for _, src := range other.Snapshot() {
		s.Set(src.Name, src.Status)
	}
}

// FromSources rebuilds a SourceSet from a persisted snapshot (e.g. a
// block's header), preserving order.
func FromSources(sources []persist.Source) *SourceSet {
	s := NewSourceSet()

	for _, src := range sources {
		s.setLocked(src.Name, src.Status)
	}

	return s
}
