package keyedstore

import (
	"sync"

	"github.com/calvinalkan/metricstore/internal/buffer"
	"github.com/calvinalkan/metricstore/internal/dimension"
	"github.com/calvinalkan/metricstore/internal/value"
)

// HistogramRow is one distinct key's accumulated histogram after a merge.
type HistogramRow struct {
	Key       dimension.Key
	Histogram *value.Histogram
}

// HistogramStore is the Keyed Data Store variant for histogram counters
// (§4.6, §4.4). Raw appends are one row per observed sample, exactly like
// Store; the difference is in the merge reduction: instead of summing
// values under a shared key (HitCount semantics), it groups same-key rows
// and folds them into a *value.Histogram via the "slab reference"
// raw-merge path (§4.4's mergeFrom "or a slab reference").
type HistogramStore struct {
	mu sync.Mutex

	set *dimension.DimensionSet

	writable *buffer.Buffer
	unmerged []*buffer.Buffer

	merged []HistogramRow

	unmergedBytes int64
	dirty         bool
}

// NewHistogramStore returns an empty HistogramStore over set.
func NewHistogramStore(set *dimension.DimensionSet) *HistogramStore {
	return &HistogramStore{set: set}
}

func (s *HistogramStore) DimensionSet() *dimension.DimensionSet {
	return s.set
}

func (s *HistogramStore) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dirty || s.writable != nil || len(s.unmerged) > 0
}

func (s *HistogramStore) rowBytes() int64 {
	return int64(s.set.Len()*4 + 8)
}

// AddValue appends one observed sample for key.
func (s *HistogramStore) AddValue(key dimension.Key, v int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.writable == nil {
			s.writable = buffer.New(s.set, defaultWritableCapacity)
		}

		err := s.writable.TryWrite(key, v)
		if err == nil {
			s.dirty = true
			return nil
		}

		if err != buffer.ErrFull {
			return err
		}

		s.rotateWritableLocked()
	}
}

func (s *HistogramStore) rotateWritableLocked() {
	if s.writable == nil {
		return
	}

	s.writable.Seal()
	s.unmerged = append(s.unmerged, s.writable)
	s.unmergedBytes += int64(s.writable.Len()) * s.rowBytes()
	s.writable = nil
}

// Merge seals the writable slab, remaps every unmerged buffer whose set
// differs (rows are not sorted; merged rows keep first-seen key order) and
// folds its samples into the existing per-key Histogram from the previous
// merge (creating one for keys seen for the first time). Already-merged
// histograms are never re-expanded or rebuilt: each unmerged sample costs
// one Histogram.AddValue, so Merge's cost is proportional to the new,
// unmerged data, not the key's entire lifetime sample count.
func (s *HistogramStore) Merge() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rotateWritableLocked()

	if len(s.unmerged) == 0 {
		return nil
	}

	type acc struct {
		key  dimension.Key
		hist *value.Histogram
	}

	byKey := make(map[string]*acc, len(s.merged))
	order := make([]string, 0, len(s.merged))

	for _, row := range s.merged {
		raw := keyString(row.Key)
		byKey[raw] = &acc{key: row.Key, hist: row.Histogram}
		order = append(order, raw)
	}

	addRow := func(k dimension.Key, v int64) {
		raw := keyString(k)

		a, ok := byKey[raw]
		if !ok {
			a = &acc{key: k, hist: value.NewHistogram()}
			byKey[raw] = a
			order = append(order, raw)
		}

		a.hist.AddValue(v)
	}

	for _, buf := range s.unmerged {
		if buf.DimensionSet() != s.set {
			conv := dimension.NewConverter(s.set, buf.DimensionSet())
			if err := buf.Remap(conv, s.set); err != nil {
				return err
			}
		}

		buf.ForEach(nil, func(k dimension.Key, v int64) bool {
			addRow(k, v)
			return true
		})
	}

	rows := make([]HistogramRow, 0, len(order))
	for _, raw := range order {
		a := byKey[raw]
		rows = append(rows, HistogramRow{Key: a.key, Histogram: a.hist})
	}

	s.merged = rows
	s.unmerged = nil
	s.unmergedBytes = 0
	s.dirty = false

	return nil
}

// TakeData moves other's merged and unmerged buffers into s's unmerged
// list, leaving other empty.
func (s *HistogramStore) TakeData(other *HistogramStore) {
	other.mu.Lock()
	other.rotateWritableLocked()

	takenBuffers := other.unmerged
	takenRows := other.merged

	var takenBytes int64
	for _, buf := range takenBuffers {
		takenBytes += int64(buf.Len()) * other.rowBytes()
	}

	other.unmerged = nil
	other.merged = nil
	other.unmergedBytes = 0
	other.dirty = false
	other.mu.Unlock()

	// Re-expand other's already-merged histograms into raw-sample
	// buffers so they flow through the same grouping path next Merge.
	for _, row := range takenRows {
		buf := buffer.New(s.set, int(row.Histogram.Total()))
		row.Histogram.ForEach(func(v int64, freq uint32) {
			for i := uint32(0); i < freq; i++ {
				_ = buf.TryWrite(row.Key, v)
			}
		})
		buf.Seal()
		takenBuffers = append(takenBuffers, buf)
	}

	s.mu.Lock()
	s.unmerged = append(s.unmerged, takenBuffers...)
	s.unmergedBytes += takenBytes
	s.dirty = true
	s.mu.Unlock()
}

// ForEach enumerates the merged histogram rows, optionally filtered.
func (s *HistogramStore) ForEach(filter *dimension.Key, fn func(key dimension.Key, hist *value.Histogram) bool) {
	s.mu.Lock()
	rows := s.merged
	s.mu.Unlock()

	for _, row := range rows {
		if filter != nil && !filter.Matches(row.Key) {
			continue
		}

		if !fn(row.Key, row.Histogram) {
			return
		}
	}
}

func (s *HistogramStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.merged)
}

func keyString(k dimension.Key) string {
	buf := make([]byte, 0, k.Len()*4)
	buf = k.Serialize(buf)

	return string(buf)
}
