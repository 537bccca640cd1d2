package bucket

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/calvinalkan/metricstore/internal/dimension"
	"github.com/calvinalkan/metricstore/internal/keyedstore"
	"github.com/calvinalkan/metricstore/internal/persist"
	"github.com/calvinalkan/metricstore/internal/value"
	"github.com/calvinalkan/metricstore/pkg/fs"
)

// Sentinel errors.
var (
	ErrSealed      = errors.New("bucket: sealed")
	ErrNotLoaded   = errors.New("bucket: not loaded")
	ErrWrongKind   = errors.New("bucket: wrong data kind for this bucket")
	ErrNotSealed   = errors.New("bucket: not sealed")
)

// Sample is one emitted query result (§4.11): a resolved dimension key,
// the bucket's time range, and a type-specific payload.
type Sample struct {
	CounterName string
	Key         dimension.Key
	StartMS     int64
	EndMS       int64
	HitCount    *value.HitCount
	Histogram   *value.Histogram
}

// Bucket is one Data Bucket (§4.9): the keyed data for one counter's
// [StartMS, EndMS) time window, plus its source set and lifecycle state.
type Bucket struct {
	mu sync.RWMutex

	counterName string
	startMS     int64
	endMS       int64
	dataType    persist.DataType
	set         *dimension.DimensionSet

	hitStore  *keyedstore.Store
	histStore *keyedstore.HistogramStore

	sources *SourceSet

	state State
	dirty bool

	dir      string
	fileName string
	fsys     fs.FS
	writer   *fs.AtomicWriter
}

// New creates a writable, in-memory, unsealed-dirty bucket covering
// [startMS, endMS) for counterName.
func New(counterName string, startMS, endMS int64, dataType persist.DataType, set *dimension.DimensionSet, dir string, fsys fs.FS) *Bucket {
	b := &Bucket{
		counterName: counterName,
		startMS:     startMS,
		endMS:       endMS,
		dataType:    dataType,
		set:         set,
		sources:     NewSourceSet(),
		state:       StateUnsealedDirty,
		dir:         dir,
		fsys:        fsys,
		writer:      fs.NewAtomicWriter(fsys),
	}

	b.allocStoresLocked()
	b.fileName = fileNameFor(startMS, endMS)

	return b
}

// NewFromHeader reconstructs a sealed, unloaded bucket's metadata from a
// persisted block's header, without materializing its keyed data (§4.10
// loadStoredData: "all unsealed buckets preload their source sets only" --
// extended here to every non-preloaded sealed bucket, whose rows load
// lazily on first access via ensureLoadedLocked).
func NewFromHeader(header persist.Header, fileName string, dir string, fsys fs.FS) *Bucket {
	b := &Bucket{
		counterName: header.Name,
		startMS:     header.StartTimeMS,
		endMS:       header.EndTimeMS,
		dataType:    header.DataType,
		set:         header.DimensionSet,
		sources:     FromSources(header.Sources),
		state:       StateSealedUnloaded,
		dir:         dir,
		fileName:    fileName,
		fsys:        fsys,
		writer:      fs.NewAtomicWriter(fsys),
	}

	return b
}

// ReopenUnsealed reconstructs a bucket from a persisted header and loads
// its rows eagerly, leaving it unsealed-clean so writes can resume. Used
// by loadStoredData recovery for the one on-disk bucket whose seal
// deadline has not yet passed when the process restarts (§4.10: a crash
// before maintenance could seal the newest bucket leaves it persisted but
// still logically open).
func ReopenUnsealed(header persist.Header, fileName string, dir string, fsys fs.FS) (*Bucket, error) {
	b := NewFromHeader(header, fileName, dir, fsys)

	if err := b.Pin(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.state = StateUnsealedClean
	b.mu.Unlock()

	return b, nil
}

func (b *Bucket) allocStoresLocked() {
	switch b.dataType {
	case persist.DataTypeHitCount:
		b.hitStore = keyedstore.New(b.set)
	case persist.DataTypeHistogram:
		b.histStore = keyedstore.NewHistogramStore(b.set)
	}
}

// StartMS and EndMS return the bucket's owned time window.
func (b *Bucket) StartMS() int64 { return b.startMS }
func (b *Bucket) EndMS() int64   { return b.endMS }

// State returns the bucket's current lifecycle state.
func (b *Bucket) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.state
}

// DataType returns the internal value kind this bucket's rows hold.
func (b *Bucket) DataType() persist.DataType {
	return b.dataType
}

// FilePath returns the bucket's on-disk path under dir.
func (b *Bucket) FilePath() string {
	return filepath.Join(b.dir, b.fileName)
}

func fileNameFor(startMS, endMS int64) string {
	return fmt.Sprintf("%s--%s.msdata", formatUTC(startMS), formatUTC(endMS))
}

// Delete removes the bucket's on-disk file, if any, and marks the bucket
// Deleted (terminal, §3/§4.9).
func (b *Bucket) Delete() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if exists, err := b.fsys.Exists(b.FilePath()); err == nil && exists {
		if err := b.fsys.Remove(b.FilePath()); err != nil {
			return fmt.Errorf("bucket: delete %q: %w", b.FilePath(), err)
		}
	}

	b.state = StateDeleted
	b.hitStore = nil
	b.histStore = nil

	return nil
}

// AddValue forwards a single (key, value) write to the bucket's keyed
// data store (§4.9). Fails with ErrSealed once the bucket is sealed.
func (b *Bucket) AddValue(key dimension.Key, v int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Sealed() {
		return ErrSealed
	}

	b.dirty = true

	switch b.dataType {
	case persist.DataTypeHitCount:
		return b.hitStore.Write(key, v)
	case persist.DataTypeHistogram:
		return b.histStore.AddValue(key, v)
	default:
		return fmt.Errorf("%w: data type %d", ErrWrongKind, b.dataType)
	}
}

// mergeLocked flushes pending writes into each store's merged view.
// Caller holds b.mu.
func (b *Bucket) mergeLocked() error {
	switch b.dataType {
	case persist.DataTypeHitCount:
		return b.hitStore.Merge()
	case persist.DataTypeHistogram:
		return b.histStore.Merge()
	}

	return nil
}

// GetMatches returns a single sample covering every row matching filter
// (§4.9).
func (b *Bucket) GetMatches(filter dimension.Key) (Sample, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureLoadedLocked(); err != nil {
		return Sample{}, err
	}

	if err := b.mergeLocked(); err != nil {
		return Sample{}, err
	}

	sample := Sample{CounterName: b.counterName, Key: filter, StartMS: b.startMS, EndMS: b.endMS}

	switch b.dataType {
	case persist.DataTypeHitCount:
		hc := value.NewHitCount()

		b.hitStore.ForEach(&filter, func(_ dimension.Key, v int64) bool {
			hc.MergeRaw(v)
			return true
		})

		sample.HitCount = hc

	case persist.DataTypeHistogram:
		hist := value.NewHistogram()

		b.histStore.ForEach(&filter, func(_ dimension.Key, h *value.Histogram) bool {
			_ = hist.MergeFrom(h)
			return true
		})

		sample.Histogram = hist
	}

	return sample, nil
}

// GetMatchesSplitByDimension returns one sample per distinct value of the
// dimension at splitSlot among rows matching filter; filter's slot at
// splitSlot is forced wildcard so every value passes through (§4.9).
func (b *Bucket) GetMatchesSplitByDimension(filter dimension.Key, splitSlot int) (map[uint32]Sample, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureLoadedLocked(); err != nil {
		return nil, err
	}

	if err := b.mergeLocked(); err != nil {
		return nil, err
	}

	splitFilter := filter.WithSlot(splitSlot, dimension.Wildcard)
	out := make(map[uint32]Sample)

	getOrInit := func(splitVal uint32) Sample {
		s, ok := out[splitVal]
		if ok {
			return s
		}

		s = Sample{
			CounterName: b.counterName,
			Key:         filter.WithSlot(splitSlot, splitVal),
			StartMS:     b.startMS,
			EndMS:       b.endMS,
		}

		if b.dataType == persist.DataTypeHitCount {
			s.HitCount = value.NewHitCount()
		} else {
			s.Histogram = value.NewHistogram()
		}

		return s
	}

	switch b.dataType {
	case persist.DataTypeHitCount:
		b.hitStore.ForEach(&splitFilter, func(k dimension.Key, v int64) bool {
			splitVal := k.At(splitSlot)
			s := getOrInit(splitVal)
			s.HitCount.MergeRaw(v)
			out[splitVal] = s

			return true
		})

	case persist.DataTypeHistogram:
		b.histStore.ForEach(&splitFilter, func(k dimension.Key, h *value.Histogram) bool {
			splitVal := k.At(splitSlot)
			s := getOrInit(splitVal)
			_ = s.Histogram.MergeFrom(h)
			out[splitVal] = s

			return true
		})
	}

	return out, nil
}

// GetDimensionValues yields the value string at slot for each matching
// row; duplicates allowed (§4.9).
func (b *Bucket) GetDimensionValues(slot int, filter dimension.Key) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureLoadedLocked(); err != nil {
		return nil, err
	}

	if err := b.mergeLocked(); err != nil {
		return nil, err
	}

	dim := b.set.At(slot)

	var out []string

	collect := func(k dimension.Key) {
		out = append(out, dim.StringAt(k.At(slot)))
	}

	switch b.dataType {
	case persist.DataTypeHitCount:
		b.hitStore.ForEach(&filter, func(k dimension.Key, _ int64) bool {
			collect(k)
			return true
		})
	case persist.DataTypeHistogram:
		b.histStore.ForEach(&filter, func(k dimension.Key, _ *value.Histogram) bool {
			collect(k)
			return true
		})
	}

	return out, nil
}

// Seal flushes unmerged data into the merged store and marks the bucket
// sealed; subsequent writes fail (§4.9).
func (b *Bucket) Seal() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Sealed() {
		return nil
	}

	if err := b.mergeLocked(); err != nil {
		return err
	}

	b.state = StateSealedLoaded

	return nil
}

// Persist writes the current merged data to disk if dirty, clearing the
// dirty flag on success (§4.9).
func (b *Bucket) Persist() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.persistLocked()
}

func (b *Bucket) persistLocked() error {
	if !b.dirty {
		return nil
	}

	if err := b.mergeLocked(); err != nil {
		return err
	}

	block, err := b.encodeBlockLocked()
	if err != nil {
		return err
	}

	if err := b.fsys.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("bucket: persist: mkdir %q: %w", b.dir, err)
	}

	if err := b.writer.WriteWithDefaults(b.FilePath(), bytes.NewReader(block)); err != nil {
		return fmt.Errorf("bucket: persist %q: %w", b.FilePath(), err)
	}

	b.dirty = false

	return nil
}

func (b *Bucket) encodeBlockLocked() ([]byte, error) {
	header := persist.Header{
		Name:         b.counterName,
		StartTimeMS:  b.startMS,
		EndTimeMS:    b.endMS,
		DataType:     b.dataType,
		Sources:      b.sources.Snapshot(),
		DimensionSet: b.set,
	}

	var rows []persist.Row

	switch b.dataType {
	case persist.DataTypeHitCount:
		b.hitStore.ForEach(nil, func(k dimension.Key, v int64) bool {
			hc := value.NewHitCount()
			hc.MergeRaw(v)
			rows = append(rows, persist.Row{Key: k, HitCount: hc})

			return true
		})

	case persist.DataTypeHistogram:
		b.histStore.ForEach(nil, func(k dimension.Key, h *value.Histogram) bool {
			rows = append(rows, persist.Row{Key: k, Histogram: h})
			return true
		})
	}

	return persist.EncodeBlock(header, rows)
}

// ReleaseData persists if needed, then drops in-memory data; metadata
// (time range, sources, file name) remains (§4.9). Only a sealed bucket
// may legitimately unload.
func (b *Bucket) ReleaseData() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.state.Sealed() {
		return fmt.Errorf("%w: only sealed buckets may unload", ErrNotSealed)
	}

	if err := b.persistLocked(); err != nil {
		return err
	}

	b.hitStore = nil
	b.histStore = nil
	b.state = StateSealedUnloaded

	return nil
}

// ensureLoadedLocked loads the bucket's keyed data back from disk if it
// is currently sealed-unloaded. Caller holds b.mu.
func (b *Bucket) ensureLoadedLocked() error {
	if b.state != StateSealedUnloaded {
		return nil
	}

	data, err := b.fsys.ReadFile(b.FilePath())
	if err != nil {
		return fmt.Errorf("bucket: load %q: %w", b.FilePath(), err)
	}

	header, rows, err := persist.DecodeBlock(data)
	if err != nil {
		return fmt.Errorf("bucket: decode %q: %w", b.FilePath(), err)
	}

	b.set = header.DimensionSet
	b.allocStoresLocked()

	for _, row := range rows {
		switch b.dataType {
		case persist.DataTypeHitCount:
			if err := b.hitStore.Write(row.Key, row.HitCount.Sum()); err != nil {
				return err
			}
		case persist.DataTypeHistogram:
			row.Histogram.ForEach(func(v int64, freq uint32) {
				for i := uint32(0); i < freq; i++ {
					_ = b.histStore.AddValue(row.Key, v)
				}
			})
		}
	}

	b.state = StateSealedLoaded

	return nil
}

// Pin ensures the bucket's keyed data is loaded in memory, reloading it
// from disk if it was unloaded (§4.11 "pin (load-on-demand)").
func (b *Bucket) Pin() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.ensureLoadedLocked()
}

// Serialize streams the bucket's on-disk bytes if the bucket is sealed and
// clean and its file exists; otherwise it serializes the in-memory state
// (§4.9).
func (b *Bucket) Serialize(w io.Writer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Sealed() && !b.dirty {
		if exists, _ := b.fsys.Exists(b.FilePath()); exists {
			f, err := b.fsys.Open(b.FilePath())
			if err != nil {
				return err
			}
			defer f.Close()

			_, err = io.Copy(w, f)

			return err
		}
	}

	if err := b.mergeLocked(); err != nil {
		return err
	}

	block, err := b.encodeBlockLocked()
	if err != nil {
		return err
	}

	_, err = w.Write(block)

	return err
}

// UpdateDataFromSources adopts or merges rows attributed to sourceNames:
// each declared-pending source is marked Available, the rows are merged
// into the bucket's store, and the bucket is marked dirty (§4.9).
func (b *Bucket) UpdateDataFromSources(sourceNames []string, rows []persist.Row) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, name := range sourceNames {
		b.sources.MarkAvailable(name)
	}

	for _, row := range rows {
		switch b.dataType {
		case persist.DataTypeHitCount:
			if row.HitCount == nil {
				continue
			}

			if err := b.hitStore.Write(row.Key, row.HitCount.Sum()); err != nil {
				return err
			}

		case persist.DataTypeHistogram:
			if row.Histogram == nil {
				continue
			}

			var writeErr error

			row.Histogram.ForEach(func(v int64, freq uint32) {
				for i := uint32(0); i < freq; i++ {
					if err := b.histStore.AddValue(row.Key, v); err != nil {
						writeErr = err
					}
				}
			})

			if writeErr != nil {
				return writeErr
			}
		}
	}

	b.dirty = true

	return nil
}

// PendingSources returns the names whose status is still Unknown (§4.9).
func (b *Bucket) PendingSources() []string {
	return b.sources.Pending()
}

// Sources returns the bucket's source set, for maintenance/compaction
// bookkeeping.
func (b *Bucket) Sources() *SourceSet {
	return b.sources
}

// MarkSourceAvailable records name as Available on the bucket's local
// source (§4.10's "add the local host to the new bucket's source set as
// Available").
func (b *Bucket) MarkSourceAvailable(name string) {
	b.sources.MarkAvailable(name)
}

// ErrNotSealedInput is returned by AbsorbSealed when asked to fold in an
// unsealed bucket (§4.10: "a compaction group is never constructed from
// an unsealed bucket").
var ErrNotSealedInput = errors.New("bucket: compaction input must be sealed")

// AbsorbSealed folds other's keyed data and source set into b (§4.10
// compaction: "build a new coarser bucket by merging the sources and
// merging the keyed data of the group"). other must already be sealed;
// b is left dirty and unsealed so the caller can continue absorbing
// siblings before a final Seal.
func (b *Bucket) AbsorbSealed(other *Bucket) error {
	other.mu.Lock()
	if !other.state.Sealed() {
		other.mu.Unlock()
		return ErrNotSealedInput
	}

	if err := other.ensureLoadedLocked(); err != nil {
		other.mu.Unlock()
		return err
	}
	other.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Sealed() {
		return ErrSealed
	}

	switch b.dataType {
	case persist.DataTypeHitCount:
		b.hitStore.TakeData(other.hitStore)
	case persist.DataTypeHistogram:
		b.histStore.TakeData(other.histStore)
	default:
		return fmt.Errorf("%w: data type %d", ErrWrongKind, b.dataType)
	}

	b.sources.Merge(other.sources)
	b.dirty = true

	return nil
}
