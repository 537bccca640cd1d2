// Package metricstore is an embeddable time-series counter store for
// high-volume performance-metric ingestion (§1 PURPOSE & SCOPE). Producers
// increment hit counters or feed samples into histogram counters, tagged
// with arbitrary string dimensions; consumers later query totals,
// histograms, percentiles, averages, minima, and maxima, optionally
// filtered and split by dimension value across bounded time windows. Data
// is retained at a decaying resolution: fine-grained recent, coarser
// older, purged beyond a configurable horizon (§4.10 compaction).
package metricstore

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/calvinalkan/metricstore/internal/bucket"
	"github.com/calvinalkan/metricstore/internal/dataset"
	"github.com/calvinalkan/metricstore/internal/dimension"
	"github.com/calvinalkan/metricstore/internal/events"
	"github.com/calvinalkan/metricstore/internal/persist"
	"github.com/calvinalkan/metricstore/internal/pool"
	"github.com/calvinalkan/metricstore/pkg/fs"
)

const (
	defaultSealAfter           = time.Hour
	defaultMaxAge              = 30 * 24 * time.Hour
	defaultMaintenanceInterval = time.Minute
	defaultCompactionInterval  = 5 * time.Minute
	defaultParallelism         = 4

	// slabSize seeds the engine-wide serialization buffer pool (§5
	// "Resource policy").
	slabSize = 64 * 1024

	dirPerm = 0o755
)

// Engine owns every open counter's directory, background maintenance and
// compaction loops, and the shared event bus and buffer pool injected into
// each [dataset.DataSet] (§9 "Global mutable state": no package-level
// mutable globals outside of these two services).
type Engine struct {
	dir   string
	fsys  fs.FS
	bus   *events.Bus
	slabs *pool.SlabPool

	localSource string
	peers       []string

	sealAfter time.Duration
	maxAge    time.Duration
	ladder    []dataset.CompactionStep

	maintenanceInterval time.Duration
	compactionInterval  time.Duration
	parallelism         int

	mu       sync.RWMutex
	counters map[string]*counterCore

	hooksMu      sync.Mutex
	cleanupHooks []func()

	shuttingDown atomic.Bool
	stop         chan struct{}
	wg           sync.WaitGroup
}

// Open validates opts, creates the root data directory if missing, and
// starts the engine's background maintenance/compaction loops (§5). The
// returned Engine must eventually be closed with [Engine.Shutdown].
func Open(opts EngineOptions) (*Engine, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("%w: EngineOptions.Dir must not be empty", ErrInvalidArgument)
	}

	fsys := opts.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	if err := fsys.MkdirAll(opts.Dir, dirPerm); err != nil {
		return nil, fmt.Errorf("metricstore: create data dir %q: %w", opts.Dir, err)
	}

	localSource := opts.LocalSource
	if localSource == "" {
		localSource = uuid.NewString()
	}

	sealAfter := opts.SealAfter
	if sealAfter <= 0 {
		sealAfter = defaultSealAfter
	}

	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}

	maintenanceInterval := opts.MaintenanceInterval
	if maintenanceInterval == 0 {
		maintenanceInterval = defaultMaintenanceInterval
	}

	compactionInterval := opts.CompactionInterval
	if compactionInterval == 0 {
		compactionInterval = defaultCompactionInterval
	}

	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}

	e := &Engine{
		dir:                 opts.Dir,
		fsys:                fsys,
		bus:                 events.New(),
		slabs:               pool.New(slabSize),
		localSource:         localSource,
		peers:               opts.Peers,
		sealAfter:           sealAfter,
		maxAge:              maxAge,
		ladder:              opts.Ladder,
		maintenanceInterval: maintenanceInterval,
		compactionInterval:  compactionInterval,
		parallelism:         parallelism,
		counters:            make(map[string]*counterCore),
		stop:                make(chan struct{}),
	}

	if maintenanceInterval > 0 {
		e.wg.Add(1)
		go e.maintenanceLoop()
	}

	if compactionInterval > 0 {
		e.wg.Add(1)
		go e.compactionLoop()
	}

	return e, nil
}

// Subscribe returns a channel of seal/drop notifications for counter plus
// an unsubscribe function (§9 Design Notes). Safe to call before the
// counter is created; it simply receives nothing until the counter
// exists.
func (e *Engine) Subscribe(counterName string) (<-chan events.Event, func()) {
	return e.bus.Subscribe(counterName)
}

// CreateHitCounter creates a new hit-count counter (§6.3 createHitCounter,
// §6.4 counter name validation).
func (e *Engine) CreateHitCounter(name string, dims ...Dimension) (*HitCounter, error) {
	core, err := e.createCounter(name, persist.DataTypeHitCount, dims)
	if err != nil {
		return nil, err
	}

	return &HitCounter{counterCore: core}, nil
}

// CreateHistogramCounter creates a new histogram counter (§6.3
// createHistogramCounter).
func (e *Engine) CreateHistogramCounter(name string, dims ...Dimension) (*HistogramCounter, error) {
	core, err := e.createCounter(name, persist.DataTypeHistogram, dims)
	if err != nil {
		return nil, err
	}

	return &HistogramCounter{counterCore: core}, nil
}

func (e *Engine) createCounter(name string, dataType persist.DataType, dims []Dimension) (*counterCore, error) {
	if e.shuttingDown.Load() {
		return nil, ErrShutdown
	}

	if err := validateCounterName(name); err != nil {
		return nil, err
	}

	if err := validateDimensions(dims); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.counters[name]; exists {
		return nil, fmt.Errorf("%w: counter %q already exists", ErrInvalidArgument, name)
	}

	set := buildDimensionSet(dims)
	dir := filepath.Join(e.dir, counterDir(name))

	if err := e.fsys.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("metricstore: create counter dir %q: %w", dir, err)
	}

	ds, err := dataset.New(dataset.Options{
		CounterName: name,
		DataType:    dataType,
		Set:         set,
		Dir:         dir,
		FS:          e.fsys,
		Bus:         e.bus,
		LocalSource: e.localSource,
		Peers:       e.peers,
		Ladder:      e.ladder,
		SealAfter:   e.sealAfter,
		MaxAge:      e.maxAge,
	})
	if err != nil {
		return nil, classifyErr(err)
	}

	if err := ds.LoadStoredData(context.Background()); err != nil {
		return nil, classifyErr(err)
	}

	core := &counterCore{engine: e, name: name, set: set, ds: ds}
	e.counters[name] = core

	return core, nil
}

func buildDimensionSet(dims []Dimension) *dimension.DimensionSet {
	built := make([]*dimension.Dimension, len(dims))

	for i, d := range dims {
		if len(d.whitelist) > 0 {
			built[i] = dimension.NewWithWhitelist(d.name, d.whitelist)
			continue
		}

		built[i] = dimension.New(d.name)
	}

	// Most-populous dimension first shortens the common-case sort key
	// (§3); whitelisted dimensions start pre-interned with their full
	// value set, so this already has an effect at counter creation even
	// before any data is written.
	return dimension.NewSet(built...).ReorderByPopularity()
}

// Flush forces every open counter's maintenance scan to run immediately,
// sealing and persisting any bucket eligible by age (§4.10). It does not
// run compaction.
func (e *Engine) Flush() {
	now := time.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, c := range e.counters {
		c.ds.MaintenanceScan(now)
	}
}

// Shutdown signals every background loop to stop, waits for them to exit,
// then persists every dirty bucket (sealed or not) so a later Open of the
// same directory sees the data. Calls to Create*Counter after Shutdown
// fail with [ErrShutdown]; in-flight writes and queries are not cancelled
// mid-step (§5 "Cancellation").
func (e *Engine) Shutdown() {
	if !e.shuttingDown.CompareAndSwap(false, true) {
		return
	}

	close(e.stop)
	e.wg.Wait()

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, c := range e.counters {
		for _, b := range c.ds.BucketsOverlapping(math.MinInt64, math.MaxInt64) {
			_ = b.Persist()
		}
	}
}

// RegisterCleanupHook registers fn to be invoked by [Engine.TriggerCleanup]
// (§5 "Resource policy" / SPEC_FULL.md PART D: the injection seam for an
// embedder's own memory-pressure monitor — the engine does not monitor
// memory itself).
func (e *Engine) RegisterCleanupHook(fn func()) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()

	e.cleanupHooks = append(e.cleanupHooks, fn)
}

// TriggerCleanup invokes every registered cleanup hook in registration
// order. An embedder's memory-pressure monitor calls this; the engine
// never calls it on its own.
func (e *Engine) TriggerCleanup() {
	e.hooksMu.Lock()
	hooks := make([]func(), len(e.cleanupHooks))
	copy(hooks, e.cleanupHooks)
	e.hooksMu.Unlock()

	for _, hook := range hooks {
		hook()
	}
}

// Stats reports a point-in-time snapshot of resource usage across every
// open counter (SPEC_FULL.md PART D).
type Stats struct {
	Counters            int
	TotalBuckets        int
	LoadedBuckets       int
	ApproxResidentBytes int64
}

// approxBucketBytes is a rough per-loaded-bucket footprint estimate; exact
// accounting would require walking every keyed-data-store row, which is
// out of scope for a diagnostic counter (§1 Non-goals: process-level
// memory-limit monitoring).
const approxBucketBytes = 64 * 1024

// Stats returns a snapshot of counter/bucket counts across the engine.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := Stats{Counters: len(e.counters)}

	for _, c := range e.counters {
		all := c.ds.BucketsOverlapping(math.MinInt64, math.MaxInt64)
		stats.TotalBuckets += len(all)

		for _, b := range all {
			if b.State() != bucket.StateSealedUnloaded {
				stats.LoadedBuckets++
			}
		}
	}

	stats.ApproxResidentBytes = int64(stats.LoadedBuckets) * approxBucketBytes

	return stats
}

func (e *Engine) maintenanceLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.Flush()
		}
	}
}

func (e *Engine) compactionLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.compactionInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, e.parallelism)

	for {
		select {
		case <-e.stop:
			return
		case now := <-ticker.C:
			e.mu.RLock()
			cores := make([]*counterCore, 0, len(e.counters))
			for _, c := range e.counters {
				cores = append(cores, c)
			}
			e.mu.RUnlock()

			var wg sync.WaitGroup

			for _, c := range cores {
				select {
				case <-e.stop:
					wg.Wait()
					return
				case sem <- struct{}{}:
				}

				wg.Add(1)

				go func(c *counterCore) {
					defer wg.Done()
					defer func() { <-sem }()

					_ = c.ds.Compact(now)
				}(c)
			}

			wg.Wait()
		}
	}
}
