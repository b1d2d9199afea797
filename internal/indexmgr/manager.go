// Package indexmgr implements the per-collection registry and
// lifecycle described in spec §4.3: which secondary indexes exist,
// lazily loading and rebuilding them, and keeping them in sync with
// every primary-log write.
//
// Grounded on docdb/internal/pool/scheduler.go's ants.Pool wiring,
// distilled down to the one job shape this package needs (rebuild one
// index), and on docdb/internal/docdb/worker_pool.go's task/result
// channel pattern for collecting a rebuild's outcome.
package indexmgr

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/panjf2000/ants/v2"

	"github.com/leafdb/leafdb/internal/errors"
	"github.com/leafdb/leafdb/internal/logger"
	"github.com/leafdb/leafdb/internal/metrics"
	"github.com/leafdb/leafdb/internal/reclog"
	"github.com/leafdb/leafdb/internal/secidx"
	"github.com/leafdb/leafdb/internal/types"
)

// Manager owns the index registry and loaded-index cache for one
// collection.
type Manager struct {
	mu       sync.RWMutex
	dir      string
	registry map[string]types.IndexMeta
	cache    *lru.Cache[string, *secidx.SecondaryIndex]

	log     *reclog.RecordLog
	logger  *logger.Logger
	metrics *metrics.Collector

	pool      *ants.Pool
	ownedPool bool

	useWorker      bool
	rebuildTimeout time.Duration
}

// Options configures a new Manager.
type Options struct {
	CacheSize int
	UseWorker bool
	PoolSize  int        // ants pool capacity; <=0 means unbounded
	Pool      *ants.Pool // shared pool; if nil and UseWorker, a dedicated one is created
	Logger    *logger.Logger
	Metrics   *metrics.Collector

	// RebuildTimeout bounds how long EnsureIndex/rebuild waits for a
	// worker-pool-dispatched rebuild before giving up on it. <=0 means
	// wait indefinitely.
	RebuildTimeout time.Duration
}

// New creates a Manager rooted at dir, backed by log for rebuilds.
func New(dir string, log *reclog.RecordLog, opts Options) (*Manager, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Default()
	}

	cache, err := lru.New[string, *secidx.SecondaryIndex](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("%w: create index cache: %v", errors.ErrIO, err)
	}

	m := &Manager{
		dir:            dir,
		registry:       make(map[string]types.IndexMeta),
		cache:          cache,
		log:            log,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		useWorker:      opts.UseWorker,
		rebuildTimeout: opts.RebuildTimeout,
	}

	if opts.UseWorker {
		if opts.Pool != nil {
			m.pool = opts.Pool
		} else {
			size := opts.PoolSize
			if size <= 0 {
				size = -1
			}
			p, err := ants.NewPool(size, ants.WithPanicHandler(func(v interface{}) {
				m.logger.Error("index rebuild worker panic: %v", v)
			}))
			if err != nil {
				return nil, fmt.Errorf("%w: create rebuild pool: %v", errors.ErrIO, err)
			}
			m.pool = p
			m.ownedPool = true
		}
	}

	return m, nil
}

// Close releases an owned worker pool. A pool supplied via
// Options.Pool is left running for its other owners.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ownedPool && m.pool != nil {
		m.pool.Release()
		m.pool = nil
	}
}

func idxPath(dir string, meta types.IndexMeta) string {
	return filepath.Join(dir, meta.FileName())
}

// Registered reports whether an index with this name is registered.
func (m *Manager) Registered(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.registry[name]
	return ok
}

// Metas returns a snapshot of all currently registered IndexMeta.
func (m *Manager) Metas() []types.IndexMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.IndexMeta, 0, len(m.registry))
	for _, meta := range m.registry {
		out = append(out, meta)
	}
	return out
}

// LoadedCount reports how many secondary indexes are currently
// resident in the cache (for Store.Stats()).
func (m *Manager) LoadedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache.Len()
}

// EnsureIndex records meta under its name and guarantees it is
// loaded, building it from the record log if no index file exists or
// the existing one fails to parse (spec §4.3 "ensureIndex").
func (m *Manager) EnsureIndex(meta types.IndexMeta, useWorker bool) (*secidx.SecondaryIndex, error) {
	name := meta.Name()

	m.mu.Lock()
	m.registry[name] = meta
	if idx, ok := m.cache.Get(name); ok {
		m.mu.Unlock()
		return idx, nil
	}
	m.mu.Unlock()

	idx, err := m.loadFromDisk(meta)
	if err != nil {
		m.logger.Warn("index %s failed to load (%v), rebuilding", name, err)
		idx, err = m.rebuild(meta, useWorker && m.useWorker)
		if err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.cache.Add(name, idx)
	m.mu.Unlock()
	return idx, nil
}

// Get returns the loaded index by name, or nil if not currently
// loaded. Callers that need it built should use EnsureIndex instead.
func (m *Manager) Get(name string) (*secidx.SecondaryIndex, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache.Get(name)
}

func (m *Manager) loadFromDisk(meta types.IndexMeta) (*secidx.SecondaryIndex, error) {
	data, err := os.ReadFile(idxPath(m.dir, meta))
	if err != nil {
		return nil, err
	}
	idx := secidx.New()
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrParse, err)
	}
	return idx, nil
}

// rebuild iterates live primary entries, reads each record, emits the
// canonical key, and writes the result atomically (spec §4.3
// "Rebuild strategy"). When useWorker is set, the scan runs on the
// ants pool so callers don't block the calling goroutine's CPU.
func (m *Manager) rebuild(meta types.IndexMeta, useWorker bool) (*secidx.SecondaryIndex, error) {
	build := func() (*secidx.SecondaryIndex, error) {
		return m.scanAndBuild(meta)
	}

	var idx *secidx.SecondaryIndex
	var buildErr error

	if useWorker && m.pool != nil {
		done := make(chan struct{})
		submitErr := m.pool.Submit(func() {
			defer close(done)
			idx, buildErr = build()
		})
		if submitErr != nil {
			idx, buildErr = build()
		} else if m.rebuildTimeout > 0 {
			select {
			case <-done:
			case <-time.After(m.rebuildTimeout):
				return nil, fmt.Errorf("%w: index %s", errors.ErrRebuildTimeout, meta.Name())
			}
		} else {
			<-done
		}
	} else {
		idx, buildErr = build()
	}

	if buildErr != nil {
		return nil, buildErr
	}
	if err := m.persist(meta, idx); err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.RebuildsTotal.WithLabelValues(filepath.Base(m.dir), meta.Name()).Inc()
	}
	return idx, nil
}

func (m *Manager) scanAndBuild(meta types.IndexMeta) (*secidx.SecondaryIndex, error) {
	docs, err := m.log.ReadAllLive()
	if err != nil {
		return nil, err
	}

	idx := secidx.New()
	for _, doc := range docs {
		key, ok := canonicalKeyForMeta(doc, meta, false)
		if !ok {
			continue
		}
		idx.Add(key, doc.ID())
	}
	return idx, nil
}

// canonicalKeyForMeta computes a document's canonical key for meta.
// For a single-field index, the field must be present unless
// allowMissing is true. For a composite index, every component is
// included, substituting "" for an absent field; without allowMissing
// at least one field must be present. ApplyIndexChangesOnUpdate passes
// allowMissing for composite keys: the add step relies on the ""
// substitution, while the unlink step only runs when prev has every
// field.
func canonicalKeyForMeta(doc types.Document, meta types.IndexMeta, allowMissing bool) (string, bool) {
	if len(meta.Fields) == 1 {
		v, present := doc[meta.Fields[0]]
		if !present && !allowMissing {
			return "", false
		}
		return secidx.Canonical(types.FromInterface(v), meta.KeyTypeFor(0)), true
	}

	components := make([]string, len(meta.Fields))
	anyPresent := false
	for i, f := range meta.Fields {
		v, present := doc[f]
		if present {
			anyPresent = true
			components[i] = secidx.Canonical(types.FromInterface(v), meta.KeyTypeFor(i))
		} else {
			components[i] = ""
		}
	}
	if !anyPresent && !allowMissing {
		return "", false
	}
	return secidx.CompositeKey(components), true
}

func (m *Manager) persist(meta types.IndexMeta, idx *secidx.SecondaryIndex) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("%w: marshal index %s: %v", errors.ErrParse, meta.Name(), err)
	}
	path := idxPath(m.dir, meta)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: write index tmp: %v", errors.ErrIO, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: rename index: %v", errors.ErrIO, err)
	}
	return nil
}

// ApplyIndexChangesOnUpdate keeps every currently loaded index in
// sync with one document write (spec §4.3
// "applyIndexChangesOnUpdate"). prev and next are nil for a create or
// a delete respectively.
func (m *Manager) ApplyIndexChangesOnUpdate(id string, prev, next types.Document) error {
	m.mu.RLock()
	type loaded struct {
		meta types.IndexMeta
		idx  *secidx.SecondaryIndex
	}
	var all []loaded
	for name, meta := range m.registry {
		if idx, ok := m.cache.Get(name); ok {
			all = append(all, loaded{meta, idx})
		}
	}
	m.mu.RUnlock()

	for _, l := range all {
		meta, idx := l.meta, l.idx
		if len(meta.Fields) == 1 {
			f := meta.Fields[0]
			if prev != nil {
				if v, ok := prev[f]; ok {
					idx.Remove(secidx.Canonical(types.FromInterface(v), meta.KeyTypeFor(0)), id)
				}
			}
			if next != nil {
				if v, ok := next[f]; ok {
					idx.Add(secidx.Canonical(types.FromInterface(v), meta.KeyTypeFor(0)), id)
				}
			}
		} else {
			if prev != nil && allFieldsPresent(prev, meta.Fields) {
				key, _ := canonicalKeyForMeta(prev, meta, true)
				idx.Remove(key, id)
			}
			if next != nil {
				key, _ := canonicalKeyForMeta(next, meta, true)
				idx.Add(key, id)
			}
		}

		if err := m.persist(meta, idx); err != nil {
			return err
		}
	}
	return nil
}

func allFieldsPresent(doc types.Document, fields []string) bool {
	for _, f := range fields {
		if _, ok := doc[f]; !ok {
			return false
		}
	}
	return true
}
