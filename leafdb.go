// Package leafdb implements an embedded, file-backed document store:
// an append-only per-collection log, secondary indexes with a query
// planner, and a change-notification hub, exposed behind a small
// Firestore-shaped façade (Store / CollectionRef / DocumentRef).
//
// Grounded on docdb/internal/docdb/core.go's LogicalDB (a struct that
// owns its subsystems directly, with no back-references from them)
// and docdb/internal/docdb/collections.go's CollectionRegistry (name
// validation, doc-count bookkeeping), folded together since leafdb's
// "collection" is a directory, not a catalog entry needing a separate
// durable registry: the filesystem itself is the catalog.
package leafdb

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/leafdb/leafdb/internal/config"
	"github.com/leafdb/leafdb/internal/errors"
	"github.com/leafdb/leafdb/internal/indexmgr"
	"github.com/leafdb/leafdb/internal/logger"
	"github.com/leafdb/leafdb/internal/memory"
	"github.com/leafdb/leafdb/internal/metrics"
	"github.com/leafdb/leafdb/internal/notify"
	"github.com/leafdb/leafdb/internal/query"
	"github.com/leafdb/leafdb/internal/reclog"
)

// MaxCollectionNameLen bounds a collection name's length in bytes,
// mirroring the teacher's collection-name contract.
const MaxCollectionNameLen = 64

// Store is the root handle for one root directory: one store owns
// every collection (subdirectory) beneath it.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	rootDir     string
	cfg         *config.Config
	logger      *logger.Logger
	metrics     *metrics.Collector
	bufPool     *memory.BufferPool
	collections map[string]*CollectionRef
}

// Open opens (creating if necessary) a Store rooted at rootPath using
// default tuning (spec §6 "open(rootPath) → Store").
func Open(rootPath string) (*Store, error) {
	cfg := config.DefaultConfig()
	cfg.RootDir = rootPath
	return OpenWithConfig(cfg)
}

// OpenWithConfig opens a Store with caller-supplied tuning.
func OpenWithConfig(cfg *config.Config) (*Store, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create root dir: %v", errors.ErrIO, err)
	}

	log := logger.Default()
	var metricsCollector *metrics.Collector
	if cfg.Metrics.Namespace != "" {
		metricsCollector = metrics.Default()
	}

	return &Store{
		rootDir:     cfg.RootDir,
		cfg:         cfg,
		logger:      log,
		metrics:     metricsCollector,
		bufPool:     memory.NewBufferPool(cfg.Memory.BufferSizes),
		collections: make(map[string]*CollectionRef),
	}, nil
}

// ValidateCollectionName enforces the same naming rules the teacher
// applies to its collections: non-empty, valid UTF-8, no path
// separators, bounded length.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", errors.ErrCollectionNameInvalid)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: collection name must be valid UTF-8", errors.ErrCollectionNameInvalid)
	}
	if len(name) > MaxCollectionNameLen {
		return fmt.Errorf("%w: collection name exceeds %d bytes", errors.ErrCollectionNameInvalid, MaxCollectionNameLen)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: collection name cannot contain a path separator", errors.ErrCollectionNameInvalid)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: collection name cannot contain a null byte", errors.ErrCollectionNameInvalid)
	}
	return nil
}

// Collection returns the CollectionRef for name, opening its log,
// indexes, and notification hub on first use (spec §6
// "Store.collection(name) → CollectionRef").
func (s *Store) Collection(name string) (*CollectionRef, error) {
	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}

	s.mu.RLock()
	if c, ok := s.collections[name]; ok {
		s.mu.RUnlock()
		return c, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		return c, nil
	}

	dir := filepath.Join(s.rootDir, name)
	c, err := newCollectionRef(name, dir, s.cfg, s.logger, s.metrics, s.bufPool)
	if err != nil {
		return nil, err
	}
	s.collections[name] = c
	return c, nil
}

// Collections lists the names of every collection opened so far in
// this process, plus any subdirectory of rootDir not yet opened.
func (s *Store) Collections() ([]string, error) {
	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		return nil, fmt.Errorf("%w: list collections: %v", errors.ErrIO, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// IndexManager returns the Index Manager backing name's collection,
// opening the collection first if needed (spec §6
// "Store.indexManager(collection).ensureIndex(meta)").
func (s *Store) IndexManager(name string) (*indexmgr.Manager, error) {
	c, err := s.Collection(name)
	if err != nil {
		return nil, err
	}
	return c.indexes, nil
}

// CollectionStats summarizes one collection's live state.
type CollectionStats struct {
	LiveDocuments       int
	TombstonedDocuments int
	LoadedIndexes       int
	ParseErrors         uint64
	ErrorCounts         map[string]uint64
	CriticalAlerts      int
}

// StoreStats aggregates CollectionStats across every opened
// collection (supplemented feature: spec §9 "Store.Stats()").
type StoreStats struct {
	Collections map[string]CollectionStats
}

// Stats reports per-collection counts for every collection opened so
// far in this process.
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := StoreStats{Collections: make(map[string]CollectionStats, len(s.collections))}
	for name, c := range s.collections {
		stats := CollectionStats{
			LiveDocuments:       c.log.LiveCount(),
			TombstonedDocuments: c.log.TombstonedCount(),
			LoadedIndexes:       c.indexes.LoadedCount(),
			ParseErrors:         c.log.ParseErrorCount(),
			ErrorCounts:         c.log.ErrorCounts(),
			CriticalAlerts:      c.log.CriticalAlertCount(),
		}
		out.Collections[name] = stats
		if s.metrics != nil {
			s.metrics.DocumentsLive.WithLabelValues(name).Set(float64(stats.LiveDocuments))
			s.metrics.DocumentsDeleted.WithLabelValues(name).Set(float64(stats.TombstonedDocuments))
			s.metrics.IndexesLoaded.WithLabelValues(name).Set(float64(stats.LoadedIndexes))
		}
	}
	return out
}

// Close releases every opened collection's resources (record log
// file handle, rebuild worker pool, filesystem watch).
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, c := range s.collections {
		if err := c.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func newCollectionRef(name, dir string, cfg *config.Config, log *logger.Logger, m *metrics.Collector, bufPool *memory.BufferPool) (*CollectionRef, error) {
	recLog, err := reclog.Open(dir, log, bufPool, m)
	if err != nil {
		return nil, err
	}

	indexes, err := indexmgr.New(dir, recLog, indexmgr.Options{
		CacheSize:      cfg.Index.LoadedCacheSize,
		UseWorker:      cfg.Index.UseWorker,
		PoolSize:       cfg.Index.WorkerPoolSize,
		Logger:         log,
		Metrics:        m,
		RebuildTimeout: cfg.Index.RebuildTimeout,
	})
	if err != nil {
		recLog.Close()
		return nil, err
	}

	watchDir := ""
	if cfg.Notify.WatchFilesystem {
		watchDir = dir
	}
	hub, err := notify.New(notify.Options{
		WatchDir:         watchDir,
		SubscriberBuffer: cfg.Notify.SubscriberBuffer,
		Logger:           log,
	})
	if err != nil {
		indexes.Close()
		recLog.Close()
		return nil, err
	}

	return &CollectionRef{
		name:     name,
		dir:      dir,
		log:      recLog,
		indexes:  indexes,
		executor: query.New(recLog, indexes),
		hub:      hub,
		metrics:  m,
		logger:   log,
	}, nil
}
