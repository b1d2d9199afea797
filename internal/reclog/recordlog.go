// Package reclog implements the append-only record log and in-memory
// primary offset index described in spec §4.1. It is the single
// source of truth for which document id is live (spec §3, invariant
// I3): the log never loses a written line, and the primary index
// always points at the newest version of every id.
//
// Grounded on the teacher's internal/docdb/datafile.go (mutex-guarded
// file handle, offset tracking via Stat, RetryController-wrapped
// writes) and internal/catalog/catalog.go (write-tmp-then-rename
// persistence). Departs from datafile.go's CRC32 binary framing
// because spec §6 mandates plain newline-terminated JSON text lines.
package reclog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/leafdb/leafdb/internal/errors"
	"github.com/leafdb/leafdb/internal/logger"
	"github.com/leafdb/leafdb/internal/memory"
	"github.com/leafdb/leafdb/internal/metrics"
	"github.com/leafdb/leafdb/internal/types"
)

const (
	dataFileName    = "data.ndjson"
	primaryFileName = "primary.idx.json"
)

// RecordLog owns one collection's append-only log and its primary
// index. All exported methods are safe for concurrent use.
type RecordLog struct {
	mu   sync.Mutex
	dir  string
	file *os.File
	size int64

	primary     map[string]*types.PrimaryEntry
	nextVersion uint64

	logger     *logger.Logger
	bufPool    *memory.BufferPool
	retryCtrl  *errors.RetryController
	classifier *errors.Classifier
	tracker    *errors.ErrorTracker
	metrics    *metrics.Collector
	collection string // filepath.Base(dir), used as the metrics label

	// ParseErrors counts log records/lines that failed to parse on
	// read or rebuild.
	// Surfaced through ParseErrorCount for Store.Stats() and through
	// the parse_errors_total metric.
	ParseErrors uint64
}

// Open ensures dir and its empty data file exist, loads the primary
// index if present, and sets the next version one past the maximum
// observed version (spec §4.1 "open"). m may be nil, in which case
// parse errors are tracked but not exported as a metric.
func Open(dir string, log *logger.Logger, bufPool *memory.BufferPool, m *metrics.Collector) (*RecordLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create collection dir: %v", errors.ErrIO, err)
	}

	path := filepath.Join(dir, dataFileName)
	// Opened without O_APPEND: os.File.WriteAt refuses to work on an
	// append-mode file, and the log's offset bookkeeping already
	// guarantees every write lands at the current end of file.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open data file: %v", errors.ErrIO, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat data file: %v", errors.ErrIO, err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: seek data file: %v", errors.ErrIO, err)
	}

	if bufPool == nil {
		bufPool = memory.NewBufferPool(nil)
	}
	if log == nil {
		log = logger.Default()
	}

	l := &RecordLog{
		dir:        dir,
		file:       f,
		size:       info.Size(),
		primary:    make(map[string]*types.PrimaryEntry),
		logger:     log,
		bufPool:    bufPool,
		retryCtrl:  errors.NewRetryController(),
		classifier: errors.NewClassifier(),
		tracker:    errors.NewErrorTracker(),
		metrics:    m,
		collection: filepath.Base(dir),
	}

	if err := l.loadPrimaryIndex(); err != nil {
		// Primary-index load failures are logged and treated as empty;
		// the engine functions and can be rebuilt (spec §4.1 errors).
		l.logger.Warn("primary index load failed for %s, starting empty: %v", dir, err)
		l.primary = make(map[string]*types.PrimaryEntry)
	}

	var maxVersion uint64
	for _, e := range l.primary {
		if e.Version > maxVersion {
			maxVersion = e.Version
		}
	}
	l.nextVersion = maxVersion + 1

	return l, nil
}

// recordParseError tracks a parse failure from source ("read" or
// "rebuild"): the error tracker's per-category count, the raw counter
// surfaced through Stats(), and (if a Collector is wired) the
// parse_errors_total metric. Callable with or without l.mu held.
func (l *RecordLog) recordParseError(source string) {
	l.tracker.RecordError(errors.ErrParse, l.classifier.Classify(errors.ErrParse))
	atomic.AddUint64(&l.ParseErrors, 1)
	if l.metrics != nil {
		l.metrics.ParseErrorsTotal.WithLabelValues(l.collection, source).Inc()
	}
}

// ParseErrorCount returns the number of log records/lines that have
// failed to parse since this RecordLog was opened.
func (l *RecordLog) ParseErrorCount() uint64 {
	return atomic.LoadUint64(&l.ParseErrors)
}

// ErrorCounts returns the tracked error count per category, omitting
// categories with no recorded errors (used by Store.Stats()).
func (l *RecordLog) ErrorCounts() map[string]uint64 {
	out := make(map[string]uint64)
	for _, cat := range []errors.ErrorCategory{
		errors.ErrorTransient, errors.ErrorPermanent, errors.ErrorCritical,
		errors.ErrorValidation, errors.ErrorNetwork,
	} {
		if n := l.tracker.GetErrorCount(cat); n > 0 {
			out[cat.String()] = n
		}
	}
	return out
}

// CriticalAlertCount returns how many critical-category errors (e.g.
// ENOSPC/EIO during an append) have been recorded (used by
// Store.Stats()).
func (l *RecordLog) CriticalAlertCount() int {
	return len(l.tracker.GetCriticalAlerts())
}

func (l *RecordLog) primaryPath() string {
	return filepath.Join(l.dir, primaryFileName)
}

func (l *RecordLog) loadPrimaryIndex() error {
	data, err := os.ReadFile(l.primaryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	var m map[string]*types.PrimaryEntry
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrParse, err)
	}
	l.primary = m
	return nil
}

// flushPrimaryIndex persists the primary index via write-tmp-then-
// rename, so readers always see a complete prior version or the new
// one. Failure to flush is fatal to the write that triggered it
// (spec §4.1).
func (l *RecordLog) flushPrimaryIndex() error {
	data, err := json.Marshal(l.primary)
	if err != nil {
		return fmt.Errorf("%w: marshal primary index: %v", errors.ErrParse, err)
	}

	tmp := l.primaryPath() + ".tmp"
	return l.retryCtrl.Retry(func() error {
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return fmt.Errorf("%w: write primary index tmp: %w", errors.ErrIO, err)
		}
		if err := os.Rename(tmp, l.primaryPath()); err != nil {
			return fmt.Errorf("%w: rename primary index: %w", errors.ErrIO, err)
		}
		return nil
	}, l.classifier)
}

// AppendRecord serializes doc to JSON, appends it at the current EOF
// followed by a single '\n', and updates the primary entry for the
// document's id (spec §4.1 "appendRecord"). prev carries the
// PrevIndexedValues hint the Index Manager needs to unlink the old
// posting cheaply on the next write.
func (l *RecordLog) AppendRecord(doc types.Document, prev map[string]string) (*types.PrimaryEntry, error) {
	id := doc.ID()
	if id == "" {
		return nil, fmt.Errorf("%w: document missing id field", errors.ErrParse)
	}

	payload, err := json.Marshal(map[string]interface{}(doc))
	if err != nil {
		return nil, fmt.Errorf("%w: marshal document: %v", errors.ErrParse, err)
	}
	line := append(payload, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	offset := l.size
	var n int
	err = l.retryCtrl.Retry(func() error {
		written, werr := l.file.WriteAt(line, offset)
		if werr != nil {
			return fmt.Errorf("%w: append record: %w", errors.ErrIO, werr)
		}
		n = written
		return l.file.Sync()
	}, l.classifier)
	if err != nil {
		l.tracker.RecordError(err, l.classifier.Classify(err))
		return nil, err
	}
	l.size += int64(n)

	entry := &types.PrimaryEntry{
		Offset:            offset,
		Length:            len(line),
		Version:           l.nextVersion,
		Tombstone:         doc.IsTombstone(),
		PrevIndexedValues: prev,
	}
	l.nextVersion++
	prevEntry, hadPrev := l.primary[id]
	l.primary[id] = entry

	if err := l.flushPrimaryIndex(); err != nil {
		// Fatal to this write (spec §4.1): the log retains the
		// appended record, but the caller must treat the write as
		// failed; a later rebuildPrimaryIndex reconciles (spec §7).
		l.tracker.RecordError(err, l.classifier.Classify(err))
		if hadPrev {
			l.primary[id] = prevEntry
		} else {
			delete(l.primary, id)
		}
		l.nextVersion--
		return nil, err
	}

	return entry, nil
}

// GetByID returns the live document for id, or (nil, false, nil) if
// absent, tombstoned, or unparseable (spec §4.1 "getById": "parse
// failure returns null").
func (l *RecordLog) GetByID(id string) (types.Document, bool, error) {
	l.mu.Lock()
	entry, ok := l.primary[id]
	if !ok || entry.Tombstone {
		l.mu.Unlock()
		return nil, false, nil
	}
	offset, length := entry.Offset, entry.Length
	file := l.file
	l.mu.Unlock()

	buf := l.bufPool.Get(uint64(length))
	defer l.bufPool.Put(buf)

	if _, err := file.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, false, fmt.Errorf("%w: read record: %v", errors.ErrIO, err)
	}

	var doc types.Document
	if err := json.Unmarshal(buf, &doc); err != nil {
		l.recordParseError("read")
		l.logger.Warn("unparseable record for id=%s at offset=%d: %v", id, offset, err)
		return nil, false, nil
	}

	return doc, true, nil
}

// ExistsLive reports whether id is present and not tombstoned.
func (l *RecordLog) ExistsLive(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.primary[id]
	return ok && !entry.Tombstone
}

// Entry returns a copy of the primary entry for id, if any, including
// its PrevIndexedValues hint.
func (l *RecordLog) Entry(id string) (types.PrimaryEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.primary[id]
	if !ok {
		return types.PrimaryEntry{}, false
	}
	return *e, true
}

// RebuildPrimaryIndex streams the log line-by-line, tracking byte
// offsets, and overwrites the primary index so the newest line for
// each id wins (spec §4.1 "rebuildPrimaryIndex"). A parse-failed line
// counts toward the offset but is not indexed; a partial tail line
// (no trailing '\n', e.g. after a crash) is discarded entirely.
func (l *RecordLog) RebuildPrimaryIndex() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek data file: %v", errors.ErrIO, err)
	}
	r := bufio.NewReaderSize(l.file, 64*1024)

	fresh := make(map[string]*types.PrimaryEntry)
	var offset int64
	var maxVersion uint64

	for {
		line, err := r.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			break
		}
		complete := err == nil || (len(line) > 0 && line[len(line)-1] == '\n')
		if !complete {
			// Partial tail line after a crash: ignore, do not advance
			// the indexed offset past it.
			break
		}

		var doc types.Document
		if uerr := json.Unmarshal(line, &doc); uerr != nil {
			l.recordParseError("rebuild")
			l.logger.Warn("skipping unparseable line at offset=%d during rebuild: %v", offset, uerr)
			offset += int64(len(line))
			if err == io.EOF {
				break
			}
			continue
		}

		id := doc.ID()
		if id != "" {
			nextVersion := uint64(1)
			if prev, existing := fresh[id]; existing {
				nextVersion = prev.Version + 1
			}
			entry := &types.PrimaryEntry{
				Offset:    offset,
				Length:    len(line),
				Version:   nextVersion,
				Tombstone: doc.IsTombstone(),
			}
			fresh[id] = entry
			if entry.Version > maxVersion {
				maxVersion = entry.Version
			}
		}

		offset += int64(len(line))
		if err == io.EOF {
			break
		}
	}

	l.primary = fresh
	if maxVersion+1 > l.nextVersion {
		l.nextVersion = maxVersion + 1
	}

	if _, err := l.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("%w: seek data file: %v", errors.ErrIO, err)
	}
	return l.flushPrimaryIndex()
}

// ReadAllLive enumerates every non-tombstoned id, loading each
// record (spec §4.1 "readAllLive").
func (l *RecordLog) ReadAllLive() ([]types.Document, error) {
	l.mu.Lock()
	ids := make([]string, 0, len(l.primary))
	for id, e := range l.primary {
		if !e.Tombstone {
			ids = append(ids, id)
		}
	}
	l.mu.Unlock()

	docs := make([]types.Document, 0, len(ids))
	for _, id := range ids {
		doc, ok, err := l.GetByID(id)
		if err != nil {
			return nil, err
		}
		if ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// LiveCount and TombstonedCount report the document and tombstone
// counts currently tracked by the primary index (used by Store.Stats).
func (l *RecordLog) LiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.primary {
		if !e.Tombstone {
			n++
		}
	}
	return n
}

func (l *RecordLog) TombstonedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.primary {
		if e.Tombstone {
			n++
		}
	}
	return n
}

// Close closes the underlying data file.
func (l *RecordLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
