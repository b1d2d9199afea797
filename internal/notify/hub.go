// Package notify implements the per-collection change notification
// hub described in spec §4.5: a broadcast channel per collection, a
// broadcast channel per (collection, id), and a filesystem watch so
// an out-of-process writer's edits still produce in-process
// notifications.
//
// Grounded on the fan-out-without-blocking-the-writer discipline
// docdb/internal/docdb/worker_pool.go applies to task dispatch
// (bounded channel, non-blocking send, drop under pressure), adapted
// here from fan-in to fan-out. No single teacher file implements a
// broadcast hub: docdb is a client/server system that notifies over
// its IPC protocol instead of in-process channels.
package notify

import (
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/leafdb/leafdb/internal/logger"
	"github.com/leafdb/leafdb/internal/types"
)

// DocGetter loads the current snapshot for one document id.
type DocGetter func(id string) (types.Document, bool, error)

// QueryRunner executes one query and returns its current result.
type QueryRunner func() (types.QuerySnapshot, error)

// Hub fans out change events for one collection.
type Hub struct {
	mu            sync.Mutex
	bufSize       int
	collectionSub map[chan struct{}]bool
	docSub        map[string]map[chan types.DocumentSnapshot]bool

	watcher *fsnotify.Watcher
	logger  *logger.Logger
	closeCh chan struct{}
	closed  bool
}

// Options configures a new Hub.
type Options struct {
	WatchDir         string // collection directory to watch; "" disables the watch
	SubscriberBuffer int
	Logger           *logger.Logger
}

// New creates a Hub. If Options.WatchDir is non-empty, a fsnotify
// watch is started on it so external writers trigger collection
// events (spec §4.5 "A filesystem watch on the collection
// directory... triggers collection events").
func New(opts Options) (*Hub, error) {
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 16
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}

	h := &Hub{
		bufSize:       opts.SubscriberBuffer,
		collectionSub: make(map[chan struct{}]bool),
		docSub:        make(map[string]map[chan types.DocumentSnapshot]bool),
		logger:        opts.Logger,
		closeCh:       make(chan struct{}),
	}

	if opts.WatchDir != "" {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, err
		}
		if err := w.Add(opts.WatchDir); err != nil {
			w.Close()
			return nil, err
		}
		h.watcher = w
		go h.watchLoop()
	}

	return h, nil
}

func (h *Hub) watchLoop() {
	for {
		select {
		case <-h.closeCh:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				h.PublishCollectionEvent()
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn("filesystem watch error: %v", err)
		}
	}
}

// SubscribeCollection registers a new "something changed" channel.
// The returned cancel func unregisters it; further sends are no-ops
// after that.
func (h *Hub) SubscribeCollection() (<-chan struct{}, func()) {
	ch := make(chan struct{}, h.bufSize)
	h.mu.Lock()
	h.collectionSub[ch] = true
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if h.collectionSub[ch] {
			delete(h.collectionSub, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// PublishCollectionEvent notifies every collection subscriber. Sends
// never block the writer: a full subscriber buffer drops the event
// (spec §4.5 "MUST NOT block writers on slow consumers").
func (h *Hub) PublishCollectionEvent() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.collectionSub {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// SubscribeDocument registers a channel for one document id. An
// initial snapshot is pushed immediately using get (spec §4.5 "On
// the first subscriber for a document channel, an initial snapshot is
// pushed").
func (h *Hub) SubscribeDocument(id string, get DocGetter) (<-chan types.DocumentSnapshot, func(), error) {
	ch := make(chan types.DocumentSnapshot, h.bufSize)

	h.mu.Lock()
	subs, ok := h.docSub[id]
	if !ok {
		subs = make(map[chan types.DocumentSnapshot]bool)
		h.docSub[id] = subs
	}
	subs[ch] = true
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if subs, ok := h.docSub[id]; ok && subs[ch] {
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(h.docSub, id)
			}
		}
		h.mu.Unlock()
	}

	doc, exists, err := get(id)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	ch <- types.DocumentSnapshot{ID: id, Data: doc, Exists: exists}

	return ch, cancel, nil
}

// PublishDocumentEvent pushes a freshly loaded snapshot of id to every
// subscriber of that document, if any exist (spec §4.5 "if any
// subscribers exist for that id, pushes a freshly loaded snapshot").
func (h *Hub) PublishDocumentEvent(id string, get DocGetter) {
	h.mu.Lock()
	subs, ok := h.docSub[id]
	if !ok || len(subs) == 0 {
		h.mu.Unlock()
		return
	}
	chans := make([]chan types.DocumentSnapshot, 0, len(subs))
	for ch := range subs {
		chans = append(chans, ch)
	}
	h.mu.Unlock()

	doc, exists, err := get(id)
	if err != nil {
		h.logger.Warn("document event snapshot failed for id=%s: %v", id, err)
		return
	}
	snap := types.DocumentSnapshot{ID: id, Data: doc, Exists: exists}
	for _, ch := range chans {
		select {
		case ch <- snap:
		default:
		}
	}
}

// SubscribeQuery runs run once, delivers that snapshot, then re-runs
// on every collection event and delivers again (spec §4.5 "Query
// snapshots"). Cancel stops the re-run goroutine and the underlying
// collection subscription.
func (h *Hub) SubscribeQuery(run QueryRunner) (<-chan types.QuerySnapshot, func(), error) {
	out := make(chan types.QuerySnapshot, h.bufSize)

	first, err := run()
	if err != nil {
		return nil, nil, err
	}
	out <- first

	collCh, collCancel := h.SubscribeCollection()
	done := make(chan struct{})

	go func() {
		for {
			select {
			case _, ok := <-collCh:
				if !ok {
					return
				}
				snap, err := run()
				if err != nil {
					h.logger.Warn("query snapshot re-run failed: %v", err)
					continue
				}
				select {
				case out <- snap:
				default:
				}
			case <-done:
				return
			}
		}
	}()

	cancel := func() {
		close(done)
		collCancel()
	}
	return out, cancel, nil
}

// Close stops the filesystem watch, if any. Existing subscriber
// channels are left open; callers should cancel them individually.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	close(h.closeCh)
	if h.watcher != nil {
		return h.watcher.Close()
	}
	return nil
}
