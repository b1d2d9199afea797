package leafdb

import (
	"time"

	"github.com/leafdb/leafdb/internal/indexmgr"
	"github.com/leafdb/leafdb/internal/logger"
	"github.com/leafdb/leafdb/internal/metrics"
	"github.com/leafdb/leafdb/internal/notify"
	"github.com/leafdb/leafdb/internal/query"
	"github.com/leafdb/leafdb/internal/reclog"
	"github.com/leafdb/leafdb/internal/secidx"
	"github.com/leafdb/leafdb/internal/types"
)

// CollectionRef is a handle to one collection: its record log, index
// manager, query executor, and change-notification hub. Obtained from
// Store.Collection; never constructed directly.
type CollectionRef struct {
	name string
	dir  string

	log      *reclog.RecordLog
	indexes  *indexmgr.Manager
	executor *query.Executor
	hub      *notify.Hub

	metrics *metrics.Collector
	logger  *logger.Logger
}

// Name returns the collection's name.
func (c *CollectionRef) Name() string { return c.name }

// Add assigns a new id, writes data as a fresh record, and returns
// the id (spec §6 "CollectionRef.add(obj) → id"). If data already
// carries an "id" field it is overwritten.
func (c *CollectionRef) Add(data map[string]interface{}) (string, error) {
	id := NewID()
	doc := cloneMap(data)
	doc["id"] = id

	if _, err := c.commit("add", id, nil, types.Document(doc)); err != nil {
		return "", err
	}
	return id, nil
}

// Doc returns a DocumentRef for id. If id is empty, a fresh id is
// generated (spec §6 "CollectionRef.doc(id?) → DocumentRef").
func (c *CollectionRef) Doc(id string) *DocumentRef {
	if id == "" {
		id = NewID()
	}
	return &DocumentRef{collection: c, id: id}
}

// DocIDs lists every live document id (supplemented feature, spec §9:
// useful for the REPL and tests). It reads every live record from the
// log to collect the ids, so it costs as much as a full scan.
func (c *CollectionRef) DocIDs() ([]string, error) {
	docs, err := c.log.ReadAllLive()
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID()
	}
	return ids, nil
}

// Get runs desc (or, if nil, a full unfiltered scan) and returns the
// materialized result (spec §6 "CollectionRef.get(qd?) → QuerySnapshot").
func (c *CollectionRef) Get(desc *types.QueryDescriptor) (snap types.QuerySnapshot, err error) {
	start := time.Now()
	defer func() { c.observe("query", start, err) }()

	if desc == nil {
		desc = &types.QueryDescriptor{}
	}
	snap, err = c.executor.Execute(*desc)
	return
}

// Snapshots runs desc once, delivers that result, then re-runs on
// every write to this collection (spec §6
// "CollectionRef.snapshots(qd?) → Stream<QuerySnapshot>").
func (c *CollectionRef) Snapshots(desc *types.QueryDescriptor) (<-chan types.QuerySnapshot, func(), error) {
	if desc == nil {
		desc = &types.QueryDescriptor{}
	}
	snapshot := *desc
	return c.hub.SubscribeQuery(func() (types.QuerySnapshot, error) {
		return c.executor.Execute(snapshot)
	})
}

// observe records one façade operation's outcome and latency, a no-op
// when this collection's Store was opened without a metrics namespace.
func (c *CollectionRef) observe(operation string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.ObserveOperation(operation, status, time.Since(start))
}

func (c *CollectionRef) close() error {
	c.hub.Close()
	c.indexes.Close()
	return c.log.Close()
}

// prevIndexedValuesFor computes the map stored in the new primary
// entry's PrevIndexedValues field (spec §3 invariant I5): the
// canonical form of every field any currently loaded index covers,
// taken from doc as written. A tombstone indexes nothing.
func (c *CollectionRef) prevIndexedValuesFor(doc types.Document) map[string]string {
	if doc.IsTombstone() {
		return nil
	}

	fieldTypes := make(map[string]types.KeyType)
	for _, meta := range c.indexes.Metas() {
		for i, f := range meta.Fields {
			if _, ok := fieldTypes[f]; !ok {
				fieldTypes[f] = meta.KeyTypeFor(i)
			}
		}
	}
	if len(fieldTypes) == 0 {
		return nil
	}

	out := make(map[string]string, len(fieldTypes))
	for f, kt := range fieldTypes {
		if v, ok := doc[f]; ok {
			out[f] = secidx.Canonical(types.FromInterface(v), kt)
		}
	}
	return out
}

// commit is the single write path shared by Add/Set/Update/Delete: it
// appends newDoc to the log together with the PrevIndexedValues hint
// computed from newDoc itself (the values indexed by this write), then
// invokes the Index Manager with (id, prevForIndex, newDoc), where
// prevForIndex is the previous live document, and notifies
// subscribers. operation labels the façade call (e.g. "add", "set")
// for the operation metric.
func (c *CollectionRef) commit(operation, id string, prevForIndex types.Document, newDoc types.Document) (doc types.Document, err error) {
	start := time.Now()
	defer func() { c.observe(operation, start, err) }()

	prevHint := c.prevIndexedValuesFor(newDoc)
	if _, err = c.log.AppendRecord(newDoc, prevHint); err != nil {
		return nil, err
	}

	nextForIndex := newDoc
	if newDoc.IsTombstone() {
		nextForIndex = nil
	}
	if err = c.indexes.ApplyIndexChangesOnUpdate(id, prevForIndex, nextForIndex); err != nil {
		return nil, err
	}

	c.hub.PublishCollectionEvent()
	c.hub.PublishDocumentEvent(id, func(id string) (types.Document, bool, error) {
		return c.log.GetByID(id)
	})

	return newDoc, nil
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
