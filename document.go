package leafdb

import (
	"fmt"
	"time"

	"github.com/leafdb/leafdb/internal/docpath"
	"github.com/leafdb/leafdb/internal/errors"
	"github.com/leafdb/leafdb/internal/types"
)

// DocumentRef is a handle to one document id within a collection. It
// carries no cached state: every call re-reads the log.
type DocumentRef struct {
	collection *CollectionRef
	id         string
}

// ID returns the document's id.
func (d *DocumentRef) ID() string { return d.id }

// Get loads the current document, if live (spec §6
// "DocumentRef.get() → DocumentSnapshot").
func (d *DocumentRef) Get() (snap types.DocumentSnapshot, err error) {
	start := time.Now()
	defer func() { d.collection.observe("get", start, err) }()

	doc, ok, err := d.collection.log.GetByID(d.id)
	if err != nil {
		return types.DocumentSnapshot{}, err
	}
	return types.DocumentSnapshot{ID: d.id, Data: doc, Exists: ok}, nil
}

// Set writes data as the document's new content. When merge is true
// and a live document already exists, data is shallow-merged over it
// (spec §6 "DocumentRef.set(obj, merge?)"); otherwise data replaces
// the document entirely.
func (d *DocumentRef) Set(data map[string]interface{}, merge bool) error {
	prev, ok, err := d.collection.log.GetByID(d.id)
	if err != nil {
		return err
	}

	var next map[string]interface{}
	if merge && ok {
		next = cloneMap(prev)
		for k, v := range data {
			next[k] = v
		}
	} else {
		next = cloneMap(data)
	}
	next["id"] = d.id
	delete(next, "_deleted")

	var prevForIndex types.Document
	if ok {
		prevForIndex = prev
	}
	_, err = d.collection.commit("set", d.id, prevForIndex, types.Document(next))
	return err
}

// Update shallow-merges data into an existing live document (spec §6
// "DocumentRef.update(obj)"). It is an error to update a document that
// does not exist.
func (d *DocumentRef) Update(data map[string]interface{}) error {
	prev, ok, err := d.collection.log.GetByID(d.id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: document %q", errors.ErrNotFound, d.id)
	}

	next := cloneMap(prev)
	for k, v := range data {
		next[k] = v
	}
	next["id"] = d.id

	_, err = d.collection.commit("update", d.id, prev, types.Document(next))
	return err
}

// UpdatePath writes a single value at a field path, creating
// intermediate objects as needed (supplemented feature, spec §9:
// a partial-update shortcut grounded in the teacher's path helper).
func (d *DocumentRef) UpdatePath(path string, value interface{}) error {
	segments, err := docpath.Parse(path)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return errors.ErrInvalidPath
	}

	prev, ok, err := d.collection.log.GetByID(d.id)
	if err != nil {
		return err
	}

	var next map[string]interface{}
	var prevForIndex types.Document
	if ok {
		next = cloneMap(prev)
		prevForIndex = prev
	} else {
		next = map[string]interface{}{}
	}
	if err := docpath.Set(next, segments, value); err != nil {
		return err
	}
	next["id"] = d.id

	_, err = d.collection.commit("update_path", d.id, prevForIndex, types.Document(next))
	return err
}

// Delete tombstones the document. Deleting an already-absent or
// already-deleted document is a no-op (spec §6 "DocumentRef.delete()").
func (d *DocumentRef) Delete() error {
	prev, ok, err := d.collection.log.GetByID(d.id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	tombstone := types.Document{"id": d.id, "_deleted": true}
	_, err = d.collection.commit("delete", d.id, prev, tombstone)
	return err
}

// Snapshots streams this document's state: the current snapshot
// immediately, then a fresh one on every write to this id (spec §6
// "DocumentRef.snapshots() → Stream<DocumentSnapshot>").
func (d *DocumentRef) Snapshots() (<-chan types.DocumentSnapshot, func(), error) {
	return d.collection.hub.SubscribeDocument(d.id, func(id string) (types.Document, bool, error) {
		return d.collection.log.GetByID(id)
	})
}
