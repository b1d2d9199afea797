package leafdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leafdb/leafdb/internal/config"
	"github.com/leafdb/leafdb/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.RootDir = t.TempDir()
	cfg.Index.UseWorker = false
	cfg.Notify.WatchFilesystem = false
	cfg.Metrics.Namespace = ""

	s, err := OpenWithConfig(cfg)
	if err != nil {
		t.Fatalf("OpenWithConfig: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Scenario 1: add/get round-trip.
func TestAddGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	people, err := s.Collection("people")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}

	id, err := people.Add(map[string]interface{}{"name": "Ada", "age": 30.0})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	snap, err := people.Doc(id).Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !snap.Exists {
		t.Fatalf("expected document to exist")
	}
	if snap.Data["name"] != "Ada" || snap.Data["age"] != 30.0 || snap.Data["id"] != id {
		t.Fatalf("unexpected document: %v", snap.Data)
	}
}

// Scenario 2: merge update preserves unreferenced fields.
func TestMergeUpdatePreservesFields(t *testing.T) {
	s := newTestStore(t)
	people, err := s.Collection("people")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}

	doc := people.Doc("")
	if err := doc.Set(map[string]interface{}{"name": "Bob", "age": 20.0}, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := doc.Set(map[string]interface{}{"age": 21.0}, true); err != nil {
		t.Fatalf("Set merge: %v", err)
	}

	snap, err := doc.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Data["name"] != "Bob" || snap.Data["age"] != 21.0 || snap.Data["id"] != doc.ID() {
		t.Fatalf("unexpected document after merge: %v", snap.Data)
	}
}

// Scenario 3: range query with a single-field numeric index.
func TestRangeQueryWithIndex(t *testing.T) {
	s := newTestStore(t)
	people, err := s.Collection("people")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}

	mgr, err := s.IndexManager("people")
	if err != nil {
		t.Fatalf("IndexManager: %v", err)
	}
	ageMeta := types.IndexMeta{Fields: []string{"age"}, KeyTypes: []types.KeyType{types.KeyNumber}, Ordered: true}
	if _, err := mgr.EnsureIndex(ageMeta, false); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}

	for _, age := range []float64{10, 20, 30, 40} {
		if _, err := people.Add(map[string]interface{}{"age": age}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	res, err := people.Get(&types.QueryDescriptor{
		Where: []types.WhereClause{
			{Field: "age", Op: types.OpGreaterEqual, Value: 20.0},
			{Field: "age", Op: types.OpLessEqual, Value: 35.0},
		},
		OrderBy: &types.OrderBy{Field: "age"},
	})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(res.Docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(res.Docs))
	}
	if res.Docs[0].Data["age"] != 20.0 || res.Docs[1].Data["age"] != 30.0 {
		t.Fatalf("unexpected ages: %v, %v", res.Docs[0].Data["age"], res.Docs[1].Data["age"])
	}
}

// Scenario 4: composite prefix match.
func TestCompositePrefixMatch(t *testing.T) {
	s := newTestStore(t)
	people, err := s.Collection("people")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}

	mgr, err := s.IndexManager("people")
	if err != nil {
		t.Fatalf("IndexManager: %v", err)
	}
	composite := types.IndexMeta{
		Fields:   []string{"age", "createdAt"},
		KeyTypes: []types.KeyType{types.KeyNumber, types.KeyDate},
	}
	if _, err := mgr.EnsureIndex(composite, false); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}

	seedRows := []map[string]interface{}{
		{"age": 30.0, "createdAt": "2024-01"},
		{"age": 30.0, "createdAt": "2024-02"},
		{"age": 31.0, "createdAt": "2024-01"},
	}
	var wantID string
	for _, row := range seedRows {
		id, err := people.Add(row)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if row["age"] == 30.0 && row["createdAt"] == "2024-02" {
			wantID = id
		}
	}

	res, err := people.Get(&types.QueryDescriptor{
		Where: []types.WhereClause{
			{Field: "age", Op: types.OpEqual, Value: 30.0},
			{Field: "createdAt", Op: types.OpGreaterEqual, Value: "2024-02"},
		},
	})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(res.Docs) != 1 || res.Docs[0].ID != wantID {
		t.Fatalf("expected exactly the 2024-02 doc, got %v", res.Docs)
	}
}

// Scenario 5: equality intersection across two single-field indexes.
func TestEqualityIntersectionScenario(t *testing.T) {
	s := newTestStore(t)
	people, err := s.Collection("people")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}

	mgr, err := s.IndexManager("people")
	if err != nil {
		t.Fatalf("IndexManager: %v", err)
	}
	if _, err := mgr.EnsureIndex(types.IndexMeta{Fields: []string{"name"}}, false); err != nil {
		t.Fatalf("EnsureIndex name: %v", err)
	}
	if _, err := mgr.EnsureIndex(types.IndexMeta{Fields: []string{"email"}}, false); err != nil {
		t.Fatalf("EnsureIndex email: %v", err)
	}

	wantID, err := people.Add(map[string]interface{}{"name": "Ada", "email": "a@x"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := people.Add(map[string]interface{}{"name": "Ada", "email": "b@x"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := people.Add(map[string]interface{}{"name": "Bob", "email": "a@x"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	res, err := people.Get(&types.QueryDescriptor{
		Where: []types.WhereClause{
			{Field: "name", Op: types.OpEqual, Value: "Ada"},
			{Field: "email", Op: types.OpEqual, Value: "a@x"},
		},
	})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(res.Docs) != 1 || res.Docs[0].ID != wantID {
		t.Fatalf("expected exactly doc %s, got %v", wantID, res.Docs)
	}
}

// Scenario 6: delete then rebuild leaves a tombstone and an excluded
// live set.
func TestDeleteThenRebuildScenario(t *testing.T) {
	s := newTestStore(t)
	people, err := s.Collection("people")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}

	id, err := people.Add(map[string]interface{}{"name": "Zed"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := people.Doc(id).Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if err := people.log.RebuildPrimaryIndex(); err != nil {
		t.Fatalf("RebuildPrimaryIndex: %v", err)
	}

	entry, ok := people.log.Entry(id)
	if !ok || !entry.Tombstone {
		t.Fatalf("expected tombstoned primary entry for %s, got %+v ok=%v", id, entry, ok)
	}

	snap, err := people.Doc(id).Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Exists {
		t.Fatalf("expected deleted document to be absent")
	}

	live, err := people.DocIDs()
	if err != nil {
		t.Fatalf("DocIDs: %v", err)
	}
	for _, liveID := range live {
		if liveID == id {
			t.Fatalf("expected readAllLive to exclude deleted id %s", id)
		}
	}
}

// Scenario 7: crash recovery discards a truncated tail line.
func TestCrashRecoveryDiscardsTruncatedTail(t *testing.T) {
	s := newTestStore(t)
	people, err := s.Collection("people")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}

	keptID, err := people.Add(map[string]interface{}{"name": "Intact"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	dataPath := filepath.Join(s.rootDir, "people", "data.ndjson")
	f, err := os.OpenFile(dataPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open data file: %v", err)
	}
	if _, err := f.WriteString(`{"id":"truncated","name":"Par`); err != nil {
		t.Fatalf("write partial tail: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := people.log.RebuildPrimaryIndex(); err != nil {
		t.Fatalf("RebuildPrimaryIndex: %v", err)
	}

	snap, err := people.Doc(keptID).Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !snap.Exists {
		t.Fatalf("expected intact prior record to survive rebuild")
	}

	if people.log.ExistsLive("truncated") {
		t.Fatalf("expected truncated tail record to be discarded")
	}
}

func TestUpdatePathCreatesIntermediateObjects(t *testing.T) {
	s := newTestStore(t)
	people, err := s.Collection("people")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}

	doc := people.Doc("")
	if err := doc.Set(map[string]interface{}{"name": "Ada"}, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := doc.UpdatePath("/address/city", "nyc"); err != nil {
		t.Fatalf("UpdatePath: %v", err)
	}

	snap, err := doc.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	addr, ok := snap.Data["address"].(map[string]interface{})
	if !ok || addr["city"] != "nyc" {
		t.Fatalf("expected address.city=nyc, got %v", snap.Data["address"])
	}
	if snap.Data["name"] != "Ada" {
		t.Fatalf("expected unrelated field to survive, got %v", snap.Data["name"])
	}
}

func TestDocumentSnapshotsDeliversInitialAndUpdated(t *testing.T) {
	s := newTestStore(t)
	people, err := s.Collection("people")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}

	doc := people.Doc("")
	if err := doc.Set(map[string]interface{}{"name": "Ada"}, false); err != nil {
		t.Fatalf("Set: %v", err)
	}

	ch, cancel, err := doc.Snapshots()
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	defer cancel()

	first := <-ch
	if first.Data["name"] != "Ada" {
		t.Fatalf("expected initial snapshot name=Ada, got %v", first.Data["name"])
	}

	if err := doc.Update(map[string]interface{}{"name": "Ada2"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	second := <-ch
	if second.Data["name"] != "Ada2" {
		t.Fatalf("expected updated snapshot name=Ada2, got %v", second.Data["name"])
	}
}

// Stats() surfaces parse errors recorded while rebuilding a log that
// contains a malformed (but newline-terminated) record.
func TestStatsSurfacesParseErrors(t *testing.T) {
	s := newTestStore(t)
	people, err := s.Collection("people")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}

	if _, err := people.Add(map[string]interface{}{"name": "Intact"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	dataPath := filepath.Join(s.rootDir, "people", "data.ndjson")
	f, err := os.OpenFile(dataPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open data file: %v", err)
	}
	if _, err := f.WriteString("{not valid json}\n"); err != nil {
		t.Fatalf("write malformed line: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := people.log.RebuildPrimaryIndex(); err != nil {
		t.Fatalf("RebuildPrimaryIndex: %v", err)
	}

	stats := s.Stats()
	got := stats.Collections["people"]
	if got.ParseErrors != 1 {
		t.Fatalf("expected 1 parse error surfaced in Stats, got %d", got.ParseErrors)
	}
	if got.ErrorCounts["validation"] != 1 {
		t.Fatalf("expected 1 validation-category error, got %v", got.ErrorCounts)
	}
}

func TestUpdateMissingDocumentErrors(t *testing.T) {
	s := newTestStore(t)
	people, err := s.Collection("people")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}

	if err := people.Doc("missing").Update(map[string]interface{}{"name": "x"}); err == nil {
		t.Fatalf("expected Update on missing document to error")
	}
}
