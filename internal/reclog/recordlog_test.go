package reclog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leafdb/leafdb/internal/types"
)

func mustOpen(t *testing.T) (*RecordLog, string) {
	t.Helper()
	dir := t.TempDir()
	l, err := Open(dir, nil, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l, dir
}

func TestAppendAndGetRoundTrip(t *testing.T) {
	l, _ := mustOpen(t)
	defer l.Close()

	doc := types.Document{"id": "doc1", "name": "alice", "age": 30.0}
	if _, err := l.AppendRecord(doc, nil); err != nil {
		t.Fatalf("AppendRecord: %v", err)
	}

	got, ok, err := l.GetByID("doc1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !ok {
		t.Fatalf("expected doc1 to exist")
	}
	if got["name"] != "alice" {
		t.Fatalf("got name=%v, want alice", got["name"])
	}
	if !l.ExistsLive("doc1") {
		t.Fatalf("expected doc1 to be live")
	}
}

func TestGetByIDMissing(t *testing.T) {
	l, _ := mustOpen(t)
	defer l.Close()

	_, ok, err := l.GetByID("nope")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if ok {
		t.Fatalf("expected missing id to report not found")
	}
}

func TestDeleteThenRebuild(t *testing.T) {
	l, dir := mustOpen(t)

	if _, err := l.AppendRecord(types.Document{"id": "doc1", "v": 1.0}, nil); err != nil {
		t.Fatalf("AppendRecord create: %v", err)
	}
	if _, err := l.AppendRecord(types.Document{"id": "doc1", "v": 2.0, "_deleted": true}, nil); err != nil {
		t.Fatalf("AppendRecord delete: %v", err)
	}

	if l.ExistsLive("doc1") {
		t.Fatalf("expected doc1 to be tombstoned")
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dir, nil, nil, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if reopened.ExistsLive("doc1") {
		t.Fatalf("expected doc1 to remain tombstoned after reopen")
	}

	if err := reopened.RebuildPrimaryIndex(); err != nil {
		t.Fatalf("RebuildPrimaryIndex: %v", err)
	}
	if reopened.ExistsLive("doc1") {
		t.Fatalf("expected doc1 to remain tombstoned after rebuild")
	}
	if reopened.TombstonedCount() != 1 {
		t.Fatalf("expected 1 tombstoned doc, got %d", reopened.TombstonedCount())
	}
}

func TestRebuildSkipsTruncatedTail(t *testing.T) {
	l, dir := mustOpen(t)

	if _, err := l.AppendRecord(types.Document{"id": "doc1", "v": 1.0}, nil); err != nil {
		t.Fatalf("AppendRecord: %v", err)
	}
	if _, err := l.AppendRecord(types.Document{"id": "doc2", "v": 1.0}, nil); err != nil {
		t.Fatalf("AppendRecord: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate a crash mid-write: append a partial JSON line with no
	// trailing newline.
	path := filepath.Join(dir, dataFileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open for corrupt append: %v", err)
	}
	if _, err := f.WriteString(`{"id":"doc3","v":`); err != nil {
		t.Fatalf("write partial line: %v", err)
	}
	f.Close()

	reopened, err := Open(dir, nil, nil, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if err := reopened.RebuildPrimaryIndex(); err != nil {
		t.Fatalf("RebuildPrimaryIndex: %v", err)
	}
	if !reopened.ExistsLive("doc1") || !reopened.ExistsLive("doc2") {
		t.Fatalf("expected doc1 and doc2 to survive rebuild")
	}
	if reopened.ExistsLive("doc3") {
		t.Fatalf("did not expect doc3 (truncated tail) to be indexed")
	}
	if reopened.LiveCount() != 2 {
		t.Fatalf("expected live count 2, got %d", reopened.LiveCount())
	}
}

func TestReadAllLiveSkipsTombstones(t *testing.T) {
	l, _ := mustOpen(t)
	defer l.Close()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := l.AppendRecord(types.Document{"id": id, "v": 1.0}, nil); err != nil {
			t.Fatalf("AppendRecord %s: %v", id, err)
		}
	}
	if _, err := l.AppendRecord(types.Document{"id": "b", "_deleted": true}, nil); err != nil {
		t.Fatalf("AppendRecord delete: %v", err)
	}

	docs, err := l.ReadAllLive()
	if err != nil {
		t.Fatalf("ReadAllLive: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 live docs, got %d", len(docs))
	}
}
