package commands_test

import (
	"strings"
	"testing"

	"github.com/leafdb/leafdb"
	"github.com/leafdb/leafdb/cmd/leafsh/commands"
	"github.com/leafdb/leafdb/cmd/leafsh/parser"
)

// fakeSession is the minimal commands.Session leafsh's Shell
// implements, reimplemented here without the REPL history/liner
// plumbing so commands can be tested in isolation.
type fakeSession struct {
	store      *leafdb.Store
	collection string
	pretty     bool
	history    []string
}

func newFakeSession(t *testing.T) *fakeSession {
	t.Helper()
	store, err := leafdb.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return &fakeSession{store: store, collection: "people"}
}

func (s *fakeSession) Store() *leafdb.Store   { return s.store }
func (s *fakeSession) GetCollection() string  { return s.collection }
func (s *fakeSession) SetCollection(n string) { s.collection = n }
func (s *fakeSession) GetPretty() bool        { return s.pretty }
func (s *fakeSession) SetPretty(p bool)       { s.pretty = p }
func (s *fakeSession) GetHistory() []string   { return s.history }

func mustParse(t *testing.T, line string) *parser.Command {
	t.Helper()
	cmd, err := parser.Parse(line)
	if err != nil {
		t.Fatalf("Parse(%q): %v", line, err)
	}
	return cmd
}

func printed(r commands.Result) string {
	var sb strings.Builder
	r.Print(&sb)
	return sb.String()
}

func TestErrorResult(t *testing.T) {
	r := commands.ErrorResult{Err: "boom"}
	out := printed(r)
	if !strings.Contains(out, "ERROR") || !strings.Contains(out, "boom") {
		t.Fatalf("unexpected output: %q", out)
	}
	if r.IsExit() {
		t.Fatal("ErrorResult.IsExit() should be false")
	}
}

func TestExitResult(t *testing.T) {
	if !(commands.ExitResult{}).IsExit() {
		t.Fatal("ExitResult.IsExit() should be true")
	}
}

func TestHelpResultMentionsCoreCommands(t *testing.T) {
	out := printed(commands.Help())
	for _, want := range []string{".add", ".query", ".ensure-index", ".use"} {
		if !strings.Contains(out, want) {
			t.Fatalf("help output missing %q:\n%s", want, out)
		}
	}
}

func TestAddThenGetRoundTrip(t *testing.T) {
	s := newFakeSession(t)

	addResult := commands.Add(s, mustParse(t, `.add json:{"name":"Ada","age":30}`))
	out := printed(addResult)
	if !strings.HasPrefix(out, "OK\nid=") {
		t.Fatalf("unexpected add output: %q", out)
	}
	id := strings.TrimSpace(strings.TrimPrefix(out, "OK\nid="))

	getOut := printed(commands.Get(s, mustParse(t, ".get "+id)))
	if !strings.Contains(getOut, `"name":"Ada"`) {
		t.Fatalf("get output missing name field: %q", getOut)
	}
}

func TestGetMissingReportsNotFound(t *testing.T) {
	s := newFakeSession(t)
	out := printed(commands.Get(s, mustParse(t, ".get nope")))
	if !strings.Contains(out, "not found") {
		t.Fatalf("expected not-found output, got %q", out)
	}
}

func TestSetMergePreservesUnreferencedFields(t *testing.T) {
	s := newFakeSession(t)
	addOut := printed(commands.Add(s, mustParse(t, `.add json:{"name":"Bob","age":20}`)))
	id := strings.TrimSpace(strings.TrimPrefix(addOut, "OK\nid="))

	setResult := commands.Set(s, mustParse(t, `.set `+id+` merge json:{"age":21}`))
	if _, isErr := setResult.(commands.ErrorResult); isErr {
		t.Fatalf("Set returned error: %s", printed(setResult))
	}

	getOut := printed(commands.Get(s, mustParse(t, ".get "+id)))
	if !strings.Contains(getOut, `"name":"Bob"`) || !strings.Contains(getOut, `"age":21`) {
		t.Fatalf("merge did not preserve/override fields: %q", getOut)
	}
}

func TestUpdateOnMissingDocumentErrors(t *testing.T) {
	s := newFakeSession(t)
	result := commands.Update(s, mustParse(t, `.update ghost json:{"x":1}`))
	if _, isErr := result.(commands.ErrorResult); !isErr {
		t.Fatalf("expected ErrorResult for update on missing document, got %T", result)
	}
}

func TestDeleteThenGetReturnsNotFound(t *testing.T) {
	s := newFakeSession(t)
	addOut := printed(commands.Add(s, mustParse(t, `.add json:{"name":"Carl"}`)))
	id := strings.TrimSpace(strings.TrimPrefix(addOut, "OK\nid="))

	delResult := commands.Delete(s, mustParse(t, ".delete "+id))
	if _, isErr := delResult.(commands.ErrorResult); isErr {
		t.Fatalf("Delete returned error: %s", printed(delResult))
	}

	getOut := printed(commands.Get(s, mustParse(t, ".get "+id)))
	if !strings.Contains(getOut, "not found") {
		t.Fatalf("expected not-found after delete, got %q", getOut)
	}
}

func TestQueryWithRangeAndOrder(t *testing.T) {
	s := newFakeSession(t)
	for _, age := range []int{10, 20, 30, 40} {
		line := `.add json:{"age":` + itoa(age) + `}`
		if r, isErr := commands.Add(s, mustParse(t, line)).(commands.ErrorResult); isErr {
			t.Fatalf("add failed: %+v", r)
		}
	}

	ensureResult := commands.EnsureIndex(s, mustParse(t, ".ensure-index age:num ordered"))
	if _, isErr := ensureResult.(commands.ErrorResult); isErr {
		t.Fatalf("EnsureIndex failed: %s", printed(ensureResult))
	}

	queryResult := commands.Query(s, mustParse(t, ".query age >= json:20 age <= json:35 order:age"))
	out := printed(queryResult)
	if !strings.Contains(out, "2 result(s)") {
		t.Fatalf("expected 2 results, got: %q", out)
	}
}

func TestUseCollectionRejectsInvalidName(t *testing.T) {
	s := newFakeSession(t)
	result := commands.UseCollection(s, mustParse(t, ".use a/b"))
	if _, isErr := result.(commands.ErrorResult); !isErr {
		t.Fatalf("expected ErrorResult for invalid collection name, got %T", result)
	}
}

func TestPrettyTogglesWithoutArgs(t *testing.T) {
	s := newFakeSession(t)
	if s.GetPretty() {
		t.Fatal("expected pretty to start false")
	}
	commands.Pretty(s, mustParse(t, ".pretty"))
	if !s.GetPretty() {
		t.Fatal("expected pretty to toggle true")
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
