package shell_test

import (
	"strings"
	"testing"

	"github.com/leafdb/leafdb"
	"github.com/leafdb/leafdb/cmd/leafsh/parser"
	"github.com/leafdb/leafdb/cmd/leafsh/shell"
)

func newShell(t *testing.T) *shell.Shell {
	t.Helper()
	store, err := leafdb.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return shell.New(store)
}

func exec(t *testing.T, sh *shell.Shell, line string) string {
	t.Helper()
	cmd, err := parser.Parse(line)
	if err != nil {
		t.Fatalf("Parse(%q): %v", line, err)
	}
	var sb strings.Builder
	sh.Execute(cmd).Print(&sb)
	return sb.String()
}

func TestUnknownCommandReportsError(t *testing.T) {
	sh := newShell(t)
	out := exec(t, sh, ".bogus")
	if !strings.Contains(out, "unknown command") {
		t.Fatalf("expected unknown-command error, got %q", out)
	}
}

func TestDefaultCollectionIsDefault(t *testing.T) {
	sh := newShell(t)
	if sh.GetCollection() != "_default" {
		t.Fatalf("expected initial collection _default, got %q", sh.GetCollection())
	}
}

func TestUseThenAddThenGet(t *testing.T) {
	sh := newShell(t)
	exec(t, sh, ".use widgets")
	if sh.GetCollection() != "widgets" {
		t.Fatalf("expected current collection widgets, got %q", sh.GetCollection())
	}

	addOut := exec(t, sh, `.add json:{"sku":"W-1"}`)
	if !strings.HasPrefix(addOut, "OK\nid=") {
		t.Fatalf("unexpected add output: %q", addOut)
	}
	id := strings.TrimSpace(strings.TrimPrefix(addOut, "OK\nid="))

	getOut := exec(t, sh, ".get "+id)
	if !strings.Contains(getOut, "W-1") {
		t.Fatalf("expected document in get output, got %q", getOut)
	}
}

func TestExitCommandSignalsExit(t *testing.T) {
	sh := newShell(t)
	cmd, err := parser.Parse(".exit")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !sh.Execute(cmd).IsExit() {
		t.Fatal("expected .exit to signal IsExit")
	}
}

func TestHistoryTracksAddedCommands(t *testing.T) {
	sh := newShell(t)
	sh.AddToHistory(".help")
	sh.AddToHistory(".stats")
	hist := sh.GetHistory()
	if len(hist) != 2 || hist[0] != ".help" || hist[1] != ".stats" {
		t.Fatalf("unexpected history: %v", hist)
	}
}
