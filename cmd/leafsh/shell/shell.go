// Package shell owns the REPL's session state and command dispatch.
//
// Grounded on docdb/cmd/docdbsh/shell/shell.go's Shell (current
// db/collection context, history, dispatch switch). leafsh drops the
// client/transaction fields entirely: there is no IPC client to hold
// (the Shell calls a *leafdb.Store directly, in-process) and no
// multi-document transaction concept (spec.md Non-goals).
package shell

import (
	"fmt"
	"sync"

	"github.com/leafdb/leafdb"
	"github.com/leafdb/leafdb/cmd/leafsh/commands"
	"github.com/leafdb/leafdb/cmd/leafsh/parser"
)

// Shell holds one REPL session's state: which collection is current,
// display preference, and command history.
type Shell struct {
	store             *leafdb.Store
	currentCollection string
	pretty            bool
	history           []string
	mu                sync.Mutex
}

// New wraps an already-opened Store in a fresh shell session.
func New(store *leafdb.Store) *Shell {
	return &Shell{
		store:             store,
		currentCollection: "_default",
		history:           make([]string, 0, 100),
	}
}

func (s *Shell) Store() *leafdb.Store { return s.store }

func (s *Shell) SetCollection(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == "" {
		name = "_default"
	}
	s.currentCollection = name
}

func (s *Shell) GetCollection() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentCollection
}

func (s *Shell) SetPretty(pretty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pretty = pretty
}

func (s *Shell) GetPretty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pretty
}

func (s *Shell) AddToHistory(cmd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, cmd)
	if len(s.history) > 100 {
		s.history = s.history[1:]
	}
}

func (s *Shell) GetHistory() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := make([]string, len(s.history))
	copy(hist, s.history)
	return hist
}

// Execute dispatches one parsed command to its handler.
func (s *Shell) Execute(cmd *parser.Command) commands.Result {
	switch cmd.Name {
	case ".help":
		return commands.Help()
	case ".exit", ".quit":
		return commands.Exit()
	case ".pretty":
		return commands.Pretty(s, cmd)
	case ".history":
		return commands.History(s)
	case ".use":
		return commands.UseCollection(s, cmd)
	case ".collections":
		return commands.ListCollections(s)
	case ".add":
		return commands.Add(s, cmd)
	case ".get":
		return commands.Get(s, cmd)
	case ".set":
		return commands.Set(s, cmd)
	case ".update":
		return commands.Update(s, cmd)
	case ".updatepath":
		return commands.UpdatePath(s, cmd)
	case ".delete":
		return commands.Delete(s, cmd)
	case ".query":
		return commands.Query(s, cmd)
	case ".ensure-index":
		return commands.EnsureIndex(s, cmd)
	case ".stats":
		return commands.Stats(s)
	default:
		return commands.ErrorResult{Err: fmt.Sprintf("unknown command: %s", cmd.Name)}
	}
}
