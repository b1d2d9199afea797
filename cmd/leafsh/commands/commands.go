// Package commands implements leafsh's dot-commands: each function
// takes the current Session and a parsed Command and returns a
// Result the shell loop prints.
//
// Grounded on docdb/cmd/docdbsh/commands/commands.go's Result/
// ErrorResult/ExitResult/HelpResult trio and its one-function-per-
// command shape. Session replaces that file's Shell interface: it
// drops GetClient/OpenDB/CloseDB (leafsh calls a *leafdb.Store
// in-process, there is no IPC client to fetch) and adds nothing
// leafdb-specific beyond Store() itself, so commands stays agnostic
// of shell's concrete type and avoids an import cycle between the two
// packages.
package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/leafdb/leafdb"
	"github.com/leafdb/leafdb/cmd/leafsh/parser"
	"github.com/leafdb/leafdb/internal/types"
)

// Session is the subset of *shell.Shell every command needs. Defined
// here (not in package shell) so shell can import commands without a
// cycle back.
type Session interface {
	Store() *leafdb.Store
	GetCollection() string
	SetCollection(string)
	GetPretty() bool
	SetPretty(bool)
	GetHistory() []string
}

// Result is one command's printable outcome.
type Result interface {
	Print(w io.Writer)
	IsExit() bool
}

// ErrorResult reports a command failure.
type ErrorResult struct{ Err string }

func (e ErrorResult) Print(w io.Writer) { fmt.Fprintln(w, "ERROR"); fmt.Fprintln(w, e.Err) }
func (e ErrorResult) IsExit() bool      { return false }

// ExitResult signals the REPL loop to stop.
type ExitResult struct{}

func (e ExitResult) Print(w io.Writer) {}
func (e ExitResult) IsExit() bool      { return true }

// OKResult reports bare success with no payload.
type OKResult struct{ Message string }

func (o OKResult) Print(w io.Writer) {
	fmt.Fprintln(w, "OK")
	if o.Message != "" {
		fmt.Fprintln(w, o.Message)
	}
}
func (o OKResult) IsExit() bool { return false }

// HelpResult prints the command reference.
type HelpResult struct{}

func (h HelpResult) Print(w io.Writer) {
	fmt.Fprintln(w, "leafsh commands:")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Meta:")
	fmt.Fprintln(w, "  .help                           show this message")
	fmt.Fprintln(w, "  .exit / .quit                   leave the shell")
	fmt.Fprintln(w, "  .pretty [on|off]                toggle indented JSON output")
	fmt.Fprintln(w, "  .history                        show recent commands")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Collections:")
	fmt.Fprintln(w, "  .use <name>                     set the current collection")
	fmt.Fprintln(w, "  .collections                    list opened/on-disk collections")
	fmt.Fprintln(w, "  .stats                          per-collection counts")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Documents (act on the current collection):")
	fmt.Fprintln(w, "  .add <payload>                  add a new document, prints its id")
	fmt.Fprintln(w, "  .get <id>                       fetch one document")
	fmt.Fprintln(w, "  .set <id> [merge] <payload>     replace, or shallow-merge, a document")
	fmt.Fprintln(w, "  .update <id> <payload>          shallow-merge into an existing document")
	fmt.Fprintln(w, "  .updatepath <id> <path> <value> set one field path, e.g. /address/city")
	fmt.Fprintln(w, "  .delete <id>                    tombstone a document")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Querying:")
	fmt.Fprintln(w, "  .query [field op value]... [order:field[:desc]] [limit:N]")
	fmt.Fprintln(w, "      op is one of == >= > <= <")
	fmt.Fprintln(w, "  .ensure-index <field[:type]>... [ordered]")
	fmt.Fprintln(w, "      type is one of str num date auto (default auto)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Payload formats: raw:\"a string\"  json:{\"k\":\"v\"}")
}
func (h HelpResult) IsExit() bool { return false }

func Help() Result { return HelpResult{} }
func Exit() Result { return ExitResult{} }

// Pretty toggles or sets indented JSON output for every later result
// in this session.
func Pretty(s Session, cmd *parser.Command) Result {
	if len(cmd.Args) == 0 {
		s.SetPretty(!s.GetPretty())
	} else {
		switch strings.ToLower(cmd.Args[0]) {
		case "on", "true":
			s.SetPretty(true)
		case "off", "false":
			s.SetPretty(false)
		default:
			return ErrorResult{Err: "usage: .pretty [on|off]"}
		}
	}
	return OKResult{Message: fmt.Sprintf("pretty=%v", s.GetPretty())}
}

// History prints the session's recent command lines.
func History(s Session) Result {
	return historyResult{lines: s.GetHistory()}
}

type historyResult struct{ lines []string }

func (h historyResult) Print(w io.Writer) {
	for i, line := range h.lines {
		fmt.Fprintf(w, "%4d  %s\n", i+1, line)
	}
}
func (h historyResult) IsExit() bool { return false }

// UseCollection sets the current collection for every unqualified
// document/query command that follows.
func UseCollection(s Session, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 1); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	if err := leafdb.ValidateCollectionName(cmd.Args[0]); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	s.SetCollection(cmd.Args[0])
	return OKResult{Message: "collection=" + cmd.Args[0]}
}

// ListCollections lists the collections the Store knows about.
func ListCollections(s Session) Result {
	names, err := s.Store().Collections()
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}
	sort.Strings(names)
	return listResult{names: names}
}

type listResult struct{ names []string }

func (l listResult) Print(w io.Writer) {
	if len(l.names) == 0 {
		fmt.Fprintln(w, "(no collections)")
		return
	}
	for _, n := range l.names {
		fmt.Fprintln(w, n)
	}
}
func (l listResult) IsExit() bool { return false }

// Stats prints per-collection live/tombstoned/index counts.
func Stats(s Session) Result {
	return statsResult{stats: s.Store().Stats()}
}

type statsResult struct{ stats leafdb.StoreStats }

func (r statsResult) Print(w io.Writer) {
	names := make([]string, 0, len(r.stats.Collections))
	for n := range r.stats.Collections {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		c := r.stats.Collections[n]
		fmt.Fprintf(w, "%s: live=%d tombstoned=%d loaded_indexes=%d parse_errors=%d\n",
			n, c.LiveDocuments, c.TombstonedDocuments, c.LoadedIndexes, c.ParseErrors)
	}
}
func (r statsResult) IsExit() bool { return false }

// Add creates a new document in the current collection and reports
// its generated id.
func Add(s Session, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 1); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	doc, err := parser.DecodeDocument(parser.JoinRest(cmd, 0))
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}

	coll, err := s.Store().Collection(s.GetCollection())
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}
	id, err := coll.Add(doc)
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}
	return OKResult{Message: "id=" + id}
}

// Get fetches one document by id.
func Get(s Session, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 1); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	coll, err := s.Store().Collection(s.GetCollection())
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}
	snap, err := coll.Doc(cmd.Args[0]).Get()
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}
	return docResult{snap: snap, pretty: s.GetPretty()}
}

type docResult struct {
	snap   types.DocumentSnapshot
	pretty bool
}

func (d docResult) Print(w io.Writer) {
	if !d.snap.Exists {
		fmt.Fprintln(w, "(not found)")
		return
	}
	fmt.Fprintln(w, marshal(map[string]interface{}(d.snap.Data), d.pretty))
}
func (d docResult) IsExit() bool { return false }

// Set replaces, or (with the "merge" flag) shallow-merges, a document
// (".set <id> [merge] <payload>").
func Set(s Session, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 2); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	id := cmd.Args[0]
	merge := false
	payloadFrom := 1
	if cmd.Args[1] == "merge" {
		merge = true
		payloadFrom = 2
	}
	doc, err := parser.DecodeDocument(parser.JoinRest(cmd, payloadFrom))
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}

	coll, err := s.Store().Collection(s.GetCollection())
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}
	if err := coll.Doc(id).Set(doc, merge); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	return OKResult{}
}

// Update shallow-merges data into an existing document.
func Update(s Session, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 2); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	doc, err := parser.DecodeDocument(parser.JoinRest(cmd, 1))
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}

	coll, err := s.Store().Collection(s.GetCollection())
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}
	if err := coll.Doc(cmd.Args[0]).Update(doc); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	return OKResult{}
}

// UpdatePath writes one field path (".updatepath <id> <path> <value>").
func UpdatePath(s Session, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 3); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	value, err := parser.DecodeValue(parser.JoinRest(cmd, 2))
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}

	coll, err := s.Store().Collection(s.GetCollection())
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}
	if err := coll.Doc(cmd.Args[0]).UpdatePath(cmd.Args[1], value); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	return OKResult{}
}

// Delete tombstones a document. Deleting an absent id is a no-op.
func Delete(s Session, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 1); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	coll, err := s.Store().Collection(s.GetCollection())
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}
	if err := coll.Doc(cmd.Args[0]).Delete(); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	return OKResult{}
}

// Query runs a QueryDescriptor built from command tokens against the
// current collection (".query [field op value]... [order:f[:desc]]
// [limit:N]").
func Query(s Session, cmd *parser.Command) Result {
	desc, err := parseQueryArgs(cmd.Args)
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}

	coll, err := s.Store().Collection(s.GetCollection())
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}
	snap, err := coll.Get(desc)
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}
	return querySnapshotResult{snap: snap, pretty: s.GetPretty()}
}

func parseQueryArgs(args []string) (*types.QueryDescriptor, error) {
	desc := &types.QueryDescriptor{}
	i := 0
	for i < len(args) {
		tok := args[i]
		switch {
		case strings.HasPrefix(tok, "order:"):
			spec := strings.TrimPrefix(tok, "order:")
			parts := strings.SplitN(spec, ":", 2)
			ob := &types.OrderBy{Field: parts[0]}
			if len(parts) == 2 && parts[1] == "desc" {
				ob.Descending = true
			}
			desc.OrderBy = ob
			i++
		case strings.HasPrefix(tok, "limit:"):
			n, err := strconv.Atoi(strings.TrimPrefix(tok, "limit:"))
			if err != nil {
				return nil, fmt.Errorf("invalid limit: %s", tok)
			}
			desc.Limit = n
			i++
		default:
			if i+2 >= len(args) {
				return nil, fmt.Errorf("incomplete where-clause starting at %q", tok)
			}
			op, err := parseOp(args[i+1])
			if err != nil {
				return nil, err
			}
			value, err := parser.DecodeValue(args[i+2])
			if err != nil {
				return nil, err
			}
			desc.Where = append(desc.Where, types.WhereClause{Field: tok, Op: op, Value: value})
			i += 3
		}
	}
	return desc, nil
}

func parseOp(s string) (types.Op, error) {
	switch types.Op(s) {
	case types.OpEqual, types.OpGreaterEqual, types.OpGreater, types.OpLessEqual, types.OpLess, types.OpRange:
		return types.Op(s), nil
	default:
		return "", fmt.Errorf("unknown operator %q", s)
	}
}

type querySnapshotResult struct {
	snap   types.QuerySnapshot
	pretty bool
}

func (q querySnapshotResult) Print(w io.Writer) {
	fmt.Fprintf(w, "%d result(s)\n", len(q.snap.Docs))
	for _, d := range q.snap.Docs {
		fmt.Fprintln(w, marshal(map[string]interface{}(d.Data), q.pretty))
	}
}
func (q querySnapshotResult) IsExit() bool { return false }

// EnsureIndex registers and (re)builds a secondary or composite index
// on the current collection (".ensure-index field[:type]... [ordered]").
func EnsureIndex(s Session, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 1); err != nil {
		return ErrorResult{Err: err.Error()}
	}

	var fields []string
	var keyTypes []types.KeyType
	ordered := false
	for _, tok := range cmd.Args {
		if tok == "ordered" {
			ordered = true
			continue
		}
		parts := strings.SplitN(tok, ":", 2)
		fields = append(fields, parts[0])
		kt := types.KeyAuto
		if len(parts) == 2 {
			var err error
			kt, err = parseKeyType(parts[1])
			if err != nil {
				return ErrorResult{Err: err.Error()}
			}
		}
		keyTypes = append(keyTypes, kt)
	}
	if len(fields) == 0 {
		return ErrorResult{Err: "usage: .ensure-index field[:type]... [ordered]"}
	}

	meta := types.IndexMeta{Fields: fields, KeyTypes: keyTypes, Ordered: ordered}
	mgr, err := s.Store().IndexManager(s.GetCollection())
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}
	if _, err := mgr.EnsureIndex(meta, true); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	return OKResult{Message: "index=" + meta.Name()}
}

func parseKeyType(s string) (types.KeyType, error) {
	switch s {
	case "str":
		return types.KeyString, nil
	case "num":
		return types.KeyNumber, nil
	case "date":
		return types.KeyDate, nil
	case "auto":
		return types.KeyAuto, nil
	default:
		return types.KeyAuto, fmt.Errorf("unknown key type %q (want str, num, date, or auto)", s)
	}
}

func marshal(v interface{}, pretty bool) string {
	var data []byte
	var err error
	if pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Sprintf("<unmarshalable: %v>", err)
	}
	return string(data)
}
