// Package parser tokenizes one leafsh input line into a dot-command
// and its arguments.
//
// Grounded on docdb/cmd/docdbsh/parser/parser.go, trimmed of
// ParseUint64/ValidateDB: leafsh has no numeric database-id handshake
// to validate, since a Store is a directory, not a session.
package parser

import (
	"fmt"
	"strings"
)

// Command is one parsed dot-command line.
type Command struct {
	Name string
	Args []string
	Line string
}

// Parse splits line into a Command. Commands must start with ".".
func Parse(line string) (*Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("empty command")
	}

	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	if !strings.HasPrefix(parts[0], ".") {
		return nil, fmt.Errorf("commands must start with '.'")
	}

	return &Command{Name: parts[0], Args: parts[1:], Line: line}, nil
}

// ValidateArgs errors if cmd was given fewer than count arguments.
func ValidateArgs(cmd *Command, count int) error {
	if len(cmd.Args) < count {
		return fmt.Errorf("expected %d argument(s), got %d", count, len(cmd.Args))
	}
	return nil
}

// JoinRest rejoins cmd.Args[from:] with single spaces, for commands
// whose last argument is a free-form payload (e.g. a JSON object).
func JoinRest(cmd *Command, from int) string {
	if from >= len(cmd.Args) {
		return ""
	}
	return strings.Join(cmd.Args[from:], " ")
}
