package parser

import "testing"

func TestParseRequiresDotPrefix(t *testing.T) {
	if _, err := Parse("help"); err == nil {
		t.Fatalf("expected error for missing '.' prefix")
	}
}

func TestParseSplitsArgs(t *testing.T) {
	cmd, err := Parse(".add people json:{\"name\":\"Ada\"}")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.Name != ".add" || len(cmd.Args) != 2 {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestValidateArgs(t *testing.T) {
	cmd := &Command{Name: ".get", Args: []string{"id1"}}
	if err := ValidateArgs(cmd, 2); err == nil {
		t.Fatalf("expected error for too few args")
	}
	if err := ValidateArgs(cmd, 1); err != nil {
		t.Fatalf("ValidateArgs: %v", err)
	}
}
