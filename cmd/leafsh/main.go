// Command leafsh is an interactive REPL for exploring a leafdb Store:
// collections, documents, and queries, without writing Go.
//
// Grounded on docdb/cmd/docdbsh/main.go's flag-parse-then-read-loop
// shape. Replaces its bufio.Reader with github.com/peterh/liner (the
// teacher's own direct dependency) for line editing and history, and
// drops the socket-dial step entirely: leafsh opens a *leafdb.Store
// in-process rather than connecting to a server.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/peterh/liner"

	"github.com/leafdb/leafdb"
	"github.com/leafdb/leafdb/cmd/leafsh/parser"
	"github.com/leafdb/leafdb/cmd/leafsh/shell"
)

const prompt = "leafdb> "

func main() {
	rootDir := flag.String("root", "./data", "root directory for the document store")
	flag.Parse()

	fmt.Printf("leafsh v0 — root=%s\n", *rootDir)

	store, err := leafdb.Open(*rootDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	sh := shell.New(store)
	fmt.Println("Type '.help' for commands.")
	fmt.Println()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		line.Close()
		store.Close()
		os.Exit(0)
	}()

	for {
		input, err := line.Prompt(prompt)
		if err != nil {
			if err == io.EOF || err == liner.ErrPromptAborted {
				fmt.Println()
				return
			}
			fmt.Fprintf(os.Stderr, "error reading input: %v\n", err)
			continue
		}
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		sh.AddToHistory(input)

		cmd, err := parser.Parse(input)
		if err != nil {
			fmt.Println("ERROR")
			fmt.Println(err.Error())
			fmt.Println()
			continue
		}

		result := sh.Execute(cmd)
		if result.IsExit() {
			return
		}
		result.Print(os.Stdout)
		fmt.Println()
	}
}
