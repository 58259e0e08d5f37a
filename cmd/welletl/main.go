// Command welletl loads the state driller report export and the groundwater
// database well file into a relational store.
//
// Subcommands run one stage each: snapshot inspects the source directory,
// aliases builds the header alias dictionary, mirror rebuilds the raw text
// mirror, etl loads the curated tables, link scores nearby well pairs and
// migrate creates the curated schema.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	// register all backends with the storage factory.
	_ "welletl/internal/storage/all"
)

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// runMain executes one CLI invocation and returns the process exit code:
// 0 on success, 1 on any error.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := newRootCommand(a)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	a.close()
	if err != nil {
		fmt.Fprintf(stderr, "welletl: %v\n", err)
		return 1
	}
	return 0
}
