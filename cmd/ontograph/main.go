// Command ontograph builds an ontology-governed entity graph in libSQL and
// serves construction sessions over MCP.
package main

import (
	"fmt"
	"os"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/cli"
)

func main() {
	if err := cli.NewCLI().Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
