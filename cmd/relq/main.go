// Command relq builds, runs, explains and tests lazy relational queries.
package main

import (
	"os"

	"github.com/roach88/relq/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:], os.Stdout, os.Stderr))
}
