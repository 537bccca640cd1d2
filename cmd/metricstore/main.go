// Command metricstore is a small command-line demo for the metricstore
// embedding API: increment a hit counter, feed a histogram counter, and
// query either from the shell or from an interactive REPL.
package main

import (
	"os"

	"github.com/calvinalkan/metricstore/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Stdout, os.Stderr, os.Args))
}
