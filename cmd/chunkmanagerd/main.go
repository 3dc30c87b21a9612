// Command chunkmanagerd runs a standalone chunk manager worker: it opens a
// chunk root, recovers any chunks left over from a previous run, and serves
// a small local debug HTTP surface over them. It is an operator convenience
// built on top of the manager package, not the RPC-facing service a real
// worker embeds it into.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes, in the style of sysexits.h.
const (
	exitCodeGeneral = 1
	exitCodeUsage   = 64
)

var rootCmd *cobra.Command

func main() {
	root := &cobra.Command{
		Use:   os.Args[0],
		Short: "chunkmanagerd operates a worker's local chunk convergence engine",
		Long: "chunkmanagerd recovers a chunk root from disk and either serves it " +
			"over a debug HTTP API (serve) or simply reports what it found (scan).",
	}
	root.AddCommand(serveCmd())
	root.AddCommand(scanCmd())
	rootCmd = root

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeGeneral)
	}
}
