// Package cli implements Catenary's external command surface: commands
// that parse flags or hook JSON and call directly into the core packages,
// holding no core logic of their own. Built with github.com/spf13/cobra:
// long, example-laden help text and SilenceUsage/SilenceErrors on the root
// command.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "catenary",
	Short: "Catenary bridges MCP clients to Language Server Protocol servers",
	Long: `Catenary is a bidirectional bridge between the Model Context Protocol
and Language Server Protocol servers. It multiplexes tool calls from a
single MCP client across per-language LSP server processes, spawning and
initializing them on demand and tearing them down when idle.

Running "catenary" with no subcommand is equivalent to "catenary serve".`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command, printing any error to stderr and exiting
// non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
