// Package cmd provides the CLI commands for codesearch.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/codesearch-core/codesearch/pkg/version"
)

// NewRootCmd creates the root command for the codesearch CLI. It carries no
// business logic of its own: every subcommand is a thin adapter onto
// internal/ingest.Ingester, internal/watcher.HybridWatcher, or
// internal/search.Engine.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "codesearch",
		Short:   "Local-first hybrid code search (BM25 + semantic)",
		Version: version.Version,
	}
	cmd.SetVersionTemplate("codesearch version {{.Version}}\n")

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newFindSymbolCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
