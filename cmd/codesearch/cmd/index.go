package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codesearch-core/codesearch/internal/config"
	"github.com/codesearch-core/codesearch/internal/output"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a directory for searching",
		Long: `Index a directory, building both the BM25 and vector stores.

Scans files, chunks code and documents, generates embeddings, and writes
the result to .codesearch/ under the project root. Run again to pick up
changes (mtime diff skips files that haven't changed since the last run).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runIndex(cmd.Context(), cmd, path)
		},
	}
	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, path string) error {
	out := output.New(cmd.OutOrStdout())

	root, err := config.FindProjectRoot(path)
	if err != nil {
		root, _ = os.Getwd()
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	bundle, err := openStores(ctx, root, cfg)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer bundle.Close()

	out.Status("", fmt.Sprintf("Indexing %s ...", root))
	result, err := runIngest(ctx, root, bundle)
	if err != nil {
		return err
	}

	out.Successf("Indexed %d files, %d chunks in %s", result.FilesProcessed, result.ChunksCreated, result.Duration)
	if n := len(result.Errors.Read) + len(result.Errors.Chunk) + len(result.Errors.Embed) + len(result.Errors.Write); n > 0 {
		out.Warningf("%d files had errors", n)
	}
	return nil
}
