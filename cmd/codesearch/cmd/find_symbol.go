package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codesearch-core/codesearch/internal/config"
	"github.com/codesearch-core/codesearch/internal/output"
	"github.com/codesearch-core/codesearch/internal/search"
	"github.com/codesearch-core/codesearch/internal/symbols"
)

func newFindSymbolCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "find-symbol <name>",
		Short: "Find a symbol by name, with fuzzy fallback",
		Long: `Look up a symbol by exact name across the indexed codebase. If no
exact match exists, falls back to a fuzzy search (bounded edit distance).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFindSymbol(cmd.Context(), cmd, args[0], format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func runFindSymbol(ctx context.Context, cmd *cobra.Command, name, format string) error {
	out := output.New(cmd.OutOrStdout())

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	bundle, err := openStores(ctx, root, cfg)
	if err != nil {
		return fmt.Errorf("no index found: %w (run 'codesearch index' first)", err)
	}
	defer bundle.Close()

	idx, err := symbols.Build(ctx, bundle.metadata, bundle.projectID)
	if err != nil {
		return fmt.Errorf("build symbol index: %w", err)
	}

	engine, err := search.NewEngine(bundle.bm25, bundle.vector, bundle.embedder, bundle.metadata, search.DefaultConfig(),
		search.WithSymbolIndex(idx), search.WithProjectRoot(root))
	if err != nil {
		return fmt.Errorf("create search engine: %w", err)
	}

	matches, err := engine.FindSymbol(ctx, name)
	if err != nil {
		return fmt.Errorf("find symbol: %w", err)
	}

	if len(matches) == 0 {
		out.Status("", fmt.Sprintf("No symbol found matching %q", name))
		return nil
	}

	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(matches)
	}

	for _, m := range matches {
		if m.Distance == 0 {
			out.Statusf("", "%s  %s:%d  (%s, %s)", m.Ref.Name, m.Ref.Path, m.Ref.StartLine, m.Ref.Kind, m.Ref.Visibility)
		} else {
			out.Statusf("", "%s  %s:%d  (%s, %s, distance %d)", m.Ref.Name, m.Ref.Path, m.Ref.StartLine, m.Ref.Kind, m.Ref.Visibility, m.Distance)
		}
	}
	return nil
}
