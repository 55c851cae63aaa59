package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codesearch-core/codesearch/internal/config"
	"github.com/codesearch-core/codesearch/internal/output"
	"github.com/codesearch-core/codesearch/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Watch a directory and keep the index up to date",
		Long: `Watch a directory for file changes and re-run the indexer whenever
changes settle, using fsnotify where available and falling back to polling.

Runs until interrupted (Ctrl+C).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd, path)
		},
	}
	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, path string) error {
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

	out.Status("", fmt.Sprintf("Indexing %s before watching ...", root))
	if _, err := runIngest(ctx, root, bundle); err != nil {
		return err
	}

	w, err := watcher.NewHybridWatcher(watcher.DefaultOptions())
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = w.Stop() }()

	if err := w.Start(ctx, root); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	out.Success(fmt.Sprintf("Watching %s for changes (%s)", root, w.WatcherType()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case events, ok := <-w.Events():
			if !ok {
				return nil
			}
			out.Status("", fmt.Sprintf("%d file(s) changed, reindexing ...", len(events)))
			result, err := runIngest(ctx, root, bundle)
			if err != nil {
				out.Errorf("reindex failed: %v", err)
				slog.Error("watch_reindex_failed", slog.String("error", err.Error()))
				continue
			}
			out.Successf("Reindexed %d files, %d chunks", result.FilesProcessed, result.ChunksCreated)
		case watchErr, ok := <-w.Errors():
			if !ok {
				continue
			}
			out.Warningf("watcher error: %v", watchErr)
			slog.Warn("watch_error", slog.String("error", watchErr.Error()))
		}
	}
}
