package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mlodato/kindlecards/internal/clippings"
	"github.com/mlodato/kindlecards/internal/store"
	"github.com/mlodato/kindlecards/internal/ui"
	"github.com/mlodato/kindlecards/internal/watch"
)

const defaultClippingsFile = "My Clippings.txt"

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import highlights from a Kindle clippings file",
	Long: `Import highlights from "My Clippings.txt" into the local database.

Only highlight entries are imported; notes and bookmarks are skipped.
Each highlight gets a content-derived identifier, so importing the same
file twice (or a file that grew since last time) adds only the new
entries. Malformed entries are skipped with a count, never aborting the
import.

With --watch, kc keeps running and re-imports whenever the file changes,
which is handy while a Kindle is mounted.

Examples:
  kc import --clippings-file "/media/kindle/documents/My Clippings.txt"
  kc import --clippings-file clippings.txt --watch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("clippings-file")
		if path == "" {
			path = cfg.ClippingsFile
		}
		if path == "" {
			path = defaultClippingsFile
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("cannot read clippings file: %w", err)
		}

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := runImport(cmd.Context(), st, path); err != nil {
			return err
		}

		watchMode, _ := cmd.Flags().GetBool("watch")
		if !watchMode {
			return nil
		}

		fw, err := watch.NewFileWatcher(path, watch.DefaultDebounce, newLogger("[watch] "))
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("%s Watching %s for changes (Ctrl+C to stop)\n", ui.RenderAccent("👀"), path)
		err = fw.Run(ctx, func(ctx context.Context) error {
			return runImport(ctx, st, path)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func runImport(ctx context.Context, st *store.Store, path string) error {
	start := time.Now()
	all, skipped, err := clippings.ParseFile(path)
	if err != nil {
		return err
	}
	highlights := clippings.Highlights(all)

	added, err := st.UpsertHighlights(ctx, highlights)
	if err != nil {
		return err
	}

	fmt.Printf("%s Imported %d new highlights (%d already known, %d non-highlight, %d malformed) in %v\n",
		ui.RenderPass("✓"), added, len(highlights)-added, len(all)-len(highlights), skipped,
		time.Since(start).Round(time.Millisecond))
	return nil
}

func init() {
	importCmd.Flags().String("clippings-file", "", "Path to the Kindle clippings file")
	importCmd.Flags().Bool("watch", false, "Keep running and re-import when the file changes")
	rootCmd.AddCommand(importCmd)
}
