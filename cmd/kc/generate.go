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

	"github.com/mlodato/kindlecards/internal/gen"
	"github.com/mlodato/kindlecards/internal/llm"
	"github.com/mlodato/kindlecards/internal/ui"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate cards for pending highlights with concurrent model calls",
	Long: `Generate card content for highlights that have none yet.

Each pending highlight is sent to the model individually; requests run
concurrently up to --parallel-requests. A highlight that fails is marked
failed and the run continues. Re-running generate picks up only
highlights still pending, so an interrupted run resumes cleanly.

Examples:
  kc generate
  kc generate --book "Thinking, Fast and Slow" --max-generations 50
  kc generate --parallel-requests 4`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := llm.New(llm.Options{APIKey: cfg.APIKey, Model: cfg.Model})
		if err != nil {
			return err
		}

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		books, err := resolveBooks(cmd, st)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		engine := gen.New(st, client, nil, newLogger("[gen] "))
		start := time.Now()
		summary, err := engine.GenerateDirect(ctx, gen.Options{
			Books:          books,
			MaxGenerations: cfg.MaxGenerations,
			Parallel:       cfg.ParallelRequests,
			Model:          cfg.Model,
		})
		if errors.Is(err, gen.ErrNoPending) {
			fmt.Println("Nothing to generate.")
			return nil
		}
		printGenSummary(summary, time.Since(start))
		if errors.Is(err, context.Canceled) {
			// Interrupt is a clean stop: results applied so far are
			// durable and a re-run resumes where this one left off.
			fmt.Printf("%s Interrupted; run again to continue\n", ui.RenderWarn("⚠"))
			return nil
		}
		return err
	},
}

func printGenSummary(s gen.Summary, elapsed time.Duration) {
	fmt.Printf("%s %d generated, %d skipped, %d failed (of %d selected) in %v\n",
		ui.RenderPass("✓"), s.Generated, s.Skipped, s.Failed, s.Selected,
		elapsed.Round(time.Millisecond))
	if s.Failed > 0 {
		fmt.Printf("%s %d highlights failed; re-run after `kc reset-generations --failed-only` to retry\n",
			ui.RenderWarn("⚠"), s.Failed)
	}
}

func init() {
	generateCmd.Flags().StringArray("book", nil, "Limit to a book title (repeatable)")
	rootCmd.AddCommand(generateCmd)
}
