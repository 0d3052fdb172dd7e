package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mlodato/kindlecards/internal/gen"
	"github.com/mlodato/kindlecards/internal/llm"
	"github.com/mlodato/kindlecards/internal/ui"
)

var generateBatchCmd = &cobra.Command{
	Use:   "generate-batch",
	Short: "Generate cards via an asynchronous batch job",
	Long: `Submit pending highlights as one asynchronous batch job, or load the
results of a previously submitted job.

Without flags, all pending highlights are bundled into a single batch
request and the batch id is printed; the command returns immediately.
Batch processing is roughly half the price of direct calls and suits
large backlogs.

With --load-batch-id, the job is polled: if it is still processing its
status is reported and nothing changes; once it has ended, each
highlight's result is applied exactly once. Loading the same finished
batch twice is a detected no-op, never a double write.

With --abandon-batch-id, a failed or expired job's claims are released
so its highlights become pending again.

Examples:
  kc generate-batch
  kc generate-batch --load-batch-id msgbatch_01ABC...
  kc generate-batch --abandon-batch-id msgbatch_01ABC...`,
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

		engine := gen.New(st, client, client, newLogger("[gen] "))

		if id, _ := cmd.Flags().GetString("abandon-batch-id"); id != "" {
			if err := engine.AbandonBatch(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("%s Released batch %s; its highlights are pending again\n", ui.RenderPass("✓"), id)
			return nil
		}

		if id, _ := cmd.Flags().GetString("load-batch-id"); id != "" {
			return loadBatch(cmd, engine, id)
		}

		books, err := resolveBooks(cmd, st)
		if err != nil {
			return err
		}

		sub, err := engine.SubmitBatch(cmd.Context(), gen.Options{
			Books:          books,
			MaxGenerations: cfg.MaxGenerations,
			Model:          cfg.Model,
		})
		if errors.Is(err, gen.ErrNoPending) {
			fmt.Println("Nothing to generate.")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s Submitted batch %s covering %d highlights\n",
			ui.RenderPass("✓"), ui.RenderAccent(sub.BatchID), sub.Records)
		fmt.Println(ui.RenderDim(fmt.Sprintf("Check progress with: kc generate-batch --load-batch-id %s", sub.BatchID)))
		return nil
	},
}

func loadBatch(cmd *cobra.Command, engine *gen.Engine, id string) error {
	start := time.Now()
	out, err := engine.LoadBatch(cmd.Context(), id)
	if err != nil {
		return err
	}
	switch {
	case out.AlreadyApplied:
		fmt.Printf("Batch %s was already applied; nothing to do.\n", id)
	case out.Pending:
		st := out.Status
		fmt.Printf("%s Batch %s still %s: %d processing, %d succeeded, %d errored\n",
			ui.RenderWarn("…"), id, st.State, st.Processing, st.Succeeded, st.Errored)
	default:
		printGenSummary(out.Summary, time.Since(start))
	}
	return nil
}

func init() {
	generateBatchCmd.Flags().StringArray("book", nil, "Limit to a book title (repeatable)")
	generateBatchCmd.Flags().String("load-batch-id", "", "Apply the results of a submitted batch")
	generateBatchCmd.Flags().String("abandon-batch-id", "", "Release a failed batch's highlights back to pending")
	rootCmd.AddCommand(generateBatchCmd)
}
