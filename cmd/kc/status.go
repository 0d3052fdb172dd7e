package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mlodato/kindlecards/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		counts, err := st.StateCounts(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("%s %s\n\n", ui.RenderAccent("📚"), st.Path())
		fmt.Printf("  %-12s %d\n", "total", counts.Total)
		fmt.Printf("  %-12s %d\n", "pending", counts.Pending)
		if counts.InBatch > 0 {
			fmt.Printf("  %-12s %d\n", "in batch", counts.InBatch)
		}
		fmt.Printf("  %-12s %d\n", "generated", counts.Generated)
		if counts.Failed > 0 {
			fmt.Printf("  %-12s %s\n", "failed", ui.RenderWarn(fmt.Sprintf("%d", counts.Failed)))
		}
		fmt.Printf("  %-12s %d\n", "synced", counts.Synced)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
