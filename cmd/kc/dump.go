package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mlodato/kindlecards/internal/export"
	"github.com/mlodato/kindlecards/internal/store"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Export the highlights database as CSV or YAML",
	Long: `Export all highlight records, including generation state and card
content, for inspection or backup. The database itself is never
modified.

Examples:
  kc dump                               # CSV to stdout
  kc dump --format yaml --output out.yaml
  kc dump --only-generated --format yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		formatFlag, _ := cmd.Flags().GetString("format")
		format, err := export.ParseFormat(formatFlag)
		if err != nil {
			return err
		}

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		var records []*store.Record
		if onlyGenerated, _ := cmd.Flags().GetBool("only-generated"); onlyGenerated {
			records, err = st.GeneratedRecords(cmd.Context())
		} else {
			records, err = st.AllRecords(cmd.Context())
		}
		if err != nil {
			return err
		}

		var w io.Writer = os.Stdout
		if output, _ := cmd.Flags().GetString("output"); output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("cannot create output file: %w", err)
			}
			defer f.Close()
			w = f
		}

		return export.Write(w, format, records)
	},
}

func init() {
	dumpCmd.Flags().String("output", "", "Write to a file instead of stdout")
	dumpCmd.Flags().String("format", "csv", "Output format: csv or yaml")
	dumpCmd.Flags().Bool("only-generated", false, "Export only highlights with generated cards")
	rootCmd.AddCommand(dumpCmd)
}
