package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mlodato/kindlecards/internal/ui"
)

var resetGenerationsCmd = &cobra.Command{
	Use:   "reset-generations",
	Short: "Roll generated highlights back to pending",
	Long: `Roll highlights back to the pending state so the next generate run
re-processes them.

Without flags every generated and failed highlight is reset, card
content and all. This is the only way card content is ever discarded;
nothing in the pipeline does it automatically. With --failed-only just
the failed highlights are reset, keeping successful generations.

A confirmation prompt guards the full reset when run interactively;
--yes skips it for scripts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		failedOnly, _ := cmd.Flags().GetBool("failed-only")
		if failedOnly {
			n, err := st.ResetFailedGenerations(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%s Reset %d failed highlights to pending\n", ui.RenderPass("✓"), n)
			return nil
		}

		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			ok, err := confirm("Discard ALL generated card content and start over?")
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Aborted.")
				return nil
			}
		}

		n, err := st.ResetGenerations(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%s Reset %d highlights to pending\n", ui.RenderPass("✓"), n)
		return nil
	},
}

var setUnsyncedCmd = &cobra.Command{
	Use:   "set-unsynced",
	Short: "Mark all synced highlights unsynced for a full re-sync",
	Long: `Mark every synced highlight as unsynced, so the next sync-to-anki run
pushes all generated cards again.

Card content is untouched; only the sync flag changes. Combined with
AnkiConnect's duplicate detection this is safe to use after deleting a
deck or moving to a fresh Anki profile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			ok, err := confirm("Mark every synced highlight unsynced?")
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Aborted.")
				return nil
			}
		}

		n, err := st.ResetSync(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%s Marked %d highlights unsynced\n", ui.RenderPass("✓"), n)
		return nil
	},
}

// confirm prompts interactively; non-interactive runs refuse rather
// than assume, so scripts must pass --yes explicitly.
func confirm(title string) (bool, error) {
	if !ui.Interactive() {
		return false, fmt.Errorf("refusing destructive reset without a terminal; pass --yes to proceed")
	}
	var ok bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().Title(title).Value(&ok),
	))
	if err := form.Run(); err != nil {
		return false, err
	}
	return ok, nil
}

func init() {
	resetGenerationsCmd.Flags().Bool("failed-only", false, "Reset only failed highlights, keep generated cards")
	resetGenerationsCmd.Flags().Bool("yes", false, "Skip the confirmation prompt")
	setUnsyncedCmd.Flags().Bool("yes", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(resetGenerationsCmd)
	rootCmd.AddCommand(setUnsyncedCmd)
}
