package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/mlodato/kindlecards/internal/anki"
	"github.com/mlodato/kindlecards/internal/ankisync"
	"github.com/mlodato/kindlecards/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync-to-anki",
	Short: "Push generated cards into Anki via AnkiConnect",
	Long: `Push generated, not-yet-synced cards into a running Anki.

Requires Anki to be open with the AnkiConnect add-on installed. The
target deck and note types are created on first sync. Each card carries
its highlight's identifier as the first note field, so Anki's own
duplicate detection makes re-syncing safe: cards Anki already has are
counted as synced, not duplicated.

One card's failure is logged and skipped; the rest of the run
continues. A highlight is marked synced only after all of its cards
were accepted, so interrupting mid-sync just means re-running later.

With --reconcile, the deck is compared against the local database and
drift is reported (highlights marked synced but missing from the deck,
and deck notes the database does not know). Nothing is modified; use
`+"`kc set-unsynced`"+` to queue missing cards for re-sync.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		client := anki.NewClient(anki.Config{
			URL:        cfg.Anki.URL,
			Deck:       cfg.Anki.Deck,
			BasicModel: cfg.Anki.BasicModel,
			ClozeModel: cfg.Anki.ClozeModel,
			HTTPClient: &http.Client{Timeout: 30 * time.Second},
		})
		syncer := ankisync.New(st, client, newLogger("[sync] "))

		if reconcile, _ := cmd.Flags().GetBool("reconcile"); reconcile {
			return runReconcile(cmd, syncer)
		}

		start := time.Now()
		summary, err := syncer.SyncAll(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%s %d synced, %d skipped, %d failed in %v\n",
			ui.RenderPass("✓"), summary.Synced, summary.Skipped, summary.Failed,
			time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func runReconcile(cmd *cobra.Command, syncer *ankisync.Syncer) error {
	drift, err := syncer.Reconcile(cmd.Context())
	if err != nil {
		return err
	}
	if len(drift.MissingFromAnki) == 0 && len(drift.UntrackedInAnki) == 0 {
		fmt.Printf("%s Deck and database agree\n", ui.RenderPass("✓"))
		return nil
	}
	if n := len(drift.MissingFromAnki); n > 0 {
		fmt.Printf("%s %d synced highlights missing from the deck (deleted in Anki?)\n", ui.RenderWarn("⚠"), n)
		fmt.Println(ui.RenderDim("  Run `kc set-unsynced` to queue them for re-sync."))
	}
	if n := len(drift.UntrackedInAnki); n > 0 {
		fmt.Printf("%s %d deck notes are not tracked locally\n", ui.RenderWarn("⚠"), n)
	}
	return nil
}

func init() {
	syncCmd.Flags().Bool("reconcile", false, "Report drift between the deck and the database without modifying anything")
	syncCmd.Flags().String("anki-url", "", "AnkiConnect endpoint (default http://127.0.0.1:8765)")
	rootCmd.AddCommand(syncCmd)
}
