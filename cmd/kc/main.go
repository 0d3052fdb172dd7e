// Command kc turns Kindle highlights into Anki flashcards.
//
// The pipeline has three stages, each its own subcommand: import reads
// "My Clippings.txt" into a local SQLite database, generate (or
// generate-batch) asks the model for card content, and sync-to-anki
// pushes finished cards into a running Anki via AnkiConnect. Every
// stage is resumable; re-running a stage never duplicates work.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/mlodato/kindlecards/internal/config"
	"github.com/mlodato/kindlecards/internal/store"
	"github.com/mlodato/kindlecards/internal/ui"
)

var (
	cfg    *config.Config
	logOut io.Writer = os.Stderr
)

var rootCmd = &cobra.Command{
	Use:   "kc",
	Short: "Turn Kindle highlights into Anki flashcards",
	Long: `kc is a local pipeline from Kindle highlights to spaced-repetition cards.

Stages:
  import          read "My Clippings.txt" into the local database
  generate        create card content with concurrent model calls
  generate-batch  create card content via an asynchronous batch job
  sync-to-anki    push generated cards into Anki via AnkiConnect

State lives in ~/.kindlecards (override with KC_DATA_DIR). Each stage is
safe to re-run: imports deduplicate, generation touches only pending
highlights, and sync skips cards Anki already has.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cmd.Flags())
		if err != nil {
			return err
		}
		if w, err := config.LogWriter(cfg.DataDir); err == nil {
			logOut = io.MultiWriter(os.Stderr, w)
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("db", "", "Path to the highlights database (default: <data-dir>/highlights.db)")
	pf.String("model", "", "Model used for card generation")
	pf.Int("max-generations", 0, "Cap on highlights processed per run (0 = no cap)")
	pf.Int("parallel-requests", 0, "Concurrent model calls in direct mode")
}

// newLogger builds a prefixed logger writing to stderr and the
// rotating log file.
func newLogger(prefix string) *log.Logger {
	return log.New(logOut, prefix, log.LstdFlags)
}

// openStore opens the database and ensures the schema exists.
func openStore(cmd *cobra.Command) (*store.Store, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.InitSchema(cmd.Context()); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderErr("Error:"), err)
		os.Exit(1)
	}
}
