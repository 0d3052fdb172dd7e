package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mlodato/kindlecards/internal/store"
	"github.com/mlodato/kindlecards/internal/ui"
)

var booksCmd = &cobra.Command{
	Use:   "books",
	Short: "List books with highlights awaiting generation",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		counts, err := st.BooksWithPending(cmd.Context())
		if err != nil {
			return err
		}
		if len(counts) == 0 {
			fmt.Println("No pending highlights.")
			return nil
		}
		for _, bc := range counts {
			fmt.Printf("%4d  %s\n", bc.Pending, bookLabel(bc.Book))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(booksCmd)
}

func bookLabel(b store.Book) string {
	if b.Author == "" {
		return b.Title
	}
	return fmt.Sprintf("%s — %s", b.Title, b.Author)
}

// resolveBooks turns --book flags into book filters, or prompts with an
// interactive multi-select when attached to a terminal and no flags
// were given. Empty result means "all books".
func resolveBooks(cmd *cobra.Command, st *store.Store) ([]store.Book, error) {
	counts, err := st.BooksWithPending(cmd.Context())
	if err != nil {
		return nil, err
	}

	titles, _ := cmd.Flags().GetStringArray("book")
	if len(titles) > 0 {
		return matchBooks(titles, counts)
	}
	if !ui.Interactive() {
		return nil, nil
	}
	return pickBooks(counts)
}

// matchBooks resolves --book values against known pending books,
// case-insensitively, so shell quoting stays forgiving.
func matchBooks(titles []string, counts []store.BookCount) ([]store.Book, error) {
	var out []store.Book
	for _, title := range titles {
		found := false
		for _, bc := range counts {
			if strings.EqualFold(bc.Title, title) {
				out = append(out, bc.Book)
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("no pending highlights for book %q (try `kc books`)", title)
		}
	}
	return out, nil
}

// pickBooks shows a multi-select of pending books. Selecting nothing
// (or confirming the default) means all books.
func pickBooks(counts []store.BookCount) ([]store.Book, error) {
	if len(counts) <= 1 {
		return nil, nil
	}

	options := make([]huh.Option[store.Book], 0, len(counts))
	for _, bc := range counts {
		label := fmt.Sprintf("%s (%d pending)", bookLabel(bc.Book), bc.Pending)
		options = append(options, huh.NewOption(label, bc.Book))
	}

	var picked []store.Book
	form := huh.NewForm(huh.NewGroup(
		huh.NewMultiSelect[store.Book]().
			Title("Generate cards for which books?").
			Description("Select none for all books.").
			Options(options...).
			Value(&picked),
	))
	if err := form.Run(); err != nil {
		return nil, fmt.Errorf("book selection aborted: %w", err)
	}
	return picked, nil
}
