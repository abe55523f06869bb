package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rpattn/formkeep/internal/domain"
)

var historyFilter domain.HistoryFilter

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List finalized saves, newest first",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyFilter.FormType, "type", "", "only show entries of this form type")
	historyCmd.Flags().StringVarP(&historyFilter.TextSearch, "query", "q", "", "search title, form type, key and date")
	historyCmd.Flags().IntVar(&historyFilter.Limit, "limit", 50, "maximum entries to show (0 for all)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	_, b, err := loadBackend(cmd.Context())
	if err != nil {
		return err
	}
	defer b.close()

	entries, err := b.history.List(cmd.Context(), historyFilter)
	if err != nil {
		return fmt.Errorf("listing history: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "(no entries)")
		return nil
	}

	// Find max key length for alignment
	maxLen := len("KEY")
	for _, e := range entries {
		if len(e.Meta.FormID) > maxLen {
			maxLen = len(e.Meta.FormID)
		}
	}
	fmt.Fprintf(out, "%-*s  %-9s  %-20s  %-10s  %s\n", maxLen, "KEY", "STATUS", "SAVED", "DATE", "TITLE")
	for _, e := range entries {
		date := "-"
		if e.Date != nil {
			date = *e.Date
		}
		saved := e.SavedAt.Time().UTC().Format(time.RFC3339)
		fmt.Fprintf(out, "%-*s  %-9s  %-20s  %-10s  %s\n", maxLen, e.Meta.FormID, e.Meta.Status, saved, date, e.Title)
	}
	return nil
}
