package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Print the stored document for a form key",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var discardCmd = &cobra.Command{
	Use:   "discard <key>",
	Short: "Delete a stored document and its history entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiscard,
}

func init() {
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(discardCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	_, b, err := loadBackend(cmd.Context())
	if err != nil {
		return err
	}
	defer b.close()

	doc, err := b.store.Read(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("form %s not found", args[0])
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func runDiscard(cmd *cobra.Command, args []string) error {
	_, b, err := loadBackend(cmd.Context())
	if err != nil {
		return err
	}
	defer b.close()

	deleted, err := b.store.Delete(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if deleted {
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s not found, history cleaned\n", args[0])
	}
	return nil
}
