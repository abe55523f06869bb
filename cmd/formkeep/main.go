package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "formkeep",
	Short: "Local-first form persistence with debounced autosave",
	Long: `formkeep stores form documents under stable keys, keeps a history index of finalized saves
and serves an HTTP API that autosaves drafts and submits forms without losing edits.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".", "directory containing config.yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
