package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rpattn/formkeep/internal/export"
)

var (
	exportReq    export.Request
	exportFormat string
)

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write the history index to an XLSX or CSV file",
	Long:  `Export history entries to a spreadsheet. The format follows the file extension unless --format is given.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportReq.Filter.FormType, "type", "", "only export entries of this form type")
	exportCmd.Flags().StringVarP(&exportReq.Filter.TextSearch, "query", "q", "", "search title, form type, key and date")
	exportCmd.Flags().BoolVar(&exportReq.IncludeData, "include-data", false, "add metadata and form data columns")
	exportCmd.Flags().StringVar(&exportFormat, "format", "", "xlsx or csv")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	target := args[0]
	formatName := exportFormat
	if formatName == "" {
		formatName = strings.TrimPrefix(strings.ToLower(filepath.Ext(target)), ".")
	}
	format, err := export.ParseFormat(formatName)
	if err != nil {
		return err
	}
	req := exportReq
	req.Format = format

	_, b, err := loadBackend(cmd.Context())
	if err != nil {
		return err
	}
	defer b.close()

	file, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	rows, err := export.NewService(b.history, b.store).Write(cmd.Context(), file, req)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(target)
		return fmt.Errorf("exporting history: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %d entries to %s\n", rows, target)
	return nil
}
