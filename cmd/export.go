package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"gotrack/internal/app"
	"gotrack/internal/timeutil"
	"gotrack/output"
)

var (
	exportFormat  string
	exportOutput  string
	exportFromDay string
	exportToDay   string
	exportRefresh bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export worklogs to CSV/Excel",
	Long: `Export the worklog list for a day range (default: the current week), including
queued changes with their sync status.

Output format can be selected explicitly via --format or inferred from --output extension.`,
	Example: `
  # Export this week to CSV
  gotrack export --output ./worklogs.csv

  # Export March to Excel, reloading the cache first
  gotrack export --from 2026-03-01 --to 2026-03-31 --refresh --output ./march.xlsx

  # Force Excel format independent of extension
  gotrack export --format excel --output ./worklogs.out
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format := exportFormat
		if strings.TrimSpace(format) == "" {
			format = detectExportFormat(exportOutput)
		}
		writer, err := output.WriterForFormat(format)
		if err != nil {
			return err
		}

		a, err := openApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		from, to, err := parseDayRange(exportFromDay, exportToDay, a.Now().In(a.Location))
		if err != nil {
			return err
		}
		if exportRefresh {
			if _, err := a.Worklogs.Refresh(ctx, a.Adapter, from, to, true); err != nil {
				return fmt.Errorf("refresh before export: %w", err)
			}
		}
		entries, err := a.Worklogs.List(ctx, from, to)
		if err != nil {
			return err
		}
		for i := range entries {
			entries[i].Start = entries[i].Start.In(a.Location)
			entries[i].End = entries[i].End.In(a.Location)
		}

		if err := writer.Write(exportOutput, entries); err != nil {
			return err
		}
		fmt.Printf("Export completed. Rows: %d, Range: %s to %s, Format: %s, File: %s\n",
			len(entries), from.Format(timeutil.DayLayout), to.AddDate(0, 0, -1).Format(timeutil.DayLayout), format, exportOutput)
		return nil
	},
}

func detectExportFormat(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "xlsx", "xlsm", "xls":
		return "excel"
	default:
		return "csv"
	}
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "", "Output format: csv|excel (optional, inferred from output extension)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file path")
	exportCmd.Flags().StringVar(&exportFromDay, "from", "", "First day (inclusive), format YYYY-MM-DD")
	exportCmd.Flags().StringVar(&exportToDay, "to", "", "Last day (inclusive), format YYYY-MM-DD")
	exportCmd.Flags().BoolVar(&exportRefresh, "refresh", false, "Reload the cache from the remote before exporting")

	_ = exportCmd.MarkFlagRequired("output")
}
