package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gotrack/importer"
	"gotrack/internal/app"
	"gotrack/internal/classify"
	"gotrack/worklog"
)

var (
	importInputs       []string
	importFormat       string
	importDryRun       bool
	importAllowOverlap bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Queue worklogs from CSV/Excel files",
	Long: `Read worklogs from CSV or Excel files and queue them as new worklogs.

Recognized columns (case and separators are ignored):
- Issue (required)
- Start and End as full timestamps, or clock times together with a Day column
- Minutes, used when End is empty
- Comment

Files written by "gotrack export" can be imported again: rows that already exist
remotely (a plain id in the ID column) and rows marked deleting are skipped.
Rows matching a known worklog (same issue and times) are skipped as duplicates;
rows overlapping one are reported and only queued with --allow-overlap.`,
	Example: `
  gotrack import -i ./hours.csv
  gotrack import -i ./march.xlsx --dry-run
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := importer.Run(importInputs, importFormat, a.Location)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		issues := make(map[string]worklog.Issue, len(result.Rows))
		for _, key := range result.IssueKeys() {
			issue, err := a.ResolveIssue(ctx, key)
			if err != nil {
				return err
			}
			issues[key] = issue
		}

		candidates := make([]worklog.Temporary, 0, len(result.Rows))
		for _, row := range result.Rows {
			candidates = append(candidates, row.Temporary(issues[row.IssueKey]))
		}
		existing, err := a.Worklogs.List(ctx, time.Time{}, time.Time{})
		if err != nil {
			return err
		}
		classified := classify.Worklogs(candidates, existing)

		toQueue := classified.ToAdd
		for _, overlap := range classified.Overlaps {
			fmt.Printf("Overlap: %s intersects %s (%s)\n", describeLog(overlap.Candidate, a.Location), overlap.Existing.Key(), overlap.Existing.Issue.String())
			if importAllowOverlap {
				toQueue = append(toQueue, overlap.Candidate)
			}
		}

		queued := 0
		for _, item := range toQueue {
			if importDryRun {
				fmt.Printf("Would queue %s\n", describeLog(item, a.Location))
				continue
			}
			if err := a.Queue.Enqueue(ctx, item); err != nil {
				return fmt.Errorf("queue %s: %w", describeLog(item, a.Location), err)
			}
			queued++
		}

		fmt.Printf("Import completed. Files: %d, Rows read: %d, Queued: %d, Duplicates: %d, Overlaps: %d, Skipped: %d\n",
			result.FilesProcessed, result.RowsRead, queued, classified.Duplicates, len(classified.Overlaps), result.RowsSkipped)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringArrayVarP(&importInputs, "input", "i", nil, "Input file path (repeatable)")
	importCmd.Flags().StringVarP(&importFormat, "format", "f", "", "Input format: csv|excel (optional, inferred from extension)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Show the worklogs that would be queued without queuing them")

	importCmd.Flags().BoolVar(&importAllowOverlap, "allow-overlap", false, "Queue rows that overlap existing worklogs")

	_ = importCmd.MarkFlagRequired("input")
}
