package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"gotrack/internal/app"
	"gotrack/internal/timeutil"
	"gotrack/messaging"
	"gotrack/output"
	"gotrack/worklog"
)

var (
	listFromDay string
	listToDay   string
	listRefresh bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List worklogs, including changes not yet synced",
	Long: `List worklogs for a day range (default: the current week).

Synced worklogs come from the local cache; queued changes are shown on top of them
and marked pending, deleting or failed. Use --refresh to reload the cache from the
remote first.`,
	Example: `
  gotrack list
  gotrack list --from 2026-03-01 --to 2026-03-31 --refresh
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		from, to, err := parseDayRange(listFromDay, listToDay, a.Now().In(a.Location))
		if err != nil {
			return err
		}
		if listRefresh {
			if _, err := a.Worklogs.Refresh(ctx, a.Adapter, from, to, true); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: refresh failed, showing cached worklogs: %v\n", err)
			}
		}
		entries, err := a.Worklogs.List(ctx, from, to)
		if err != nil {
			return err
		}
		printEntries(os.Stdout, entries, a.Location)
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Reload the worklog cache from the remote",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		from, to, err := parseDayRange(listFromDay, listToDay, a.Now().In(a.Location))
		if err != nil {
			return err
		}
		if _, err := a.Worklogs.Refresh(cmd.Context(), a.Adapter, from, to, true); err != nil {
			return err
		}
		fmt.Printf("Cache refreshed for %s to %s\n", from.Format(timeutil.DayLayout), to.AddDate(0, 0, -1).Format(timeutil.DayLayout))
		return nil
	},
}

var flushLocal bool

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Send queued changes to the remote now",
	Long: `Send queued changes to the remote.

The running daemon is asked to flush first. When it does not answer, the queue is
flushed from this process; reservations make sure no change is sent twice
concurrently.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if !flushLocal {
			response, err := a.Daemon.Flush(ctx)
			switch {
			case err == nil:
				fmt.Printf("Daemon flush: %s\n", formatFlushResponse(response))
				printFlushErrors(response.Errors)
				return nil
			case errors.Is(err, messaging.ErrNoResponse):
				fmt.Fprintln(os.Stderr, "Daemon not reachable, flushing locally.")
			default:
				return err
			}
		}

		report, err := a.Flusher.FlushAll(ctx)
		if err != nil {
			return err
		}
		response := messaging.NewFlushResponse(report)
		fmt.Printf("Local flush: %s\n", formatFlushResponse(response))
		printFlushErrors(response.Errors)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd, refreshCmd, flushCmd)

	for _, c := range []*cobra.Command{listCmd, refreshCmd} {
		c.Flags().StringVar(&listFromDay, "from", "", "First day (inclusive), format YYYY-MM-DD (default: this week's Monday)")
		c.Flags().StringVar(&listToDay, "to", "", "Last day (inclusive), format YYYY-MM-DD (default: this week's Sunday)")
	}
	listCmd.Flags().BoolVar(&listRefresh, "refresh", false, "Reload the cache from the remote before listing")
	flushCmd.Flags().BoolVar(&flushLocal, "local", false, "Flush from this process without asking the daemon")
}

// parseDayRange returns [from, to+1 day). Missing bounds default to the week around now.
func parseDayRange(fromValue, toValue string, now time.Time) (time.Time, time.Time, error) {
	from, to := timeutil.WeekRange(now)
	if strings.TrimSpace(fromValue) != "" {
		day, err := timeutil.ParseDay(fromValue, now.Location())
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from value: %w", err)
		}
		from = day
	}
	if strings.TrimSpace(toValue) != "" {
		day, err := timeutil.ParseDay(toValue, now.Location())
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to value: %w", err)
		}
		to = day.AddDate(0, 0, 1)
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid range: --from must be <= --to")
	}
	return from, to, nil
}

func printEntries(w io.Writer, entries []worklog.Entry, loc *time.Location) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No worklogs.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tISSUE\tDAY\tTIME\tDURATION\tSTATUS\tCOMMENT")
	var total time.Duration
	for _, entry := range entries {
		duration := entry.End.Sub(entry.Start)
		if !entry.Deleting {
			total += duration
		}
		status := output.Status(entry)
		if entry.SyncError != "" {
			status += " (" + entry.SyncError + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s-%s\t%s\t%s\t%s\n",
			entry.Key(),
			entry.Issue.String(),
			entry.Start.In(loc).Format(timeutil.DayLayout),
			entry.Start.In(loc).Format("15:04"),
			entry.End.In(loc).Format("15:04"),
			timeutil.FormatDuration(duration),
			status,
			entry.Comment,
		)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "Total: %s\n", timeutil.FormatDuration(total))
}

func formatFlushResponse(response messaging.FlushResponse) string {
	if response.Skipped {
		return "skipped, another flush is running"
	}
	return fmt.Sprintf("synced=%d failed=%d denied=%d", response.Synced, response.Failed, response.Denied)
}

func printFlushErrors(errs []string) {
	for _, message := range errs {
		fmt.Printf("  %s\n", message)
	}
}
