package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"gotrack/internal/app"
	"gotrack/internal/timeutil"
	"gotrack/worklog"
)

var statusBadge bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running session, pending gap and sync queue",
	Long: `Show the running session, a pending gap and the number of queued operations.

With --badge only a short status text is printed, suitable for a shell prompt
or status bar: elapsed time while tracking, "!" when a gap needs resolving and
"*" when queued operations failed to sync.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		current, err := a.Tracker.Current(ctx)
		if err != nil {
			return err
		}
		queued, err := a.Queue.List(ctx)
		if err != nil {
			return err
		}
		failed := 0
		for _, item := range queued {
			if item.SyncError != "" {
				failed++
			}
		}

		now := a.Now().In(a.Location)
		if statusBadge {
			fmt.Println(badgeText(current, now, failed))
			return nil
		}
		printStatus(os.Stdout, current, now, len(queued), failed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusBadge, "badge", false, "Print only a short badge text")
}

func badgeText(current worklog.Tracking, now time.Time, failed int) string {
	text := ""
	switch current.State() {
	case worklog.Active:
		elapsed := current.Elapsed(now)
		text = fmt.Sprintf("%d:%02d", int(elapsed.Hours()), int(elapsed.Minutes())%60)
	case worklog.GapPending:
		text = "!"
	}
	if failed > 0 {
		text += "*"
	}
	return text
}

func printStatus(w io.Writer, current worklog.Tracking, now time.Time, queued, failed int) {
	switch current.State() {
	case worklog.Idle:
		fmt.Fprintln(w, "State: idle")
	default:
		fmt.Fprintf(w, "State: %s\n", current.State())
		fmt.Fprintf(w, "Issue: %s\n", describeIssue(*current.Issue))
		fmt.Fprintf(w, "Since: %s (%s)\n", current.Start.In(now.Location()).Format("2006-01-02 15:04"), timeutil.FormatDuration(current.Elapsed(now)))
		if current.Comment != "" {
			fmt.Fprintf(w, "Comment: %s\n", current.Comment)
		}
	}
	if current.State() == worklog.GapPending {
		printGap(w, *current.LastHeartbeat, *current.FirstHeartbeat, now.Location())
		fmt.Fprintln(w, `Resolve with "gotrack gap fix" or "gotrack gap discard".`)
	}
	fmt.Fprintf(w, "Queued: %d", queued)
	if failed > 0 {
		fmt.Fprintf(w, " (%d failed)", failed)
	}
	fmt.Fprintln(w)
}

func printGap(w io.Writer, last, first time.Time, loc *time.Location) {
	fmt.Fprintf(w, "Gap: no heartbeat from %s to %s (%s)\n",
		last.In(loc).Format("15:04"),
		first.In(loc).Format("15:04"),
		timeutil.FormatDuration(first.Sub(last)),
	)
}
