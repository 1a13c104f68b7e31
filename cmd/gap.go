package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"gotrack/internal/app"
	"gotrack/internal/timeutil"
	"gotrack/tracking"
)

var (
	gapFixEnd     string
	gapFixIssue   string
	gapFixComment string
)

var gapCmd = &cobra.Command{
	Use:   "gap",
	Short: "Inspect or resolve a gap detected in the running session",
	Long: `A gap is a stretch of at least 30 minutes in which the daemon saw no heartbeat,
for example while the machine was asleep. Tracking keeps running until the gap
is resolved:

- discard: keep the session as if the gap had not happened
- fix: queue a worklog for the time before the gap and restart the session at
  the first heartbeat after it`,
}

var gapShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the pending gap",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		gap, ok, err := a.Tracker.PendingGap(cmd.Context())
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("No gap pending.")
			return nil
		}
		fmt.Printf("Issue: %s\n", describeIssue(gap.Issue))
		fmt.Printf("Tracked before gap: %s-%s (%s)\n",
			gap.Start.In(a.Location).Format("15:04"),
			gap.LastHeartbeat.In(a.Location).Format("15:04"),
			timeutil.FormatDuration(gap.LastHeartbeat.Sub(gap.Start)),
		)
		printGap(os.Stdout, gap.LastHeartbeat, gap.FirstHeartbeat, a.Location)
		return nil
	},
}

var gapDiscardCmd = &cobra.Command{
	Use:   "discard",
	Short: "Keep tracking as if the gap had not happened",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Tracker.DiscardGap(cmd.Context()); err != nil {
			if errors.Is(err, tracking.ErrNoGap) {
				fmt.Println("No gap pending.")
				return nil
			}
			return err
		}
		fmt.Println("Gap discarded.")
		return nil
	},
}

var gapFixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Queue the time before the gap and restart tracking after it",
	Example: `
  # Book start..last heartbeat as seen by the daemon
  gotrack gap fix

  # Book until 12:15 on another issue
  gotrack gap fix --end 12:15 --issue ABC-9
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		gap, ok, err := a.Tracker.PendingGap(ctx)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("No gap pending.")
			return nil
		}

		entry := gap.Worklog()
		if strings.TrimSpace(gapFixEnd) != "" {
			end, err := timeutil.ParseClock(gapFixEnd, gap.LastHeartbeat.In(a.Location))
			if err != nil {
				return fmt.Errorf("invalid --end value: %w", err)
			}
			if end.After(gap.FirstHeartbeat) {
				return fmt.Errorf("--end must not be after the gap ended at %s", gap.FirstHeartbeat.In(a.Location).Format("15:04"))
			}
			entry.End = end
		}
		if strings.TrimSpace(gapFixIssue) != "" {
			issue, err := a.ResolveIssue(ctx, gapFixIssue)
			if err != nil {
				return err
			}
			entry.Issue = issue
		}
		if cmd.Flags().Changed("comment") {
			entry.Comment = strings.TrimSpace(gapFixComment)
		}

		if err := a.Tracker.FixGap(ctx, entry); err != nil {
			if errors.Is(err, tracking.ErrEmptyWorklog) {
				return fmt.Errorf("%w; pass a later --end or run 'gotrack gap discard'", err)
			}
			return err
		}
		printStopped(&entry, a.Location)
		fmt.Printf("Tracking %s continues from %s\n", gap.Issue.String(), gap.FirstHeartbeat.In(a.Location).Format("15:04"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(gapCmd)
	gapCmd.AddCommand(gapShowCmd, gapDiscardCmd, gapFixCmd)

	gapFixCmd.Flags().StringVar(&gapFixEnd, "end", "", "End of the booked worklog, HH:MM or RFC 3339 (default: last heartbeat)")
	gapFixCmd.Flags().StringVar(&gapFixIssue, "issue", "", "Book the worklog on another issue")
	gapFixCmd.Flags().StringVarP(&gapFixComment, "comment", "m", "", "Worklog comment (default: session comment)")
}
