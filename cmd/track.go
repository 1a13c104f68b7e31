package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gotrack/internal/app"
	"gotrack/internal/timeutil"
	"gotrack/tracking"
	"gotrack/worklog"
)

var (
	startAt      string
	startComment string
	stopAt       string
	splitAt      string
)

var startCmd = &cobra.Command{
	Use:   "start ISSUE",
	Short: "Start tracking time on an issue",
	Long: `Start tracking time on ISSUE.

A session that is already running is stopped at the same instant and queued as a
worklog (sessions shorter than 30 seconds are dropped). The issue key is looked up
remotely; when the remote is not reachable the bare key is used.`,
	Example: `
  gotrack start ABC-123
  gotrack start ABC-123 --at 08:45 --comment "standup"
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		at, err := resolveAt(startAt, a.Now().In(a.Location))
		if err != nil {
			return err
		}
		issue, err := a.ResolveIssue(ctx, args[0])
		if err != nil {
			return err
		}

		stopped, err := a.Tracker.Start(ctx, issue, at)
		if err != nil {
			return err
		}
		printStopped(stopped, a.Location)
		if strings.TrimSpace(startComment) != "" {
			if err := a.Tracker.SetComment(ctx, startComment); err != nil {
				return err
			}
		}
		fmt.Printf("Tracking %s since %s\n", describeIssue(issue), at.Format("15:04"))
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop tracking and queue the session as a worklog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		at, err := resolveAt(stopAt, a.Now().In(a.Location))
		if err != nil {
			return err
		}
		stopped, err := a.Tracker.Stop(cmd.Context(), at)
		if errors.Is(err, tracking.ErrNotTracking) {
			fmt.Println("Not tracking.")
			return nil
		}
		if err != nil {
			return err
		}
		if stopped == nil {
			fmt.Println("Stopped. Session was shorter than 30s and was not recorded.")
			return nil
		}
		printStopped(stopped, a.Location)
		return nil
	},
}

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Queue the running session so far and keep tracking the same issue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		at, err := resolveAt(splitAt, a.Now().In(a.Location))
		if err != nil {
			return err
		}
		stopped, err := a.Tracker.Split(cmd.Context(), at)
		if err != nil {
			return err
		}
		printStopped(stopped, a.Location)
		fmt.Printf("Tracking continues from %s\n", at.Format("15:04"))
		return nil
	},
}

var abortCmd = &cobra.Command{
	Use:   "abort",
	Short: "Drop the running session without recording it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Tracker.Abort(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Tracking aborted.")
		return nil
	},
}

var commentCmd = &cobra.Command{
	Use:   "comment TEXT",
	Short: "Set the comment of the running session",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		text := strings.Join(args, " ")
		if err := a.Tracker.SetComment(cmd.Context(), text); err != nil {
			return err
		}
		fmt.Printf("Comment set: %s\n", strings.TrimSpace(text))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd, stopCmd, splitCmd, abortCmd, commentCmd)

	startCmd.Flags().StringVar(&startAt, "at", "", "Start time, HH:MM today or RFC 3339 (default: now)")
	startCmd.Flags().StringVarP(&startComment, "comment", "m", "", "Comment for the new session")
	stopCmd.Flags().StringVar(&stopAt, "at", "", "Stop time, HH:MM today or RFC 3339 (default: now)")
	splitCmd.Flags().StringVar(&splitAt, "at", "", "Split time, HH:MM today or RFC 3339 (default: now)")
}

// resolveAt parses a --at value relative to now; empty means now.
func resolveAt(value string, now time.Time) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return now, nil
	}
	at, err := timeutil.ParseClock(value, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at value: %w", err)
	}
	return at, nil
}

func describeIssue(issue worklog.Issue) string {
	if issue.Name == "" {
		return issue.String()
	}
	return fmt.Sprintf("%s (%s)", issue.String(), issue.Name)
}

func printStopped(stopped *worklog.Temporary, loc *time.Location) {
	if stopped == nil {
		return
	}
	fmt.Printf("Queued %s %s-%s (%s) for sync\n",
		stopped.Issue.String(),
		stopped.Start.In(loc).Format("15:04"),
		stopped.End.In(loc).Format("15:04"),
		timeutil.FormatDuration(stopped.End.Sub(stopped.Start)),
	)
}
