package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gotrack/internal/app"
	"gotrack/internal/timeutil"
	"gotrack/syncqueue"
	"gotrack/worklog"
)

// logEdits holds the raw --day/--start/--end/--comment flag values.
type logEdits struct {
	day        string
	start      string
	end        string
	comment    string
	setComment bool
}

var (
	logAddEdits  logEdits
	logEditEdits logEdits
	logEditIssue string
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Add, edit, delete or discard worklogs",
	Long: `Change worklogs directly. Every change is queued locally and sent by the next flush.

Worklogs are addressed by the keys shown in "gotrack list": a remote id such as
"id:12345" (or just "12345") or a not yet synced "temp:<uuid>".`,
}

var logAddCmd = &cobra.Command{
	Use:   "add ISSUE",
	Short: "Queue a new worklog",
	Example: `
  gotrack log add ABC-1 --start 09:00 --end 10:30
  gotrack log add ABC-1 --day 2026-03-02 --start 13:00 --end 14:00 -m "planning"
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		item := worklog.Temporary{TempID: worklog.NewTempID()}
		if err := applyLogEdits(&item, logAddEdits, a.Now().In(a.Location)); err != nil {
			return err
		}
		issue, err := a.ResolveIssue(ctx, args[0])
		if err != nil {
			return err
		}
		item.Issue = issue

		if err := a.Queue.Enqueue(ctx, item); err != nil {
			return err
		}
		fmt.Printf("Queued %s as %s\n", describeLog(item, a.Location), item.Key())
		return nil
	},
}

var logEditCmd = &cobra.Command{
	Use:   "edit KEY",
	Short: "Change issue, times or comment of a worklog",
	Example: `
  gotrack log edit id:12345 --end 17:30
  gotrack log edit temp:4f1c... --issue ABC-2 -m "moved"
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := worklog.ParseKey(args[0])
		if err != nil {
			return err
		}
		a, err := openApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		item, err := a.Pending(ctx, key)
		if err != nil {
			return err
		}
		if item.Delete {
			return fmt.Errorf("worklog %s is queued for deletion; discard the deletion first", key)
		}
		if err := applyLogEdits(&item, logEditEdits, item.Start.In(a.Location)); err != nil {
			return err
		}
		if strings.TrimSpace(logEditIssue) != "" {
			issue, err := a.ResolveIssue(ctx, logEditIssue)
			if err != nil {
				return err
			}
			item.Issue = issue
		}

		if err := a.Queue.Enqueue(ctx, item); err != nil {
			return err
		}
		fmt.Printf("Queued update of %s: %s\n", key, describeLog(item, a.Location))
		return nil
	},
}

var logDeleteCmd = &cobra.Command{
	Use:   "delete KEY",
	Short: "Delete a worklog",
	Long: `Delete a worklog. A synced worklog is queued for deletion on the remote; a
worklog that was never synced is simply dropped from the queue.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := worklog.ParseKey(args[0])
		if err != nil {
			return err
		}
		a, err := openApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if key.TempID != "" {
			if err := a.Queue.Discard(ctx, key); err != nil {
				return err
			}
			fmt.Printf("Dropped unsynced worklog %s\n", key)
			return nil
		}

		entry, found, err := a.FindEntry(ctx, key)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("worklog %s not found", key)
		}
		op := worklog.Temporary{
			ID:      entry.ID,
			Issue:   entry.Issue,
			Comment: entry.Comment,
			Start:   entry.Start,
			End:     entry.End,
			Delete:  true,
		}
		if err := a.Queue.Enqueue(ctx, op); err != nil {
			return err
		}
		fmt.Printf("Queued deletion of %s\n", key)
		return nil
	},
}

var logDiscardCmd = &cobra.Command{
	Use:   "discard KEY",
	Short: "Drop a queued change without sending it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := worklog.ParseKey(args[0])
		if err != nil {
			return err
		}
		a, err := openApp(app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Queue.Discard(cmd.Context(), key); err != nil {
			if errors.Is(err, syncqueue.ErrItemReserved) {
				return fmt.Errorf("%w; it is being sent right now, try again shortly", err)
			}
			return err
		}
		fmt.Printf("Discarded queued change %s\n", key)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logCmd)
	logCmd.AddCommand(logAddCmd, logEditCmd, logDeleteCmd, logDiscardCmd)

	bindLogEditFlags(logAddCmd, &logAddEdits)
	_ = logAddCmd.MarkFlagRequired("start")
	_ = logAddCmd.MarkFlagRequired("end")

	bindLogEditFlags(logEditCmd, &logEditEdits)
	logEditCmd.Flags().StringVar(&logEditIssue, "issue", "", "Move the worklog to another issue")
}

func bindLogEditFlags(cmd *cobra.Command, edits *logEdits) {
	cmd.Flags().StringVar(&edits.day, "day", "", "Day, format YYYY-MM-DD (default: today or the worklog's day)")
	cmd.Flags().StringVar(&edits.start, "start", "", "Start time, HH:MM or RFC 3339")
	cmd.Flags().StringVar(&edits.end, "end", "", "End time, HH:MM or RFC 3339")
	cmd.Flags().StringVarP(&edits.comment, "comment", "m", "", "Worklog comment")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		edits.setComment = cmd.Flags().Changed("comment")
	}
}

// applyLogEdits moves item to the edited day and times. Clock values are read
// on ref's day unless a day is given; a day alone keeps the clock times.
func applyLogEdits(item *worklog.Temporary, edits logEdits, ref time.Time) error {
	loc := ref.Location()
	if strings.TrimSpace(edits.day) != "" {
		day, err := timeutil.ParseDay(edits.day, loc)
		if err != nil {
			return fmt.Errorf("invalid --day value: %w", err)
		}
		if !item.Start.IsZero() {
			duration := item.End.Sub(item.Start)
			start := item.Start.In(loc)
			item.Start = time.Date(day.Year(), day.Month(), day.Day(), start.Hour(), start.Minute(), start.Second(), 0, loc)
			item.End = item.Start.Add(duration)
		}
		ref = day
	}
	if strings.TrimSpace(edits.start) != "" {
		start, err := timeutil.ParseClock(edits.start, ref)
		if err != nil {
			return fmt.Errorf("invalid --start value: %w", err)
		}
		item.Start = start
	}
	if strings.TrimSpace(edits.end) != "" {
		end, err := timeutil.ParseClock(edits.end, ref)
		if err != nil {
			return fmt.Errorf("invalid --end value: %w", err)
		}
		item.End = end
	}
	if edits.setComment {
		item.Comment = strings.TrimSpace(edits.comment)
	}
	if !item.End.After(item.Start) {
		return fmt.Errorf("end %s must be after start %s", item.End.In(loc).Format("15:04"), item.Start.In(loc).Format("15:04"))
	}
	return nil
}

func describeLog(item worklog.Temporary, loc *time.Location) string {
	return fmt.Sprintf("%s %s %s-%s (%s)",
		item.Issue.String(),
		item.Start.In(loc).Format(timeutil.DayLayout),
		item.Start.In(loc).Format("15:04"),
		item.End.In(loc).Format("15:04"),
		timeutil.FormatDuration(item.End.Sub(item.Start)),
	)
}
