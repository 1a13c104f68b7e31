package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gotrack/config"
	"gotrack/messaging"
)

var (
	deletePromptInput  io.Reader = os.Stdin
	deletePromptOutput io.Writer = os.Stdout
)

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the local SQLite database",
	Long: `Destructive cleanup command.

Deletes the local database with the tracking state, the sync queue and the worklog
cache. Queued changes that were not synced yet are lost. The command refuses to
run while the daemon answers on daemon.listen. Before deletion, an interactive
security prompt requires typing exactly "Y".`,
	Example: `
  # Delete the configured database (requires interactive confirmation)
  gotrack delete

  # Delete a specific database file
  gotrack delete --db ./gotrack.db
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := resolveDBPath()

		client := messaging.NewClient(viper.GetString(config.KeyDaemonListen), 2*time.Second)
		if err := ensureDaemonStopped(cmd.Context(), client); err != nil {
			return err
		}

		confirmed, err := confirmDeletePrompt(deletePromptInput, deletePromptOutput, path)
		if err != nil {
			return err
		}
		if !confirmed {
			return fmt.Errorf("delete aborted: confirmation was not 'Y'")
		}

		if err := removeDatabaseFile(path); err != nil {
			return err
		}
		fmt.Printf("Deleted database file: %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func resolveDBPath() string {
	if strings.TrimSpace(dbPath) != "" {
		return config.ExpandPath(dbPath)
	}
	return config.ExpandPath(viper.GetString(config.KeyStorageDB))
}

type daemonPinger interface {
	Ping(ctx context.Context) (messaging.HealthResponse, error)
}

func ensureDaemonStopped(ctx context.Context, daemon daemonPinger) error {
	health, err := daemon.Ping(ctx)
	if err == nil {
		return fmt.Errorf("daemon (pid %d) is running; stop it before deleting the database", health.PID)
	}
	if errors.Is(err, messaging.ErrNoResponse) {
		return nil
	}
	return fmt.Errorf("check daemon: %w", err)
}

func confirmDeletePrompt(input io.Reader, output io.Writer, path string) (bool, error) {
	if input == nil {
		return false, fmt.Errorf("delete confirmation input is not available")
	}
	if output == nil {
		output = io.Discard
	}

	if _, err := fmt.Fprintf(output, "Delete database %q including unsynced changes? Type Y to confirm: ", path); err != nil {
		return false, fmt.Errorf("write delete confirmation prompt: %w", err)
	}

	line, err := bufio.NewReader(input).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read delete confirmation: %w", err)
	}
	return strings.TrimSpace(line) == "Y", nil
}

// removeDatabaseFile deletes path and its SQLite WAL companions.
func removeDatabaseFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("database file not found: %s", path)
		}
		return fmt.Errorf("stat database file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("database path is a directory: %s", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete database file: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete database file %s: %w", path+suffix, err)
		}
	}
	return nil
}
