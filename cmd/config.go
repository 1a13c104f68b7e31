package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gotrack/backend"
	"gotrack/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage gotrack configuration file values.",
	Long: `Create, edit, display, and delete the gotrack configuration file.

The configuration stores the backend connection and local runtime settings:
- backend.instance (cloud|datacenter) / jira_url / tempo_url / user / email / api_token / tempo_token / timezone
- storage.db
- daemon.listen / tick_interval / log_file / log_max_size_mb / log_level
- sync.reservation_timeout / guard_wait / cache_ttl / response_timeout`,
	Example: `
  # Create default config in $HOME/.gotrack.yaml
  gotrack config create

  # Show active config and source file
  gotrack config show

  # Open active config in editor (creates example if missing)
  gotrack config edit

  # Delete active config file
  gotrack config delete
`,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

var configCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a configuration file from the example template.",
	Long: `Write the example template used by "config edit" to the active config path.

An existing file is never overwritten.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return saveDefaultConfig()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show active configuration values (secrets masked).",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadAndValidate()
		if err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		fmt.Println("Config file loaded from:", viper.ConfigFileUsed())
		printConfig(os.Stdout, cfg)
		return nil
	},
}

var configDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the active configuration file.",
	Long: `Delete the configuration file currently selected by gotrack.

The local database is left untouched; use "gotrack delete" for that.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.ConfigFileUsed()
		if configPath == "" {
			return fmt.Errorf("no configuration file found")
		}
		if err := os.Remove(configPath); err != nil {
			return fmt.Errorf("delete configuration file: %w", err)
		}
		fmt.Printf("Configuration file deleted: %s\n", configPath)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configCreateCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configDeleteCmd)
}

func saveDefaultConfig() error {
	configPath, err := resolveConfigEditPath(cfgFile, viper.ConfigFileUsed())
	if err != nil {
		return err
	}

	created, err := ensureConfigFileWithTemplate(configPath)
	if err != nil {
		return err
	}
	if !created {
		fmt.Printf("Config file already exists at: %s\n", configPath)
		return nil
	}

	fmt.Printf("New config file created at: %s\n", configPath)
	fmt.Println("Fill in the backend credentials with: gotrack config edit")
	return nil
}

func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "backend.instance: %s\n", cfg.Backend.Instance)
	fmt.Fprintf(w, "backend.jira_url: %s\n", cfg.Backend.JiraURL)
	if cfg.Backend.Instance == backend.InstanceCloud {
		fmt.Fprintf(w, "backend.tempo_url: %s\n", cfg.Backend.TempoURL)
		fmt.Fprintf(w, "backend.email: %s\n", cfg.Backend.Email)
		fmt.Fprintf(w, "backend.tempo_token: %s\n", maskSecret(cfg.Backend.TempoToken))
	}
	fmt.Fprintf(w, "backend.user: %s\n", cfg.Backend.User)
	fmt.Fprintf(w, "backend.api_token: %s\n", maskSecret(cfg.Backend.APIToken))
	fmt.Fprintf(w, "backend.timezone: %s\n", cfg.Location())
	fmt.Fprintf(w, "storage.db: %s\n", cfg.DBPath())
	fmt.Fprintf(w, "daemon.listen: %s\n", cfg.Daemon.Listen)
	fmt.Fprintf(w, "daemon.tick_interval: %s\n", cfg.Daemon.TickInterval)
	fmt.Fprintf(w, "daemon.log_file: %s\n", cfg.Daemon.LogFile)
	fmt.Fprintf(w, "daemon.log_level: %s\n", cfg.Daemon.LogLevel)
	fmt.Fprintf(w, "sync.reservation_timeout: %s\n", cfg.Sync.ReservationTimeout)
	fmt.Fprintf(w, "sync.guard_wait: %s\n", cfg.Sync.GuardWait)
	fmt.Fprintf(w, "sync.cache_ttl: %s\n", cfg.Sync.CacheTTL)
	fmt.Fprintf(w, "sync.response_timeout: %s\n", cfg.Sync.ResponseTimeout)
}

func maskSecret(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
