/*
Copyright © 2025 riad@rsworld.eu

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gotrack/config"
	"gotrack/internal/app"
)

var (
	cfgFile  string
	dbPath   string
	memoryDB bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gotrack",
	Short: "Track working time offline and sync worklogs to Tempo.",
	Long: `
**********************************************
*                 GO TRACK                   *
**********************************************

This CLI tracks time against Jira issues, keeps every change in a local SQLite
queue and syncs the queue to Tempo (Cloud or Data Center) whenever the remote is
reachable. A background daemon heartbeats the running session, flushes the queue
and refreshes the local worklog cache.
`,
	Example: `
  # Create configuration file
  gotrack config create

  # Run the background daemon
  gotrack daemon

  # Track an issue, then stop
  gotrack start ABC-123 --comment "code review"
  gotrack stop

  # Log time afterwards
  gotrack log add ABC-124 --day 2026-03-02 --start 09:00 --end 10:30

  # Show this week's worklogs and send pending changes
  gotrack list
  gotrack flush
`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	config.SetDefaults()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "configFile", "", "Config file override (default discovery: $HOME/.gotrack.yaml, then ./.gotrack.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to local SQLite database (default: storage.db from config)")
	rootCmd.PersistentFlags().BoolVar(&memoryDB, "memory", false, "Keep state in memory only (dry run, nothing is persisted)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".gotrack")
	}

	viper.SetEnvPrefix("GOTRACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintln(os.Stderr, "No config file found. Create one first with: gotrack config create")
	}
}

// openApp validates the active config and wires the components of this invocation.
func openApp(opts app.Options) (*app.App, error) {
	cfg, err := config.LoadAndValidate()
	if err != nil {
		return nil, err
	}
	opts.DBPath = dbPath
	opts.Memory = memoryDB
	return app.Open(cfg, opts)
}
