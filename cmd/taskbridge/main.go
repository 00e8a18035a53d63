// Command taskbridge mirrors an external task provider and keeps the mirror
// current by reacting to provider change notifications.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/taskbridge/internal/config"
	"github.com/steveyegge/taskbridge/internal/logging"
)

var (
	configFile string
	debugFlag  bool

	cfg  *config.Config
	logs *logging.Factory
)

var rootCmd = &cobra.Command{
	Use:   "taskbridge",
	Short: "Mirror CalDAV task lists from an external task provider",
	Long: `taskbridge watches an external task provider (an OpenTasks-style content
store filled by a CalDAV sync adapter) and keeps a local mirror of its lists
and tasks up to date.

Configuration is read from .taskbridge/taskbridge.yaml (or --config) and
TASKBRIDGE_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if debugFlag {
			loaded.Log.Debug = true
		}
		cfg = loaded

		f, err := logging.Setup(logging.Options{
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			Debug:      cfg.Log.Debug,
		})
		if err != nil {
			return err
		}
		logs = f
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: .taskbridge/taskbridge.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "query", Title: "Query Commands:"},
		&cobra.Group{ID: "provider", Title: "Provider Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)
	rootCmd.SetHelpCommandGroupID("advanced")
	rootCmd.SetCompletionCommandGroupID("advanced")
}

func main() {
	err := rootCmd.Execute()
	if logs != nil {
		_ = logs.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
