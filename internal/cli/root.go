package cli

import (
	"github.com/spf13/cobra"
)

// Global configuration variables
var (
	configFile  string
	appConfig   *Config
	databaseURL string
	debug       bool
	verbose     bool

	configErr error
)

// Version is stamped by the build.
var Version = "dev"

func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "paraplan",
		Short: "Paraplan - PARA productivity platform worker",
		Long: `Paraplan runs the background services of the paraplan productivity
platform: the notification dispatcher, the trigger planner housekeeping,
and schema bootstrap. It also ships the operator's data commands for
areas, projects, tasks, timers, habits, dailies, calendar entries,
delivery channels, notes, and resources.

The HTTP and bot frontends are separate processes; this binary owns the
shared database schema and the delivery loop.`,
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			appConfig, configErr = LoadConfig(configFile)
			if appConfig != nil && databaseURL != "" {
				appConfig.Database.URL = databaseURL
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: paraplan.yaml)")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "url", "", "database connection URL")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug output")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose output")

	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(initdbCmd)
	rootCmd.AddCommand(areaCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(timerCmd)
	rootCmd.AddCommand(habitCmd)
	rootCmd.AddCommand(dailyCmd)
	rootCmd.AddCommand(calendarCmd)
	rootCmd.AddCommand(channelCmd)
	rootCmd.AddCommand(noteCmd)
	rootCmd.AddCommand(resourceCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}
