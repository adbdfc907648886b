// Package commands implements mapperd's CLI commands.
package commands

import (
	"github.com/spf13/cobra"
)

// Version information injected at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "mapperd",
	Short: "mapperd - volume-to-object mapping daemon for the Archipelago block fabric",
	Long: `mapperd translates volume (offset, size) requests into object-store
scatter/gather lists, and drives copy-on-write copy-up when a write
touches a block a volume still shares with its parent.

Use "mapperd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command, exposed for testing.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (default: $XDG_CONFIG_HOME/mapperd/config.yaml)")
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(versionCmd)
}

// GetConfigFile returns the --config flag's value.
func GetConfigFile() string {
	return configFile
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Printf("mapperd %s (commit: %s, built: %s)\n", Version, Commit, Date)
		return nil
	},
}
