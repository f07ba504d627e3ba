// Package commands implements the CLI commands for the shuttle server.
package commands

import (
	"github.com/spf13/cobra"

	configcmd "github.com/marmos91/shuttle/cmd/shuttle/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "shuttle",
	Short: "Shuttle - Resumable chunked file transfer service",
	Long: `Shuttle is a resumable, chunked file transfer service. Clients split
large files into fixed-size chunks and upload them over HTTP; shuttle
persists chunk metadata and bytes durably, survives partial failures,
and streams reconstructed files (including ranged reads) back out.

Use "shuttle [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion records the build metadata main injects via ldflags.
func SetVersion(version, commit, date string) {
	Version = version
	Commit = commit
	Date = date
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/shuttle/config.yaml)")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(configcmd.Cmd)
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
