// Package config implements configuration management subcommands.
package config

import "github.com/spf13/cobra"

// Cmd is the config subcommand.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Inspect and validate shuttle configuration.

Use 'shuttle init' to create a new configuration file, then 'config show'
to print the merged result and 'config validate' to check a file before
deploying it.`,
}

func init() {
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(validateCmd)
	Cmd.AddCommand(schemaCmd)
}
