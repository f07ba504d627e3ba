package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/shuttle/internal/cli/output"
	"github.com/marmos91/shuttle/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective shuttle configuration.

Defaults, the config file, and SHUTTLE_* environment variables are
merged before printing, so the output is what the server would run
with. By default outputs YAML format; use --output to change it.

Examples:
  # Show effective config as YAML
  shuttle config show

  # Show as JSON
  shuttle config show --output json

  # Show a specific config file
  shuttle config show --config /etc/shuttle/config.yaml`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	// Config path comes from the root's persistent flag
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	if format == output.FormatJSON {
		return output.PrintJSON(cmd.OutOrStdout(), cfg)
	}
	return output.PrintYAML(cmd.OutOrStdout(), cfg)
}
