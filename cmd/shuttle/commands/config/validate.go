package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/shuttle/pkg/auth"
	"github.com/marmos91/shuttle/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the shuttle configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  shuttle config validate

  # Validate specific config file
  shuttle config validate --config /etc/shuttle/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	// Config path comes from the root's persistent flag
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	// Determine path for display
	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	// Checks that pass loading but will bite at runtime
	var warnings []string

	if (cfg.Auth.Mode == auth.ModeBearer || cfg.Auth.Mode == auth.ModeHybrid) && cfg.Auth.JWT.Secret == "" {
		warnings = append(warnings, "JWT secret not configured - bearer token authentication will fail")
	}
	if cfg.Auth.Mode != auth.ModeBearer && cfg.Auth.APIKeys == "" {
		warnings = append(warnings, "No API keys configured - the development fallback key will be accepted")
	}
	if !cfg.Cleanup.Enabled {
		warnings = append(warnings, "Cleanup disabled - stale uploads and expired idempotency keys will accumulate")
	}
	if cfg.Queue.External() && cfg.Autoscale.Enabled {
		warnings = append(warnings, "Autoscale has no effect with an external queue - tune queue.consumers instead")
	}

	fmt.Printf("Configuration file: %s\n", displayPath)
	fmt.Println("Validation: OK")

	if len(warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Printf("\nConfiguration summary:\n")
	fmt.Printf("  Database driver: %s\n", cfg.Database.Driver)
	fmt.Printf("  Storage backend: %s\n", cfg.Storage.Backend)
	fmt.Printf("  Queue backend:   %s\n", cfg.Queue.Backend)
	fmt.Printf("  Auth mode:       %s\n", cfg.Auth.Mode)
	fmt.Printf("  Listen address:  %s\n", cfg.Server.Addr())
	fmt.Printf("  Log level:       %s\n", cfg.Logging.Level)

	return nil
}
