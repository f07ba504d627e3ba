package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/shuttle/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Write an annotated starter configuration file.

Without --config the file lands at $XDG_CONFIG_HOME/shuttle/config.yaml.
An existing file is never overwritten unless --force is given.

Examples:
  # Default location
  shuttle init

  # Custom path
  shuttle init --config /etc/shuttle/config.yaml

  # Overwrite an existing file
  shuttle init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	configPath := GetConfigFile()
	var err error
	if configPath != "" {
		err = config.InitConfigToPath(configPath, initForce)
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Review the generated settings, storage paths in particular")
	fmt.Fprintf(out, "  2. Start the server: shuttle start --config %s\n", configPath)
	fmt.Fprintln(out, "\nSecurity note:")
	fmt.Fprintln(out, "  A random admin API key and JWT secret were written into the file.")
	fmt.Fprintln(out, "  For production, provision credentials through the environment instead:")
	fmt.Fprintln(out, "    export SHUTTLE_AUTH_API_KEYS=\"$(openssl rand -hex 32):admin\"")

	return nil
}
