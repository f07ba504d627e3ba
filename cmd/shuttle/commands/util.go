package commands

import (
	"fmt"

	"github.com/marmos91/shuttle/internal/logger"
	"github.com/marmos91/shuttle/pkg/config"
)

// InitLogger configures the global logger from the loaded configuration.
func InitLogger(cfg *config.Config) error {
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}
