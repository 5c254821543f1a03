package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vmetrics/vmetrics/internal/core/store"
)

// openStore opens and migrates the configured store for admin commands.
func openStore(cmd *cobra.Command) (*store.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return store.OpenMigrated(cmd.Context(), cfg.Store)
}
