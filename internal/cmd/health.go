package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vmetrics/vmetrics/internal/config"
	"github.com/vmetrics/vmetrics/internal/core/cache"
	"github.com/vmetrics/vmetrics/internal/core/store"
	apperrors "github.com/vmetrics/vmetrics/internal/errors"
	"github.com/vmetrics/vmetrics/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Check that configuration loads, the store opens and the cache backend is reachable.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		logger.Info("Running health check...")

		if versionInfo.Version == "" {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Version information missing", apperrors.NewConfigInvalidError("Version information missing"))
			return
		}
		logger.Info("✅ Version information available", zap.String("version", versionInfo.Version))

		cfg, err := loadConfig(cmd)
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration invalid", err)
			return
		}
		logger.Info("✅ Configuration loaded", zap.String("upstream", cfg.Upstream.BaseURL))

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		if err := checkStoreAndCache(ctx, cfg); err != nil {
			ExitWithCode(logger, foundry.ExitFailure, "Dependency check failed", err)
			return
		}
		logger.Info("✅ Store and cache reachable", zap.String("cache_backend", cfg.Cache.Backend))

		if cfg.Upstream.APIKey == "" {
			logger.Warn("⚠️  No RedTrack API key configured")
		}

		logger.Info("✅ All health checks passed")
	},
}

// checkStoreAndCache opens the store and reads a probe key from the
// cache backend.
func checkStoreAndCache(ctx context.Context, cfg *config.Config) error {
	db, err := store.OpenMigrated(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup

	if err := db.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("store ping: %w", err)
	}

	c, err := cache.Open(cfg.Cache, db.ResponseCache())
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer c.Close() // nolint:errcheck // best-effort cleanup

	if _, err := c.Get(ctx, "vmetrics:health-probe"); err != nil {
		return fmt.Errorf("cache %s: %w", cfg.Cache.Backend, err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
