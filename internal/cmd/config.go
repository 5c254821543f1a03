package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vmetrics/vmetrics/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration with secrets redacted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		redacted := cfg.Redacted()

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			return writeJSON(cmd.OutOrStdout(), redacted)
		}

		data, err := yaml.Marshal(configDocument(redacted))
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file and database locations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultConfigPath()
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "config: %s\nstore:  %s\n", path, config.DefaultStorePath())
		return err
	},
}

// configDocument renders durations as strings so the YAML can be fed back
// as a config file.
func configDocument(cfg config.Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"host":             cfg.Server.Host,
			"port":             cfg.Server.Port,
			"read_timeout":     cfg.Server.ReadTimeout.String(),
			"write_timeout":    cfg.Server.WriteTimeout.String(),
			"idle_timeout":     cfg.Server.IdleTimeout.String(),
			"shutdown_timeout": cfg.Server.ShutdownTimeout.String(),
		},
		"store": cfg.Store,
		"cache": map[string]any{
			"backend":      cfg.Cache.Backend,
			"ttl":          cfg.Cache.TTL.String(),
			"redis_url":    cfg.Cache.RedisURL,
			"redis_prefix": cfg.Cache.RedisPrefix,
		},
		"upstream": map[string]any{
			"base_url":            cfg.Upstream.BaseURL,
			"api_key":             cfg.Upstream.APIKey,
			"min_interval":        cfg.Upstream.MinInterval.String(),
			"rate_limit_cooldown": cfg.Upstream.RateLimitCooldown.String(),
			"timeout":             cfg.Upstream.Timeout.String(),
			"strict_rate_limit":   cfg.Upstream.StrictRateLimit,
		},
		"logging": cfg.Logging,
		"metrics": cfg.Metrics,
		"health":  cfg.Health,
		"debug":   cfg.Debug,
	}
}

func init() {
	configShowCmd.Flags().Bool("json", false, "print JSON instead of YAML")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}
