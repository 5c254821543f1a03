package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vmetrics/vmetrics/internal/core/cache"
	"github.com/vmetrics/vmetrics/internal/core/store"
	"github.com/vmetrics/vmetrics/internal/output"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and purge the upstream response cache",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Drop cached upstream responses",
	Long: `Drop cached upstream responses from the configured backend.
The memory backend lives inside a running server and cannot be purged from here.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd, output.FormatTable, output.FormatJSON)
		if err != nil {
			return err
		}
		expiredOnly, _ := cmd.Flags().GetBool("expired")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		backend := strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))
		if backend == "" || backend == cache.BackendMemory {
			return errors.New("the memory cache is per-process; nothing to purge")
		}
		if expiredOnly && backend != cache.BackendLibsql {
			return fmt.Errorf("--expired is only supported by the %s backend (%s expires entries itself)", cache.BackendLibsql, backend)
		}

		db, err := store.OpenMigrated(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		responses := db.ResponseCache()
		var removed int
		if expiredOnly {
			removed, err = responses.PurgeExpired(cmd.Context())
		} else {
			c, openErr := cache.Open(cfg.Cache, responses)
			if openErr != nil {
				return openErr
			}
			defer c.Close() // nolint:errcheck // best-effort cleanup
			removed, err = c.Purge(cmd.Context())
		}
		if err != nil {
			return err
		}

		sink, err := resolveSink(cmd, format, "cache.purge")
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		return writeResetResult(format, sink.writer, "cache", removed, int64(removed), false)
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count cached responses in the libsql backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd, output.FormatTable, output.FormatJSON)
		if err != nil {
			return err
		}

		db, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		count, err := db.ResponseCache().Count(cmd.Context())
		if err != nil {
			return err
		}

		sink, err := resolveSink(cmd, format, "cache.stats")
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if format == output.FormatJSON {
			return writeJSON(sink.writer, map[string]any{"backend": cache.BackendLibsql, "entries": count})
		}
		_, err = fmt.Fprintf(sink.writer, "%d cached response(s) in %s\n", count, cache.BackendLibsql)
		return err
	},
}

func init() {
	cachePurgeCmd.Flags().Bool("expired", false, "only drop expired entries")
	cachePurgeCmd.Flags().String("cache-backend", "", "response cache backend (redis, libsql)")
	addOutputFlags(cachePurgeCmd, "table|json")
	addOutputFlags(cacheStatsCmd, "table|json")

	cacheCmd.AddCommand(cachePurgeCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}
