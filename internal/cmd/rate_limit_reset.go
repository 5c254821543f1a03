package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vmetrics/vmetrics/internal/core/store"
	"github.com/vmetrics/vmetrics/internal/output"
)

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear persisted spacing and backoff state",
	Long: `Clear persisted spacing and backoff state so the next upstream request
is not delayed by a previous run. A running server keeps its in-memory state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd, output.FormatTable, output.FormatJSON)
		if err != nil {
			return err
		}

		all, _ := cmd.Flags().GetBool("all")
		endpoint, _ := cmd.Flags().GetString("endpoint")
		prefix, _ := cmd.Flags().GetString("prefix")
		yes, _ := cmd.Flags().GetBool("yes")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		query := store.RateLimitQuery{
			All:      all,
			Endpoint: strings.TrimSpace(endpoint),
			Prefix:   strings.TrimSpace(prefix),
		}
		if err := query.Validate(); err != nil {
			return err
		}
		if query.All && !yes && !dryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		db, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		matched, err := db.CountRateLimits(cmd.Context(), query)
		if err != nil {
			return err
		}

		sink, err := resolveSink(cmd, format, "rate-limit.reset")
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if dryRun {
			return writeResetResult(format, sink.writer, "rate limit", matched, 0, true)
		}

		deleted, err := db.ResetRateLimits(cmd.Context(), query)
		if err != nil {
			return err
		}
		return writeResetResult(format, sink.writer, "rate limit", matched, deleted, false)
	},
}

// writeResetResult reports a destructive admin operation.
func writeResetResult(format output.Format, w io.Writer, noun string, matched int, deleted int64, dryRun bool) error {
	if format == output.FormatJSON {
		return writeJSON(w, map[string]any{
			"matched": matched,
			"deleted": deleted,
			"dry_run": dryRun,
		})
	}

	if dryRun {
		_, err := fmt.Fprintf(w, "Would delete %d %s entr(ies)\n", matched, noun)
		return err
	}
	_, err := fmt.Fprintf(w, "Deleted %d/%d %s entr(ies)\n", deleted, matched, noun)
	return err
}

func init() {
	rateLimitResetCmd.Flags().Bool("all", false, "Reset all endpoints")
	rateLimitResetCmd.Flags().String("endpoint", "", "Reset a single endpoint (exact match)")
	rateLimitResetCmd.Flags().String("prefix", "", "Reset endpoints with matching prefix")
	rateLimitResetCmd.Flags().Bool("yes", false, "Confirm destructive reset")
	rateLimitResetCmd.Flags().Bool("dry-run", false, "Show what would be deleted")
	addOutputFlags(rateLimitResetCmd, "table|json")
}
