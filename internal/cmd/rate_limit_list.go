package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/vmetrics/vmetrics/internal/core/store"
	"github.com/vmetrics/vmetrics/internal/output"
)

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted upstream spacing and backoff state",
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

		prefix, _ := cmd.Flags().GetString("prefix")
		query := store.RateLimitQuery{Prefix: strings.TrimSpace(prefix)}
		if query.Prefix == "" {
			query.All = true
		}

		entries, err := db.ListRateLimits(cmd.Context(), query)
		if err != nil {
			return err
		}

		sink, err := resolveSink(cmd, format, "rate-limit.list")
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if format == output.FormatJSON {
			return writeJSON(sink.writer, entries)
		}
		_, err = fmt.Fprint(sink.writer, ascii.DrawBox(renderRateLimits(entries, time.Now().UTC()), 0))
		return err
	},
}

func renderRateLimits(entries []store.RateLimitEntry, now time.Time) string {
	lines := []string{"Rate Limits", ""}
	if len(entries) == 0 {
		return strings.Join(append(lines, "(no stored rate limit state)"), "\n")
	}

	for _, entry := range entries {
		last := "-"
		if !entry.State.LastRequestAt.IsZero() {
			last = entry.State.LastRequestAt.UTC().Format(time.RFC3339)
		}
		backoff := "-"
		if until := entry.State.BackoffUntil; until != nil && until.After(now) {
			backoff = fmt.Sprintf("%s (%s left)", until.UTC().Format(time.RFC3339), until.Sub(now).Round(time.Second))
		}
		lines = append(lines, fmt.Sprintf("%s: requests=%d last=%s backoff_until=%s",
			entry.Endpoint, entry.State.RequestCount, last, backoff))
	}
	return strings.Join(lines, "\n")
}

func init() {
	addOutputFlags(rateLimitListCmd, "table|json")
	rateLimitListCmd.Flags().String("prefix", "", "List endpoints with matching prefix")
}
