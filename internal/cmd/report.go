package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vmetrics/vmetrics/internal/core/redtrack"
	"github.com/vmetrics/vmetrics/internal/observability"
	"github.com/vmetrics/vmetrics/internal/output"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Fetch and aggregate a RedTrack report",
	Long: `Fetch a RedTrack report through the rate-limited fetch queue and print
per-campaign or per-source totals with profit, CPC, CPA and ROI.

Dates are YYYY-MM-DD and default to today in --tz.`,
}

var reportCampaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "Aggregate the report by campaign",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReport(cmd, redtrack.GroupCampaign)
	},
}

var reportSourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Aggregate the report by traffic source",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReport(cmd, redtrack.GroupSource)
	},
}

func runReport(cmd *cobra.Command, group string) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	q, err := reportQueryFromFlags(cmd, group, time.Now())
	if err != nil {
		return err
	}
	if err := q.Validate(); err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	rt, err := openRuntime(cmd.Context(), cfg, observability.CLILogger)
	if err != nil {
		return err
	}
	defer rt.Close() // nolint:errcheck // best-effort cleanup

	rows, err := rt.client.Report(cmd.Context(), q)
	if err != nil {
		return err
	}
	if len(rows) == 0 && rt.queue.Stats().Degraded > 0 {
		observability.CLILogger.Warn("Upstream kept rate limiting; report is empty",
			zap.String("hint", "retry shortly or pass --strict to fail instead"))
	}

	report := redtrack.Summarize(q, rows)
	rendered, err := output.NewFormatter(format).FormatReport(&report)
	if err != nil {
		return err
	}

	sink, err := resolveSink(cmd, format, fmt.Sprintf("report.%s.%s.%s", group, q.DateFrom, q.DateTo))
	if err != nil {
		return err
	}
	defer func() { _ = sink.close() }()

	_, err = fmt.Fprintln(sink.writer, rendered)
	return err
}

// reportQueryFromFlags reads --from, --to and --tz, defaulting both dates to
// today in the requested timezone.
func reportQueryFromFlags(cmd *cobra.Command, group string, now time.Time) (redtrack.ReportQuery, error) {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	tz, _ := cmd.Flags().GetString("tz")

	q := redtrack.ReportQuery{
		DateFrom: strings.TrimSpace(from),
		DateTo:   strings.TrimSpace(to),
		Group:    group,
		Timezone: strings.TrimSpace(tz),
	}

	if q.DateFrom == "" || q.DateTo == "" {
		loc := time.UTC
		if q.Timezone != "" {
			var err error
			if loc, err = time.LoadLocation(q.Timezone); err != nil {
				return q, fmt.Errorf("%w: unknown timezone %q", redtrack.ErrInvalidQuery, q.Timezone)
			}
		}
		today := now.In(loc).Format("2006-01-02")
		if q.DateFrom == "" {
			q.DateFrom = today
		}
		if q.DateTo == "" {
			q.DateTo = today
		}
	}
	return q, nil
}

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "List RedTrack campaigns",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		rt, err := openRuntime(cmd.Context(), cfg, observability.CLILogger)
		if err != nil {
			return err
		}
		defer rt.Close() // nolint:errcheck // best-effort cleanup

		campaigns, err := rt.client.Campaigns(cmd.Context())
		if err != nil {
			return err
		}

		rendered, err := output.NewFormatter(format).FormatCampaigns(campaigns)
		if err != nil {
			return err
		}

		sink, err := resolveSink(cmd, format, "campaigns")
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

func addUpstreamFlags(cmd *cobra.Command) {
	cmd.Flags().String("base-url", "", "RedTrack API base URL")
	cmd.Flags().Duration("min-interval", 0, "minimum spacing between upstream requests")
	cmd.Flags().Bool("strict", false, "fail instead of returning an empty result after a repeated 429")
	cmd.Flags().String("cache-backend", "", "response cache backend (memory, redis, libsql)")
}

func init() {
	for _, c := range []*cobra.Command{reportCampaignsCmd, reportSourcesCmd} {
		c.Flags().String("from", "", "first day of the report (YYYY-MM-DD, default today)")
		c.Flags().String("to", "", "last day of the report (YYYY-MM-DD, default today)")
		c.Flags().String("tz", "", "report timezone (IANA name, e.g. Europe/Berlin)")
		addOutputFlags(c, "table|markdown|json")
		addUpstreamFlags(c)
		reportCmd.AddCommand(c)
	}
	rootCmd.AddCommand(reportCmd)

	addOutputFlags(campaignsCmd, "table|markdown|json")
	addUpstreamFlags(campaignsCmd)
	rootCmd.AddCommand(campaignsCmd)
}
