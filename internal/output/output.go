// Package output renders aggregated reports for the CLI.
package output

import (
	"fmt"
	"strings"

	"github.com/vmetrics/vmetrics/internal/core/redtrack"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders reports and campaign lists.
type Formatter interface {
	FormatReport(report *redtrack.SummaryReport) (string, error)
	FormatCampaigns(campaigns []redtrack.Campaign) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

// groupLabel names the key column for a report grouping.
func groupLabel(group string) string {
	if group == redtrack.GroupSource {
		return "Source"
	}
	return "Campaign"
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

// summaryCells returns the display cells for one summary line.
func summaryCells(s redtrack.Summary) []string {
	title := s.Title
	if title == "" {
		title = s.Key
	}
	return []string{
		title,
		fmt.Sprintf("%d", s.Clicks),
		fmt.Sprintf("%d", s.Conversions),
		money(s.Cost),
		money(s.Revenue),
		money(s.Profit),
		money(s.CPC),
		money(s.CPA),
		percent(s.ROI),
	}
}

var metricHeaders = []string{"Clicks", "Conversions", "Cost", "Revenue", "Profit", "CPC", "CPA", "ROI"}

func reportWindow(report *redtrack.SummaryReport) string {
	window := report.DateFrom
	if report.DateTo != "" && report.DateTo != report.DateFrom {
		window += " to " + report.DateTo
	}
	if report.Timezone != "" {
		window += " (" + report.Timezone + ")"
	}
	return window
}
