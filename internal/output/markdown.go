package output

import (
	"fmt"
	"strings"

	"github.com/vmetrics/vmetrics/internal/core/redtrack"
)

// MarkdownFormatter renders results as a markdown table.
type MarkdownFormatter struct{}

// FormatReport renders the report as a Markdown table with a bold totals row.
func (f *MarkdownFormatter) FormatReport(report *redtrack.SummaryReport) (string, error) {
	if report == nil {
		return "", nil
	}

	headers := append([]string{groupLabel(report.Group)}, metricHeaders...)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## %s report, %s\n\n", groupLabel(report.Group), escapeMarkdownCell(reportWindow(report))))
	writeMarkdownRow(&sb, headers)
	sb.WriteString("|" + strings.Repeat("---|", len(headers)) + "\n")

	for _, s := range report.Rows {
		writeMarkdownRow(&sb, summaryCells(s))
	}

	totals := summaryCells(report.Totals)
	for i, cell := range totals {
		totals[i] = "**" + cell + "**"
	}
	writeMarkdownRow(&sb, totals)
	return sb.String(), nil
}

// FormatCampaigns renders the campaign list as a Markdown table.
func (f *MarkdownFormatter) FormatCampaigns(campaigns []redtrack.Campaign) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Campaigns\n\n")
	writeMarkdownRow(&sb, []string{"ID", "Title", "Status", "Source"})
	sb.WriteString("|---|---|---|---|\n")
	for _, c := range campaigns {
		writeMarkdownRow(&sb, []string{c.ID, c.Title, c.Status, c.Source})
	}
	return sb.String(), nil
}

func writeMarkdownRow(sb *strings.Builder, cells []string) {
	sb.WriteString("|")
	for _, cell := range cells {
		sb.WriteString(" " + escapeMarkdownCell(cell) + " |")
	}
	sb.WriteString("\n")
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
