package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/vmetrics/vmetrics/internal/core/redtrack"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatReport renders one row per summary with a totals footer.
func (f *TableFormatter) FormatReport(report *redtrack.SummaryReport) (string, error) {
	if report == nil {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("%s report, %s", groupLabel(report.Group), reportWindow(report)))
	t.AppendHeader(toRow(append([]string{groupLabel(report.Group)}, metricHeaders...)))

	for _, s := range report.Rows {
		t.AppendRow(toRow(summaryCells(s)))
	}
	t.AppendFooter(toRow(summaryCells(report.Totals)))

	configs := make([]table.ColumnConfig, 0, len(metricHeaders))
	for i := range metricHeaders {
		configs = append(configs, table.ColumnConfig{Number: i + 2, Align: text.AlignRight, AlignFooter: text.AlignRight})
	}
	t.SetColumnConfigs(configs)

	return t.Render(), nil
}

// FormatCampaigns renders the campaign list.
func (f *TableFormatter) FormatCampaigns(campaigns []redtrack.Campaign) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "Title", "Status", "Source"})
	for _, c := range campaigns {
		t.AppendRow(table.Row{c.ID, c.Title, c.Status, c.Source})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d campaigns", len(campaigns)), "", ""})
	return t.Render(), nil
}

func toRow(cells []string) table.Row {
	row := make(table.Row, len(cells))
	for i, cell := range cells {
		row[i] = cell
	}
	return row
}
