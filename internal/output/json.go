package output

import (
	"encoding/json"

	"github.com/vmetrics/vmetrics/internal/core/redtrack"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatReport renders the report as JSON.
func (f *JSONFormatter) FormatReport(report *redtrack.SummaryReport) (string, error) {
	if report == nil {
		return "", nil
	}
	return f.marshal(report)
}

// FormatCampaigns renders the campaign list as a JSON array.
func (f *JSONFormatter) FormatCampaigns(campaigns []redtrack.Campaign) (string, error) {
	if campaigns == nil {
		campaigns = []redtrack.Campaign{}
	}
	return f.marshal(campaigns)
}

func (f *JSONFormatter) marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)
	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
