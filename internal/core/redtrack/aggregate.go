package redtrack

import (
	"sort"
	"strings"
)

const unknownKey = "unknown"

// Summary is the aggregate for one campaign or traffic source.
type Summary struct {
	Key         string  `json:"key"`
	Title       string  `json:"title"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	Cost        float64 `json:"cost"`
	Revenue     float64 `json:"revenue"`
	Profit      float64 `json:"profit"`
	CPC         float64 `json:"cpc"`
	CPA         float64 `json:"cpa"`
	ROI         float64 `json:"roi"`
}

// GroupByCampaign sums rows per campaign.
func GroupByCampaign(rows []Row) []Summary {
	return group(rows, func(r Row) (string, string) {
		return r.CampaignID, r.Campaign
	})
}

// GroupBySource sums rows per traffic source.
func GroupBySource(rows []Row) []Summary {
	return group(rows, func(r Row) (string, string) {
		return r.SourceID, r.Source
	})
}

// Totals sums a set of summaries into one line keyed "total".
func Totals(summaries []Summary) Summary {
	total := Summary{Key: "total", Title: "Total"}
	for _, s := range summaries {
		total.Clicks += s.Clicks
		total.Conversions += s.Conversions
		total.Cost += s.Cost
		total.Revenue += s.Revenue
	}
	total.finalize()
	return total
}

func group(rows []Row, keyOf func(Row) (id string, title string)) []Summary {
	index := make(map[string]*Summary)
	for _, row := range rows {
		id, title := keyOf(row)
		key := strings.TrimSpace(id)
		if key == "" {
			key = strings.TrimSpace(title)
		}
		if key == "" {
			key = unknownKey
		}

		summary, ok := index[key]
		if !ok {
			summary = &Summary{Key: key}
			index[key] = summary
		}
		if summary.Title == "" {
			summary.Title = strings.TrimSpace(title)
		}
		summary.Clicks += row.Clicks
		summary.Conversions += row.Conversions
		summary.Cost += row.Cost
		summary.Revenue += row.Revenue
	}

	out := make([]Summary, 0, len(index))
	for _, summary := range index {
		if summary.Title == "" {
			summary.Title = summary.Key
		}
		summary.finalize()
		out = append(out, *summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Cost != out[j].Cost {
			return out[i].Cost > out[j].Cost
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// finalize derives profit and ratios. A zero denominator yields 0.
func (s *Summary) finalize() {
	s.Profit = s.Revenue - s.Cost
	s.CPC = ratio(s.Cost, float64(s.Clicks))
	s.CPA = ratio(s.Cost, float64(s.Conversions))
	s.ROI = ratio(s.Profit, s.Cost) * 100
}

func ratio(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}

// SummaryReport is an aggregated report window.
type SummaryReport struct {
	DateFrom string    `json:"date_from"`
	DateTo   string    `json:"date_to"`
	Group    string    `json:"group"`
	Timezone string    `json:"tz,omitempty"`
	Rows     []Summary `json:"rows"`
	Totals   Summary   `json:"totals"`
}

// Summarize groups rows by the query's grouping and adds totals.
func Summarize(q ReportQuery, rows []Row) SummaryReport {
	group := strings.TrimSpace(q.Group)
	var summaries []Summary
	if group == GroupSource {
		summaries = GroupBySource(rows)
	} else {
		summaries = GroupByCampaign(rows)
	}
	if summaries == nil {
		summaries = []Summary{}
	}
	return SummaryReport{
		DateFrom: q.DateFrom,
		DateTo:   q.DateTo,
		Group:    group,
		Timezone: q.Timezone,
		Rows:     summaries,
		Totals:   Totals(summaries),
	}
}
