package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/vmetrics/vmetrics/internal/core/fetchqueue"
	"github.com/vmetrics/vmetrics/internal/core/redtrack"
	apperrors "github.com/vmetrics/vmetrics/internal/errors"
	"github.com/vmetrics/vmetrics/internal/metrics"
)

// ReportService is satisfied by *redtrack.Client.
type ReportService interface {
	Report(ctx context.Context, q redtrack.ReportQuery) ([]redtrack.Row, error)
	Campaigns(ctx context.Context) ([]redtrack.Campaign, error)
}

// QueueStats is satisfied by *fetchqueue.Queue.
type QueueStats interface {
	Stats() fetchqueue.Stats
}

// ReportHandlers serves aggregated RedTrack reports.
type ReportHandlers struct {
	Reports ReportService
	Queue   QueueStats
}

// CampaignsResponse wraps the campaign list.
type CampaignsResponse struct {
	Campaigns []redtrack.Campaign `json:"campaigns"`
	Count     int                 `json:"count"`
}

// CampaignReport handles GET /v1/reports/campaigns.
func (h *ReportHandlers) CampaignReport(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, redtrack.GroupCampaign)
}

// SourceReport handles GET /v1/reports/sources.
func (h *ReportHandlers) SourceReport(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, redtrack.GroupSource)
}

func (h *ReportHandlers) report(w http.ResponseWriter, r *http.Request, group string) {
	if h == nil || h.Reports == nil {
		apperrors.RespondWithError(w, r, apperrors.NewServiceUnavailableError("reports are not configured"))
		return
	}

	params := r.URL.Query()
	q := redtrack.ReportQuery{
		DateFrom: strings.TrimSpace(params.Get("date_from")),
		DateTo:   strings.TrimSpace(params.Get("date_to")),
		Group:    group,
		Timezone: strings.TrimSpace(params.Get("tz")),
	}
	if err := q.Validate(); err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}

	rows, err := h.Reports.Report(r.Context(), q)
	metrics.RecordReport(group, err == nil)
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redtrack.Summarize(q, rows))
}

// Campaigns handles GET /v1/campaigns.
func (h *ReportHandlers) Campaigns(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Reports == nil {
		apperrors.RespondWithError(w, r, apperrors.NewServiceUnavailableError("reports are not configured"))
		return
	}

	campaigns, err := h.Reports.Campaigns(r.Context())
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}
	if campaigns == nil {
		campaigns = []redtrack.Campaign{}
	}
	writeJSON(w, http.StatusOK, CampaignsResponse{Campaigns: campaigns, Count: len(campaigns)})
}

// QueueStatsHandler handles GET /v1/queue/stats.
func (h *ReportHandlers) QueueStatsHandler(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Queue == nil {
		apperrors.RespondWithError(w, r, apperrors.NewServiceUnavailableError("fetch queue is not configured"))
		return
	}
	writeJSON(w, http.StatusOK, h.Queue.Stats())
}
