// Package redtrack fetches and reshapes RedTrack reports through the fetch queue.
package redtrack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultBaseURL is the public RedTrack API root.
const DefaultBaseURL = "https://api.redtrack.io"

// Report groupings understood by the RedTrack report endpoint.
const (
	GroupCampaign = "campaign"
	GroupSource   = "source"
)

const dateLayout = "2006-01-02"

// ErrInvalidQuery marks report queries rejected before any upstream call.
var ErrInvalidQuery = errors.New("invalid report query")

// Fetcher returns the JSON body for a fully-qualified URL.
// *fetchqueue.Queue satisfies it.
type Fetcher interface {
	FetchThrottled(ctx context.Context, url string, headers map[string]string) (json.RawMessage, error)
}

// Client talks to the RedTrack API.
type Client struct {
	Fetcher Fetcher
	BaseURL string
	APIKey  string
}

// ReportQuery selects a report window and grouping.
type ReportQuery struct {
	DateFrom string
	DateTo   string
	Group    string
	Timezone string
	Per      string
}

// Validate checks the dates (YYYY-MM-DD, from not after to) and grouping.
func (q ReportQuery) Validate() error {
	from, err := time.Parse(dateLayout, strings.TrimSpace(q.DateFrom))
	if err != nil {
		return fmt.Errorf("%w: date_from must be YYYY-MM-DD, got %q", ErrInvalidQuery, q.DateFrom)
	}
	to, err := time.Parse(dateLayout, strings.TrimSpace(q.DateTo))
	if err != nil {
		return fmt.Errorf("%w: date_to must be YYYY-MM-DD, got %q", ErrInvalidQuery, q.DateTo)
	}
	if to.Before(from) {
		return fmt.Errorf("%w: date_to %s is before date_from %s", ErrInvalidQuery, q.DateTo, q.DateFrom)
	}
	if strings.TrimSpace(q.Group) == "" {
		return fmt.Errorf("%w: group is required", ErrInvalidQuery)
	}
	if tz := strings.TrimSpace(q.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrInvalidQuery, tz)
		}
	}
	return nil
}

// Row is one report line. Only the fields used for aggregation are kept.
type Row struct {
	Date        string  `json:"date,omitempty"`
	CampaignID  string  `json:"campaign_id,omitempty"`
	Campaign    string  `json:"campaign,omitempty"`
	SourceID    string  `json:"source_id,omitempty"`
	Source      string  `json:"source,omitempty"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	Cost        float64 `json:"cost"`
	Revenue     float64 `json:"revenue"`
}

// Campaign is an entry from the campaign list.
type Campaign struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status,omitempty"`
	Source string `json:"source,omitempty"`
}

// ReportURL builds the canonical report URL. Query parameters are sorted by
// key so logically identical requests share a cache entry.
func (c *Client) ReportURL(q ReportQuery) (string, error) {
	if err := q.Validate(); err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("api_key", c.APIKey)
	params.Set("date_from", strings.TrimSpace(q.DateFrom))
	params.Set("date_to", strings.TrimSpace(q.DateTo))
	params.Set("group", strings.TrimSpace(q.Group))
	if tz := strings.TrimSpace(q.Timezone); tz != "" {
		params.Set("tz", tz)
	}
	if per := strings.TrimSpace(q.Per); per != "" {
		params.Set("per", per)
	}
	return c.endpoint("/report", params)
}

// CampaignsURL builds the canonical campaign list URL.
func (c *Client) CampaignsURL() (string, error) {
	params := url.Values{}
	params.Set("api_key", c.APIKey)
	return c.endpoint("/campaigns", params)
}

// Report fetches and decodes report rows.
func (c *Client) Report(ctx context.Context, q ReportQuery) ([]Row, error) {
	target, err := c.ReportURL(q)
	if err != nil {
		return nil, err
	}
	body, err := c.fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	return DecodeRows(body)
}

// Campaigns fetches the campaign list.
func (c *Client) Campaigns(ctx context.Context) ([]Campaign, error) {
	target, err := c.CampaignsURL()
	if err != nil {
		return nil, err
	}
	body, err := c.fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	return DecodeCampaigns(body)
}

func (c *Client) fetch(ctx context.Context, target string) (json.RawMessage, error) {
	if c == nil || c.Fetcher == nil {
		return nil, errors.New("redtrack client has no fetcher")
	}
	body, err := c.Fetcher.FetchThrottled(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch redtrack: %w", err)
	}
	return body, nil
}

func (c *Client) endpoint(path string, params url.Values) (string, error) {
	if c == nil {
		return "", errors.New("redtrack client is nil")
	}
	base := strings.TrimSpace(c.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("invalid redtrack base url %q", base)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + path
	parsed.RawQuery = params.Encode()
	parsed.Fragment = ""
	return parsed.String(), nil
}

// DecodeRows accepts a top-level array or an object with an "items" array.
// Numeric fields may arrive as strings.
func DecodeRows(body []byte) ([]Row, error) {
	items, err := listItems(body)
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(items))
	for _, item := range items {
		rows = append(rows, Row{
			Date:        firstString(item, "date", "day"),
			CampaignID:  firstString(item, "campaign_id", "campaignId"),
			Campaign:    firstString(item, "campaign", "campaign_title", "campaign_name"),
			SourceID:    firstString(item, "source_id", "sourceId"),
			Source:      firstString(item, "source", "source_title", "source_name"),
			Clicks:      item.Get("clicks").Int(),
			Conversions: firstNumber(item, "conversions", "convtype1").Int(),
			Cost:        item.Get("cost").Float(),
			Revenue:     firstNumber(item, "revenue", "total_revenue").Float(),
		})
	}
	return rows, nil
}

// DecodeCampaigns decodes the campaign list in the same shapes as DecodeRows.
func DecodeCampaigns(body []byte) ([]Campaign, error) {
	items, err := listItems(body)
	if err != nil {
		return nil, err
	}

	campaigns := make([]Campaign, 0, len(items))
	for _, item := range items {
		campaigns = append(campaigns, Campaign{
			ID:     firstString(item, "id", "_id", "campaign_id"),
			Title:  firstString(item, "title", "name"),
			Status: firstString(item, "status"),
			Source: firstString(item, "source_title", "source"),
		})
	}
	return campaigns, nil
}

func listItems(body []byte) ([]gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("redtrack response is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	switch {
	case root.IsArray():
		return root.Array(), nil
	case root.IsObject():
		items := root.Get("items")
		if !items.Exists() || items.Type == gjson.Null {
			return []gjson.Result{}, nil
		}
		if !items.IsArray() {
			return nil, errors.New("redtrack response items is not an array")
		}
		return items.Array(), nil
	default:
		return nil, fmt.Errorf("unexpected redtrack response type %s", root.Type)
	}
}

func firstString(item gjson.Result, keys ...string) string {
	for _, key := range keys {
		if value := item.Get(key); value.Exists() && value.Type != gjson.Null {
			return strings.TrimSpace(value.String())
		}
	}
	return ""
}

func firstNumber(item gjson.Result, keys ...string) gjson.Result {
	for _, key := range keys {
		if value := item.Get(key); value.Exists() && value.Type != gjson.Null {
			return value
		}
	}
	return gjson.Result{}
}
