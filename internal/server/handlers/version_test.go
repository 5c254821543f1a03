package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmetrics/vmetrics/internal/config"
)

func TestVersionHandlerIncludesIdentityMetadata(t *testing.T) {
	SetVersionInfo("1.2.3", "abcd123", "2026-01-07T12:00:00Z")
	SetAppIdentity(&appidentity.Identity{
		BinaryName:  "vmetrics",
		Description: "RedTrack reporting service",
	})
	t.Cleanup(func() { SetAppIdentity(nil) })

	rec := httptest.NewRecorder()
	VersionHandler(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp VersionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "vmetrics", resp.App.Name)
	assert.Equal(t, "RedTrack reporting service", resp.App.Description)
	assert.Equal(t, "1.2.3", resp.App.Version)
	assert.Equal(t, "abcd123", resp.App.Commit)
	assert.NotEmpty(t, resp.Runtime.Platform)
}

func TestUpstreamInfo(t *testing.T) {
	assert.Equal(t, UpstreamInfo{}, upstreamInfo(nil))

	cfg, err := config.Decode(map[string]any{
		"upstream": map[string]any{"base_url": "https://api.redtrack.io", "min_interval": "5s", "rate_limit_cooldown": "10s"},
		"cache":    map[string]any{"backend": "redis"},
	})
	require.NoError(t, err)

	info := upstreamInfo(cfg)
	assert.Equal(t, "https://api.redtrack.io", info.BaseURL)
	assert.Equal(t, "5s", info.MinInterval)
	assert.Equal(t, "10s", info.Cooldown)
	assert.Equal(t, "redis", info.CacheBackend)
}

func TestVersionHandlerFallsBackToExecutableName(t *testing.T) {
	SetAppIdentity(nil)

	rec := httptest.NewRecorder()
	VersionHandler(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var resp VersionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.App.Name)
	assert.NotEmpty(t, resp.App.GoVersion)
	assert.NotEmpty(t, resp.Dependencies.Gofulmen)
}
