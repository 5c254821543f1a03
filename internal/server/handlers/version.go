package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/fulmenhq/gofulmen/crucible"

	"github.com/vmetrics/vmetrics/internal/config"
)

var (
	buildMu     sync.RWMutex
	buildInfo   = AppInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}
	appIdentity *appidentity.Identity
)

// SetVersionInfo records the ldflags build metadata reported by /version.
func SetVersionInfo(version, commit, buildDate string) {
	buildMu.Lock()
	defer buildMu.Unlock()
	buildInfo.Version, buildInfo.Commit, buildInfo.BuildDate = version, commit, buildDate
}

// SetAppIdentity sets the identity whose name and description /version reports.
func SetAppIdentity(identity *appidentity.Identity) {
	buildMu.Lock()
	defer buildMu.Unlock()
	appIdentity = identity
}

// VersionResponse is the /version body.
type VersionResponse struct {
	App          AppInfo      `json:"app"`
	Upstream     UpstreamInfo `json:"upstream"`
	Dependencies DepInfo      `json:"dependencies"`
	Runtime      RuntimeInfo  `json:"runtime"`
}

// AppInfo identifies the running build.
type AppInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
	Commit      string `json:"git_commit"`
	BuildDate   string `json:"build_date"`
	GoVersion   string `json:"go_version,omitempty"`
}

// UpstreamInfo describes the RedTrack API and fetch queue settings in use.
type UpstreamInfo struct {
	BaseURL         string `json:"base_url,omitempty"`
	MinInterval     string `json:"min_interval,omitempty"`
	Cooldown        string `json:"rate_limit_cooldown,omitempty"`
	CacheBackend    string `json:"cache_backend,omitempty"`
	StrictRateLimit bool   `json:"strict_rate_limit"`
}

type DepInfo struct {
	Gofulmen string `json:"gofulmen"`
	Crucible string `json:"crucible"`
}

type RuntimeInfo struct {
	Platform      string `json:"platform"`
	NumCPU        int    `json:"num_cpu"`
	NumGoroutines int    `json:"num_goroutines"`
}

// VersionHandler reports build, upstream and runtime details.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	deps := crucible.GetVersion()
	writeJSON(w, http.StatusOK, VersionResponse{
		App:          currentAppInfo(),
		Upstream:     upstreamInfo(config.GetConfig()),
		Dependencies: DepInfo{Gofulmen: deps.Gofulmen, Crucible: deps.Crucible},
		Runtime: RuntimeInfo{
			Platform:      runtime.GOOS + "/" + runtime.GOARCH,
			NumCPU:        runtime.NumCPU(),
			NumGoroutines: runtime.NumGoroutine(),
		},
	})
}

// currentAppInfo falls back to the executable name when no identity is set.
func currentAppInfo() AppInfo {
	buildMu.RLock()
	info, identity := buildInfo, appIdentity
	buildMu.RUnlock()

	info.GoVersion = runtime.Version()
	if identity != nil {
		info.Name, info.Description = identity.BinaryName, identity.Description
	}
	if info.Name == "" && len(os.Args) > 0 && os.Args[0] != "" {
		info.Name = filepath.Base(os.Args[0])
	}
	if info.Name == "" {
		info.Name = "unknown"
	}
	return info
}

func upstreamInfo(cfg *config.Config) UpstreamInfo {
	if cfg == nil {
		return UpstreamInfo{}
	}
	return UpstreamInfo{
		BaseURL:         cfg.Upstream.BaseURL,
		MinInterval:     cfg.Upstream.MinInterval.String(),
		Cooldown:        cfg.Upstream.RateLimitCooldown.String(),
		CacheBackend:    cfg.Cache.Backend,
		StrictRateLimit: cfg.Upstream.StrictRateLimit,
	}
}
