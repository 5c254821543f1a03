package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/vmetrics/vmetrics/internal/config"
	"github.com/vmetrics/vmetrics/internal/core/cache"
	"github.com/vmetrics/vmetrics/internal/core/engine"
	"github.com/vmetrics/vmetrics/internal/core/fetchqueue"
	"github.com/vmetrics/vmetrics/internal/core/redtrack"
	"github.com/vmetrics/vmetrics/internal/core/store"
	"github.com/vmetrics/vmetrics/internal/httpclient"
)

// reportRuntime is the store, cache, fetch queue and RedTrack client built
// from one config.
type reportRuntime struct {
	cfg    *config.Config
	store  *store.Store
	cache  cache.Cache
	queue  *fetchqueue.Queue
	client *redtrack.Client
}

// openRuntime wires the fetch stack. The store backs limiter persistence and,
// when selected, the response cache.
func openRuntime(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*reportRuntime, error) {
	st, err := store.OpenMigrated(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	responses, err := cache.Open(cfg.Cache, st.ResponseCache())
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}

	qcfg := fetchqueue.ConfigFrom(cfg)
	limiter := engine.NewRateLimiter()
	limiter.Store = st
	if state, err := st.GetRateLimit(ctx, qcfg.Endpoint); err != nil {
		if logger != nil {
			logger.Warn("Failed to restore rate limit state", zap.Error(err))
		}
	} else if state != nil {
		limiter.Restore(qcfg.Endpoint, *state)
	}

	httpCfg := httpclient.WithTimeout(cfg.Upstream.Timeout)
	queue := fetchqueue.New(qcfg,
		fetchqueue.WithCache(responses),
		fetchqueue.WithHTTPClient(httpclient.New(&httpCfg)),
		fetchqueue.WithLimiter(limiter),
		fetchqueue.WithLogger(logger),
	)

	if strings.TrimSpace(cfg.Upstream.APIKey) == "" && logger != nil {
		logger.Warn("No RedTrack API key configured; set REDTRACK_API_KEY or upstream.api_key")
	}

	return &reportRuntime{
		cfg:   cfg,
		store: st,
		cache: responses,
		queue: queue,
		client: &redtrack.Client{
			Fetcher: queue,
			BaseURL: cfg.Upstream.BaseURL,
			APIKey:  cfg.Upstream.APIKey,
		},
	}, nil
}

// Close stops the queue before releasing the cache and store it writes to.
func (rt *reportRuntime) Close() error {
	if rt == nil {
		return nil
	}
	rt.queue.Close()
	var errs []error
	if rt.cache != nil {
		errs = append(errs, rt.cache.Close())
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	return errors.Join(errs...)
}
