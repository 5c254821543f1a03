package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vmetrics/vmetrics/internal/config"
	apperrors "github.com/vmetrics/vmetrics/internal/errors"
	"github.com/vmetrics/vmetrics/internal/metrics"
	"github.com/vmetrics/vmetrics/internal/observability"
	"github.com/vmetrics/vmetrics/internal/server"
	"github.com/vmetrics/vmetrics/internal/server/handlers"
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return apperrors.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP report server",
	Long: `Start the HTTP server exposing aggregated RedTrack reports.

All upstream requests go through one fetch queue, so concurrent API
callers share the minimum spacing, cooldown and response cache.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Reload configuration and log level`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return apperrors.Wrap(cmd.Context(), apperrors.CodeConfigInvalid, err, "config load failed")
		}

		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace()
		observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, namespace)
		logger := observability.ServerLogger

		metricsPort := cfg.Metrics.Port
		if metricsPort == 0 {
			metricsPort = observability.DefaultMetricsPort
		}
		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(namespace, metricsPort); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return apperrors.Wrap(cmd.Context(), apperrors.CodeInternal, err, "metrics initialization failed")
			}
		}

		rt, err := openRuntime(cmd.Context(), cfg, logger)
		if err != nil {
			logger.Error("Failed to initialize fetch stack", zap.Error(err))
			return apperrors.Wrap(cmd.Context(), apperrors.CodeInternal, err, "fetch stack initialization failed")
		}

		logger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("metrics_port", metricsPort),
			zap.String("upstream", cfg.Upstream.BaseURL),
			zap.Duration("min_interval", cfg.Upstream.MinInterval),
			zap.String("cache_backend", cfg.Cache.Backend))

		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("store", handlers.StoreChecker(rt.store.DB))
		hm.RegisterChecker("fetch_queue", handlers.QueueChecker(rt.queue, handlers.DefaultQueueBacklog))
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}

		handlers.SetAppIdentity(identity)
		apperrors.SetRetryAfter(cfg.Upstream.RateLimitCooldown)
		srv := server.New(cfg.Server,
			server.Dependencies{Reports: rt.client, Queue: rt.queue},
			server.WithHealth(cfg.Health.Enabled),
			server.WithProfiler(cfg.Debug.Enabled && cfg.Debug.PprofEnabled))

		shutdownTimeout := config.DurationOrDefault(cfg.Server.ShutdownTimeout, 10*time.Second)

		// Shutdown handlers run LIFO: HTTP server, fetch stack, exporter, logger.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			if err := observability.StopMetrics(); err != nil {
				logger.Warn("Failed to stop metrics exporter", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			stats := rt.queue.Stats()
			logger.Info("Closing fetch queue",
				zap.Int("pending", stats.Depth),
				zap.Uint64("upstream_calls", stats.UpstreamCalls))
			if err := rt.Close(); err != nil {
				return apperrors.Wrap(ctx, apperrors.CodeInternal, err, "fetch stack shutdown failed")
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return apperrors.Wrap(ctx, apperrors.CodeInternal, err, "server shutdown failed")
			}
			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: reloading configuration")
			reloaded, err := loadConfig(cmd)
			if err != nil {
				logger.Error("Failed to reload configuration", zap.Error(err))
				return apperrors.Wrap(ctx, apperrors.CodeConfigInvalid, err, "config reload failed")
			}
			observability.SetServerLogLevel(reloaded.Logging.Level)
			if reloaded.Upstream != cfg.Upstream || reloaded.Cache != cfg.Cache || reloaded.Server != cfg.Server {
				logger.Warn("Upstream, cache and server settings apply on restart")
			}
			logger.Info("Configuration reloaded", zap.String("log_level", reloaded.Logging.Level))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		metrics.SetServerStartTime(time.Now())

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			_ = rt.Close()
			return apperrors.Wrap(cmd.Context(), apperrors.CodeInternal, err, "server error")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("base-url", "", "RedTrack API base URL")
	serveCmd.Flags().Duration("min-interval", 0, "minimum spacing between upstream requests")
	serveCmd.Flags().Bool("strict", false, "return a rate-limited error instead of an empty result after a repeated 429")
	serveCmd.Flags().String("cache-backend", "", "response cache backend (memory, redis, libsql)")
}
