package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/logging"
	"github.com/teemow/calagent/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		httpAddr       string
		timeZone       string
		metricsEnabled bool
		metricsAddr    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling HTTP API",
		Long: `Start the HTTP API that turns requests into calendar events.

Endpoints:
  POST /schedule_event   multipart form: instruction, file (optional), timezone (optional)
  GET  /                 greeting
  GET  /health           status message
  GET  /healthz, /readyz liveness and readiness checks

Credentials:
  Gemini:  GEMINI_API_KEY (or GOOGLE_API_KEY)
  Google:  GOOGLE_TOKEN_JSON, or the token file written by "calagent auth"
           OAuth client from GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET or credentials.json

Requests to /schedule_event are rate limited per client IP (RATE_LIMIT_PER_MINUTE,
RATE_LIMIT_BURST; set TRUST_PROXY=true behind a reverse proxy).

Prometheus metrics are served on a separate port (--metrics-addr).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("http-addr") {
				cfg.Server.Addr = httpAddr
			}
			if cmd.Flags().Changed("timezone") {
				cfg.Schedule.TimeZone = timeZone
			}
			if cmd.Flags().Changed("metrics-enabled") {
				cfg.Metrics.Enabled = metricsEnabled
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Metrics.Addr = metricsAddr
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http-addr", server.DefaultHTTPAddr, "HTTP server address. Can also use HTTP_ADDR env var.")
	cmd.Flags().StringVar(&timeZone, "timezone", "", "IANA time zone for requests without one. Can also use DEFAULT_TIMEZONE env var.")
	cmd.Flags().BoolVar(&metricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

func runServe(c *Config) error {
	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	format := c.Log.Format
	if format == "" {
		format = logging.FormatJSON
	}
	logger := newLogger(format)
	slog.SetDefault(logger)

	if _, err := time.LoadLocation(c.Schedule.TimeZone); err != nil {
		return fmt.Errorf("invalid default time zone %q: %w", c.Schedule.TimeZone, err)
	}

	// Initialize instrumentation provider
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	instrConfig.GeminiModel = c.Gemini.Model
	instrConfig.DefaultTimeZone = c.Schedule.TimeZone

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.Warn("error during instrumentation shutdown", logging.Err(err))
		}
	}()

	// Start metrics server if enabled
	var metricsServer *server.MetricsServer
	if c.Metrics.Enabled && provider.Enabled() && provider.ServesPrometheus() {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    c.Metrics.Addr,
			Enabled:                 true,
			InstrumentationProvider: provider,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}

		// Use ready channel to confirm metrics server started successfully
		metricsReady := make(chan struct{})
		metricsErr := make(chan error, 1)
		go func() {
			if err := metricsServer.StartWithReadySignal(metricsReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
				metricsErr <- err
			}
			close(metricsErr)
		}()

		select {
		case <-metricsReady:
			logger.Info("metrics server started", "addr", metricsServer.BoundAddr())
		case err := <-metricsErr:
			return fmt.Errorf("metrics server failed to start: %w", err)
		case <-time.After(5 * time.Second):
			return fmt.Errorf("metrics server startup timed out")
		}

		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(ctx); err != nil {
				logger.Warn("error shutting down metrics server", logging.Err(err))
			}
		}()
	}

	d := deps{
		logger:  logger,
		metrics: provider.Metrics(),
		audit:   instrumentation.NewAuditLogger(logger, instrConfig.AuditLogging),
	}

	scheduler, err := newScheduler(context.Background(), c, d)
	if err != nil {
		return err
	}

	// In-flight requests outlive the signal so that Shutdown can drain them.
	serverContext := server.NewServerContext(context.Background(), scheduler)
	defer func() {
		if err := serverContext.Shutdown(); err != nil {
			logger.Warn("error during server context shutdown", logging.Err(err))
		}
	}()

	limiter := server.NewRateLimiter(c.Server.RateLimitPerMinute, c.Server.RateLimitBurst,
		server.WithTrustProxy(c.Server.TrustProxy))
	if limiter != nil {
		go limiter.Run(serverContext.Context())
	}

	httpServer := server.NewHTTPServer(serverContext, server.HTTPServerConfig{
		Addr:           c.Server.Addr,
		MaxUploadBytes: c.Server.MaxUploadBytes,
		Version:        version,
		Metrics:        d.metrics,
		Logger:         logger,
		WriteTimeout:   c.Schedule.Timeout + 30*time.Second,
		RateLimiter:    limiter,
	})

	logger.Info("calendar agent ready",
		"addr", c.Server.Addr,
		logging.Timezone(scheduler.TimeZone()),
		"model", c.Gemini.Model,
		"version", version)

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()

	select {
	case <-shutdownCtx.Done():
		logger.Info("shutdown signal received, stopping HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
		logger.Info("HTTP server stopped normally")
	}

	logger.Info("HTTP server gracefully stopped")
	return nil
}
