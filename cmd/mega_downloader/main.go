package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/italolelis/mega_downloader/internal/config"
	"github.com/italolelis/mega_downloader/internal/inventory"
	"github.com/italolelis/mega_downloader/internal/logctx"
	"github.com/italolelis/mega_downloader/internal/notifier"
	"github.com/italolelis/mega_downloader/internal/orchestrator"
	"github.com/italolelis/mega_downloader/internal/quota"
	"github.com/italolelis/mega_downloader/internal/remote"
	"github.com/italolelis/mega_downloader/internal/remote/megacmd"
	"github.com/italolelis/mega_downloader/internal/remote/putio"
	"github.com/italolelis/mega_downloader/internal/rotation"
	"github.com/italolelis/mega_downloader/internal/storage/sqlite"
	"github.com/italolelis/mega_downloader/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	serviceName     = "mega_downloader"
	shutdownTimeout = 10 * time.Second
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	if err := cfg.ParseFlags(serviceName, os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}

		slog.Error("invalid arguments", "err", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger, closeLog, err := logctx.NewLogger(os.Stdout, logctx.ParseLevel(cfg.LogLevel), cfg.LogFile)
	if err != nil {
		slog.Error("failed to create logger", "err", err)
		os.Exit(1)
	}

	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	logger.InfoContext(ctx, "mega downloader starting...", "version", version, "log_level", cfg.LogLevel)

	err = run(logctx.WithLogger(ctx, logger), cfg)

	stop()
	_ = closeLog()

	if err != nil {
		logger.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInterval:   cfg.Telemetry.OTLPInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	if cfg.Telemetry.BindAddress != "" {
		server := setupServer(ctx, tel, cfg)

		go func() {
			logger.Info("serving metrics", "host", cfg.Telemetry.BindAddress)

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "err", err)
			}
		}()

		defer func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()

			if err := server.Shutdown(ctx); err != nil {
				logger.Error("failed to gracefully shutdown the server", "err", err)
				_ = server.Close()
			}
		}()
	}

	// =========================================================================
	// Start Journal
	database, err := sqlite.InitDB(cfg.JournalPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	journal := sqlite.NewInstrumentedJournalRepository(database, tel)

	// =========================================================================
	// Start Remote Client and Router
	client, err := buildRemoteClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to build remote client: %w", err)
	}

	router, probe, err := buildRouter(cfg)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	if closer, ok := router.(interface{ Close(context.Context) error }); ok {
		defer func() {
			if err := closer.Close(context.WithoutCancel(ctx)); err != nil {
				logger.Error("failed to close router", "router", router.Name(), "err", err)
			}
		}()
	}

	rotator := rotation.NewRotator(router, probe, rotation.Options{
		Timeout:         cfg.RotationTimeout,
		SettleDelay:     cfg.RotationSettleDelay,
		PollInterval:    cfg.ConnectivityPollInterval,
		ConnectivityURL: cfg.ConnectivityCheckURL,
	}, tel)

	// =========================================================================
	// Start Orchestrator
	threshold, err := cfg.QuotaThresholdBytes()
	if err != nil {
		return err
	}

	maxTransfer, err := cfg.MaxTransferBytes()
	if err != nil {
		return err
	}

	orch := orchestrator.New(orchestrator.Config{
		TargetDir:   cfg.TargetDir,
		ForceLogout: cfg.ForceLogout,
		Retry: orchestrator.RetryPolicy{
			MaxAttempts:           cfg.MaxAttempts,
			MaxDurationPerAttempt: cfg.MaxDownloadTime,
			StallTimeout:          cfg.StallTimeout,
		},
		RotationAttempts:  cfg.RotationAttempts,
		MaxTransferSize:   maxTransfer,
		IncludeExtensions: cfg.IncludeExtensions,
		Missing:           inventory.MissingOptions{RedownloadSizeMismatch: cfg.RedownloadSizeMismatch},
	}, remote.NewInstrumentedClient(client, tel), rotator, quota.NewTracker(threshold, tel), journal, tel)

	logger.Info("starting downloads",
		"links", len(cfg.Links),
		"target_dir", cfg.TargetDir,
		"remote_client", client.Name(),
		"router", router.Name(),
		"quota_threshold", cfg.QuotaThreshold,
		"max_download_time", cfg.MaxDownloadTime.String(),
	)

	summary, runErr := orch.Run(ctx, cfg.Links)

	notify(ctx, cfg, summary, runErr)

	return runErr
}

// buildRemoteClient is an abstract factory for the remote client.
func buildRemoteClient(cfg *config.Config) (remote.Client, error) {
	switch cfg.RemoteClient {
	case "megacmd":
		return megacmd.NewClient(cfg.MegaCmdDir), nil
	case "putio":
		return putio.NewClient(cfg.PutioToken), nil
	}

	return nil, fmt.Errorf("invalid remote client: %s", cfg.RemoteClient)
}

// buildRouter returns the configured router and the probe confirming its rotations. The
// probe is nil when no identity check is wanted.
func buildRouter(cfg *config.Config) (rotation.Router, rotation.IdentityProbe, error) {
	echo := &rotation.HTTPProbe{URL: cfg.IdentityEchoURL}

	switch cfg.Router {
	case "none":
		return rotation.NoopRouter{}, nil, nil
	case "command":
		return &rotation.CommandRouter{Command: cfg.RouterCommand}, echo, nil
	case "fritzbox":
		fritzbox := rotation.NewFritzbox(cfg.Fritzbox.URL)

		return fritzbox, fritzbox, nil
	case "glinet":
		return rotation.NewGlinet(cfg.Glinet.URL, cfg.Glinet.Username, cfg.Glinet.Password, cfg.Glinet.VPNProvider), echo, nil
	}

	return nil, nil, fmt.Errorf("invalid router: %s", cfg.Router)
}

// setupServer prepares the metrics and health endpoints.
func setupServer(ctx context.Context, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:              cfg.Telemetry.BindAddress,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           otelhttp.NewHandler(r, "metrics_server"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func notify(ctx context.Context, cfg *config.Config, summary *orchestrator.Summary, runErr error) {
	if cfg.DiscordWebhookURL == "" || summary == nil {
		return
	}

	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier = &notifier.DiscordNotifier{
		WebhookURL: cfg.DiscordWebhookURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}

	content := "✅ " + summary.String()
	if runErr != nil {
		content = "❌ " + summary.String() + "\nerror: " + runErr.Error()
	}

	if err := notif.Notify(context.WithoutCancel(ctx), content); err != nil {
		logger.Error("failed to send notification", "err", err)
	}
}
