package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/FidelGB/ipsw-downloader/internal/http/rest"
	"github.com/FidelGB/ipsw-downloader/internal/logctx"
	"github.com/FidelGB/ipsw-downloader/internal/storage"
	"github.com/FidelGB/ipsw-downloader/internal/telemetry"
)

func newMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Check for new firmware every INTERVAL_CHECK seconds and download it",
		RunE:  runMonitor,
	}
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printBanner(cmd.OutOrStdout())

	a, err := newApp(ctx, envFile)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx = logctx.WithLogger(ctx, a.logger)
	logger := a.logger

	logger.Info("ipsw downloader starting...",
		"version", version,
		"log_level", a.cfg.LogLevel,
		"devices", a.cfg.DeviceList(),
		"download_dir", a.cfg.DownloadDir,
		"interval", a.cfg.Interval().String(),
	)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	var server *http.Server

	if a.cfg.Web.Enabled {
		server = setupServer(ctx, a)

		go func() {
			logger.Info("initializing status server", "host", a.cfg.Web.BindAddress)

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrors <- err
			}
		}()
	}

	// =========================================================================
	// Start Main Loop
	monitorErrors := make(chan error, 1)

	go func() {
		monitorErrors <- a.monitor.Run(ctx)
	}()

	select {
	case err := <-serverErrors:
		stop()
		<-monitorErrors

		return fmt.Errorf("server error: %w", err)
	case err := <-monitorErrors:
		shutdownServer(ctx, server, a)

		return err
	}
}

func shutdownServer(ctx context.Context, server *http.Server, a *app) {
	if server == nil {
		return
	}

	logger := logctx.LoggerFromContext(ctx)
	logger.Info("start shutdown")

	// Give outstanding requests a deadline for completion.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Web.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("failed to gracefully shutdown the server", "err", err)

		if err = server.Close(); err != nil {
			logger.Error("could not stop server", "err", err)
		}
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, a *app) *http.Server {
	// a nil repository must stay a nil interface so the handler serves an empty history
	var history storage.DownloadReadRepository
	if a.history != nil {
		history = a.history
	}

	status := rest.NewStatusHandler(history, a.telemetry.Handler())

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(a.telemetry).Middleware)
	r.Mount("/", status.Routes())

	return &http.Server{
		Addr:         a.cfg.Web.BindAddress,
		ReadTimeout:  a.cfg.Web.ReadTimeout,
		WriteTimeout: a.cfg.Web.WriteTimeout,
		IdleTimeout:  a.cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "status_server"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
