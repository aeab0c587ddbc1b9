package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/FidelGB/ipsw-downloader/internal/config"
	"github.com/FidelGB/ipsw-downloader/internal/downloader"
	"github.com/FidelGB/ipsw-downloader/internal/firmware"
	"github.com/FidelGB/ipsw-downloader/internal/httpclient"
	"github.com/FidelGB/ipsw-downloader/internal/logctx"
	"github.com/FidelGB/ipsw-downloader/internal/monitor"
	"github.com/FidelGB/ipsw-downloader/internal/storage"
	"github.com/FidelGB/ipsw-downloader/internal/storage/sqlite"
	"github.com/FidelGB/ipsw-downloader/internal/telemetry"
)

const telemetryShutdownTimeout = 5 * time.Second

// app holds everything both commands need.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	telemetry *telemetry.Telemetry
	history   storage.DownloadRepository
	monitor   *monitor.Monitor

	logFile io.Closer
	db      *sql.DB
}

func newApp(ctx context.Context, envFile string) (*app, error) {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	logger, logFile, err := logctx.NewLogger(logctx.Options{
		Level:   cfg.SlogLevel(),
		Console: os.Stdout,
		File:    cfg.LogFile,
	})
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, logFile: logFile}

	// =========================================================================
	// Start Telemetry
	a.telemetry, err = telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "ipsw_downloader",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		a.Close()

		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	// =========================================================================
	// Start Database
	if cfg.DBPath != "" {
		a.db, err = sqlite.InitDB(cfg.DBPath)
		if err != nil {
			logger.Error("DB error", "err", err)
			a.Close()

			return nil, err
		}

		a.history = sqlite.NewInstrumentedDownloadRepository(a.db, a.telemetry)
	}

	// =========================================================================
	// Start Firmware Checker and Downloader
	selector, err := firmware.SelectorByName(cfg.FirmwareSelection)
	if err != nil {
		a.Close()

		return nil, err
	}

	client := httpclient.NewClient(httpclient.Options{
		ConnectTimeout: cfg.HTTPConnectTimeout,
		ReadTimeout:    cfg.HTTPReadTimeout,
		UserAgent:      "ipsw_downloader/" + version,
	})

	checker := firmware.NewInstrumentedChecker(
		firmware.NewChecker(client, cfg.APIBaseURL, selector),
		a.telemetry,
		"ipsw_me",
	)

	opts := []downloader.Option{downloader.WithTelemetry(a.telemetry)}
	if a.history != nil {
		opts = append(opts, downloader.WithHistory(a.history))
	}

	if cfg.ProgressBar {
		opts = append(opts, downloader.WithProgressBar(os.Stderr))
	}

	dl := downloader.NewDownloader(client, cfg.DownloadDir, cfg.MaxRetries, opts...)

	a.monitor = monitor.New(checker, dl, monitor.Options{
		Devices:     cfg.DeviceList(),
		DownloadDir: cfg.DownloadDir,
		Interval:    cfg.Interval(),
		MaxParallel: cfg.MaxParallel,
	})

	return a, nil
}

// Close releases the database, flushes telemetry and closes the log file.
func (a *app) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("failed to close database", "err", err)
		}
	}

	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()

		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.logger.Error("failed to shutdown telemetry", "err", err)
		}
	}

	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}
