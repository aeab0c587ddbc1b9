// Package monitor ties the periodic version checks to downloads.
package monitor

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/FidelGB/ipsw-downloader/internal/firmware"
	"github.com/FidelGB/ipsw-downloader/internal/logctx"
)

// Outcome statuses of one device in a cycle.
const (
	StatusCheckFailed    = "check_failed"
	StatusUpToDate       = "up_to_date"
	StatusDownloaded     = "downloaded"
	StatusDownloadFailed = "download_failed"
)

// Downloader fetches one firmware image and returns its path.
type Downloader interface {
	Download(ctx context.Context, fw *firmware.Descriptor) (string, error)
}

// Options are the monitor settings.
type Options struct {
	Devices     []string
	DownloadDir string
	Interval    time.Duration
	MaxParallel int
}

// DeviceOutcome is what a cycle did for one device.
type DeviceOutcome struct {
	Identifier string
	Version    string
	Status     string
	Path       string
	Err        error
}

// CycleReport lists the outcome of every configured device, in configuration order.
type CycleReport struct {
	Outcomes []DeviceOutcome
}

// Count returns how many devices ended with status.
func (r CycleReport) Count(status string) int {
	n := 0

	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}

	return n
}

type Monitor struct {
	checker    firmware.VersionChecker
	downloader Downloader
	opts       Options
	sleep      func(ctx context.Context, d time.Duration) error
}

func New(checker firmware.VersionChecker, downloader Downloader, opts Options) *Monitor {
	if opts.MaxParallel < 1 {
		opts.MaxParallel = 1
	}

	return &Monitor{
		checker:    checker,
		downloader: downloader,
		opts:       opts,
		sleep:      sleepContext,
	}
}

// Run executes a cycle, waits Interval, and repeats until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("monitoring devices", "devices", m.opts.Devices, "interval", m.opts.Interval)

	for {
		m.RunCycle(ctx)

		logger.Info("waiting before the next verification", "minutes", int(m.opts.Interval/time.Minute))

		if err := m.sleep(ctx, m.opts.Interval); err != nil {
			logger.Info("shutting down monitor")

			if errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		}
	}
}

// RunCycle checks every device, then downloads the firmware of those whose
// latest artifact is missing from the download directory. Failures of one
// device never affect the others.
func (m *Monitor) RunCycle(ctx context.Context) CycleReport {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("checking updates...")

	results := firmware.CheckAll(ctx, m.checker, m.opts.Devices)
	outcomes := make([]DeviceOutcome, len(results))

	var g errgroup.Group

	g.SetLimit(m.opts.MaxParallel)

	for i, res := range results {
		outcomes[i] = DeviceOutcome{Identifier: res.Identifier}

		if res.Err != nil || res.Descriptor == nil {
			outcomes[i].Status = StatusCheckFailed
			outcomes[i].Err = res.Err

			continue
		}

		fw := res.Descriptor
		outcomes[i].Version = fw.Version

		path := fw.ArtifactPath(m.opts.DownloadDir)
		if artifactExists(path) {
			logger.Info("you already have the latest version downloaded",
				"device", fw.DeviceName, "identifier", fw.Identifier, "version", fw.Version)

			outcomes[i].Status = StatusUpToDate
			outcomes[i].Path = path

			continue
		}

		logger.Info("new version available", "identifier", fw.Identifier, "version", fw.Version, "url", fw.URL)

		g.Go(func() error {
			dctx, _ := logctx.WithDevice(ctx, fw.Identifier)

			downloaded, err := m.downloader.Download(dctx, fw)
			if err != nil {
				outcomes[i].Status = StatusDownloadFailed
				outcomes[i].Err = err

				return nil
			}

			outcomes[i].Status = StatusDownloaded
			outcomes[i].Path = downloaded

			return nil
		})
	}

	_ = g.Wait()

	report := CycleReport{Outcomes: outcomes}

	logger.Info("verification finished",
		"checked", len(outcomes),
		"check_failed", report.Count(StatusCheckFailed),
		"up_to_date", report.Count(StatusUpToDate),
		"downloaded", report.Count(StatusDownloaded),
		"download_failed", report.Count(StatusDownloadFailed),
	)

	return report
}

// artifactExists treats any stat error as absence.
func artifactExists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
