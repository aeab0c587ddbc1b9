// Package downloader fetches firmware images to the download directory,
// retrying failed attempts with exponential backoff.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dustin/go-humanize"

	"github.com/FidelGB/ipsw-downloader/internal/downloader/progress"
	"github.com/FidelGB/ipsw-downloader/internal/firmware"
	"github.com/FidelGB/ipsw-downloader/internal/logctx"
	"github.com/FidelGB/ipsw-downloader/internal/storage"
	"github.com/FidelGB/ipsw-downloader/internal/telemetry"
)

const (
	dirPerm = 0755

	// DefaultMaxRetries is the number of attempts made per download.
	DefaultMaxRetries = 3

	baseBackoff = 2 * time.Second
)

// Client is the transport the downloader needs from the HTTP client.
type Client interface {
	ProbeSize(ctx context.Context, url string) (int64, error)
	Stream(ctx context.Context, url string) (io.ReadCloser, error)
}

// Sleeper pauses between attempts. It returns early with the context's error
// when ctx is cancelled.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option configures a Downloader.
type Option func(*Downloader)

// WithSleeper replaces the pause between attempts.
func WithSleeper(s Sleeper) Option {
	return func(d *Downloader) {
		d.sleep = s
	}
}

// WithHistory records every terminal outcome in repo.
func WithHistory(repo storage.DownloadWriteRepository) Option {
	return func(d *Downloader) {
		d.history = repo
	}
}

// WithTelemetry instruments downloads.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(d *Downloader) {
		d.telemetry = tel
	}
}

// WithProgressBar draws a console bar on w instead of logging progress lines.
func WithProgressBar(w io.Writer) Option {
	return func(d *Downloader) {
		d.barOutput = w
	}
}

// WithProgressInterval sets how many bytes pass between two progress log lines.
func WithProgressInterval(n int64) Option {
	return func(d *Downloader) {
		d.progressInterval = n
	}
}

type Downloader struct {
	client           Client
	downloadDir      string
	maxRetries       int
	sleep            Sleeper
	history          storage.DownloadWriteRepository
	telemetry        *telemetry.Telemetry
	barOutput        io.Writer
	progressInterval int64
}

func NewDownloader(client Client, downloadDir string, maxRetries int, opts ...Option) *Downloader {
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}

	d := &Downloader{
		client:           client,
		downloadDir:      downloadDir,
		maxRetries:       maxRetries,
		sleep:            sleepContext,
		progressInterval: progress.DefaultInterval,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Download fetches fw into the download directory and returns the artifact
// path. A zero size probe aborts at once with ErrUnknownSize; any other
// failure is retried until the attempts run out, after which a
// *RetriesExhaustedError is returned.
func (d *Downloader) Download(ctx context.Context, fw *firmware.Descriptor) (string, error) {
	var path string

	err := d.telemetry.InstrumentDownload(ctx, func(ctx context.Context) error {
		var err error

		path, err = d.download(ctx, fw)

		return err
	})

	return path, err
}

func (d *Downloader) download(ctx context.Context, fw *firmware.Descriptor) (string, error) {
	targetPath := fw.ArtifactPath(d.downloadDir)
	filename := filepath.Base(targetPath)
	logger := logctx.LoggerFromContext(ctx).With("file", filename)

	policy := newBackOff()

	var lastErr error

	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		logger.Info("trying to download", "attempt", attempt, "max_attempts", d.maxRetries)

		written, err := d.attempt(ctx, fw, targetPath, logger)
		if err == nil {
			d.telemetry.RecordDownloadAttempt("success")

			logger.Info("complete download", "file_path", targetPath, "size", humanize.Bytes(uint64(written)))

			d.record(ctx, fw, targetPath, storage.StatusDownloaded, attempt, written, nil)

			return targetPath, nil
		}

		if errors.Is(err, ErrUnknownSize) {
			d.telemetry.RecordDownloadAttempt("aborted")

			logger.Error("file size cannot be determined", "url", fw.URL)

			d.record(ctx, fw, targetPath, storage.StatusAborted, attempt, 0, err)

			return "", err
		}

		d.telemetry.RecordDownloadAttempt("error")

		lastErr = err

		logger.Warn("error when downloading", "attempt", attempt, "err", err)

		if attempt == d.maxRetries {
			break
		}

		wait := policy.NextBackOff()

		logger.Debug("waiting before next attempt", "wait", wait)

		if err := d.sleep(ctx, wait); err != nil {
			d.record(ctx, fw, targetPath, storage.StatusFailed, attempt, 0, err)

			return "", fmt.Errorf("download of %s interrupted: %w", filename, err)
		}
	}

	logger.Error("all attempts failed", "attempts", d.maxRetries, "err", lastErr)

	exhausted := &RetriesExhaustedError{File: filename, Attempts: d.maxRetries, Err: lastErr}

	d.record(ctx, fw, targetPath, storage.StatusFailed, d.maxRetries, 0, exhausted)

	return "", exhausted
}

// attempt runs one probe and transfer, returning the number of bytes written.
// The target file is only created once the transfer has started, and a failed
// attempt leaves no file behind.
func (d *Downloader) attempt(ctx context.Context, fw *firmware.Descriptor, targetPath string, logger *slog.Logger) (int64, error) {
	size, err := d.client.ProbeSize(ctx, fw.URL)
	if err != nil {
		return 0, fmt.Errorf("failed to get file size: %w", err)
	}

	if size == 0 {
		return 0, ErrUnknownSize
	}

	body, err := d.client.Stream(ctx, fw.URL)
	if err != nil {
		return 0, fmt.Errorf("failed to start download: %w", err)
	}

	defer body.Close()

	if err := d.ensureTargetDir(targetPath, logger); err != nil {
		return 0, err
	}

	out, err := os.Create(targetPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create target file: %w", err)
	}

	written, err := d.writeFile(ctx, out, body, targetPath, size)
	if err != nil {
		out.Close()
		removePartial(targetPath, logger)

		return written, err
	}

	if err := out.Close(); err != nil {
		removePartial(targetPath, logger)

		return written, fmt.Errorf("failed to close target file: %w", err)
	}

	return written, nil
}

// removePartial deletes an incomplete artifact so the next cycle does not
// mistake it for a finished download.
func removePartial(targetPath string, logger *slog.Logger) {
	if err := os.Remove(targetPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Error("failed to remove partial file", "file_path", targetPath, "err", err)
	}
}

func (d *Downloader) ensureTargetDir(targetPath string, logger *slog.Logger) error {
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		logger.Error("failed to create target directory", "dir", dir, "err", err)

		return fmt.Errorf("failed to create target directory: %w", err)
	}

	return nil
}

func (d *Downloader) writeFile(ctx context.Context, out io.Writer, reader io.Reader, targetPath string, totalBytes int64) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)
	name := filepath.Base(targetPath)

	logger.Info("downloading file", "file_path", targetPath, "file_size", humanize.Bytes(uint64(totalBytes)))

	var src io.Reader

	if d.barOutput != nil {
		bar := progress.NewBar(d.barOutput, name, totalBytes)
		defer bar.Finish()

		proxy := bar.ProxyReader(reader)
		defer proxy.Close()

		src = proxy
	} else {
		src = progress.NewReader(reader, totalBytes, d.progressInterval, progress.LogProgress(logger, name))
	}

	written, err := io.Copy(out, src)
	d.telemetry.AddBytesDownloaded(written)

	if err != nil {
		return written, fmt.Errorf("failed to copy file: %w", err)
	}

	return written, nil
}

func (d *Downloader) record(ctx context.Context, fw *firmware.Descriptor, targetPath, status string, attempts int, written int64, cause error) {
	if d.history == nil {
		return
	}

	rec := storage.DownloadRecord{
		Identifier: fw.Identifier,
		Version:    fw.Version,
		Status:     status,
		Attempts:   attempts,
		Bytes:      written,
	}

	if status == storage.StatusDownloaded {
		rec.FilePath = targetPath
	}

	if cause != nil {
		rec.Error = cause.Error()
	}

	if err := d.history.RecordDownload(rec); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to record download", "file", filepath.Base(targetPath), "err", err)
	}
}

// newBackOff yields 2s, 4s, 8s... without jitter or cap.
func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.Reset()

	return b
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
