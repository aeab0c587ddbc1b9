// Package progress reports how far a download has come, either as periodic
// log lines or as a console progress bar.
package progress

import (
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"
)

// DefaultInterval is how many bytes pass between two progress log lines.
const DefaultInterval = int64(100 * 1024 * 1024)

// Reader wraps an io.Reader and reports progress via a callback.
type Reader struct {
	Reader         io.Reader
	Total          int64
	OnProgress     func(written int64, total int64)
	totalRead      int64 // cumulative total
	lastReport     int64 // bytes since last report
	reportInterval int64 // bytes
}

func NewReader(r io.Reader, total int64, interval int64, cb func(written int64, total int64)) *Reader {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Reader{
		Reader:         r,
		Total:          total,
		OnProgress:     cb,
		reportInterval: interval,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.totalRead += int64(n)
		pr.lastReport += int64(n)

		// report every interval, and once when crossing 5% so small files show up at all
		if pr.lastReport >= pr.reportInterval || (pr.Total > 0 && pr.totalRead*100/pr.Total >= 5 && (pr.totalRead-int64(n))*100/pr.Total < 5) {
			if pr.OnProgress != nil {
				pr.OnProgress(pr.totalRead, pr.Total)
			}

			pr.lastReport = 0
		}
	}

	return n, err
}

// BytesRead is the number of bytes read so far.
func (pr *Reader) BytesRead() int64 {
	return pr.totalRead
}

// LogProgress returns a callback that logs progress of name at debug level.
func LogProgress(logger *slog.Logger, name string) func(written int64, total int64) {
	return func(written int64, total int64) {
		if total > 0 {
			logger.Debug("download progress",
				"file", name,
				"downloaded", humanize.Bytes(uint64(written)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(written)*100/float64(total), 2))
		} else {
			logger.Debug("download progress", "file", name, "downloaded", humanize.Bytes(uint64(written)))
		}
	}
}
