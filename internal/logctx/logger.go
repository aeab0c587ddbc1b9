package logctx

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

const logFilePerm = 0o644

// Options configures the process logger.
type Options struct {
	Level slog.Level
	// Console receives human readable lines. Defaults to os.Stdout.
	Console io.Writer
	// File is appended with JSON lines. Empty disables the file sink.
	File string
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds a logger that fans every record out to the console and,
// when configured, to a log file. The returned closer releases the file.
func NewLogger(opts Options) (*slog.Logger, io.Closer, error) {
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	handlers := []slog.Handler{slog.NewTextHandler(console, handlerOpts)}

	var closer io.Closer = nopCloser{}

	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerm)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}

		handlers = append(handlers, slog.NewJSONHandler(f, handlerOpts))
		closer = f
	}

	return slog.New(NewTraceHandler(slogmulti.Fanout(handlers...))), closer, nil
}
