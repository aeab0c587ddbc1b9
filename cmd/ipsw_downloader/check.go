package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/FidelGB/ipsw-downloader/internal/logctx"
	"github.com/FidelGB/ipsw-downloader/internal/monitor"
)

func newCheckCmd() *cobra.Command {
	var failOnError bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run a single verification and download cycle, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			report := a.monitor.RunCycle(logctx.WithLogger(ctx, a.logger))

			failed := report.Count(monitor.StatusCheckFailed) + report.Count(monitor.StatusDownloadFailed)
			if failOnError && failed > 0 {
				return fmt.Errorf("%d of %d devices failed", failed, len(report.Outcomes))
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&failOnError, "fail-on-error", false, "exit non-zero when any device fails to check or download")

	return cmd
}
