package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var envFile string

var rootCmd = &cobra.Command{
	Use:   "ipsw_downloader",
	Short: "Watch ipsw.me for new firmware and download it",
	Long: `ipsw_downloader polls the ipsw.me API for the devices listed in DEVICES and
downloads every firmware image that is not yet in DOWNLOAD_DIR.`,
	SilenceUsage: true,
	RunE:         runMonitor,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the environment")
	rootCmd.AddCommand(
		newMonitorCmd(),
		newCheckCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}
