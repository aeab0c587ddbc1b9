package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnvFile(t *testing.T) string {
	t.Helper()

	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DEVICES", "iPhone14,2")

	cfg, err := LoadConfig(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "./ipsw_files", cfg.DownloadDir)
	assert.Equal(t, 600, cfg.IntervalCheck)
	assert.Equal(t, 10*time.Minute, cfg.Interval())
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 1, cfg.MaxParallel)
	assert.Equal(t, "https://api.ipsw.me/v4", cfg.APIBaseURL)
	assert.Equal(t, "first", cfg.FirmwareSelection)
	assert.Equal(t, 60*time.Second, cfg.HTTPConnectTimeout)
	assert.Equal(t, 600*time.Second, cfg.HTTPReadTimeout)
	assert.Equal(t, "ipsw_monitor.log", cfg.LogFile)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "0.0.0.0:9092", cfg.Web.BindAddress)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("DEVICES", "  iPhone14,2\tiPad13,1\n iPhone15,3 ")
	t.Setenv("DOWNLOAD_DIR", "/tmp/fw")
	t.Setenv("INTERVAL_CHECK", "30")
	t.Setenv("DOWNLOAD_MAX_RETRIES", "5")
	t.Setenv("TELEMETRY_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("WEB_ENABLED", "false")

	cfg, err := LoadConfig(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"iPhone14,2", "iPad13,1", "iPhone15,3"}, cfg.DeviceList())
	assert.Equal(t, "/tmp/fw", cfg.DownloadDir)
	assert.Equal(t, 30*time.Second, cfg.Interval())
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.False(t, cfg.Web.Enabled)
}

func TestLoadConfig_DevicesRequired(t *testing.T) {
	os.Unsetenv("DEVICES")

	_, err := LoadConfig(noEnvFile(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEVICES")
}

func TestLoadConfig_BlankDevices(t *testing.T) {
	t.Setenv("DEVICES", "   ")

	_, err := LoadConfig(noEnvFile(t))
	require.ErrorIs(t, err, ErrNoDevices)
}

func TestLoadConfig_EnvFile(t *testing.T) {
	os.Unsetenv("DEVICES")
	t.Cleanup(func() { os.Unsetenv("DEVICES") })

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("DEVICES=iPhone14,2 iPhone14,3\n"), 0o600))

	cfg, err := LoadConfig(envFile)
	require.NoError(t, err)
	assert.Equal(t, []string{"iPhone14,2", "iPhone14,3"}, cfg.DeviceList())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "zero retries", mutate: func(c *Config) { c.MaxRetries = 0 }, wantErr: true},
		{name: "zero interval", mutate: func(c *Config) { c.IntervalCheck = 0 }, wantErr: true},
		{name: "unknown selection", mutate: func(c *Config) { c.FirmwareSelection = "newest" }, wantErr: true},
		{name: "semver selection", mutate: func(c *Config) { c.FirmwareSelection = "SemVer" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Devices:           "iPhone14,2",
				IntervalCheck:     600,
				MaxRetries:        3,
				FirmwareSelection: "first",
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_ClampsParallel(t *testing.T) {
	cfg := &Config{Devices: "a", IntervalCheck: 1, MaxRetries: 1, FirmwareSelection: "first"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.MaxParallel)
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"Warn":    slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}

	for in, want := range tests {
		cfg := &Config{LogLevel: in}
		assert.Equal(t, want, cfg.SlogLevel(), in)
	}
}
