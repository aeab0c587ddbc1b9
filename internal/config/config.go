package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ErrNoDevices is returned when DEVICES is set but holds no identifiers.
var ErrNoDevices = errors.New("no devices configured")

// Config struct for environment variables.
type Config struct {
	DownloadDir       string `envconfig:"DOWNLOAD_DIR" default:"./ipsw_files"`
	IntervalCheck     int    `envconfig:"INTERVAL_CHECK" default:"600"`
	MaxRetries        int    `envconfig:"DOWNLOAD_MAX_RETRIES" default:"3"`
	MaxParallel       int    `envconfig:"DOWNLOAD_MAX_PARALLEL" default:"1"`
	Devices           string `envconfig:"DEVICES" required:"true"`
	APIBaseURL        string `envconfig:"API_BASE_URL" default:"https://api.ipsw.me/v4"`
	FirmwareSelection string `envconfig:"FIRMWARE_SELECTION" default:"first"`

	HTTPConnectTimeout time.Duration `envconfig:"HTTP_CONNECT_TIMEOUT" default:"60s"`
	HTTPReadTimeout    time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"600s"`

	LogLevel    string `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFile     string `envconfig:"LOG_FILE" default:"ipsw_monitor.log"`
	ProgressBar bool   `envconfig:"PROGRESS_BAR" default:"false"`
	DBPath      string `envconfig:"DB_PATH" default:"downloads.db"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		Enabled         bool          `split_words:"true" default:"true"`
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9092"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads an optional .env file and the environment and populates the Config struct.
func LoadConfig(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the values envconfig cannot express through tags.
func (c *Config) Validate() error {
	if len(c.DeviceList()) == 0 {
		return ErrNoDevices
	}

	if c.MaxRetries < 1 {
		return fmt.Errorf("DOWNLOAD_MAX_RETRIES must be at least 1, got %d", c.MaxRetries)
	}

	if c.IntervalCheck < 1 {
		return fmt.Errorf("INTERVAL_CHECK must be at least 1 second, got %d", c.IntervalCheck)
	}

	if c.MaxParallel < 1 {
		c.MaxParallel = 1
	}

	switch strings.ToLower(c.FirmwareSelection) {
	case "first", "semver":
	default:
		return fmt.Errorf("invalid FIRMWARE_SELECTION: %s", c.FirmwareSelection)
	}

	return nil
}

// DeviceList splits DEVICES on any whitespace.
func (c *Config) DeviceList() []string {
	return strings.Fields(c.Devices)
}

// Interval is the pause between two polling cycles.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalCheck) * time.Second
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
