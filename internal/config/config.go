package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables. Command line flags override the
// transfer defaults read here.
type Config struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"INFO"`
	DBPath    string `envconfig:"DB_PATH" default:"transfers.db"`
	OutputDir string `envconfig:"OUTPUT_DIR" default:"."`

	MaxParallel    int           `envconfig:"MAX_PARALLEL" default:"5"`
	Timeout        time.Duration `envconfig:"TIMEOUT" default:"0s"`
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT" default:"30s"`
	FollowLocation bool          `envconfig:"FOLLOW_LOCATION" default:"true"`
	MaxRedirs      int           `envconfig:"MAX_REDIRS" default:"20"`
	FailOnError    bool          `envconfig:"FAIL_ON_ERROR" default:"true"`
	Insecure       bool          `envconfig:"INSECURE"`
	UserAgent      string        `envconfig:"USER_AGENT"`
	BearerToken    string        `envconfig:"BEARER_TOKEN"`
	CookieJar      string        `envconfig:"COOKIE_JAR"`
	Proxy          string        `envconfig:"PROXY"`

	KeepDownloadedFor time.Duration `envconfig:"KEEP_DOWNLOADED_FOR" default:"24h"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled        bool          `split_words:"true"`
		OTLPEndpoint   string        `envconfig:"OTLP_ENDPOINT"`
		ExportInterval time.Duration `split_words:"true" default:"30s"`
	}

	Web struct {
		BindAddress     string        `split_words:"true"`
		Username        string        `split_words:"true"`
		Password        string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"0s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("MAX_PARALLEL must not be negative: %d", cfg.MaxParallel)
	}

	return &cfg, nil
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
