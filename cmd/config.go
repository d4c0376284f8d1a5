package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teemow/calagent/internal/gemini"
	"github.com/teemow/calagent/internal/google"
	"github.com/teemow/calagent/internal/schedule"
	"github.com/teemow/calagent/internal/server"
)

// Config is the merged configuration. Values are layered: defaults, then the
// optional YAML file, then the environment, then explicitly set flags.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Google   GoogleConfig   `yaml:"google"`
	Gemini   GeminiConfig   `yaml:"gemini"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`

	// RateLimitPerMinute caps schedule requests per client IP; 0 disables it.
	RateLimitPerMinute int  `yaml:"rate_limit_per_minute"`
	RateLimitBurst     int  `yaml:"rate_limit_burst"`
	TrustProxy         bool `yaml:"trust_proxy"`
}

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	// Enabled determines whether to start the metrics server (default: true)
	Enabled bool `yaml:"enabled"`

	// Addr is the address for the metrics server (e.g., ":9090")
	Addr string `yaml:"addr"`
}

// GoogleConfig holds the OAuth client and token locations.
type GoogleConfig struct {
	ClientID        string `yaml:"client_id"`
	ClientSecret    string `yaml:"client_secret"`
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
}

// GeminiConfig holds the model settings.
type GeminiConfig struct {
	APIKey       string        `yaml:"api_key"`
	Model        string        `yaml:"model"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
}

// ScheduleConfig holds request handling defaults.
type ScheduleConfig struct {
	TimeZone    string        `yaml:"timezone"`
	Timeout     time.Duration `yaml:"timeout"`
	TempDir     string        `yaml:"temp_dir"`
	CalendarID  string        `yaml:"calendar_id"`
	Description string        `yaml:"description"`
}

// LogConfig holds logger settings. An empty Format lets each command pick
// its own: JSON for serve, text for the interactive commands.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:               server.DefaultHTTPAddr,
			MaxUploadBytes:     server.DefaultMaxUploadBytes,
			RateLimitPerMinute: 30,
			RateLimitBurst:     10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    server.DefaultMetricsAddr,
		},
		Google: GoogleConfig{
			CredentialsFile: google.DefaultCredentialsFile,
			TokenFile:       google.DefaultTokenFile,
		},
		Gemini: GeminiConfig{
			Model:        gemini.DefaultModel,
			PollInterval: gemini.DefaultPollInterval,
			PollTimeout:  gemini.DefaultPollTimeout,
		},
		Schedule: ScheduleConfig{
			TimeZone: schedule.DefaultTimeZone,
			Timeout:  schedule.DefaultTimeout,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// loadConfig builds the configuration from defaults, the YAML file at path
// (skipped when empty) and the environment.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate rejects settings that would make polling spin or requests fail
// immediately.
func (c *Config) validate() error {
	durations := []struct {
		key   string
		value time.Duration
	}{
		{"gemini.poll_interval", c.Gemini.PollInterval},
		{"gemini.poll_timeout", c.Gemini.PollTimeout},
		{"schedule.timeout", c.Schedule.Timeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("invalid config: %s must be positive, got %s", d.key, d.value)
		}
	}
	return nil
}

// applyEnv overrides cfg with any environment variables that are set.
func applyEnv(cfg *Config) {
	setString(&cfg.Server.Addr, "HTTP_ADDR")
	setInt64(&cfg.Server.MaxUploadBytes, "MAX_UPLOAD_BYTES")
	setInt(&cfg.Server.RateLimitPerMinute, "RATE_LIMIT_PER_MINUTE")
	setInt(&cfg.Server.RateLimitBurst, "RATE_LIMIT_BURST")
	setBool(&cfg.Server.TrustProxy, "TRUST_PROXY")

	setBool(&cfg.Metrics.Enabled, "METRICS_ENABLED")
	setString(&cfg.Metrics.Addr, "METRICS_ADDR")

	setString(&cfg.Google.ClientID, "GOOGLE_CLIENT_ID")
	setString(&cfg.Google.ClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&cfg.Google.CredentialsFile, "GOOGLE_CREDENTIALS_FILE")
	setString(&cfg.Google.TokenFile, "GOOGLE_TOKEN_FILE")

	setString(&cfg.Gemini.APIKey, "GEMINI_API_KEY")
	setString(&cfg.Gemini.Model, "GEMINI_MODEL")
	setDuration(&cfg.Gemini.PollInterval, "GEMINI_POLL_INTERVAL")
	setDuration(&cfg.Gemini.PollTimeout, "GEMINI_POLL_TIMEOUT")

	setString(&cfg.Schedule.TimeZone, "DEFAULT_TIMEZONE")
	setDuration(&cfg.Schedule.Timeout, "SCHEDULE_TIMEOUT")
	setString(&cfg.Schedule.TempDir, "UPLOAD_DIR")
	setString(&cfg.Schedule.CalendarID, "CALENDAR_ID")
	setString(&cfg.Schedule.Description, "EVENT_DESCRIPTION")

	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
