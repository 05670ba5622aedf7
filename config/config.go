package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Feed      FeedConfig      `yaml:"feed"`
	Display   DisplayConfig   `yaml:"display"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	History   HistoryConfig   `yaml:"history"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// FeedConfig describes where the predictions CSV lives and how long a
// fetched copy may be served before it is pulled again.
type FeedConfig struct {
	URL            string          `yaml:"url"`
	CacheBustParam string          `yaml:"cache_bust_param"`
	RefreshWindow  time.Duration   `yaml:"refresh_window"`
	TTL            time.Duration   `yaml:"ttl"`
	Timeout        time.Duration   `yaml:"timeout"`
	UserAgent      string          `yaml:"user_agent"`
	MaxBodyBytes   int64           `yaml:"max_body_bytes"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	S3             S3Config        `yaml:"s3"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

// S3Config is only consulted when the feed URL uses the s3:// scheme.
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type DisplayConfig struct {
	Timezone       string `yaml:"timezone"`
	DateLayout     string `yaml:"date_layout"`
	DateTimeLayout string `yaml:"datetime_layout"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
}

type MetricsConfig struct {
	Prometheus bool             `yaml:"prometheus"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Region          string        `yaml:"region"`
	Namespace       string        `yaml:"namespace"`
	PublishInterval time.Duration `yaml:"publish_interval"`
}

// HistoryConfig controls the refresh audit table. Driver is "sqlite" or
// "postgres"; DSN is a file path for sqlite and a connection string otherwise.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	Retain  int    `yaml:"retain"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Default returns the configuration used when a key is absent from the file.
func Default() Config {
	return Config{
		App: AppConfig{
			Name:    "fixturefeed",
			Version: "dev",
		},
		Feed: FeedConfig{
			CacheBustParam: "nocache",
			RefreshWindow:  5 * time.Minute,
			TTL:            5 * time.Minute,
			Timeout:        15 * time.Second,
			UserAgent:      "fixturefeed/1.0",
			MaxBodyBytes:   16 << 20,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 1,
				BurstSize:         3,
			},
		},
		Display: DisplayConfig{
			Timezone:       "Europe/London",
			DateLayout:     "02 Jan 2006",
			DateTimeLayout: "02 Jan 2006 15:04",
		},
		Dashboard: DashboardConfig{
			Enabled:         true,
			Address:         "0.0.0.0:8080",
			RefreshInterval: 5 * time.Second,
			LogHistory:      200,
			MetricsHistory:  200,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Prometheus: true,
			CloudWatch: CloudWatchConfig{
				Namespace:       "FixtureFeed",
				PublishInterval: time.Minute,
			},
		},
		History: HistoryConfig{
			Driver: "sqlite",
			DSN:    "fixturefeed.db",
			Retain: 500,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("FEED_URL"); v != "" {
		config.Feed.URL = strings.TrimSpace(v)
	}
	if v := os.Getenv("DASHBOARD_ADDRESS"); v != "" {
		config.Dashboard.Address = strings.TrimSpace(v)
	}
	if v := os.Getenv("HISTORY_DSN"); v != "" {
		config.History.DSN = strings.TrimSpace(v)
	}

	if strings.HasPrefix(config.Feed.URL, "s3://") {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Feed.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Feed.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Feed.S3.Region = strings.TrimSpace(v)
		}
	}

	config.Feed.URL = strings.TrimSpace(config.Feed.URL)
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	if cfg.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}
	parsed, err := url.Parse(cfg.Feed.URL)
	if err != nil {
		return fmt.Errorf("feed.url is invalid: %w", err)
	}
	switch parsed.Scheme {
	case "http", "https", "file":
	case "s3":
		if !isValidS3Bucket(parsed.Host) {
			return fmt.Errorf("feed.url bucket '%s' is invalid", parsed.Host)
		}
		if strings.Trim(parsed.Path, "/") == "" {
			return fmt.Errorf("feed.url must name an object key")
		}
	default:
		return fmt.Errorf("feed.url scheme '%s' is not supported", parsed.Scheme)
	}

	if !cacheBustParamRegexp.MatchString(cfg.Feed.CacheBustParam) {
		return fmt.Errorf("feed.cache_bust_param '%s' is invalid", cfg.Feed.CacheBustParam)
	}
	if cfg.Feed.RefreshWindow <= 0 {
		return fmt.Errorf("feed.refresh_window must be greater than 0")
	}
	if cfg.Feed.TTL <= 0 {
		return fmt.Errorf("feed.ttl must be greater than 0")
	}
	if cfg.Feed.Timeout <= 0 {
		return fmt.Errorf("feed.timeout must be greater than 0")
	}
	if cfg.Feed.MaxBodyBytes <= 0 {
		return fmt.Errorf("feed.max_body_bytes must be greater than 0")
	}
	if cfg.Feed.RateLimit.RequestsPerSecond < 0 || cfg.Feed.RateLimit.BurstSize < 0 {
		return fmt.Errorf("feed.rate_limit values must not be negative")
	}

	if _, err := time.LoadLocation(cfg.Display.Timezone); err != nil {
		return fmt.Errorf("display.timezone '%s' is invalid: %w", cfg.Display.Timezone, err)
	}
	if cfg.Display.DateLayout == "" {
		return fmt.Errorf("display.date_layout is required")
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Namespace == "" {
		return fmt.Errorf("metrics.cloudwatch.namespace is required when CloudWatch is enabled")
	}

	if cfg.History.Enabled {
		switch cfg.History.Driver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("history.driver '%s' is not supported", cfg.History.Driver)
		}
		if cfg.History.DSN == "" {
			return fmt.Errorf("history.dsn is required when history is enabled")
		}
		if cfg.History.Retain < 0 {
			return fmt.Errorf("history.retain must not be negative")
		}
	}

	return nil
}

var (
	s3BucketRegexp       = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)
	cacheBustParamRegexp = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
