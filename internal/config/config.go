// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/podcast-catalog-crawler/internal/crawler"
	"github.com/JakeFAU/podcast-catalog-crawler/internal/query"
)

// EnvPrefix namespaces environment overrides, e.g. PODCRAWL_STORE_DRIVER.
const EnvPrefix = "PODCRAWL"

// Supported store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Spotify SpotifyConfig `mapstructure:"spotify"`
	Store   StoreConfig   `mapstructure:"store"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig toggles zap development features. Level overrides the
// preset's minimum level when set.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs query enumeration, pagination and the worker pool.
type CrawlerConfig struct {
	Concurrency        int    `mapstructure:"concurrency"`
	Alphabet           string `mapstructure:"alphabet"`
	QueryLength        int    `mapstructure:"query_length"`
	PageSize           int    `mapstructure:"page_size"`
	MaxOffset          int    `mapstructure:"max_offset"`
	QueueDepth         int    `mapstructure:"queue_depth"`
	ResumePartial      bool   `mapstructure:"resume_partial"`
	MaxStorageFailures int    `mapstructure:"max_storage_failures"`
}

// HTTPConfig configures remote call timeouts, retry and pacing.
type HTTPConfig struct {
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxAttempts       int     `mapstructure:"max_attempts"`
	BackoffInitialMs  int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs      int     `mapstructure:"backoff_max_ms"`
	Jitter            bool    `mapstructure:"jitter"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// SpotifyConfig holds catalog API credentials and search parameters.
type SpotifyConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TokenURL     string `mapstructure:"token_url"`
	BaseURL      string `mapstructure:"base_url"`
	Market       string `mapstructure:"market"`
	ItemType     string `mapstructure:"item_type"`
}

// StoreConfig selects and configures the RecordStore backend.
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// MetricsConfig enables the /metrics and /healthz listener when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from defaults, an optional file at path, and the
// environment. Variables from a .env file (PODCRAWL_ENV_FILE, default ".env")
// are loaded first without overriding the real environment.
func Load(path string) (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindCredentials(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadDotEnv() error {
	envFile := os.Getenv(EnvPrefix + "_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", envFile, err)
	}
	return nil
}

// bindCredentials also accepts the bare CLIENT_ID / CLIENT_SECRET variables.
func bindCredentials(v *viper.Viper) error {
	if err := v.BindEnv("spotify.client_id", EnvPrefix+"_SPOTIFY_CLIENT_ID", "CLIENT_ID"); err != nil {
		return fmt.Errorf("bind client id: %w", err)
	}
	if err := v.BindEnv("spotify.client_secret", EnvPrefix+"_SPOTIFY_CLIENT_SECRET", "CLIENT_SECRET"); err != nil {
		return fmt.Errorf("bind client secret: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("crawler.concurrency", crawler.DefaultWorkers)
	v.SetDefault("crawler.alphabet", crawler.DefaultAlphabet)
	v.SetDefault("crawler.query_length", crawler.DefaultQueryLength)
	v.SetDefault("crawler.page_size", crawler.DefaultPageSize)
	v.SetDefault("crawler.max_offset", crawler.DefaultMaxOffset)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.resume_partial", false)
	v.SetDefault("crawler.max_storage_failures", 10)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_attempts", crawler.DefaultMaxAttempts)
	v.SetDefault("http.backoff_initial_ms", 1000)
	v.SetDefault("http.backoff_max_ms", 60000)
	v.SetDefault("http.jitter", true)
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("spotify.client_id", "")
	v.SetDefault("spotify.client_secret", "")
	v.SetDefault("spotify.token_url", "https://accounts.spotify.com/api/token")
	v.SetDefault("spotify.base_url", "https://api.spotify.com/v1")
	v.SetDefault("spotify.market", crawler.DefaultMarket)
	v.SetDefault("spotify.item_type", crawler.DefaultItemType)
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.path", "podcasts.db")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_conns", 5)
	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.Alphabet == "" {
		return fmt.Errorf("crawler.alphabet must not be empty")
	}
	if c.Crawler.QueryLength <= 0 {
		return fmt.Errorf("crawler.query_length must be > 0")
	}
	if _, err := query.NewEnumerator(c.Crawler.Alphabet, c.Crawler.QueryLength).Count(); err != nil {
		return fmt.Errorf("crawler.alphabet and crawler.query_length: %w", err)
	}
	if c.Crawler.PageSize <= 0 || c.Crawler.PageSize > crawler.DefaultPageSize {
		return fmt.Errorf("crawler.page_size must be between 1 and %d", crawler.DefaultPageSize)
	}
	if c.Crawler.MaxOffset <= 0 {
		return fmt.Errorf("crawler.max_offset must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.HTTP.BackoffInitialMs < 0 || c.HTTP.BackoffMaxMs < c.HTTP.BackoffInitialMs {
		return fmt.Errorf("http.backoff_max_ms must be >= http.backoff_initial_ms >= 0")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requests_per_second must be >= 0")
	}
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "" {
		return fmt.Errorf("spotify.client_id and spotify.client_secret are required")
	}
	return nil
}

// CallTimeout is the per-call deadline for remote searches.
func (c Config) CallTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RetryConfig converts the HTTP retry knobs for crawler.NewExponentialRetryPolicy.
func (c Config) RetryConfig() crawler.RetryConfig {
	return crawler.RetryConfig{
		MaxAttempts: c.HTTP.MaxAttempts,
		BaseDelay:   time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
		MaxDelay:    time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond,
		Jitter:      c.HTTP.Jitter,
	}
}
