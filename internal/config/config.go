// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Normalize NormalizeConfig `mapstructure:"normalize"`
	Export    ExportConfig    `mapstructure:"export"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// CrawlerConfig governs orchestrator behavior.
type CrawlerConfig struct {
	Concurrency  int     `mapstructure:"concurrency"`
	PerHostMax   int     `mapstructure:"per_host_max"`
	PerHostRPS   float64 `mapstructure:"per_host_rps"`
	UserAgent    string  `mapstructure:"user_agent"`
	MaxDepth     int     `mapstructure:"max_depth"`
	QueueDepth   int     `mapstructure:"queue_depth"`
	ResumeStates bool    `mapstructure:"resume_states"`
}

// HTTPConfig configures the plain HTTP fetch strategy.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the browser rendering strategy.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	AutoRender      bool `mapstructure:"auto_render"`
	RenderThreshold int  `mapstructure:"render_threshold"`
}

// RetryConfig controls retry/backoff in the resilience layer.
type RetryConfig struct {
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// BreakerConfig controls the per-host circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	WindowSeconds    int `mapstructure:"window_seconds"`
	CooldownSeconds  int `mapstructure:"cooldown_seconds"`
}

// CacheConfig controls the durable response cache.
type CacheConfig struct {
	Path       string `mapstructure:"path"`
	TTLMinutes int    `mapstructure:"ttl_minutes"`
	HotEntries int    `mapstructure:"hot_entries"`
}

// NormalizeConfig controls fuzzy vocabulary matching.
type NormalizeConfig struct {
	Threshold  int      `mapstructure:"threshold"`
	Categories []string `mapstructure:"categories"`
	Brands     []string `mapstructure:"brands"`
}

// ExportConfig sets template, mapping, and output locations.
type ExportConfig struct {
	TemplatePath string `mapstructure:"template_path"`
	MappingPath  string `mapstructure:"mapping_path"`
	OutputDir    string `mapstructure:"output_dir"`
	SheetName    string `mapstructure:"sheet_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKETCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.per_host_max", 2)
	v.SetDefault("crawler.per_host_rps", 4.0)
	v.SetDefault("crawler.user_agent", "marketcrawl-bot/0.1")
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.queue_depth", 256)
	v.SetDefault("crawler.resume_states", true)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.auto_render", false)
	v.SetDefault("headless.render_threshold", 2048)
	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.backoff_initial_ms", 250)
	v.SetDefault("retry.backoff_max_ms", 5000)
	v.SetDefault("breaker.failure_threshold", 3)
	v.SetDefault("breaker.window_seconds", 60)
	v.SetDefault("breaker.cooldown_seconds", 30)
	v.SetDefault("cache.path", "cache/responses.db")
	v.SetDefault("cache.ttl_minutes", 720)
	v.SetDefault("cache.hot_entries", 512)
	v.SetDefault("normalize.threshold", 80)
	v.SetDefault("export.output_dir", "output")
	v.SetDefault("export.sheet_name", "Sheet1")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.PerHostMax <= 0 {
		return fmt.Errorf("crawler.per_host_max must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.BackoffMaxMs < c.Retry.BackoffInitialMs {
		return fmt.Errorf("retry.backoff_max_ms must be >= retry.backoff_initial_ms")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be > 0")
	}
	if c.Normalize.Threshold < 0 || c.Normalize.Threshold > 100 {
		return fmt.Errorf("normalize.threshold must be between 0 and 100")
	}
	if c.Cache.TTLMinutes <= 0 {
		return fmt.Errorf("cache.ttl_minutes must be > 0")
	}
	return nil
}

// FetchTimeout returns the hard wall-clock timeout for one fetch.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// CacheTTL returns the response cache entry lifetime.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMinutes) * time.Minute
}
