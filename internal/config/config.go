// Package config loads reportstream configuration from defaults, an
// optional YAML file and REPORTSTREAM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sternrassler/reportstream/pkg/calendar"
	"github.com/Sternrassler/reportstream/pkg/client"
	"github.com/Sternrassler/reportstream/pkg/logging"
	"github.com/Sternrassler/reportstream/pkg/pipeline"
	"github.com/Sternrassler/reportstream/pkg/ratelimit"
	"github.com/Sternrassler/reportstream/pkg/scheduler"
	"github.com/adrg/xdg"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// AppName is the application name used for XDG directory paths.
	AppName = "reportstream"

	// EnvPrefix prefixes every environment variable.
	EnvPrefix = "REPORTSTREAM"

	// TokenEnv holds the API bearer token. The token is never written to
	// the config file.
	TokenEnv = EnvPrefix + "_TOKEN"
)

// ErrConfigNotFound is returned when an explicitly given config file does
// not exist.
var ErrConfigNotFound = errors.New("config file not found")

// Config is the complete reportstream configuration.
type Config struct {
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
	Timezone  string `mapstructure:"timezone" yaml:"timezone"`

	// HTTP timeouts
	HTTPTimeoutSec          int      `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
	SlowFirstPageTimeoutSec int      `mapstructure:"slow_first_page_timeout_sec" yaml:"slow_first_page_timeout_sec"`
	SlowFirstPageReports    []string `mapstructure:"slow_first_page_reports" yaml:"slow_first_page_reports"`

	// Server rate-limit gating
	ThrottleIntervalMs  int `mapstructure:"throttle_interval_ms" yaml:"throttle_interval_ms"`
	RateLimitMaxWaitSec int `mapstructure:"rate_limit_max_wait_sec" yaml:"rate_limit_max_wait_sec"`

	Scheduler Scheduler                       `mapstructure:"scheduler" yaml:"scheduler"`
	Lanes     map[string]scheduler.LaneConfig `mapstructure:"lanes" yaml:"lanes"`
	Pipeline  Pipeline                        `mapstructure:"pipeline" yaml:"pipeline"`

	// Snapshot store; an empty address disables it.
	RedisAddr        string `mapstructure:"redis_addr" yaml:"redis_addr"`
	SnapshotTTLHours int    `mapstructure:"snapshot_ttl_hours" yaml:"snapshot_ttl_hours"`

	// Run journal; an empty path disables it.
	JournalPath string `mapstructure:"journal_path" yaml:"journal_path"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty" yaml:"log_pretty"`

	// MetricsAddr serves /metrics and /health; empty disables the server.
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

// Scheduler holds the adaptive concurrency and retry settings.
type Scheduler struct {
	InitialConcurrency int `mapstructure:"initial_concurrency" yaml:"initial_concurrency"`
	MinConcurrency     int `mapstructure:"min_concurrency" yaml:"min_concurrency"`
	MaxConcurrency     int `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	RampUpAfter        int `mapstructure:"ramp_up_after" yaml:"ramp_up_after"`
	RetryLimit         int `mapstructure:"retry_limit" yaml:"retry_limit"`
	RetryBaseDelayMs   int `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs    int `mapstructure:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`
	LatencyWindow      int `mapstructure:"latency_window" yaml:"latency_window"`
	SpikeMs            int `mapstructure:"spike_ms" yaml:"spike_ms"`
	RecoverMs          int `mapstructure:"recover_ms" yaml:"recover_ms"`
}

// Pipeline holds the run coordinator settings.
type Pipeline struct {
	Window          int  `mapstructure:"window" yaml:"window"`
	YieldEvery      int  `mapstructure:"yield_every" yaml:"yield_every"`
	PairConcurrency int  `mapstructure:"pair_concurrency" yaml:"pair_concurrency"`
	Async           bool `mapstructure:"async" yaml:"async"`
	QueueDepth      int  `mapstructure:"queue_depth" yaml:"queue_depth"`
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/reportstream/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

// DefaultJournalPath returns $XDG_DATA_HOME/reportstream/journal.db.
func DefaultJournalPath() string {
	return filepath.Join(xdg.DataHome, AppName, "journal.db")
}

func setDefaults(v *viper.Viper) {
	sched := scheduler.DefaultConfig()
	pipe := pipeline.DefaultConfig()
	rl := ratelimit.DefaultConfig()

	v.SetDefault("base_url", "")
	v.SetDefault("user_agent", "reportstream/0.1.0")
	v.SetDefault("timezone", "UTC")
	v.SetDefault("http_timeout_sec", 30)
	v.SetDefault("slow_first_page_timeout_sec", 120)
	v.SetDefault("slow_first_page_reports", []string{})
	v.SetDefault("throttle_interval_ms", int(rl.ThrottleInterval/time.Millisecond))
	v.SetDefault("rate_limit_max_wait_sec", int(rl.MaxWait/time.Second))

	v.SetDefault("scheduler.initial_concurrency", sched.InitialConcurrency)
	v.SetDefault("scheduler.min_concurrency", sched.MinConcurrency)
	v.SetDefault("scheduler.max_concurrency", sched.MaxConcurrency)
	v.SetDefault("scheduler.ramp_up_after", sched.RampUpAfter)
	v.SetDefault("scheduler.retry_limit", sched.Retry.RetryLimit)
	v.SetDefault("scheduler.retry_base_delay_ms", int(sched.Retry.InitialBackoff/time.Millisecond))
	v.SetDefault("scheduler.retry_max_delay_ms", int(sched.Retry.MaxBackoff/time.Millisecond))
	v.SetDefault("scheduler.latency_window", sched.LatencyWindow)
	v.SetDefault("scheduler.spike_ms", int(sched.SpikeThreshold/time.Millisecond))
	v.SetDefault("scheduler.recover_ms", int(sched.RecoverThreshold/time.Millisecond))

	v.SetDefault("pipeline.window", pipe.Window)
	v.SetDefault("pipeline.yield_every", pipe.YieldEvery)
	v.SetDefault("pipeline.pair_concurrency", pipe.PairConcurrency)
	v.SetDefault("pipeline.async", false)
	v.SetDefault("pipeline.queue_depth", pipeline.DefaultAsyncConfig().QueueDepth)

	v.SetDefault("redis_addr", "")
	v.SetDefault("snapshot_ttl_hours", 168)
	v.SetDefault("journal_path", DefaultJournalPath())
	v.SetDefault("log_level", string(logging.LevelInfo))
	v.SetDefault("log_pretty", false)
	v.SetDefault("metrics_addr", "")
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	c.Lanes = scheduler.Presets()
	return &c
}

// Load loads configuration from file, env, and defaults.
// Precedence: env > config file > defaults. An empty cfgFile reads the
// default path if it exists; an explicit cfgFile must exist.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	path := cfgFile
	if path == "" {
		path = DefaultConfigPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if cfgFile != "" {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, cfgFile)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// lanes not named in the file keep their presets
	if c.Lanes == nil {
		c.Lanes = make(map[string]scheduler.LaneConfig)
	}
	for name, lane := range scheduler.Presets() {
		if _, ok := c.Lanes[name]; !ok {
			c.Lanes[name] = lane
		}
	}
	return &c, nil
}

// Save writes c as YAML to path, creating the directory if necessary. An
// empty path writes to DefaultConfigPath.
func Save(c *Config, path string) (string, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("mkdir config dir: %w", err)
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return path, nil
}

// Validate checks the configuration by building every component config.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if _, err := calendar.New(c.Timezone); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	if !logging.ValidLevel(c.LogLevel) {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.HTTPTimeoutSec <= 0 {
		return fmt.Errorf("http_timeout_sec must be > 0 (got %d)", c.HTTPTimeoutSec)
	}
	if err := c.PipelineConfig().Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if c.Pipeline.Async && c.Pipeline.QueueDepth < 1 {
		return fmt.Errorf("pipeline.queue_depth must be >= 1 (got %d)", c.Pipeline.QueueDepth)
	}
	return nil
}

// ClientConfig returns the API client configuration.
func (c *Config) ClientConfig(token client.TokenSource, limiter *ratelimit.Tracker) client.Config {
	cfg := client.DefaultConfig(c.BaseURL, c.UserAgent)
	cfg.Timeout = time.Duration(c.HTTPTimeoutSec) * time.Second
	cfg.SlowFirstPageTimeout = time.Duration(c.SlowFirstPageTimeoutSec) * time.Second
	cfg.SlowFirstPageReports = c.SlowFirstPageReports
	cfg.Token = token
	cfg.RateLimiter = limiter
	return cfg
}

// RateLimitConfig returns the rate-limit tracker configuration.
func (c *Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		ThrottleInterval: time.Duration(c.ThrottleIntervalMs) * time.Millisecond,
		MaxWait:          time.Duration(c.RateLimitMaxWaitSec) * time.Second,
	}
}

// SchedulerConfig returns the scheduler configuration.
func (c *Config) SchedulerConfig() scheduler.Config {
	cfg := scheduler.DefaultConfig()
	s := c.Scheduler
	cfg.InitialConcurrency = s.InitialConcurrency
	cfg.MinConcurrency = s.MinConcurrency
	cfg.MaxConcurrency = s.MaxConcurrency
	cfg.RampUpAfter = s.RampUpAfter
	cfg.Retry.RetryLimit = s.RetryLimit
	cfg.Retry.InitialBackoff = time.Duration(s.RetryBaseDelayMs) * time.Millisecond
	cfg.Retry.MaxBackoff = time.Duration(s.RetryMaxDelayMs) * time.Millisecond
	cfg.LatencyWindow = s.LatencyWindow
	cfg.SpikeThreshold = time.Duration(s.SpikeMs) * time.Millisecond
	cfg.RecoverThreshold = time.Duration(s.RecoverMs) * time.Millisecond
	if len(c.Lanes) > 0 {
		cfg.Lanes = c.Lanes
	}
	return cfg
}

// PipelineConfig returns the coordinator configuration.
func (c *Config) PipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.Window = c.Pipeline.Window
	cfg.YieldEvery = c.Pipeline.YieldEvery
	cfg.PairConcurrency = c.Pipeline.PairConcurrency
	cfg.Scheduler = c.SchedulerConfig()
	return cfg
}

// AsyncConfig returns the async consumer configuration.
func (c *Config) AsyncConfig() pipeline.AsyncConfig {
	cfg := pipeline.DefaultAsyncConfig()
	cfg.QueueDepth = c.Pipeline.QueueDepth
	return cfg
}

// LoggingConfig returns the logger configuration.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.LogLevel)
	cfg.Pretty = c.LogPretty
	return cfg
}

// SnapshotTTL returns the snapshot lifetime.
func (c *Config) SnapshotTTL() time.Duration {
	return time.Duration(c.SnapshotTTLHours) * time.Hour
}

// EnvToken reads the bearer token from REPORTSTREAM_TOKEN on every call.
func EnvToken() (string, bool) {
	tok := strings.TrimSpace(os.Getenv(TokenEnv))
	return tok, tok != ""
}
