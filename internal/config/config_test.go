package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/reportstream/pkg/scheduler"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c := Default()

	if c.Timezone != "UTC" || c.HTTPTimeoutSec != 30 || c.SlowFirstPageTimeoutSec != 120 {
		t.Errorf("unexpected defaults: %+v", c)
	}
	if c.Scheduler.InitialConcurrency != 8 || c.Scheduler.MinConcurrency != 4 || c.Scheduler.MaxConcurrency != 20 {
		t.Errorf("scheduler defaults = %+v", c.Scheduler)
	}
	if c.Scheduler.RetryLimit != 3 || c.Scheduler.RetryBaseDelayMs != 500 || c.Scheduler.SpikeMs != 4000 {
		t.Errorf("retry defaults = %+v", c.Scheduler)
	}
	if c.Pipeline.Window != 4 || c.Pipeline.QueueDepth != 16 {
		t.Errorf("pipeline defaults = %+v", c.Pipeline)
	}
	if len(c.Lanes) != len(scheduler.Presets()) {
		t.Errorf("lanes = %v, want presets", c.Lanes)
	}
	if !strings.HasSuffix(c.JournalPath, filepath.Join("reportstream", "journal.db")) {
		t.Errorf("JournalPath = %s", c.JournalPath)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
base_url: https://reports.example.com/api
timezone: Europe/Berlin
slow_first_page_reports: [order_turnaround]
scheduler:
  max_concurrency: 12
  retry_limit: 5
lanes:
  user_activity:
    initial: 3
    min: 1
    max: 5
pipeline:
  window: 6
  async: true
`)
	t.Setenv("REPORTSTREAM_SCHEDULER_MIN_CONCURRENCY", "2")
	t.Setenv("REPORTSTREAM_LOG_LEVEL", "debug")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if c.BaseURL != "https://reports.example.com/api" || c.Timezone != "Europe/Berlin" {
		t.Errorf("file values not applied: %+v", c)
	}
	if len(c.SlowFirstPageReports) != 1 || c.SlowFirstPageReports[0] != "order_turnaround" {
		t.Errorf("SlowFirstPageReports = %v", c.SlowFirstPageReports)
	}
	if c.Scheduler.MaxConcurrency != 12 || c.Scheduler.RetryLimit != 5 {
		t.Errorf("scheduler = %+v", c.Scheduler)
	}
	if c.Scheduler.MinConcurrency != 2 {
		t.Errorf("env override MinConcurrency = %d, want 2", c.Scheduler.MinConcurrency)
	}
	if c.Scheduler.InitialConcurrency != 8 {
		t.Errorf("default InitialConcurrency = %d, want 8", c.Scheduler.InitialConcurrency)
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", c.LogLevel)
	}
	if got := c.Lanes["user_activity"]; got != (scheduler.LaneConfig{Initial: 3, Min: 1, Max: 5}) {
		t.Errorf("user_activity lane = %+v", got)
	}
	if got := c.Lanes["order_turnaround"]; got != scheduler.Presets()["order_turnaround"] {
		t.Errorf("order_turnaround lane = %+v, want preset", got)
	}
	if c.Pipeline.Window != 6 || !c.Pipeline.Async {
		t.Errorf("pipeline = %+v", c.Pipeline)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("Load() error = %v, want ErrConfigNotFound", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "scheduler: [unclosed\n")
	if _, err := Load(path); err == nil {
		t.Error("Load() should fail on invalid YAML")
	}
}

func TestSave_RoundTripWithoutToken(t *testing.T) {
	t.Setenv(TokenEnv, "secret-token-value")

	c := Default()
	c.BaseURL = "https://reports.example.com/api"
	c.Pipeline.Window = 7

	path, err := Save(c, filepath.Join(t.TempDir(), "sub", "config.yaml"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "secret-token-value") || strings.Contains(string(b), "token") {
		t.Errorf("saved config contains token material:\n%s", b)
	}

	t.Setenv(TokenEnv, "")
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.BaseURL != c.BaseURL || loaded.Pipeline.Window != 7 {
		t.Errorf("round trip = %+v", loaded)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing base url", func(c *Config) { c.BaseURL = "" }, true},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, true},
		{"zero timeout", func(c *Config) { c.HTTPTimeoutSec = 0 }, true},
		{"zero window", func(c *Config) { c.Pipeline.Window = 0 }, true},
		{"inverted concurrency", func(c *Config) { c.Scheduler.MaxConcurrency = 2 }, true},
		{"async without queue", func(c *Config) { c.Pipeline.Async = true; c.Pipeline.QueueDepth = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			c.BaseURL = "https://reports.example.com/api"
			tt.mutate(c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestComponentConfigs(t *testing.T) {
	c := Default()
	c.BaseURL = "https://reports.example.com/api"
	c.Scheduler.RetryBaseDelayMs = 250
	c.Scheduler.SpikeMs = 3000
	c.SlowFirstPageReports = []string{"order_turnaround"}

	sc := c.SchedulerConfig()
	if sc.Retry.InitialBackoff != 250*time.Millisecond || sc.SpikeThreshold != 3*time.Second {
		t.Errorf("SchedulerConfig() = %+v", sc)
	}
	if err := sc.Validate(); err != nil {
		t.Errorf("SchedulerConfig().Validate() error = %v", err)
	}

	cc := c.ClientConfig(EnvToken, nil)
	if cc.Timeout != 30*time.Second || cc.SlowFirstPageTimeout != 2*time.Minute {
		t.Errorf("ClientConfig() timeouts = %v, %v", cc.Timeout, cc.SlowFirstPageTimeout)
	}
	if len(cc.SlowFirstPageReports) != 1 {
		t.Errorf("ClientConfig() slow reports = %v", cc.SlowFirstPageReports)
	}

	rl := c.RateLimitConfig()
	if rl.ThrottleInterval != 500*time.Millisecond || rl.MaxWait != time.Minute {
		t.Errorf("RateLimitConfig() = %+v", rl)
	}
	if c.SnapshotTTL() != 7*24*time.Hour {
		t.Errorf("SnapshotTTL() = %v", c.SnapshotTTL())
	}
	if c.AsyncConfig().QueueDepth != 16 {
		t.Errorf("AsyncConfig().QueueDepth = %d", c.AsyncConfig().QueueDepth)
	}
}

func TestEnvToken(t *testing.T) {
	t.Setenv(TokenEnv, "")
	if _, ok := EnvToken(); ok {
		t.Error("EnvToken() ok with empty env")
	}
	t.Setenv(TokenEnv, "  abc  ")
	if tok, ok := EnvToken(); !ok || tok != "abc" {
		t.Errorf("EnvToken() = %q, %v", tok, ok)
	}
}
