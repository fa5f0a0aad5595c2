package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Queue.MaxConcurrent != 1 {
		t.Errorf("Expected default concurrency ceiling to be 1, got %d", config.Queue.MaxConcurrent)
	}

	if config.Check.FreshnessWindow != 24*time.Hour {
		t.Errorf("Expected default freshness window to be 24h, got %s", config.Check.FreshnessWindow)
	}

	if config.Scraper.BackoffBase != time.Second {
		t.Errorf("Expected default backoff base to be 1s, got %s", config.Scraper.BackoffBase)
	}

	if config.Scraper.MaxRelationCount != 10000 {
		t.Errorf("Expected default relation ceiling to be 10000, got %d", config.Scraper.MaxRelationCount)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("IGMUTUAL_SESSION_ID", "env-session")
	t.Setenv("IGMUTUAL_MAX_CONCURRENT_CHECKS", "2")
	t.Setenv("IGMUTUAL_FRESHNESS_WINDOW", "12h")
	t.Setenv("IGMUTUAL_REDIS_ADDR", "redis:6379")
	t.Setenv("IGMUTUAL_LOG_LEVEL", "debug")

	config := DefaultConfig()
	if err := config.LoadFromEnv(); err != nil {
		t.Fatalf("Failed to load from environment: %v", err)
	}

	if config.Session.Token != "env-session" {
		t.Errorf("Expected session token to be env-session, got %s", config.Session.Token)
	}
	if config.Queue.MaxConcurrent != 2 {
		t.Errorf("Expected concurrency 2, got %d", config.Queue.MaxConcurrent)
	}
	if config.Check.FreshnessWindow != 12*time.Hour {
		t.Errorf("Expected freshness window 12h, got %s", config.Check.FreshnessWindow)
	}
	if !config.Cache.Enabled || config.Cache.RedisAddr != "redis:6379" {
		t.Errorf("Expected cache enabled at redis:6379, got %v %s", config.Cache.Enabled, config.Cache.RedisAddr)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", config.Logging.Level)
	}
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("IGMUTUAL_MAX_CONCURRENT_CHECKS", "many")
	t.Setenv("IGMUTUAL_CHECK_TIMEOUT", "forever")

	config := DefaultConfig()
	err := config.LoadFromEnv()
	if err == nil {
		t.Fatal("Expected error for malformed environment values")
	}
	if !strings.Contains(err.Error(), "IGMUTUAL_MAX_CONCURRENT_CHECKS") {
		t.Errorf("Expected error to name the bad variable, got %v", err)
	}
	if !strings.Contains(err.Error(), "IGMUTUAL_CHECK_TIMEOUT") {
		t.Errorf("Expected error to name the bad duration, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantError string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Queue.MaxConcurrent = 0 },
			wantError: "max concurrent checks must be at least 1",
		},
		{
			name:      "page size above platform maximum",
			mutate:    func(c *Config) { c.Scraper.PageSize = 100 },
			wantError: "page size must be between 1 and 50",
		},
		{
			name: "inverted page delay",
			mutate: func(c *Config) {
				c.Scraper.PageDelayMin = 5 * time.Second
				c.Scraper.PageDelayMax = time.Second
			},
			wantError: "page delay max must not be below page delay min",
		},
		{
			name:      "unknown checkpoint backend",
			mutate:    func(c *Config) { c.Storage.CheckpointBackend = "postgres" },
			wantError: "checkpoint backend must be sqlite or file",
		},
		{
			name: "cache without address",
			mutate: func(c *Config) {
				c.Cache.Enabled = true
				c.Cache.RedisAddr = ""
			},
			wantError: "redis address is required",
		},
		{
			name:      "bad log level",
			mutate:    func(c *Config) { c.Logging.Level = "verbose" },
			wantError: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)

			err := config.Validate()
			if tt.wantError == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantError)
			}
			if !strings.Contains(err.Error(), tt.wantError) {
				t.Errorf("Expected error containing %q, got %v", tt.wantError, err)
			}
		})
	}
}

func TestMergeCommandLineFlags(t *testing.T) {
	config := DefaultConfig()
	config.MergeCommandLineFlags(map[string]interface{}{
		"database":    "/tmp/flags.db",
		"concurrency": 2,
		"redis":       "localhost:6380",
		"log-level":   "warn",
		"listen":      "",
	})

	if config.Storage.DatabasePath != "/tmp/flags.db" {
		t.Errorf("Expected database path from flags, got %s", config.Storage.DatabasePath)
	}
	if config.Queue.MaxConcurrent != 2 {
		t.Errorf("Expected concurrency 2, got %d", config.Queue.MaxConcurrent)
	}
	if !config.Cache.Enabled {
		t.Error("Expected redis flag to enable the cache")
	}
	if config.Logging.Level != "warn" {
		t.Errorf("Expected log level warn, got %s", config.Logging.Level)
	}
	if config.API.ListenAddr != ":8080" {
		t.Errorf("Expected empty flag to keep default listen address, got %s", config.API.ListenAddr)
	}
}

func TestSaveAndLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "config.yaml")

	config := DefaultConfig()
	config.Queue.MaxConcurrent = 2
	config.Check.Timeout = 45 * time.Minute
	config.API.AdminToken = "secret"

	if err := config.Save(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Expected config file to exist: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected config file mode 0600, got %o", info.Mode().Perm())
	}

	loaded := DefaultConfig()
	if err := loaded.LoadFromFile(configPath); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loaded.Queue.MaxConcurrent != 2 {
		t.Errorf("Expected loaded concurrency 2, got %d", loaded.Queue.MaxConcurrent)
	}
	if loaded.Check.Timeout != 45*time.Minute {
		t.Errorf("Expected loaded timeout 45m, got %s", loaded.Check.Timeout)
	}
	if loaded.API.AdminToken != "secret" {
		t.Errorf("Expected loaded admin token, got %q", loaded.API.AdminToken)
	}
}

func TestLoadFromFileParsesDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
queue:
  max_concurrent: 1
  poll_interval: 2s
check:
  freshness_window: 6h
scraper:
  page_delay_min: 0s
  page_delay_max: 0s
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	config := DefaultConfig()
	if err := config.LoadFromFile(path); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Queue.PollInterval != 2*time.Second {
		t.Errorf("Expected poll interval 2s, got %s", config.Queue.PollInterval)
	}
	if config.Check.FreshnessWindow != 6*time.Hour {
		t.Errorf("Expected freshness window 6h, got %s", config.Check.FreshnessWindow)
	}
	if config.Scraper.PageDelayMax != 0 {
		t.Errorf("Expected zero page delay, got %s", config.Scraper.PageDelayMax)
	}
	// Untouched sections keep defaults
	if config.Scraper.PageSize != 50 {
		t.Errorf("Expected default page size, got %d", config.Scraper.PageSize)
	}
}
