package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the check engine
type Config struct {
	// Instagram endpoint and request settings
	Instagram InstagramConfig `yaml:"instagram" json:"instagram"`

	// Session lifecycle policy
	Session SessionConfig `yaml:"session" json:"session"`

	// Page fetching behaviour
	Scraper ScraperConfig `yaml:"scraper" json:"scraper"`

	// Global request budget
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Check queue settings
	Queue QueueConfig `yaml:"queue" json:"queue"`

	// Per-check policy
	Check CheckConfig `yaml:"check" json:"check"`

	// Durable storage
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Result cache
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// HTTP API
	API APIConfig `yaml:"api" json:"api"`

	// Completion and alert delivery
	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`

	// Prometheus metrics
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// InstagramConfig holds Instagram-specific configuration
type InstagramConfig struct {
	BaseURL        string        `yaml:"base_url" json:"base_url"`
	UserAgent      string        `yaml:"user_agent" json:"user_agent"`
	AppID          string        `yaml:"app_id" json:"app_id"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// SessionConfig holds session refresh policy
type SessionConfig struct {
	// Token seeds the session on first start when no session is stored
	Token               string        `yaml:"token" json:"token"`
	MaxAge              time.Duration `yaml:"max_age" json:"max_age"`
	RefreshInterval     time.Duration `yaml:"refresh_interval" json:"refresh_interval"`
	ProactiveInterval   time.Duration `yaml:"proactive_check_interval" json:"proactive_check_interval"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
	MaxFailCount        int           `yaml:"max_fail_count" json:"max_fail_count"`
	CredentialBackend   string        `yaml:"credential_backend" json:"credential_backend"`
	CredentialsFile     string        `yaml:"credentials_file" json:"credentials_file"`
}

// ScraperConfig holds page fetching configuration
type ScraperConfig struct {
	PageSize         int           `yaml:"page_size" json:"page_size"`
	MaxRelationCount int           `yaml:"max_relation_count" json:"max_relation_count"`
	MaxAttempts      int           `yaml:"max_attempts" json:"max_attempts"`
	BackoffBase      time.Duration `yaml:"backoff_base" json:"backoff_base"`
	BackoffMax       time.Duration `yaml:"backoff_max" json:"backoff_max"`
	PageDelayMin     time.Duration `yaml:"page_delay_min" json:"page_delay_min"`
	PageDelayMax     time.Duration `yaml:"page_delay_max" json:"page_delay_max"`
	RelationPause    time.Duration `yaml:"relation_pause" json:"relation_pause"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int `yaml:"burst_size" json:"burst_size"`
}

// QueueConfig holds check queue configuration
type QueueConfig struct {
	MaxConcurrent     int           `yaml:"max_concurrent" json:"max_concurrent"`
	PollInterval      time.Duration `yaml:"poll_interval" json:"poll_interval"`
	EstimatedDuration time.Duration `yaml:"estimated_check_duration" json:"estimated_check_duration"`
}

// CheckConfig holds per-check policy
type CheckConfig struct {
	Timeout             time.Duration `yaml:"timeout" json:"timeout"`
	FreshnessWindow     time.Duration `yaml:"freshness_window" json:"freshness_window"`
	CheckpointRetention time.Duration `yaml:"checkpoint_retention" json:"checkpoint_retention"`
}

// StorageConfig holds durable storage configuration
type StorageConfig struct {
	DatabasePath      string `yaml:"database_path" json:"database_path"`
	CheckpointBackend string `yaml:"checkpoint_backend" json:"checkpoint_backend"`
	CheckpointDir     string `yaml:"checkpoint_dir" json:"checkpoint_dir"`
}

// CacheConfig holds result cache configuration
type CacheConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// APIConfig holds HTTP API configuration
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	AdminToken string `yaml:"admin_token" json:"admin_token"`
}

// NotificationConfig holds completion and alert delivery preferences
type NotificationConfig struct {
	WebhookURL      string        `yaml:"webhook_url" json:"webhook_url"`
	AlertWebhookURL string        `yaml:"alert_webhook_url" json:"alert_webhook_url"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	RetryAttempts   int           `yaml:"retry_attempts" json:"retry_attempts"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	dataDir := defaultDataDir()

	return &Config{
		Instagram: InstagramConfig{
			BaseURL:        "https://www.instagram.com",
			UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			AppID:          "936619743392459",
			RequestTimeout: 30 * time.Second,
		},
		Session: SessionConfig{
			MaxAge:              72 * time.Hour,
			RefreshInterval:     72 * time.Hour,
			ProactiveInterval:   6 * time.Hour,
			HealthCheckInterval: time.Hour,
			MaxFailCount:        3,
			CredentialBackend:   "file",
			CredentialsFile:     filepath.Join(dataDir, "credentials.enc"),
		},
		Scraper: ScraperConfig{
			PageSize:         50,
			MaxRelationCount: 10000,
			MaxAttempts:      3,
			BackoffBase:      time.Second,
			BackoffMax:       30 * time.Second,
			PageDelayMin:     2 * time.Second,
			PageDelayMax:     5 * time.Second,
			RelationPause:    6 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 20,
			BurstSize:         1,
		},
		Queue: QueueConfig{
			MaxConcurrent:     1,
			PollInterval:      5 * time.Second,
			EstimatedDuration: 2 * time.Minute,
		},
		Check: CheckConfig{
			Timeout:             30 * time.Minute,
			FreshnessWindow:     24 * time.Hour,
			CheckpointRetention: 7 * 24 * time.Hour,
		},
		Storage: StorageConfig{
			DatabasePath:      filepath.Join(dataDir, "igmutual.db"),
			CheckpointBackend: "sqlite",
			CheckpointDir:     filepath.Join(dataDir, "checkpoints"),
		},
		Cache: CacheConfig{
			Enabled:   false,
			RedisAddr: "localhost:6379",
			KeyPrefix: "igmutual:",
		},
		API: APIConfig{
			ListenAddr: ":8080",
		},
		Notifications: NotificationConfig{
			Timeout:       10 * time.Second,
			RetryAttempts: 3,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	// Instagram
	setString("IGMUTUAL_BASE_URL", &c.Instagram.BaseURL)
	setString("IGMUTUAL_USER_AGENT", &c.Instagram.UserAgent)

	// Session
	setString("IGMUTUAL_SESSION_ID", &c.Session.Token)
	setDuration("IGMUTUAL_SESSION_MAX_AGE", &c.Session.MaxAge)
	setString("IGMUTUAL_CREDENTIAL_BACKEND", &c.Session.CredentialBackend)
	setString("IGMUTUAL_CREDENTIALS_FILE", &c.Session.CredentialsFile)

	// Scraper and rate limit
	setInt("IGMUTUAL_MAX_RELATION_COUNT", &c.Scraper.MaxRelationCount)
	setInt("IGMUTUAL_MAX_ATTEMPTS", &c.Scraper.MaxAttempts)
	setInt("IGMUTUAL_REQUESTS_PER_MINUTE", &c.RateLimit.RequestsPerMinute)

	// Queue and checks
	setInt("IGMUTUAL_MAX_CONCURRENT_CHECKS", &c.Queue.MaxConcurrent)
	setDuration("IGMUTUAL_QUEUE_POLL_INTERVAL", &c.Queue.PollInterval)
	setDuration("IGMUTUAL_CHECK_TIMEOUT", &c.Check.Timeout)
	setDuration("IGMUTUAL_FRESHNESS_WINDOW", &c.Check.FreshnessWindow)

	// Storage
	setString("IGMUTUAL_DATABASE_PATH", &c.Storage.DatabasePath)
	setString("IGMUTUAL_CHECKPOINT_BACKEND", &c.Storage.CheckpointBackend)

	// Cache
	if v := os.Getenv("IGMUTUAL_REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
		c.Cache.Enabled = true
	}
	setString("IGMUTUAL_REDIS_PASSWORD", &c.Cache.Password)

	// API and notifications
	setString("IGMUTUAL_LISTEN_ADDR", &c.API.ListenAddr)
	setString("IGMUTUAL_ADMIN_TOKEN", &c.API.AdminToken)
	setString("IGMUTUAL_WEBHOOK_URL", &c.Notifications.WebhookURL)
	setString("IGMUTUAL_ALERT_WEBHOOK_URL", &c.Notifications.AlertWebhookURL)

	if v := os.Getenv("IGMUTUAL_METRICS_ENABLED"); v != "" {
		c.Metrics.Enabled = strings.ToLower(v) == "true"
	}

	// Logging level
	setString("IGMUTUAL_LOG_LEVEL", &c.Logging.Level)
	setString("IGMUTUAL_LOG_FILE", &c.Logging.File)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".igmutual.yaml",
		".igmutual.yml",
		filepath.Join(home, ".config", "igmutual", "config.yaml"),
		filepath.Join(home, ".config", "igmutual", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Instagram.BaseURL == "" {
		errs = append(errs, errors.New("instagram base URL is required"))
	}
	if c.Instagram.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}

	// Session policy
	if c.Session.MaxAge <= 0 {
		errs = append(errs, errors.New("session max age must be positive"))
	}
	if c.Session.MaxFailCount <= 0 {
		errs = append(errs, errors.New("session max fail count must be positive"))
	}
	validBackends := map[string]bool{"file": true, "keyring": true, "env": true}
	if !validBackends[strings.ToLower(c.Session.CredentialBackend)] {
		errs = append(errs, errors.New("credential backend must be one of file, keyring, env"))
	}

	// Scraper
	if c.Scraper.PageSize <= 0 || c.Scraper.PageSize > 50 {
		errs = append(errs, errors.New("page size must be between 1 and 50"))
	}
	if c.Scraper.MaxRelationCount <= 0 {
		errs = append(errs, errors.New("max relation count must be positive"))
	}
	if c.Scraper.MaxAttempts < 0 {
		errs = append(errs, errors.New("max attempts cannot be negative"))
	}
	if c.Scraper.PageDelayMax < c.Scraper.PageDelayMin {
		errs = append(errs, errors.New("page delay max must not be below page delay min"))
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.RateLimit.BurstSize <= 0 {
		errs = append(errs, errors.New("burst size must be positive"))
	}

	// Queue
	if c.Queue.MaxConcurrent < 1 {
		errs = append(errs, errors.New("max concurrent checks must be at least 1"))
	}
	if c.Queue.PollInterval <= 0 {
		errs = append(errs, errors.New("queue poll interval must be positive"))
	}

	if c.Check.Timeout <= 0 {
		errs = append(errs, errors.New("check timeout must be positive"))
	}
	if c.Check.FreshnessWindow < 0 {
		errs = append(errs, errors.New("freshness window cannot be negative"))
	}

	// Storage
	if c.Storage.DatabasePath == "" {
		errs = append(errs, errors.New("database path is required"))
	}
	switch c.Storage.CheckpointBackend {
	case "sqlite":
	case "file":
		if c.Storage.CheckpointDir == "" {
			errs = append(errs, errors.New("checkpoint directory is required for the file backend"))
		}
	default:
		errs = append(errs, errors.New("checkpoint backend must be sqlite or file"))
	}

	if c.Cache.Enabled && c.Cache.RedisAddr == "" {
		errs = append(errs, errors.New("redis address is required when the cache is enabled"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["database"].(string); ok && v != "" {
		c.Storage.DatabasePath = v
	}
	if v, ok := flags["listen"].(string); ok && v != "" {
		c.API.ListenAddr = v
	}
	if v, ok := flags["concurrency"].(int); ok && v > 0 {
		c.Queue.MaxConcurrent = v
	}
	if v, ok := flags["redis"].(string); ok && v != "" {
		c.Cache.RedisAddr = v
		c.Cache.Enabled = true
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Missing .env files are fine
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".igmutual.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// defaultDataDir returns the XDG data directory for igmutual
func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "igmutual")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".igmutual"
	}
	return filepath.Join(home, ".local", "share", "igmutual")
}
