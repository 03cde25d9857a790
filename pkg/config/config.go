package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the metrics pipeline
type Config struct {
	// Scraping behavior
	Scrape ScrapeConfig `yaml:"scrape" json:"scrape"`

	// Background refresh queue
	Queue QueueConfig `yaml:"queue" json:"queue"`

	// Persistent store
	Store StoreConfig `yaml:"store" json:"store"`

	// Graph API (OAuth) settings
	Graph GraphConfig `yaml:"graph" json:"graph"`

	// Token encryption
	Token TokenConfig `yaml:"token" json:"token"`

	// Outbound HTTP client settings
	HTTP HTTPConfig `yaml:"http" json:"http"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ScrapeConfig holds scraping and cache behavior
type ScrapeConfig struct {
	// CacheTTL is how long a snapshot counts as fresh
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	// RefreshAfter is the age past which a background refresh is queued
	// even though the cached snapshot is still served
	RefreshAfter time.Duration `yaml:"refresh_after" json:"refresh_after"`
	// MinInterval is the minimum gap between scrapes of the same username
	MinInterval       time.Duration `yaml:"min_interval" json:"min_interval"`
	MaxAttempts       int           `yaml:"max_attempts" json:"max_attempts"`
	BackoffBase       time.Duration `yaml:"backoff_base" json:"backoff_base"`
	MaxPosts          int           `yaml:"max_posts" json:"max_posts"`
	BrowserNavTimeout time.Duration `yaml:"browser_nav_timeout" json:"browser_nav_timeout"`
}

// QueueConfig holds background queue configuration
type QueueConfig struct {
	Workers       int           `yaml:"workers" json:"workers"`
	MaxAttempts   int           `yaml:"max_attempts" json:"max_attempts"`
	BackoffBase   time.Duration `yaml:"backoff_base" json:"backoff_base"`
	KeepCompleted int           `yaml:"keep_completed" json:"keep_completed"`
	KeepFailed    int           `yaml:"keep_failed" json:"keep_failed"`
}

// StoreConfig holds persistent store configuration
type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
	// RetentionDays is how long snapshot history is kept. Rows older
	// than this are pruned after each persisted fetch; zero disables
	// pruning.
	RetentionDays int `yaml:"retention_days" json:"retention_days"`
}

// GraphConfig holds Graph API settings
type GraphConfig struct {
	AppID       string        `yaml:"app_id" json:"app_id"`
	AppSecret   string        `yaml:"app_secret" json:"app_secret"`
	RedirectURI string        `yaml:"redirect_uri" json:"redirect_uri"`
	BaseURL     string        `yaml:"base_url" json:"base_url"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

// TokenConfig holds token encryption settings
type TokenConfig struct {
	// Secret is the passphrase stored tokens are encrypted with.
	// Tokens written under one secret cannot be read under another.
	Secret string `yaml:"secret" json:"secret"`
}

// HTTPConfig holds outbound HTTP client settings
type HTTPConfig struct {
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Scrape: ScrapeConfig{
			CacheTTL:          24 * time.Hour,
			RefreshAfter:      12 * time.Hour,
			MinInterval:       10 * time.Second,
			MaxAttempts:       3,
			BackoffBase:       2 * time.Second,
			MaxPosts:          12,
			BrowserNavTimeout: 30 * time.Second,
		},
		Queue: QueueConfig{
			Workers:       2,
			MaxAttempts:   3,
			BackoffBase:   10 * time.Second,
			KeepCompleted: 100,
			KeepFailed:    50,
		},
		Store: StoreConfig{
			Path:          "igmetrics.db",
			RetentionDays: 365,
		},
		Graph: GraphConfig{
			BaseURL: "https://graph.instagram.com",
			Timeout: 15 * time.Second,
		},
		Token: TokenConfig{},
		HTTP: HTTPConfig{
			Timeout:           20 * time.Second,
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			RequestsPerMinute: 30,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   false,
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	// Store
	if path := os.Getenv("IGMETRICS_STORE_PATH"); path != "" {
		c.Store.Path = path
	}
	if days := os.Getenv("IGMETRICS_RETENTION_DAYS"); days != "" {
		var val int
		fmt.Sscanf(days, "%d", &val)
		if val > 0 {
			c.Store.RetentionDays = val
		}
	}

	// Graph credentials
	if appID := os.Getenv("IGMETRICS_GRAPH_APP_ID"); appID != "" {
		c.Graph.AppID = appID
	}
	if appSecret := os.Getenv("IGMETRICS_GRAPH_APP_SECRET"); appSecret != "" {
		c.Graph.AppSecret = appSecret
	}
	if redirectURI := os.Getenv("IGMETRICS_GRAPH_REDIRECT_URI"); redirectURI != "" {
		c.Graph.RedirectURI = redirectURI
	}

	// Token secret
	if secret := os.Getenv("IGMETRICS_TOKEN_SECRET"); secret != "" {
		c.Token.Secret = secret
	}

	// Scraping
	if ttl := os.Getenv("IGMETRICS_CACHE_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil && d > 0 {
			c.Scrape.CacheTTL = d
		}
	}
	if interval := os.Getenv("IGMETRICS_MIN_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil && d > 0 {
			c.Scrape.MinInterval = d
		}
	}

	// HTTP
	if ua := os.Getenv("IGMETRICS_USER_AGENT"); ua != "" {
		c.HTTP.UserAgent = ua
	}
	if rpm := os.Getenv("IGMETRICS_REQUESTS_PER_MINUTE"); rpm != "" {
		var val int
		fmt.Sscanf(rpm, "%d", &val)
		if val > 0 {
			c.HTTP.RequestsPerMinute = val
		}
	}

	// Queue workers
	if workers := os.Getenv("IGMETRICS_QUEUE_WORKERS"); workers != "" {
		var val int
		fmt.Sscanf(workers, "%d", &val)
		if val > 0 {
			c.Queue.Workers = val
		}
	}

	// Logging level
	if logLevel := os.Getenv("IGMETRICS_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
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
	// Check in order of precedence
	locations := []string{
		".igmetrics.yaml",
		".igmetrics.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "igmetrics", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "igmetrics", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".igmetrics.yaml"),
		filepath.Join(os.Getenv("HOME"), ".igmetrics.yml"),
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

	// Validate scrape settings
	if c.Scrape.CacheTTL <= 0 {
		errs = append(errs, errors.New("cache TTL must be positive"))
	}
	if c.Scrape.RefreshAfter <= 0 || c.Scrape.RefreshAfter > c.Scrape.CacheTTL {
		errs = append(errs, errors.New("refresh threshold must be positive and not exceed cache TTL"))
	}
	if c.Scrape.MinInterval <= 0 {
		errs = append(errs, errors.New("minimum scrape interval must be positive"))
	}
	if c.Scrape.MaxAttempts <= 0 {
		errs = append(errs, errors.New("scrape max attempts must be positive"))
	}
	if c.Scrape.MaxPosts <= 0 {
		errs = append(errs, errors.New("max posts must be positive"))
	}

	// Validate queue settings
	if c.Queue.Workers <= 0 {
		errs = append(errs, errors.New("queue workers must be positive"))
	}
	if c.Queue.Workers > 10 {
		errs = append(errs, errors.New("queue workers should not exceed 10"))
	}
	if c.Queue.MaxAttempts <= 0 {
		errs = append(errs, errors.New("queue max attempts must be positive"))
	}
	if c.Queue.KeepCompleted < 0 || c.Queue.KeepFailed < 0 {
		errs = append(errs, errors.New("queue retention cannot be negative"))
	}

	// Validate store settings
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store path is required"))
	}

	// Validate HTTP settings
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http timeout must be positive"))
	}
	if c.HTTP.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}

	// Validate logging
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

	// Create directory if it doesn't exist
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
	if path, ok := flags["store"].(string); ok && path != "" {
		c.Store.Path = path
	}
	if secret, ok := flags["token-secret"].(string); ok && secret != "" {
		c.Token.Secret = secret
	}
	if workers, ok := flags["workers"].(int); ok && workers > 0 {
		c.Queue.Workers = workers
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".env"))
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".igmetrics.env"))

	// Start with defaults
	config := DefaultConfig()

	// Load from config file
	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Override with command line flags
	config.MergeCommandLineFlags(flags)

	// Validate final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
