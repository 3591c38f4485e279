// Package config provides configuration management for the collector and dashboard.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"fedspend/internal/crawler/groups"
	"fedspend/pkg/utils"
)

// Configuration validation errors.
var (
	ErrMissingBaseURL          = errors.New("api.base_url is required")
	ErrInvalidBaseURL          = errors.New("api.base_url must be an http(s) URL")
	ErrInvalidTimeout          = errors.New("api.timeout_sec must be at least 1")
	ErrInvalidPageSize         = errors.New("collection.page_size must be between 1 and 100")
	ErrInvalidMaxPages         = errors.New("collection.max_pages must be at least 1")
	ErrInvalidLimit            = errors.New("collection.limit must be at least 1")
	ErrInvalidDelay            = errors.New("collection.delay_ms must be non-negative")
	ErrInvalidFailureLimit     = errors.New("collection.max_consecutive_failures must be at least 1")
	ErrUnknownAwardGroup       = errors.New("collection.award_group is not a known award group")
	ErrUnknownFallbackGroup    = errors.New("collection.fallback_group is not a known award group")
	ErrInvalidTimePeriod       = errors.New("collection.start_date and end_date must be YYYY-MM-DD with start <= end")
	ErrInvalidLossRatio        = errors.New("cleaning.loss_warning_ratio must be between 0 and 1")
	ErrInvalidCriticalRatio    = errors.New("quality.max_critical_ratio must be between 0 and 1")
	ErrInvalidImplausible      = errors.New("quality.implausible_amount must be positive")
	ErrMissingDataDir          = errors.New("storage.data_dir is required")
	ErrMissingFilePrefix       = errors.New("storage.file_prefix is required")
	ErrInvalidBackupRetention  = errors.New("storage.backup_retention must be at least 1")
	ErrInvalidSinkBatch        = errors.New("sink.batch_size must be at least 1")
	ErrInvalidLogLevel         = errors.New("logging.level must be one of: debug, info, warn, error")
	ErrInvalidLogFormat        = errors.New("logging.format must be 'text' or 'json'")
	ErrMissingDashboardAddr    = errors.New("dashboard.addr is required")
	ErrInvalidCacheThreshold   = errors.New("dashboard.cache_threshold must be non-negative")
	ErrInvalidDashboardRate    = errors.New("dashboard.rate_per_sec must be positive")
	ErrInvalidDashboardPageMax = errors.New("dashboard.max_page_size must be at least 1")
)

const dateLayout = "2006-01-02"

// Config represents the complete application configuration.
type Config struct {
	Collector CollectorConfig `yaml:"collector"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// CollectorConfig contains collector-specific settings.
type CollectorConfig struct {
	API        APIConfig        `yaml:"api"`
	Collection CollectionConfig `yaml:"collection"`
	Cleaning   CleaningConfig   `yaml:"cleaning"`
	Quality    QualityConfig    `yaml:"quality"`
	Storage    StorageConfig    `yaml:"storage"`
	Sink       SinkConfig       `yaml:"sink"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// APIConfig defines how the search endpoint is reached.
type APIConfig struct {
	BaseURL    string `yaml:"base_url"`
	UserAgent  string `yaml:"user_agent"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// CollectionConfig defines pagination and award group selection.
type CollectionConfig struct {
	AwardGroup             string `yaml:"award_group"`
	FallbackGroup          string `yaml:"fallback_group"`
	StartDate              string `yaml:"start_date"`
	EndDate                string `yaml:"end_date"`
	Limit                  int    `yaml:"limit"`
	PageSize               int    `yaml:"page_size"`
	MaxPages               int    `yaml:"max_pages"`
	DelayMs                int    `yaml:"delay_ms"`
	MaxConsecutiveFailures int    `yaml:"max_consecutive_failures"`
	LimitPerGroup          int    `yaml:"limit_per_group"`
}

// CleaningConfig holds cleaner policy.
type CleaningConfig struct {
	LossWarningRatio float64 `yaml:"loss_warning_ratio"`
}

// QualityConfig holds quality gate thresholds.
type QualityConfig struct {
	MaxCriticalRatio  float64 `yaml:"max_critical_ratio"`
	ImplausibleAmount float64 `yaml:"implausible_amount"`
}

// StorageConfig defines where snapshots are written.
type StorageConfig struct {
	DataDir         string `yaml:"data_dir"`
	FilePrefix      string `yaml:"file_prefix"`
	HistoryDB       string `yaml:"history_db"`
	BackupRetention int    `yaml:"backup_retention"`
	MinFreeMB       int    `yaml:"min_free_mb"`
}

// HistoryPath returns the run history database path, defaulting to the data dir.
func (s *StorageConfig) HistoryPath() string {
	if s.HistoryDB != "" {
		return s.HistoryDB
	}

	return filepath.Join(s.DataDir, "history.db")
}

// SinkConfig configures the optional Postgres sink.
type SinkConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	Schema      string `yaml:"schema"`
	BatchSize   int    `yaml:"batch_size"`
	MaxConns    int    `yaml:"max_conns"`
}

// Enabled reports whether a DSN is configured.
func (s *SinkConfig) Enabled() bool {
	return strings.TrimSpace(s.PostgresDSN) != ""
}

var dsnPassword = regexp.MustCompile(`(password\s*=\s*)('[^']*'|\S+)`)

// RedactedDSN returns the DSN with any password masked, in URL or
// key=value form.
func (s *SinkConfig) RedactedDSN() string {
	if u, err := url.Parse(s.PostgresDSN); err == nil && u.Scheme != "" {
		return u.Redacted()
	}

	return dsnPassword.ReplaceAllString(s.PostgresDSN, "${1}xxxxx")
}

// Redacted returns a copy of the config that is safe to print.
func (c *Config) Redacted() *Config {
	cp := *c
	cp.Collector.Sink.PostgresDSN = c.Collector.Sink.RedactedDSN()

	return &cp
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DashboardConfig configures the query API server.
type DashboardConfig struct {
	Addr           string  `yaml:"addr"`
	CacheThreshold int     `yaml:"cache_threshold"`
	CacheTTLSec    int     `yaml:"cache_ttl_sec"`
	RatePerSec     float64 `yaml:"rate_per_sec"`
	RateBurst      int     `yaml:"rate_burst"`
	MaxPageSize    int     `yaml:"max_page_size"`
}

// DefaultConfig returns the built-in configuration for fiscal year 2024 contracts.
func DefaultConfig() *Config {
	return &Config{
		Collector: CollectorConfig{
			API: APIConfig{
				BaseURL:    "https://api.usaspending.gov/api/v2",
				UserAgent:  "fedspend-collector/1.0",
				TimeoutSec: 90,
			},
			Collection: CollectionConfig{
				AwardGroup:             "contracts",
				FallbackGroup:          "grants",
				StartDate:              "2023-10-01",
				EndDate:                "2024-09-30",
				Limit:                  1000,
				PageSize:               100,
				MaxPages:               2000,
				DelayMs:                1000,
				MaxConsecutiveFailures: 5,
				LimitPerGroup:          10,
			},
			Cleaning: CleaningConfig{
				LossWarningRatio: 0.5,
			},
			Quality: QualityConfig{
				MaxCriticalRatio:  0.1,
				ImplausibleAmount: 1e12,
			},
			Storage: StorageConfig{
				DataDir:         "data",
				FilePrefix:      "spending_data_useful",
				BackupRetention: 10,
				MinFreeMB:       100,
			},
			Sink: SinkConfig{
				Schema:    "public",
				BatchSize: 200,
				MaxConns:  2,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "text",
			},
		},
		Dashboard: DashboardConfig{
			Addr:           ":8080",
			CacheThreshold: 10000,
			CacheTTLSec:    900,
			RatePerSec:     10,
			RateBurst:      30,
			MaxPageSize:    1000,
		},
	}
}

// LoadConfig loads configuration from a YAML file layered over the defaults,
// then applies environment overrides. An empty path uses defaults only.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	cfg.ApplyEnv()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads a .env file into the process environment if present.
// Variables already set are not overridden.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	var existing []string

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}

	if len(existing) == 0 {
		return nil
	}

	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	return nil
}

// ApplyEnv overrides selected settings from FEDSPEND_* environment variables.
func (c *Config) ApplyEnv() {
	c.Collector.API.BaseURL = getEnv("FEDSPEND_API_BASE_URL", c.Collector.API.BaseURL)
	c.Collector.Storage.DataDir = getEnv("FEDSPEND_DATA_DIR", c.Collector.Storage.DataDir)
	c.Collector.Storage.HistoryDB = getEnv("FEDSPEND_HISTORY_DB", c.Collector.Storage.HistoryDB)
	c.Collector.Sink.PostgresDSN = getEnv("FEDSPEND_PG_DSN", c.Collector.Sink.PostgresDSN)
	c.Collector.Logging.Level = getEnv("FEDSPEND_LOG_LEVEL", c.Collector.Logging.Level)
	c.Collector.Collection.AwardGroup = getEnv("FEDSPEND_AWARD_GROUP", c.Collector.Collection.AwardGroup)
	c.Collector.Collection.Limit = getEnvAsInt("FEDSPEND_LIMIT", c.Collector.Collection.Limit)
	c.Dashboard.Addr = getEnv("FEDSPEND_DASHBOARD_ADDR", c.Dashboard.Addr)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}

	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}

	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}

	return fallback
}

// SaveConfig saves configuration to YAML file.
func (c *Config) SaveConfig(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	api := c.Collector.API

	if api.BaseURL == "" {
		return ErrMissingBaseURL
	}

	if !utils.NewHTTPHelper().IsValidURL(api.BaseURL) {
		return fmt.Errorf("%w: %s", ErrInvalidBaseURL, api.BaseURL)
	}

	if api.TimeoutSec < 1 {
		return ErrInvalidTimeout
	}

	if err := c.validateCollection(); err != nil {
		return err
	}

	if r := c.Collector.Cleaning.LossWarningRatio; r < 0 || r > 1 {
		return ErrInvalidLossRatio
	}

	if r := c.Collector.Quality.MaxCriticalRatio; r < 0 || r > 1 {
		return ErrInvalidCriticalRatio
	}

	if c.Collector.Quality.ImplausibleAmount <= 0 {
		return ErrInvalidImplausible
	}

	// Validate storage config
	st := c.Collector.Storage
	if st.DataDir == "" {
		return ErrMissingDataDir
	}

	if st.FilePrefix == "" {
		return ErrMissingFilePrefix
	}

	if st.BackupRetention < 1 {
		return ErrInvalidBackupRetention
	}

	if c.Collector.Sink.Enabled() && c.Collector.Sink.BatchSize < 1 {
		return ErrInvalidSinkBatch
	}

	// Validate logging config
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Collector.Logging.Level] {
		return ErrInvalidLogLevel
	}

	if f := c.Collector.Logging.Format; f != "text" && f != "json" {
		return ErrInvalidLogFormat
	}

	return c.validateDashboard()
}

func (c *Config) validateCollection() error {
	col := c.Collector.Collection

	if col.PageSize < 1 || col.PageSize > 100 {
		return ErrInvalidPageSize
	}

	if col.MaxPages < 1 {
		return ErrInvalidMaxPages
	}

	if col.Limit < 1 {
		return ErrInvalidLimit
	}

	if col.DelayMs < 0 {
		return ErrInvalidDelay
	}

	if col.MaxConsecutiveFailures < 1 {
		return ErrInvalidFailureLimit
	}

	if _, ok := groups.Lookup(col.AwardGroup); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAwardGroup, col.AwardGroup)
	}

	if col.FallbackGroup != "" {
		if _, ok := groups.Lookup(col.FallbackGroup); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownFallbackGroup, col.FallbackGroup)
		}
	}

	start, err := time.Parse(dateLayout, col.StartDate)
	if err != nil {
		return ErrInvalidTimePeriod
	}

	end, err := time.Parse(dateLayout, col.EndDate)
	if err != nil || end.Before(start) {
		return ErrInvalidTimePeriod
	}

	return nil
}

func (c *Config) validateDashboard() error {
	d := c.Dashboard

	if d.Addr == "" {
		return ErrMissingDashboardAddr
	}

	if d.CacheThreshold < 0 {
		return ErrInvalidCacheThreshold
	}

	if d.RatePerSec <= 0 {
		return ErrInvalidDashboardRate
	}

	if d.MaxPageSize < 1 {
		return ErrInvalidDashboardPageMax
	}

	return nil
}

// GetTimeout returns the per-request timeout.
func (a *APIConfig) GetTimeout() time.Duration {
	return time.Duration(a.TimeoutSec) * time.Second
}

// GetDelay returns the minimum spacing between page requests.
func (c *CollectionConfig) GetDelay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

// GetCacheTTL returns the dashboard cache expiry.
func (d *DashboardConfig) GetCacheTTL() time.Duration {
	return time.Duration(d.CacheTTLSec) * time.Second
}

// String returns a string representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Group: %s, Limit: %d, DataDir: %s, Sink: %t}",
		c.Collector.Collection.AwardGroup,
		c.Collector.Collection.Limit,
		c.Collector.Storage.DataDir,
		c.Collector.Sink.Enabled(),
	)
}
