package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Exchange  Exchange  `mapstructure:"exchange"`
	Scheduler Scheduler `mapstructure:"scheduler"`
	Trading   Trading   `mapstructure:"trading"`
	Logger    Logger    `mapstructure:"logger"`
	Notifier  Notifier  `mapstructure:"notifier"`
	Database  Database  `mapstructure:"database"`
}

// Exchange holds the configuration for the exchange REST API.
type Exchange struct {
	ApiKey         string  `mapstructure:"apiKey"`
	SecretKey      string  `mapstructure:"secretKey"`
	BaseURL        string  `mapstructure:"base_url"`
	TestnetBaseURL string  `mapstructure:"testnet_base_url"`
	Testnet        bool    `mapstructure:"testnet"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Scheduler holds the configuration for the multi-bot monitor loop.
type Scheduler struct {
	TickInterval    int `mapstructure:"tick_interval"`    // seconds between passes
	WorkerLimit     int `mapstructure:"worker_limit"`     // max concurrent (bot, pair) tasks
	ShutdownTimeout int `mapstructure:"shutdown_timeout"` // seconds to wait for in-flight orders
}

// Trading holds cross-bot trading defaults.
type Trading struct {
	ReferenceCurrency string  `mapstructure:"reference_currency"` // e.g. "USD"
	CacheTTL          int     `mapstructure:"cache_ttl"`          // market-data cache TTL in seconds
	FeeRate           float64 `mapstructure:"fee_rate"`
	DryRun            bool    `mapstructure:"dry_run"`
}

// Notifier holds the configuration for the fill-event websocket stream.
type Notifier struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"` // when set, logs also rotate into this file
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// TickDuration returns the scheduler tick interval as a duration.
func (s Scheduler) TickDuration() time.Duration {
	return time.Duration(s.TickInterval) * time.Second
}

// ShutdownDuration returns the graceful-drain timeout as a duration.
func (s Scheduler) ShutdownDuration() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}

// CacheTTLDuration returns the market-data cache TTL as a duration.
func (t Trading) CacheTTLDuration() time.Duration {
	return time.Duration(t.CacheTTL) * time.Second
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("exchange.rate_limit", 20)      // requests per second
	viper.SetDefault("exchange.rate_limit_burst", 5) // burst size
	viper.SetDefault("scheduler.tick_interval", 10)
	viper.SetDefault("scheduler.worker_limit", 8)
	viper.SetDefault("scheduler.shutdown_timeout", 30)
	viper.SetDefault("trading.reference_currency", "USD")
	viper.SetDefault("trading.cache_ttl", 5)
	viper.SetDefault("logger.max_size_mb", 50)
	viper.SetDefault("logger.max_backups", 5)
	viper.SetDefault("logger.max_age_days", 14)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
