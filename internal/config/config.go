// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Serp    SerpConfig    `mapstructure:"serp"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// RedisConfig locates the queue backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SerpConfig configures the search provider client.
type SerpConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	MaxPages       int    `mapstructure:"max_pages"`
	PerPage        int    `mapstructure:"per_page"`
	PageDelayMs    int    `mapstructure:"page_delay_ms"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// WorkerConfig governs the rank-check worker pool.
type WorkerConfig struct {
	Concurrency        int `mapstructure:"concurrency"`
	RetryCooldownMs    int `mapstructure:"retry_cooldown_ms"`
	PolitenessBaseMs   int `mapstructure:"politeness_base_ms"`
	PolitenessJitterMs int `mapstructure:"politeness_jitter_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RANKWATCH")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("serp.endpoint", "https://google.serper.dev/search")
	v.SetDefault("serp.max_pages", 10)
	v.SetDefault("serp.per_page", 10)
	v.SetDefault("serp.page_delay_ms", 500)
	v.SetDefault("serp.timeout_seconds", 30)
	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.retry_cooldown_ms", 3000)
	v.SetDefault("worker.politeness_base_ms", 1200)
	v.SetDefault("worker.politeness_jitter_ms", 800)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set")
	}
	if c.Serp.APIKey == "" {
		return fmt.Errorf("serp.api_key must be set")
	}
	if c.Serp.MaxPages <= 0 || c.Serp.MaxPages > 10 {
		return fmt.Errorf("serp.max_pages must be between 1 and 10")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	return nil
}

// ServerTimeout converts the request timeout config to a duration.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// PageDelay converts the serp inter-page pacing config to a duration.
func (c Config) PageDelay() time.Duration {
	return time.Duration(c.Serp.PageDelayMs) * time.Millisecond
}

// SerpTimeout converts the provider request timeout config to a duration.
func (c Config) SerpTimeout() time.Duration {
	return time.Duration(c.Serp.TimeoutSeconds) * time.Second
}

// RetryCooldown converts the empty-result cooldown config to a duration.
func (c Config) RetryCooldown() time.Duration {
	return time.Duration(c.Worker.RetryCooldownMs) * time.Millisecond
}

// PolitenessBase converts the inter-job pause config to a duration.
func (c Config) PolitenessBase() time.Duration {
	return time.Duration(c.Worker.PolitenessBaseMs) * time.Millisecond
}

// PolitenessJitter converts the inter-job pause jitter config to a duration.
func (c Config) PolitenessJitter() time.Duration {
	return time.Duration(c.Worker.PolitenessJitterMs) * time.Millisecond
}
