// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers accepted by store.driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Interrupt InterruptConfig `mapstructure:"interrupt"`
}

// ServerConfig controls the read-only report API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs the catalog traversal.
type CrawlerConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	WikiPath          string        `mapstructure:"wiki_path"`
	CategoryPrefix    string        `mapstructure:"category_prefix"`
	ComposersPage     string        `mapstructure:"composers_page"`
	UserAgent         string        `mapstructure:"user_agent"`
	ExcludeNames      []string      `mapstructure:"exclude_names"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	RobotsCacheTTL    time.Duration `mapstructure:"robots_cache_ttl"`
	// MetricsAddr is where crawl exposes /metrics while it runs. Empty disables it.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// StoreConfig selects and configures the relational backend.
type StoreConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
	DSN        string `mapstructure:"dsn"`
	MaxConns   int32  `mapstructure:"max_conns"`
	// MaxConnLifetime recycles pooled postgres connections. Zero keeps the pgx default.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// InterruptConfig controls how termination signals are handled.
type InterruptConfig struct {
	Confirm bool `mapstructure:"confirm"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARMONY")
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
	v.SetDefault("server.port", 8050)
	v.SetDefault("crawler.base_url", "https://imslp.org/")
	v.SetDefault("crawler.wiki_path", "wiki/")
	v.SetDefault("crawler.category_prefix", "Category:")
	v.SetDefault("crawler.composers_page", "Composers#fcfrom:Top")
	v.SetDefault("crawler.user_agent", "harmony-crawler/0.1")
	v.SetDefault("crawler.exclude_names", []string{"collections", "various", "traditional"})
	v.SetDefault("crawler.request_timeout", 0)
	v.SetDefault("crawler.requests_per_second", 0)
	v.SetDefault("crawler.robots_cache_ttl", 0)
	v.SetDefault("crawler.metrics_addr", ":2112")
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.sqlite_path", "database/harmony.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.max_conn_lifetime", 0)
	v.SetDefault("logging.development", true)
	v.SetDefault("interrupt.confirm", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	base, err := url.Parse(c.Crawler.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("crawler.base_url must be an absolute URL")
	}
	if c.Crawler.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.Crawler.RequestTimeout < 0 {
		return fmt.Errorf("crawler.request_timeout must be >= 0")
	}
	if c.Crawler.RequestsPerSecond < 0 {
		return fmt.Errorf("crawler.requests_per_second must be >= 0")
	}
	if c.Crawler.RobotsCacheTTL < 0 {
		return fmt.Errorf("crawler.robots_cache_ttl must be >= 0")
	}
	if c.Crawler.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.Crawler.MetricsAddr); err != nil {
			return fmt.Errorf("crawler.metrics_addr must be host:port: %w", err)
		}
	}
	if c.Store.MaxConnLifetime < 0 {
		return fmt.Errorf("store.max_conn_lifetime must be >= 0")
	}
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path must be set for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	return nil
}
