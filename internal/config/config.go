// Package config loads and validates ledger configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/scrape-ledger/internal/crawl"
	"github.com/JakeFAU/scrape-ledger/internal/logging"
	"github.com/JakeFAU/scrape-ledger/internal/ratelimit"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	DB       DBConfig       `mapstructure:"db"`
	Logging  logging.Config `mapstructure:"logging"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Schema   SchemaConfig   `mapstructure:"schema"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Server   ServerConfig   `mapstructure:"server"`
}

// DBConfig selects and tunes the relational store.
type DBConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// CrawlConfig governs the collector.
type CrawlConfig struct {
	Name           string           `mapstructure:"name"`
	UserAgent      string           `mapstructure:"user_agent"`
	RespectRobots  bool             `mapstructure:"respect_robots"`
	Timeout        time.Duration    `mapstructure:"timeout"`
	Delay          time.Duration    `mapstructure:"delay"`
	AllowedDomains []string         `mapstructure:"allowed_domains"`
	Seeds          []crawl.Seed     `mapstructure:"seeds"`
	Resume         bool             `mapstructure:"resume"`
	RateLimit      ratelimit.Config `mapstructure:"rate_limit"`
}

// SchemaConfig points at optional YAML entity definitions.
type SchemaConfig struct {
	Path string `mapstructure:"path"`
}

// PipelineConfig controls record processing.
type PipelineConfig struct {
	Dedup  bool `mapstructure:"dedup"`
	Strict bool `mapstructure:"strict"`
	// Transforms lists the named transforms enabled per entity, in order.
	Transforms map[string][]string `mapstructure:"transforms"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	// APIKey, when set, is required on /v1 routes.
	APIKey          string        `mapstructure:"api_key"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEDGER")
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
	cfg.DB.Driver = strings.ToLower(strings.TrimSpace(cfg.DB.Driver))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.driver", DriverSQLite)
	v.SetDefault("db.dsn", "ledger.db")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("db.busy_timeout", 5*time.Second)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("crawl.name", "steam")
	v.SetDefault("crawl.user_agent", "scrape-ledger/0.1")
	v.SetDefault("crawl.respect_robots", true)
	v.SetDefault("crawl.timeout", 15*time.Second)
	v.SetDefault("crawl.delay", time.Second)
	v.SetDefault("crawl.allowed_domains", []string{"store.steampowered.com"})
	v.SetDefault("crawl.resume", true)
	v.SetDefault("crawl.rate_limit.rps", 2.0)
	v.SetDefault("crawl.rate_limit.burst", 1)
	v.SetDefault("pipeline.dedup", true)
	v.SetDefault("pipeline.strict", false)
	v.SetDefault("pipeline.transforms", map[string][]string{"game": {"strip_unicode_name"}})
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.DB.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("db.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.DB.Driver)
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.DB.MaxConns < 0 || c.DB.MinConns < 0 {
		return fmt.Errorf("db pool sizes must be >= 0")
	}
	if c.DB.MaxConns > 0 && c.DB.MinConns > c.DB.MaxConns {
		return fmt.Errorf("db.min_conns must not exceed db.max_conns")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Crawl.Name == "" {
		return fmt.Errorf("crawl.name is required")
	}
	if c.Crawl.Timeout <= 0 {
		return fmt.Errorf("crawl.timeout must be > 0")
	}
	if c.Crawl.Delay < 0 {
		return fmt.Errorf("crawl.delay must be >= 0")
	}
	if c.Crawl.RateLimit.RPS < 0 || c.Crawl.RateLimit.Burst < 0 {
		return fmt.Errorf("crawl.rate_limit values must be >= 0")
	}
	for i, seed := range c.Crawl.Seeds {
		if strings.TrimSpace(seed.URL) == "" {
			return fmt.Errorf("crawl.seeds[%d].url is required", i)
		}
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// CrawlerConfig converts the crawl section into the collector's settings.
func (c Config) CrawlerConfig() crawl.Config {
	return crawl.Config{
		CrawlName:      c.Crawl.Name,
		UserAgent:      c.Crawl.UserAgent,
		RespectRobots:  c.Crawl.RespectRobots,
		Timeout:        c.Crawl.Timeout,
		Delay:          c.Crawl.Delay,
		AllowedDomains: append([]string(nil), c.Crawl.AllowedDomains...),
		Seeds:          append([]crawl.Seed(nil), c.Crawl.Seeds...),
		Resume:         c.Crawl.Resume,
	}
}
