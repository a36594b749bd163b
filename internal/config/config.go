// Package config loads the process-wide settings spec.md §6 calls "host
// configuration" from a YAML file, the same gopkg.in/yaml.v3-backed
// loading style the teacher used for its own application config.
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"raito/internal/procctx"
)

// CrawlerConfig mirrors spec.md §6's process-wide settings:
// crawler_user_agent, crawler_default_delay, crawler_timeout_ms,
// crawler_respect_robots.
type CrawlerConfig struct {
	UserAgent       string  `yaml:"userAgent"`
	DefaultDelaySec float64 `yaml:"defaultDelaySec"`
	TimeoutMs       int     `yaml:"timeoutMs"`
	RespectRobots   bool    `yaml:"respectRobots"`
}

// ProxyConfig mirrors spec.md §6's http_proxy (+ _username, _password)
// process-wide setting.
type ProxyConfig struct {
	Endpoint string `yaml:"endpoint"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// CacheConfig selects and configures the response-cache backend
// (spec.md §4.D): a Postgres-backed table or a Redis-backed TTL'd store.
type CacheConfig struct {
	Backend   string `yaml:"backend"` // "postgres" or "redis"
	TableName string `yaml:"tableName"`
	TTLHours  int    `yaml:"ttlHours"`
}

// DatabaseConfig is the Postgres DSN backing internal/cachestate.PGStore
// when CacheConfig.Backend is "postgres".
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig is the connection string backing internal/cachestate.RedisCache
// when CacheConfig.Backend is "redis".
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Config is the full process-wide configuration document.
type Config struct {
	Crawler  CrawlerConfig  `yaml:"crawler"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Cache    CacheConfig    `yaml:"cache"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
}

// Load reads and decodes the YAML config at path. It exits the process on
// failure, matching the teacher's own fail-fast startup behavior.
func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("config: failed to open %s: %v", path, err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("config: failed to decode %s: %v", path, err)
	}
	return &cfg
}

// Validate performs basic sanity checks so a misconfigured cache backend
// fails fast at startup rather than on the first crawl.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	switch cfg.Cache.Backend {
	case "", "none":
	case "postgres":
		if cfg.Database.DSN == "" {
			return fmt.Errorf("config: cache.backend is postgres but database.dsn is empty")
		}
	case "redis":
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("config: cache.backend is redis but redis.addr is empty")
		}
	default:
		return fmt.Errorf("config: unsupported cache.backend %q", cfg.Cache.Backend)
	}
	return nil
}

// Defaults translates the loaded CrawlerConfig/ProxyConfig into a
// procctx.Defaults, the shape every operator actually consumes.
func (cfg *Config) Defaults() procctx.Defaults {
	d := procctx.Defaults{
		UserAgent:     cfg.Crawler.UserAgent,
		DefaultDelay:  time.Duration(cfg.Crawler.DefaultDelaySec * float64(time.Second)),
		Timeout:       time.Duration(cfg.Crawler.TimeoutMs) * time.Millisecond,
		RespectRobots: cfg.Crawler.RespectRobots,
	}
	if cfg.Proxy.Endpoint != "" {
		d.Proxy = &procctx.ProxyDefaults{
			Endpoint: cfg.Proxy.Endpoint,
			Username: cfg.Proxy.Username,
			Password: cfg.Proxy.Password,
		}
	}
	return d
}
