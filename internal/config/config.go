// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Graph() GraphConfig
	Maintainer() MaintainerConfig
	Distance() DistanceConfig
	Cache() CacheConfig
	Server() ServerConfig
	Metrics() MetricsConfig

	// Setters used by CLI flag overrides.
	SetServerListenAddr(addr string)
	SetGraphRefreshInterval(d time.Duration)
	SetMaintainerWorkers(n int)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	GraphCfg      GraphConfig      `mapstructure:"graph" yaml:"graph"`
	MaintainerCfg MaintainerConfig `mapstructure:"maintainer" yaml:"maintainer"`
	DistanceCfg   DistanceConfig   `mapstructure:"distance" yaml:"distance"`
	CacheCfg      CacheConfig      `mapstructure:"cache" yaml:"cache"`
	ServerCfg     ServerConfig     `mapstructure:"server" yaml:"server"`
	MetricsCfg    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }
func (c *Config) Graph() GraphConfig           { return c.GraphCfg }
func (c *Config) Maintainer() MaintainerConfig { return c.MaintainerCfg }
func (c *Config) Distance() DistanceConfig     { return c.DistanceCfg }
func (c *Config) Cache() CacheConfig           { return c.CacheCfg }
func (c *Config) Server() ServerConfig         { return c.ServerCfg }
func (c *Config) Metrics() MetricsConfig       { return c.MetricsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetServerListenAddr(addr string)         { c.ServerCfg.ListenAddr = addr }
func (c *Config) SetGraphRefreshInterval(d time.Duration) { c.GraphCfg.RefreshInterval = d }
func (c *Config) SetMaintainerWorkers(n int)              { c.MaintainerCfg.Workers = n }

type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
	// ReadChannels bounds how many snapshot queries run at once.
	ReadChannels int   `mapstructure:"read_channels" yaml:"read_channels"`
	MaxConns     int32 `mapstructure:"max_conns" yaml:"max_conns"`
}

// GraphConfig controls the refresh loop and routing limits.
type GraphConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval" yaml:"refresh_interval"`
	// MaxRouteDistance is in meters. Longer routes are never connected.
	MaxRouteDistance float64       `mapstructure:"max_route_distance" yaml:"max_route_distance"`
	ReadyTimeout     time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout"`
}

type MaintainerConfig struct {
	Workers int `mapstructure:"workers" yaml:"workers"`
}

// DistanceConfig configures the OSRM-compatible routing client.
type DistanceConfig struct {
	Endpoint  string        `mapstructure:"endpoint" yaml:"endpoint"`
	Profile   string        `mapstructure:"profile" yaml:"profile"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst     int           `mapstructure:"burst" yaml:"burst"`
	Breaker   BreakerConfig `mapstructure:"breaker" yaml:"breaker"`
}

type BreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests" yaml:"max_requests"`
	Interval         time.Duration `mapstructure:"interval" yaml:"interval"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold" yaml:"failure_threshold"`
}

// CacheConfig configures the optional Redis distance cache.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"password"`
	DB       int           `mapstructure:"db" yaml:"db"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Path      string `mapstructure:"path" yaml:"path"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "depotgraph")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Database --
	v.SetDefault("database.url", "")
	v.SetDefault("database.read_channels", 5)
	v.SetDefault("database.max_conns", 10)

	// -- Graph --
	v.SetDefault("graph.refresh_interval", "1m")
	v.SetDefault("graph.max_route_distance", 300000.0)
	v.SetDefault("graph.ready_timeout", "10s")

	// -- Maintainer --
	v.SetDefault("maintainer.workers", 8)

	// -- Distance --
	v.SetDefault("distance.endpoint", "http://router.project-osrm.org")
	v.SetDefault("distance.profile", "driving")
	v.SetDefault("distance.timeout", "10s")
	v.SetDefault("distance.rate_limit", 5.0)
	v.SetDefault("distance.burst", 5)
	v.SetDefault("distance.breaker.max_requests", 3)
	v.SetDefault("distance.breaker.interval", "1m")
	v.SetDefault("distance.breaker.timeout", "30s")
	v.SetDefault("distance.breaker.failure_threshold", 5)

	// -- Cache --
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", "168h")

	// -- Server --
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// -- Metrics --
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "depotgraph")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets are usually injected by the environment rather than the file.
	_ = v.BindEnv("database.url", "DEPOTGRAPH_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("cache.password", "DEPOTGRAPH_CACHE_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
// database.url is not required here; commands that need the store check it.
func (c *Config) Validate() error {
	if c.DatabaseCfg.ReadChannels <= 0 {
		return fmt.Errorf("database.read_channels must be a positive integer")
	}
	if c.DatabaseCfg.MaxConns < 0 {
		return fmt.Errorf("database.max_conns must not be negative")
	}
	if c.GraphCfg.RefreshInterval <= 0 {
		return fmt.Errorf("graph.refresh_interval must be a positive duration")
	}
	if c.GraphCfg.MaxRouteDistance <= 0 {
		return fmt.Errorf("graph.max_route_distance must be positive")
	}
	if c.GraphCfg.ReadyTimeout <= 0 {
		return fmt.Errorf("graph.ready_timeout must be a positive duration")
	}
	if c.MaintainerCfg.Workers <= 0 {
		return fmt.Errorf("maintainer.workers must be a positive integer")
	}
	if err := c.DistanceCfg.Validate(); err != nil {
		return fmt.Errorf("distance configuration invalid: %w", err)
	}
	if c.CacheCfg.Enabled && c.CacheCfg.Addr == "" {
		return fmt.Errorf("cache.addr is required when the cache is enabled")
	}
	if c.ServerCfg.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	return nil
}

// Validate checks the distance provider settings.
func (d *DistanceConfig) Validate() error {
	u, err := url.Parse(d.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("endpoint %q must be an absolute URL", d.Endpoint)
	}
	if d.Profile == "" {
		return fmt.Errorf("profile is required")
	}
	if d.Timeout <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	if d.RateLimit <= 0 {
		return fmt.Errorf("rate_limit must be positive")
	}
	if d.Burst <= 0 {
		return fmt.Errorf("burst must be a positive integer")
	}
	if d.Breaker.FailureThreshold == 0 {
		return fmt.Errorf("breaker.failure_threshold must be greater than 0")
	}
	return nil
}
