package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/muaviaUsmani/plantain/internal/logger"
)

// Redis holds connection settings for the storage adapter.
type Redis struct {
	Host                 string        `mapstructure:"host"`
	Port                 int           `mapstructure:"port"`
	Password             string        `mapstructure:"password"`
	DB                   int           `mapstructure:"db"`
	ConnectTimeout       time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout       time.Duration `mapstructure:"command_timeout"`
	MaxRetriesPerRequest int           `mapstructure:"max_retries_per_request"`
	LazyConnect          bool          `mapstructure:"lazy_connect"`
	EnableOfflineQueue   bool          `mapstructure:"enable_offline_queue"`
	Family               int           `mapstructure:"family"`
	KeepAlive            time.Duration `mapstructure:"keep_alive"`
	PoolSize             int           `mapstructure:"pool_size"`
	MinIdleConns         int           `mapstructure:"min_idle_conns"`
}

// Addr returns the host:port dial address.
func (r Redis) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Cache holds hybrid cache settings.
type Cache struct {
	Enabled      bool          `mapstructure:"enabled"`
	Strategy     string        `mapstructure:"strategy"` // write-through or write-back
	MaxSize      int           `mapstructure:"max_size"`
	TTL          time.Duration `mapstructure:"ttl"`
	SyncInterval time.Duration `mapstructure:"sync_interval"`
}

// EventRateLimit bounds event emission per event type.
type EventRateLimit struct {
	MaxEventsPerSecond int           `mapstructure:"max_events_per_second"`
	WindowSize         time.Duration `mapstructure:"window_size"`
}

// Events holds event bus settings.
type Events struct {
	MaxListeners       int            `mapstructure:"max_listeners"`
	EnableAuditLog     bool           `mapstructure:"enable_audit_log"`
	EnableMetrics      bool           `mapstructure:"enable_metrics"`
	EnableRateLimiting bool           `mapstructure:"enable_rate_limiting"`
	RateLimit          EventRateLimit `mapstructure:"rate_limit"`
}

// Breaker holds circuit breaker settings for the storage adapter.
type Breaker struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	HalfOpenRequests uint32        `mapstructure:"half_open_requests"`
}

// Broker holds lifecycle and background loop settings.
type Broker struct {
	HookTimeout            time.Duration `mapstructure:"hook_timeout"`
	MaxHooksPerOperation   int           `mapstructure:"max_hooks_per_operation"`
	ShutdownTimeout        time.Duration `mapstructure:"shutdown_timeout"`
	SchedulerInterval      time.Duration `mapstructure:"scheduler_interval"`
	TimeoutMonitorInterval time.Duration `mapstructure:"timeout_monitor_interval"`
	CleanupInterval        time.Duration `mapstructure:"cleanup_interval"`
	FailedJobRetention     time.Duration `mapstructure:"failed_job_retention"`
}

// LogFile holds rotating file log settings.
type LogFile struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Logging holds logger settings.
type Logging struct {
	Level  string  `mapstructure:"level"`
	Format string  `mapstructure:"format"`
	File   LogFile `mapstructure:"file"`
}

// LoggerConfig converts the logging section into the logger package's config.
func (l Logging) LoggerConfig() *logger.Config {
	cfg := logger.DefaultConfig()
	cfg.Level = logger.LogLevel(l.Level)
	cfg.Format = logger.LogFormat(l.Format)
	cfg.File.Enabled = l.File.Enabled
	if l.File.Path != "" {
		cfg.File.Path = l.File.Path
	}
	if l.File.MaxSizeMB > 0 {
		cfg.File.MaxSizeMB = l.File.MaxSizeMB
	}
	if l.File.MaxBackups > 0 {
		cfg.File.MaxBackups = l.File.MaxBackups
	}
	if l.File.MaxAgeDays > 0 {
		cfg.File.MaxAgeDays = l.File.MaxAgeDays
	}
	cfg.File.Compress = l.File.Compress
	return cfg
}

// Config is the complete broker configuration tree.
type Config struct {
	Redis   Redis   `mapstructure:"redis"`
	Cache   Cache   `mapstructure:"cache"`
	Events  Events  `mapstructure:"events"`
	Breaker Breaker `mapstructure:"breaker"`
	Broker  Broker  `mapstructure:"broker"`
	Logging Logging `mapstructure:"logging"`
}

func defaultConfig() *Config {
	return &Config{
		Redis: Redis{
			Host:                 "localhost",
			Port:                 6379,
			DB:                   0,
			ConnectTimeout:       10 * time.Second,
			CommandTimeout:       5 * time.Second,
			MaxRetriesPerRequest: 3,
			LazyConnect:          true,
			EnableOfflineQueue:   true,
			Family:               4,
			KeepAlive:            30 * time.Second,
			PoolSize:             10,
			MinIdleConns:         2,
		},
		Cache: Cache{
			Enabled:      true,
			Strategy:     "write-through",
			MaxSize:      1000,
			TTL:          60 * time.Second,
			SyncInterval: 30 * time.Second,
		},
		Events: Events{
			MaxListeners:       100,
			EnableAuditLog:     false,
			EnableMetrics:      false,
			EnableRateLimiting: false,
			RateLimit: EventRateLimit{
				MaxEventsPerSecond: 100,
				WindowSize:         time.Second,
			},
		},
		Breaker: Breaker{
			Enabled:          true,
			FailureThreshold: 5,
			CooldownPeriod:   30 * time.Second,
			HalfOpenRequests: 1,
		},
		Broker: Broker{
			HookTimeout:            5 * time.Second,
			MaxHooksPerOperation:   10,
			ShutdownTimeout:        30 * time.Second,
			SchedulerInterval:      time.Second,
			TimeoutMonitorInterval: time.Second,
			CleanupInterval:        time.Minute,
			FailedJobRetention:     24 * time.Hour,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
			File: LogFile{
				Enabled:    false,
				Path:       "/var/log/plantain/plantain.log",
				MaxSizeMB:  100,
				MaxBackups: 5,
				MaxAgeDays: 30,
				Compress:   true,
			},
		},
	}
}

// Default returns the default configuration.
func Default() *Config {
	return defaultConfig()
}

// Load reads configuration from a YAML file and env overrides. The file is
// optional; env vars use the PLANTAIN_ prefix with underscores, e.g.
// PLANTAIN_REDIS_HOST overrides redis.host.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix("PLANTAIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("redis.host", def.Redis.Host)
	v.SetDefault("redis.port", def.Redis.Port)
	v.SetDefault("redis.password", def.Redis.Password)
	v.SetDefault("redis.db", def.Redis.DB)
	v.SetDefault("redis.connect_timeout", def.Redis.ConnectTimeout)
	v.SetDefault("redis.command_timeout", def.Redis.CommandTimeout)
	v.SetDefault("redis.max_retries_per_request", def.Redis.MaxRetriesPerRequest)
	v.SetDefault("redis.lazy_connect", def.Redis.LazyConnect)
	v.SetDefault("redis.enable_offline_queue", def.Redis.EnableOfflineQueue)
	v.SetDefault("redis.family", def.Redis.Family)
	v.SetDefault("redis.keep_alive", def.Redis.KeepAlive)
	v.SetDefault("redis.pool_size", def.Redis.PoolSize)
	v.SetDefault("redis.min_idle_conns", def.Redis.MinIdleConns)

	v.SetDefault("cache.enabled", def.Cache.Enabled)
	v.SetDefault("cache.strategy", def.Cache.Strategy)
	v.SetDefault("cache.max_size", def.Cache.MaxSize)
	v.SetDefault("cache.ttl", def.Cache.TTL)
	v.SetDefault("cache.sync_interval", def.Cache.SyncInterval)

	v.SetDefault("events.max_listeners", def.Events.MaxListeners)
	v.SetDefault("events.enable_audit_log", def.Events.EnableAuditLog)
	v.SetDefault("events.enable_metrics", def.Events.EnableMetrics)
	v.SetDefault("events.enable_rate_limiting", def.Events.EnableRateLimiting)
	v.SetDefault("events.rate_limit.max_events_per_second", def.Events.RateLimit.MaxEventsPerSecond)
	v.SetDefault("events.rate_limit.window_size", def.Events.RateLimit.WindowSize)

	v.SetDefault("breaker.enabled", def.Breaker.Enabled)
	v.SetDefault("breaker.failure_threshold", def.Breaker.FailureThreshold)
	v.SetDefault("breaker.cooldown_period", def.Breaker.CooldownPeriod)
	v.SetDefault("breaker.half_open_requests", def.Breaker.HalfOpenRequests)

	v.SetDefault("broker.hook_timeout", def.Broker.HookTimeout)
	v.SetDefault("broker.max_hooks_per_operation", def.Broker.MaxHooksPerOperation)
	v.SetDefault("broker.shutdown_timeout", def.Broker.ShutdownTimeout)
	v.SetDefault("broker.scheduler_interval", def.Broker.SchedulerInterval)
	v.SetDefault("broker.timeout_monitor_interval", def.Broker.TimeoutMonitorInterval)
	v.SetDefault("broker.cleanup_interval", def.Broker.CleanupInterval)
	v.SetDefault("broker.failed_job_retention", def.Broker.FailedJobRetention)

	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)
	v.SetDefault("logging.file.enabled", def.Logging.File.Enabled)
	v.SetDefault("logging.file.path", def.Logging.File.Path)
	v.SetDefault("logging.file.max_size_mb", def.Logging.File.MaxSizeMB)
	v.SetDefault("logging.file.max_backups", def.Logging.File.MaxBackups)
	v.SetDefault("logging.file.max_age_days", def.Logging.File.MaxAgeDays)
	v.SetDefault("logging.file.compress", def.Logging.File.Compress)

	// Optional file read
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv builds a configuration from defaults and environment overrides only.
func FromEnv() (*Config, error) {
	return Load("")
}

// Validate checks config constraints and returns an error on invalid settings.
func Validate(cfg *Config) error {
	if cfg.Redis.Host == "" {
		return fmt.Errorf("redis.host must be non-empty")
	}
	if cfg.Redis.Port <= 0 || cfg.Redis.Port > 65535 {
		return fmt.Errorf("redis.port must be 1..65535")
	}
	if cfg.Redis.Family != 4 && cfg.Redis.Family != 6 {
		return fmt.Errorf("redis.family must be 4 or 6")
	}
	if cfg.Cache.Enabled {
		switch cfg.Cache.Strategy {
		case "write-through", "write-back":
		default:
			return fmt.Errorf("cache.strategy must be write-through or write-back, got %q", cfg.Cache.Strategy)
		}
		if cfg.Cache.MaxSize <= 0 {
			return fmt.Errorf("cache.max_size must be > 0")
		}
		if cfg.Cache.TTL <= 0 {
			return fmt.Errorf("cache.ttl must be > 0")
		}
		if cfg.Cache.Strategy == "write-back" && cfg.Cache.SyncInterval <= 0 {
			return fmt.Errorf("cache.sync_interval must be > 0 for write-back")
		}
	}
	if cfg.Events.MaxListeners <= 0 {
		return fmt.Errorf("events.max_listeners must be > 0")
	}
	if cfg.Events.EnableRateLimiting {
		if cfg.Events.RateLimit.MaxEventsPerSecond <= 0 {
			return fmt.Errorf("events.rate_limit.max_events_per_second must be > 0")
		}
		if cfg.Events.RateLimit.WindowSize <= 0 {
			return fmt.Errorf("events.rate_limit.window_size must be > 0")
		}
	}
	if cfg.Broker.HookTimeout <= 0 {
		return fmt.Errorf("broker.hook_timeout must be > 0")
	}
	if cfg.Broker.MaxHooksPerOperation <= 0 {
		return fmt.Errorf("broker.max_hooks_per_operation must be > 0")
	}
	if cfg.Broker.SchedulerInterval <= 0 {
		return fmt.Errorf("broker.scheduler_interval must be > 0")
	}
	return nil
}
