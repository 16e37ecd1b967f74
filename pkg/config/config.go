package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/flock/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Cache         CacheConfig         `yaml:"cache"`
	Notify        NotifyConfig        `yaml:"notify"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	HealthPort      string        `yaml:"health_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RateLimitPerMinute caps requests per tenant; 0 disables limiting
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	// EnforcePermissions guards RBAC administration routes with the
	// caller's effective permissions
	EnforcePermissions bool `yaml:"enforce_permissions"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig selects the SQL backend
type DatabaseConfig struct {
	Driver              string        `yaml:"driver"` // postgres or sqlite3
	URL                 string        `yaml:"url"`
	ReplicaURLs         string        `yaml:"replica_urls"`
	MaxConns            int           `yaml:"max_conns"`
	MinConns            int           `yaml:"min_conns"`
	Timeout             time.Duration `yaml:"timeout"`
	MaxLifetime         time.Duration `yaml:"max_lifetime"`
	MaxIdleTime         time.Duration `yaml:"max_idle_time"`
	MigrateOnStart      bool          `yaml:"migrate_on_start"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// RedisConfig is optional. An empty URL disables every Redis-backed feature.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Enabled reports whether a Redis URL is configured
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// CacheConfig controls the effective-permission cache
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	L1Size  int           `yaml:"l1_size"`
	L1TTL   time.Duration `yaml:"l1_ttl"`
	L2TTL   time.Duration `yaml:"l2_ttl"`
}

// Notification modes
const (
	NotifyModeLog     = "log"
	NotifyModeRedis   = "redis"
	NotifyModeWebhook = "webhook"
	NotifyModeNone    = "none"
)

// NotifyConfig controls membership-created notifications
type NotifyConfig struct {
	Mode    string        `yaml:"mode"`
	Channel string        `yaml:"channel"`
	Workers int           `yaml:"workers"`
	Timeout time.Duration `yaml:"timeout"`

	WebhookURL         string `yaml:"webhook_url"`
	WebhookSecret      string `yaml:"webhook_secret"`
	WebhookMaxAttempts int    `yaml:"webhook_max_attempts"`
}

// SchedulerConfig controls background jobs
type SchedulerConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ExpirySweepCron   string `yaml:"expiry_sweep_cron"`
	AnalyticsSnapshot string `yaml:"analytics_snapshot"`
	AuditPurgeCron    string `yaml:"audit_purge_cron"`

	// AuditRetention is how long audit events are kept; 0 keeps them forever
	AuditRetention time.Duration `yaml:"audit_retention"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLevel(o.LogLevel)
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			HealthPort:      "9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:              "sqlite3",
			URL:                 "flock.db",
			MaxConns:            20,
			MinConns:            5,
			Timeout:             5 * time.Second,
			MaxLifetime:         30 * time.Minute,
			MaxIdleTime:         5 * time.Minute,
			MigrateOnStart:      true,
			HealthCheckInterval: 30 * time.Second,
		},
		Redis: RedisConfig{
			MaxRetries:   3,
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			L1Size:  1000,
			L1TTL:   30 * time.Second,
			L2TTL:   5 * time.Minute,
		},
		Notify: NotifyConfig{
			Mode:    NotifyModeLog,
			Channel: "flock:membership",
			Workers: 4,
			Timeout: 10 * time.Second,

			WebhookMaxAttempts: 5,
		},
		Scheduler: SchedulerConfig{
			Enabled:           true,
			ExpirySweepCron:   "*/5 * * * *",
			AnalyticsSnapshot: "@hourly",
			AuditPurgeCron:    "30 3 * * *",
			AuditRetention:    90 * 24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "flock",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig loads defaults, then the YAML file named by FLOCK_CONFIG_FILE
// (if any), then FLOCK_* environment overrides
func LoadConfig() (*Config, error) {
	return Load(os.Getenv("FLOCK_CONFIG_FILE"))
}

// Load is LoadConfig with an explicit file path. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("FLOCK_HOST", s.Host)
	s.Port = getEnv("FLOCK_PORT", s.Port)
	s.HealthPort = getEnv("FLOCK_HEALTH_PORT", s.HealthPort)
	s.ReadTimeout = getEnvDuration("FLOCK_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("FLOCK_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("FLOCK_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("FLOCK_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.RateLimitPerMinute = getEnvInt("FLOCK_RATE_LIMIT_PER_MINUTE", s.RateLimitPerMinute)
	s.EnforcePermissions = getEnvBool("FLOCK_ENFORCE_PERMISSIONS", s.EnforcePermissions)

	d := &c.Database
	d.Driver = getEnv("FLOCK_DB_DRIVER", d.Driver)
	d.URL = getEnv("FLOCK_DB_URL", d.URL)
	d.ReplicaURLs = getEnv("FLOCK_DB_REPLICA_URLS", d.ReplicaURLs)
	d.MaxConns = getEnvInt("FLOCK_DB_MAX_CONNS", d.MaxConns)
	d.MinConns = getEnvInt("FLOCK_DB_MIN_CONNS", d.MinConns)
	d.Timeout = getEnvDuration("FLOCK_DB_TIMEOUT", d.Timeout)
	d.MigrateOnStart = getEnvBool("FLOCK_DB_MIGRATE_ON_START", d.MigrateOnStart)
	d.HealthCheckInterval = getEnvDuration("FLOCK_DB_HEALTH_CHECK_INTERVAL", d.HealthCheckInterval)

	r := &c.Redis
	r.URL = getEnv("FLOCK_REDIS_URL", r.URL)
	r.Password = getEnv("FLOCK_REDIS_PASSWORD", r.Password)
	r.DB = getEnvInt("FLOCK_REDIS_DB", r.DB)
	r.MaxRetries = getEnvInt("FLOCK_REDIS_MAX_RETRIES", r.MaxRetries)
	r.PoolSize = getEnvInt("FLOCK_REDIS_POOL_SIZE", r.PoolSize)

	k := &c.Cache
	k.Enabled = getEnvBool("FLOCK_CACHE_ENABLED", k.Enabled)
	k.L1Size = getEnvInt("FLOCK_CACHE_L1_SIZE", k.L1Size)
	k.L1TTL = getEnvDuration("FLOCK_CACHE_L1_TTL", k.L1TTL)
	k.L2TTL = getEnvDuration("FLOCK_CACHE_L2_TTL", k.L2TTL)

	n := &c.Notify
	n.Mode = strings.ToLower(getEnv("FLOCK_NOTIFY_MODE", n.Mode))
	n.Channel = getEnv("FLOCK_NOTIFY_CHANNEL", n.Channel)
	n.Workers = getEnvInt("FLOCK_NOTIFY_WORKERS", n.Workers)
	n.Timeout = getEnvDuration("FLOCK_NOTIFY_TIMEOUT", n.Timeout)
	n.WebhookURL = getEnv("FLOCK_NOTIFY_WEBHOOK_URL", n.WebhookURL)
	n.WebhookSecret = getEnv("FLOCK_NOTIFY_WEBHOOK_SECRET", n.WebhookSecret)
	n.WebhookMaxAttempts = getEnvInt("FLOCK_NOTIFY_WEBHOOK_MAX_ATTEMPTS", n.WebhookMaxAttempts)

	j := &c.Scheduler
	j.Enabled = getEnvBool("FLOCK_SCHEDULER_ENABLED", j.Enabled)
	j.ExpirySweepCron = getEnv("FLOCK_SCHEDULER_EXPIRY_SWEEP", j.ExpirySweepCron)
	j.AnalyticsSnapshot = getEnv("FLOCK_SCHEDULER_ANALYTICS_SNAPSHOT", j.AnalyticsSnapshot)
	j.AuditPurgeCron = getEnv("FLOCK_SCHEDULER_AUDIT_PURGE", j.AuditPurgeCron)
	j.AuditRetention = getEnvDuration("FLOCK_AUDIT_RETENTION", j.AuditRetention)

	o := &c.Observability
	o.LogLevel = getEnv("FLOCK_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("FLOCK_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("FLOCK_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("FLOCK_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("FLOCK_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("FLOCK_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("FLOCK_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("FLOCK_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate limit per minute cannot be negative")
	}

	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Database.Driver == "postgres" && c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("database max conns (%d) must be >= min conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	if c.Cache.Enabled && c.Cache.L1Size <= 0 {
		return fmt.Errorf("cache l1 size must be positive when the cache is enabled")
	}

	switch c.Notify.Mode {
	case NotifyModeLog, NotifyModeNone:
	case NotifyModeRedis:
		if !c.Redis.Enabled() {
			return fmt.Errorf("redis URL is required for redis notifications")
		}
		if c.Notify.Channel == "" {
			return fmt.Errorf("notify channel is required for redis notifications")
		}
	case NotifyModeWebhook:
		if c.Notify.WebhookURL == "" {
			return fmt.Errorf("webhook URL is required for webhook notifications")
		}
	default:
		return fmt.Errorf("invalid notify mode: %s (must be log, redis, webhook, or none)", c.Notify.Mode)
	}
	if c.Notify.Workers < 0 {
		return fmt.Errorf("notify workers must not be negative")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
