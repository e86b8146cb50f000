package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. MUSICBOX_SERVER_PORT.
const EnvPrefix = "MUSICBOX"

// AppConfig represents the main application configuration
type AppConfig struct {
	Server    ServerConfig    `mapstructure:"server"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	StaticDir    string        `mapstructure:"static_dir"`
}

// CORSConfig represents cross-origin settings for the API
type CORSConfig struct {
	AllowOrigins     []string `mapstructure:"allow_origins"`
	AllowMethods     []string `mapstructure:"allow_methods"`
	AllowHeaders     []string `mapstructure:"allow_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// DatabaseConfig selects and tunes the record store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite | postgres
	Path            string        `mapstructure:"path"`   // sqlite file
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// StorageConfig selects the blob backend.
type StorageConfig struct {
	Backend string     `mapstructure:"backend"` // disk | s3 | memory
	Disk    DiskConfig `mapstructure:"disk"`
	S3      S3Config   `mapstructure:"s3"`
}

// DiskConfig stores blobs under Root and serves them from PublicBaseURL.
type DiskConfig struct {
	Root          string `mapstructure:"root"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// S3Config targets any S3-compatible bucket, including Cloudflare R2.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	PublicURL       string `mapstructure:"public_url"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// UploadConfig bounds what the upload endpoint accepts.
type UploadConfig struct {
	MaxBytes       int64    `mapstructure:"max_bytes"`
	AllowedFormats []string `mapstructure:"allowed_formats"`
}

// CatalogConfig holds catalog policy.
type CatalogConfig struct {
	ReservedPlaylist string `mapstructure:"reserved_playlist"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	PoolSize int           `mapstructure:"pool_size"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Channel  string        `mapstructure:"channel"`
}

// JobsConfig tunes background maintenance.
type JobsConfig struct {
	SweepSchedule  string `mapstructure:"sweep_schedule"`
	PruneSchedule  string `mapstructure:"prune_schedule"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
	Concurrency    int    `mapstructure:"concurrency"`
	SweepBatchSize int    `mapstructure:"sweep_batch_size"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TracingConfig represents OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Exporter    string `mapstructure:"exporter"` // stdout | otlp
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// RateLimitConfig limits request rates per client IP.
type RateLimitConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	GeneralLimit    int           `mapstructure:"general_limit"`
	GeneralWindow   time.Duration `mapstructure:"general_window"`
	UploadPerMinute int           `mapstructure:"upload_per_minute"`
	UploadBurst     int           `mapstructure:"upload_burst"`
}

// ConfigLoader reads configuration from file, environment and defaults.
type ConfigLoader struct {
	viper *viper.Viper
}

// NewConfigLoader creates a loader with its own viper instance
func NewConfigLoader() *ConfigLoader {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/musicbox")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	return &ConfigLoader{viper: v}
}

// SetConfigFile points the loader at an explicit file instead of searching.
func (l *ConfigLoader) SetConfigFile(path string) {
	l.viper.SetConfigFile(path)
}

// Load loads application configuration from various sources
func (l *ConfigLoader) Load() (*AppConfig, error) {
	if err := l.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, using defaults and environment
	}

	var cfg AppConfig
	if err := l.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.static_dir", "./public")

	v.SetDefault("cors.allow_origins", []string{"*"})
	v.SetDefault("cors.allow_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allow_headers", []string{"Origin", "Content-Type", "Accept"})
	v.SetDefault("cors.allow_credentials", false)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "musicbox.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "musicbox")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", DefaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", DefaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", DefaultConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", DefaultConnMaxIdleTime)

	v.SetDefault("storage.backend", "disk")
	v.SetDefault("storage.disk.root", "./data/blobs")
	v.SetDefault("storage.disk.public_base_url", "/media")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.region", "auto")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.s3.public_url", "")
	v.SetDefault("storage.s3.use_path_style", false)

	v.SetDefault("upload.max_bytes", DefaultMaxUploadBytes)
	v.SetDefault("upload.allowed_formats", []string{".mp3", ".wav", ".flac", ".m4a", ".aac", ".ogg", ".opus"})

	v.SetDefault("catalog.reserved_playlist", DefaultReservedPlaylist)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.timeout", 5*time.Second)
	v.SetDefault("redis.channel", "musicbox:catalog")

	v.SetDefault("jobs.sweep_schedule", "@every 10m")
	v.SetDefault("jobs.prune_schedule", "@every 1h")
	v.SetDefault("jobs.max_attempts", 10)
	v.SetDefault("jobs.concurrency", 4)
	v.SetDefault("jobs.sweep_batch_size", 100)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.service_name", "musicbox")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.general_limit", 300)
	v.SetDefault("rate_limit.general_window", time.Minute)
	v.SetDefault("rate_limit.upload_per_minute", 60)
	v.SetDefault("rate_limit.upload_burst", 20)
}

// validateConfig validates the configuration values
func validateConfig(cfg *AppConfig) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			return fmt.Errorf("database.path cannot be empty for sqlite")
		}
	case "postgres":
		if cfg.Database.Host == "" {
			return fmt.Errorf("database.host cannot be empty")
		}
		if cfg.Database.DBName == "" {
			return fmt.Errorf("database.dbname cannot be empty")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", cfg.Database.Driver)
	}

	switch cfg.Storage.Backend {
	case "disk":
		if cfg.Storage.Disk.Root == "" {
			return fmt.Errorf("storage.disk.root cannot be empty")
		}
	case "s3":
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket cannot be empty")
		}
		if cfg.Storage.S3.PublicURL == "" {
			return fmt.Errorf("storage.s3.public_url cannot be empty")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend must be disk, s3 or memory, got %q", cfg.Storage.Backend)
	}

	if cfg.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be positive")
	}

	if strings.TrimSpace(cfg.Catalog.ReservedPlaylist) == "" {
		return fmt.Errorf("catalog.reserved_playlist cannot be empty")
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Exporter != "stdout" && cfg.Tracing.Exporter != "otlp" {
		return fmt.Errorf("tracing.exporter must be stdout or otlp")
	}

	return nil
}
