package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Provider ProviderConfig `mapstructure:"provider"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Bulk     BulkConfig     `mapstructure:"bulk"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"`
}

// DSN returns the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		if c.URL != "" {
			return c.URL
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
	return c.Path
}

type ProviderConfig struct {
	BaseURL   string          `mapstructure:"base_url"`
	APIKey    string          `mapstructure:"api_key"`
	PageSize  int             `mapstructure:"page_size"`
	Timeout   time.Duration   `mapstructure:"timeout"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Retry     RetryConfig     `mapstructure:"retry"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	MaxConcurrent     int     `mapstructure:"max_concurrent"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      float64       `mapstructure:"jitter"`
}

type SyncConfig struct {
	HistoryLimit  int `mapstructure:"history_limit"`
	PrefetchPages int `mapstructure:"prefetch_pages"`
	MaxRunErrors  int `mapstructure:"max_run_errors"`
	// Interval schedules incremental runs from the API server; zero disables it.
	Interval time.Duration `mapstructure:"interval"`
}

type BulkConfig struct {
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
	Archive        bool   `mapstructure:"archive"`
	ArchivePrefix  string `mapstructure:"archive_prefix"`
}

type StorageConfig struct {
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	// Set config file path
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("provider.api_key", "PROVIDER_API_KEY")
	v.BindEnv("provider.base_url", "PROVIDER_BASE_URL")
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("storage.endpoint", "S3_ENDPOINT")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/rostersync.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("provider.page_size", 100)
	v.SetDefault("provider.timeout", "30s")
	v.SetDefault("provider.rate_limit.requests_per_second", 5.0)
	v.SetDefault("provider.rate_limit.burst", 5)
	v.SetDefault("provider.rate_limit.max_concurrent", 4)
	v.SetDefault("provider.retry.max_attempts", 5)
	v.SetDefault("provider.retry.base_delay", "500ms")
	v.SetDefault("provider.retry.multiplier", 2.0)
	v.SetDefault("provider.retry.max_delay", "30s")
	v.SetDefault("provider.retry.jitter", 0.2)

	v.SetDefault("sync.history_limit", 50)
	v.SetDefault("sync.prefetch_pages", 2)
	v.SetDefault("sync.max_run_errors", 1000)
	v.SetDefault("sync.interval", "0s")

	v.SetDefault("bulk.max_upload_bytes", 32<<20)
	v.SetDefault("bulk.archive", false)
	v.SetDefault("bulk.archive_prefix", "uploads")

	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.bucket", "rostersync")
}

// Validate checks the sections the sync engine depends on.
func (c *Config) Validate() error {
	var errs []error
	p := c.Provider
	if strings.TrimSpace(p.BaseURL) == "" {
		errs = append(errs, errors.New("provider.base_url is required"))
	}
	if p.PageSize <= 0 {
		errs = append(errs, errors.New("provider.page_size must be positive"))
	}
	if p.Retry.MaxAttempts <= 0 {
		errs = append(errs, errors.New("provider.retry.max_attempts must be positive"))
	}
	if p.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("provider.retry.multiplier must be at least 1"))
	}
	if p.Retry.Jitter < 0 || p.Retry.Jitter > 1 {
		errs = append(errs, errors.New("provider.retry.jitter must be within 0..1"))
	}
	if p.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("provider.rate_limit.requests_per_second must not be negative"))
	}

	s := c.Sync
	if s.HistoryLimit <= 0 {
		errs = append(errs, errors.New("sync.history_limit must be positive"))
	}
	if s.PrefetchPages <= 0 {
		errs = append(errs, errors.New("sync.prefetch_pages must be positive"))
	}
	if s.MaxRunErrors <= 0 {
		errs = append(errs, errors.New("sync.max_run_errors must be positive"))
	}
	if s.Interval < 0 {
		errs = append(errs, errors.New("sync.interval must not be negative"))
	}

	if c.Bulk.Archive && c.Storage.Endpoint == "" {
		errs = append(errs, errors.New("storage.endpoint is required when bulk.archive is enabled"))
	}
	return errors.Join(errs...)
}
