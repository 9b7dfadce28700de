// Package config contains code to set the default values and read
// config files to be used throughout the whole application
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/pflag"
	v "github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	validLogLevels      = []string{"debug", "info", "warn", "error", "fatal"}
	validStorageTypes   = []string{"supabase", "gcs"}
	validDatabaseDriver = []string{"postgres", "sqlite"}
)

type Config struct {
	App       App       `mapstructure:"app"`
	Host      Host      `mapstructure:"host"`
	JWT       JWT       `mapstructure:"jwt"`
	DB        DB        `mapstructure:"db"`
	Redis     Redis     `mapstructure:"redis"`
	Storage   Storage   `mapstructure:"storage"`
	Supabase  Supabase  `mapstructure:"supabase"`
	GCS       GCS       `mapstructure:"gcs"`
	Upload    Upload    `mapstructure:"upload"`
	Security  Security  `mapstructure:"security"`
	Reconcile Reconcile `mapstructure:"reconcile"`
}

type App struct {
	LogLevel string `mapstructure:"log_level"`
}

type Host struct {
	Port int      `mapstructure:"port"`
	CORS []string `mapstructure:"cors"`
}

type JWT struct {
	Secret string `mapstructure:"secret"`
}

type DB struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"` // Empty disables the quota cache
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Storage struct {
	Provider        string `mapstructure:"provider"`
	WorkspaceBucket string `mapstructure:"workspace_bucket"`
	LinkBucket      string `mapstructure:"link_bucket"`
	DefaultLimit    int64  `mapstructure:"default_limit"`
}

type Supabase struct {
	URL         string `mapstructure:"url"`
	ServiceKey  string `mapstructure:"service_key"`
	Region      string `mapstructure:"region"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
}

type GCS struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type Upload struct {
	MaxSize      int64    `mapstructure:"max_size"`
	AllowedTypes []string `mapstructure:"allowed_types"`
	Parallelism  int      `mapstructure:"parallelism"`
	MaxRetries   int      `mapstructure:"max_retries"`
}

type Security struct {
	RateLimit int `mapstructure:"rate_limit"`
}

type Reconcile struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Setup prepares everything config-related so that the app can
// start working. A missing config file is only an error when a path
// was given explicitly with --config, otherwise everything can come
// from the environment.
func Setup(flags *pflag.FlagSet) error {
	var configPath string
	if flags != nil {
		v.BindPFlags(flags)
		configPath, _ = flags.GetString("config")
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()

	bindEnvs()
	setDefaults()

	if err := v.ReadInConfig(); err != nil {
		var notFound v.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return fmt.Errorf("failed to read config file, %w", err)
		}

		zap.L().Warn("No config.toml found, using defaults and environment")
	}

	return nil
}

func bindEnvs() {
	//
	// ENVS
	//
	v.BindEnv("app.log_level", "app_log_level")

	v.BindEnv("host.port", "host_port")
	v.BindEnv("host.cors", "host_cors")

	v.BindEnv("jwt.secret", "jwt_secret")

	v.BindEnv("db.driver", "db_driver")
	v.BindEnv("db.dsn", "db_dsn")

	v.BindEnv("redis.addr", "redis_addr")
	v.BindEnv("redis.password", "redis_password")
	v.BindEnv("redis.db", "redis_db")

	v.BindEnv("storage.provider", "storage_provider")
	v.BindEnv("storage.workspace_bucket", "storage_workspace_bucket")
	v.BindEnv("storage.link_bucket", "storage_link_bucket")
	v.BindEnv("storage.default_limit", "storage_default_limit")

	v.BindEnv("supabase.url", "supabase_url")
	v.BindEnv("supabase.service_key", "supabase_service_key")
	v.BindEnv("supabase.region", "supabase_region")
	v.BindEnv("supabase.s3_access_key", "supabase_s3_access_key")
	v.BindEnv("supabase.s3_secret_key", "supabase_s3_secret_key")

	v.BindEnv("gcs.endpoint", "gcs_endpoint")
	v.BindEnv("gcs.access_key", "gcs_access_key")
	v.BindEnv("gcs.secret_key", "gcs_secret_key")
	v.BindEnv("gcs.use_ssl", "gcs_use_ssl")

	v.BindEnv("upload.max_size", "upload_max_size")
	v.BindEnv("upload.allowed_types", "upload_allowed_types")
	v.BindEnv("upload.parallelism", "upload_parallelism")
	v.BindEnv("upload.max_retries", "upload_max_retries")

	v.BindEnv("security.rate_limit", "security_rate_limit")
	v.BindEnv("reconcile.interval", "reconcile_interval")
}

func setDefaults() {
	v.SetDefault("app.log_level", "info")

	v.SetDefault("host.port", 8080)
	v.SetDefault("host.cors", []string{"http://localhost:3000"})

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "database.db")

	v.SetDefault("storage.provider", "supabase")
	v.SetDefault("storage.workspace_bucket", "workspace-files")
	v.SetDefault("storage.link_bucket", "shared-files")
	v.SetDefault("storage.default_limit", int64(50)<<30)

	v.SetDefault("supabase.region", "us-east-1")
	v.SetDefault("gcs.endpoint", "storage.googleapis.com")
	v.SetDefault("gcs.use_ssl", true)

	v.SetDefault("upload.max_size", int64(5)<<30)
	v.SetDefault("upload.allowed_types", []string{})
	v.SetDefault("upload.parallelism", 3)
	v.SetDefault("upload.max_retries", 3)

	v.SetDefault("security.rate_limit", 10)
	v.SetDefault("reconcile.interval", 24*time.Hour)
}

// Load returns a validated snapshot of the current configuration.
func Load() (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config, %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// Validate returns an error if something is critically wrong and the
// application can't run because of that.
func (c *Config) Validate() error {
	if !slices.Contains(validLogLevels, c.App.LogLevel) {
		return errors.New("invalid log level provided")
	}

	if c.Host.Port <= 0 {
		return errors.New("invalid port provided")
	}

	if c.JWT.Secret == "" {
		return errors.New("jwt.secret can't be empty")
	}

	if !slices.Contains(validDatabaseDriver, c.DB.Driver) {
		return errors.New("invalid database driver provided")
	}

	if c.DB.DSN == "" {
		return errors.New("db.dsn can't be empty")
	}

	if c.Upload.MaxSize <= 0 {
		return errors.New("upload.max_size must be bigger than 0")
	}

	if c.Upload.Parallelism <= 0 {
		return errors.New("upload.parallelism must be bigger than 0")
	}

	if c.Upload.MaxRetries < 0 {
		return errors.New("upload.max_retries can't be negative")
	}

	if c.Security.RateLimit <= 0 {
		return errors.New("security.rate_limit must be bigger than 0")
	}

	if c.Reconcile.Interval < 0 {
		return errors.New("reconcile.interval can't be negative")
	}

	if c.Storage.DefaultLimit <= 0 {
		return errors.New("storage.default_limit must be bigger than 0")
	}

	if c.Storage.WorkspaceBucket == "" || c.Storage.LinkBucket == "" {
		return errors.New("storage buckets can't be empty")
	}

	if !slices.Contains(validStorageTypes, c.Storage.Provider) {
		return errors.New("invalid storage provider provided")
	}

	switch c.Storage.Provider {
	case "supabase":
		if c.Supabase.URL == "" {
			return errors.New("supabase url can't be empty")
		}
		if c.Supabase.ServiceKey == "" {
			return errors.New("supabase service key can't be empty")
		}
		if c.Supabase.S3AccessKey == "" || c.Supabase.S3SecretKey == "" {
			return errors.New("supabase s3 credentials can't be empty")
		}
	case "gcs":
		if c.GCS.Endpoint == "" {
			return errors.New("gcs endpoint can't be empty")
		}
		if c.GCS.AccessKey == "" || c.GCS.SecretKey == "" {
			return errors.New("gcs hmac credentials can't be empty")
		}
	}

	if len(c.Upload.AllowedTypes) == 0 {
		zap.L().Warn("No upload.allowed_types specified, any file type will be accepted")
	}

	return nil
}
