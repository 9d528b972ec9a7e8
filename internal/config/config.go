// Package config loads whisperq client settings. Environment variables
// override the YAML config file, which overrides built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/psantana5/whisperq/pkg/jobs"
	"github.com/psantana5/whisperq/pkg/queue"
	"github.com/psantana5/whisperq/pkg/retry"
	"github.com/psantana5/whisperq/pkg/store"
)

// EnvPrefix is prepended to every environment override, e.g. WHISPERQ_POLL_INTERVAL
const EnvPrefix = "WHISPERQ"

// Config is the resolved client configuration
type Config struct {
	StateDir string `mapstructure:"state_dir"`

	Endpoint          string        `mapstructure:"endpoint"`
	APIKey            string        `mapstructure:"api_key"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`

	PollInterval  time.Duration `mapstructure:"poll_interval"`
	MaxPollErrors int           `mapstructure:"max_poll_errors"`

	Store   StoreConfig   `mapstructure:"store"`
	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`

	Language string `mapstructure:"language"`
}

// StoreConfig selects the status store backend
type StoreConfig struct {
	Type          string `mapstructure:"type"`
	DSN           string `mapstructure:"dsn"`
	Sync          bool   `mapstructure:"sync"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// StorageConfig is the object storage destination passed to the worker.
// Empty values leave the decision to the worker's own environment.
type StorageConfig struct {
	Bucket    string `mapstructure:"bucket"`
	KeyPrefix string `mapstructure:"key_prefix"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// LogConfig controls CLI and watcher logging
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// DefaultStateDir returns ~/.whisperq, or ./.whisperq without a home directory
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".whisperq"
	}
	return filepath.Join(home, ".whisperq")
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("state_dir", DefaultStateDir())
	v.SetDefault("endpoint", "")
	v.SetDefault("api_key", "")
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("requests_per_second", 5.0)
	v.SetDefault("poll_interval", 15*time.Second)
	v.SetDefault("max_poll_errors", 120)
	v.SetDefault("store.type", "file")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.sync", false)
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.key_prefix", "transcriptions/")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("language", "en")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// bindEnv wires the environment. Keys map to WHISPERQ_<KEY> with dots as
// underscores; the queue credentials also accept the RUNPOD_* names.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("api_key", EnvPrefix+"_API_KEY", "RUNPOD_API_KEY")
	v.BindEnv("endpoint", EnvPrefix+"_ENDPOINT", "RUNPOD_ENDPOINT")
	v.BindEnv("store.dsn", EnvPrefix+"_STORE_DSN", "DATABASE_DSN")
	v.BindEnv("store.redis_addr", EnvPrefix+"_STORE_REDIS_ADDR", "REDIS_ADDR")
	v.BindEnv("storage.access_key", EnvPrefix+"_STORAGE_ACCESS_KEY", "AWS_ACCESS_KEY_ID")
	v.BindEnv("storage.secret_key", EnvPrefix+"_STORAGE_SECRET_KEY", "AWS_SECRET_ACCESS_KEY")
}

// Load reads configuration. cfgFile may be empty, in which case
// <state_dir>/config.yaml is used if present.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)
	bindEnv(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(expandHome(v.GetString("state_dir")))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.StateDir = expandHome(cfg.StateDir)
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that have no usable fallback
func (c *Config) Validate() error {
	if c.StateDir == "" {
		return errors.New("state_dir must not be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.MaxPollErrors < 0 {
		return fmt.Errorf("max_poll_errors must be >= 0, got %d", c.MaxPollErrors)
	}
	switch c.Store.Type {
	case "file", "sqlite", "sqlite3", "postgres", "postgresql", "redis", "memory":
	default:
		return fmt.Errorf("unsupported store type %q", c.Store.Type)
	}
	return nil
}

// RequireQueue reports whether the remote queue is configured
func (c *Config) RequireQueue() error {
	if c.Endpoint == "" {
		return fmt.Errorf("remote queue endpoint not configured (set endpoint in config or %s_ENDPOINT)", EnvPrefix)
	}
	if c.APIKey == "" {
		return fmt.Errorf("remote queue API key not configured (set api_key in config or %s_API_KEY)", EnvPrefix)
	}
	return nil
}

// LogDir is where detached watchers write their logs
func (c *Config) LogDir() string {
	return filepath.Join(c.StateDir, "logs")
}

// StoreConfig converts to the store package configuration
func (c *Config) StoreConfig() store.Config {
	sc := store.Config{
		Type:          c.Store.Type,
		Path:          c.StateDir,
		DSN:           c.Store.DSN,
		Sync:          c.Store.Sync,
		RedisAddr:     c.Store.RedisAddr,
		RedisPassword: c.Store.RedisPassword,
		RedisDB:       c.Store.RedisDB,
		KeyPrefix:     "whisperq:",
	}
	if c.Store.Type == "sqlite" || c.Store.Type == "sqlite3" {
		sc.Path = c.Store.DSN
		if sc.Path == "" {
			sc.Path = filepath.Join(c.StateDir, "whisperq.db")
		}
	}
	return sc
}

// QueueConfig converts to the queue client configuration
func (c *Config) QueueConfig() queue.Config {
	return queue.Config{
		Endpoint:          c.Endpoint,
		APIKey:            c.APIKey,
		Timeout:           c.RequestTimeout,
		RequestsPerSecond: c.RequestsPerSecond,
	}
}

// WatcherConfig converts to the watcher configuration
func (c *Config) WatcherConfig() jobs.WatcherConfig {
	return jobs.WatcherConfig{
		PollInterval:  c.PollInterval,
		MaxPollErrors: c.MaxPollErrors,
		Retry:         retry.DefaultConfig(),
	}
}

// SubmitDefaults converts to per-job request defaults
func (c *Config) SubmitDefaults() jobs.SubmitOptions {
	return jobs.SubmitOptions{
		Language:         c.Language,
		StorageBucket:    c.Storage.Bucket,
		StorageKeyPrefix: c.Storage.KeyPrefix,
		StorageEndpoint:  c.Storage.Endpoint,
		StorageAccessKey: c.Storage.AccessKey,
		StorageSecretKey: c.Storage.SecretKey,
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
