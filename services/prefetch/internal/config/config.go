package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is read when no explicit path is given.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	// Port serves /healthz when set.
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	DatabaseURL string `yaml:"databaseURL"`

	MinioEndpoint      string `yaml:"minioEndpoint"`
	MinioAccessKey     string `yaml:"minioAccessKey"`
	MinioSecretKey     string `yaml:"minioSecretKey"`
	MinioBucket        string `yaml:"minioBucket"`
	MinioUseSSL        bool   `yaml:"minioUseSSL"`
	MinioPublicBaseURL string `yaml:"minioPublicBaseURL"`

	RedisAddr              string `yaml:"redisAddr"`
	RedisPassword          string `yaml:"redisPassword"`
	PrefetchStream         string `yaml:"prefetchStream"`
	QueueGroup             string `yaml:"queueGroup"`
	QueueConcurrency       int    `yaml:"queueConcurrency"`
	QueueMaxRetries        int    `yaml:"queueMaxRetries"`
	QueueRetryDelaySeconds int    `yaml:"queueRetryDelaySeconds"`

	GoogleBooksBaseURL           string  `yaml:"googleBooksBaseURL"`
	GoogleBooksAPIKey            string  `yaml:"googleBooksAPIKey"`
	GoogleBooksTimeoutSeconds    int     `yaml:"googleBooksTimeoutSeconds"`
	GoogleBooksRequestsPerSecond float64 `yaml:"googleBooksRequestsPerSecond"`
	CatalogDisabled              bool    `yaml:"catalogDisabled"`

	LocalBooksDir         string `yaml:"localBooksDir"`
	ScratchDir            string `yaml:"scratchDir"`
	ResolveTimeoutSeconds int    `yaml:"resolveTimeoutSeconds"`
}

// Load reads config from path, applies environment overrides and defaults,
// then validates.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	setString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.MinioBucket, "MINIO_BUCKET")
	setString(&cfg.MinioPublicBaseURL, "MINIO_PUBLIC_BASE_URL")
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.PrefetchStream, "PREFETCH_STREAM")
	setString(&cfg.QueueGroup, "QUEUE_GROUP")
	setInt(&cfg.QueueConcurrency, "QUEUE_CONCURRENCY")
	setInt(&cfg.QueueMaxRetries, "QUEUE_MAX_RETRIES")
	setInt(&cfg.QueueRetryDelaySeconds, "QUEUE_RETRY_DELAY_SECONDS")
	setString(&cfg.GoogleBooksBaseURL, "GOOGLE_BOOKS_BASE_URL")
	setString(&cfg.GoogleBooksAPIKey, "GOOGLE_BOOKS_API_KEY")
	if v := os.Getenv("CATALOG_DISABLED"); v == "true" {
		cfg.CatalogDisabled = true
	}
	setString(&cfg.LocalBooksDir, "LOCAL_BOOKS_DIR")
	setString(&cfg.ScratchDir, "SCRATCH_DIR")
}

func applyDefaults(cfg *FileConfig) {
	if cfg.PrefetchStream == "" {
		cfg.PrefetchStream = "bookstore:resolve"
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = "resolvers"
	}
	if cfg.QueueConcurrency <= 0 {
		cfg.QueueConcurrency = 2
	}
	if cfg.QueueMaxRetries <= 0 {
		cfg.QueueMaxRetries = 3
	}
	if cfg.QueueRetryDelaySeconds <= 0 {
		cfg.QueueRetryDelaySeconds = 5
	}
	if cfg.GoogleBooksTimeoutSeconds <= 0 {
		cfg.GoogleBooksTimeoutSeconds = 8
	}
	if cfg.LocalBooksDir == "" {
		cfg.LocalBooksDir = "books"
	}
	if cfg.ResolveTimeoutSeconds <= 0 {
		cfg.ResolveTimeoutSeconds = 300
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "" {
		return errors.New("config: minio settings are required (set in config.yaml)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	return nil
}

// RetryDelay is the base delay between attempts.
func (c FileConfig) RetryDelay() time.Duration {
	return time.Duration(c.QueueRetryDelaySeconds) * time.Second
}

// ResolveTimeout bounds one resolution job.
func (c FileConfig) ResolveTimeout() time.Duration {
	return time.Duration(c.ResolveTimeoutSeconds) * time.Second
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
