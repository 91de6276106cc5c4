package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is read when no explicit path is given.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	DatabaseURL string `yaml:"databaseURL"`
	// PublicBaseURL is the storefront origin used for checkout redirects.
	PublicBaseURL string `yaml:"publicBaseURL"`

	MinioEndpoint      string `yaml:"minioEndpoint"`
	MinioAccessKey     string `yaml:"minioAccessKey"`
	MinioSecretKey     string `yaml:"minioSecretKey"`
	MinioBucket        string `yaml:"minioBucket"`
	MinioUseSSL        bool   `yaml:"minioUseSSL"`
	MinioPublicBaseURL string `yaml:"minioPublicBaseURL"`

	RedisAddr      string `yaml:"redisAddr"`
	RedisPassword  string `yaml:"redisPassword"`
	PrefetchStream string `yaml:"prefetchStream"`

	GoogleBooksBaseURL           string  `yaml:"googleBooksBaseURL"`
	GoogleBooksAPIKey            string  `yaml:"googleBooksAPIKey"`
	GoogleBooksTimeoutSeconds    int     `yaml:"googleBooksTimeoutSeconds"`
	GoogleBooksMaxResults        int     `yaml:"googleBooksMaxResults"`
	GoogleBooksRequestsPerSecond float64 `yaml:"googleBooksRequestsPerSecond"`
	// CatalogDisabled serves search from the database only.
	CatalogDisabled bool `yaml:"catalogDisabled"`

	StripeSecretKey string `yaml:"stripeSecretKey"`

	AuthJWKSURL string `yaml:"authJwksURL"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	JWTLeeway   string `yaml:"jwtLeeway"`

	SearchRateLimitPerHour int      `yaml:"searchRateLimitPerHour"`
	TrustedProxies         []string `yaml:"trustedProxies"`
	CORSAllowedOrigins     []string `yaml:"corsAllowedOrigins"`

	LocalBooksDir    string `yaml:"localBooksDir"`
	ScratchDir       string `yaml:"scratchDir"`
	ImportPriceCents int64  `yaml:"importPriceCents"`
	MaxUploadBytes   int64  `yaml:"maxUploadBytes"`
}

// Load reads config from path (defaults to config.yaml), applies environment
// overrides and defaults, then validates.
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
	setString(&cfg.PublicBaseURL, "PUBLIC_BASE_URL")
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
	setString(&cfg.GoogleBooksBaseURL, "GOOGLE_BOOKS_BASE_URL")
	setString(&cfg.GoogleBooksAPIKey, "GOOGLE_BOOKS_API_KEY")
	if v := os.Getenv("CATALOG_DISABLED"); v == "true" {
		cfg.CatalogDisabled = true
	}
	setString(&cfg.StripeSecretKey, "STRIPE_SECRET_KEY")
	setString(&cfg.AuthJWKSURL, "AUTH_JWKS_URL")
	setString(&cfg.JWTIssuer, "JWT_ISSUER")
	setString(&cfg.JWTAudience, "JWT_AUDIENCE")
	setString(&cfg.JWTLeeway, "JWT_LEEWAY")
	setString(&cfg.LocalBooksDir, "LOCAL_BOOKS_DIR")
	setString(&cfg.ScratchDir, "SCRATCH_DIR")
	if v := os.Getenv("SEARCH_RATE_LIMIT_PER_HOUR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SearchRateLimitPerHour = n
		}
	}
	if v := os.Getenv("IMPORT_PRICE_CENTS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ImportPriceCents = n
		}
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitCSV(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.SearchRateLimitPerHour == 0 {
		cfg.SearchRateLimitPerHour = 100
	}
	if cfg.GoogleBooksTimeoutSeconds <= 0 {
		cfg.GoogleBooksTimeoutSeconds = 8
	}
	if cfg.GoogleBooksMaxResults <= 0 {
		cfg.GoogleBooksMaxResults = 20
	}
	if cfg.LocalBooksDir == "" {
		cfg.LocalBooksDir = "books"
	}
	if cfg.ImportPriceCents <= 0 {
		cfg.ImportPriceCents = 1999
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if cfg.PrefetchStream == "" {
		cfg.PrefetchStream = "bookstore:resolve"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.PublicBaseURL == "" {
		return errors.New("config: publicBaseURL is required (set in config.yaml or PUBLIC_BASE_URL)")
	}
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml)")
	}
	if cfg.MinioAccessKey == "" {
		return errors.New("config: minioAccessKey is required (set in config.yaml)")
	}
	if cfg.MinioSecretKey == "" {
		return errors.New("config: minioSecretKey is required (set in config.yaml)")
	}
	if cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required (set in config.yaml)")
	}
	if cfg.StripeSecretKey == "" {
		return errors.New("config: stripeSecretKey is required (set in config.yaml or STRIPE_SECRET_KEY)")
	}
	if cfg.AuthJWKSURL == "" {
		return errors.New("config: authJwksURL is required (set in config.yaml or AUTH_JWKS_URL)")
	}
	if cfg.SearchRateLimitPerHour < 0 {
		return errors.New("config: searchRateLimitPerHour must be >= 0")
	}
	if _, err := ParseJWTLeeway(cfg.JWTLeeway); err != nil {
		return err
	}
	return nil
}

// ParseJWTLeeway parses the configured clock skew; empty means the verifier default.
func ParseJWTLeeway(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("config: invalid jwtLeeway %q", raw)
	}
	return d, nil
}

// GoogleBooksTimeout returns the per-request catalog timeout.
func (c FileConfig) GoogleBooksTimeout() time.Duration {
	return time.Duration(c.GoogleBooksTimeoutSeconds) * time.Second
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
