// Package config loads server configuration from the environment with an
// optional YAML overlay for tuning knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process-wide configuration.
type Config struct {
	Port     string
	LogLevel string

	// DatabaseURL points at Postgres (Supabase is plain Postgres on the wire).
	// A sqlite: prefix selects the embedded local store for development.
	DatabaseURL string

	JWTSecret        string
	JWTExpireMinutes int
	CORSOrigins      []string

	// USERS_CONFIG_JSON: inline JSON array or @/path/to/file.
	UsersConfig string

	// TenantConfigDir holds templates/<industry>.json and tenants/<name>.json.
	TenantConfigDir string

	Blob       BlobConfig
	Extraction ExtractionConfig
	Workers    WorkerConfig

	// RedisURL enables the cross-process extraction rate gate when set.
	RedisURL string

	// OTLPEndpoint enables telemetry export when set.
	OTLPEndpoint string
}

// BlobConfig selects and configures the object-store backend.
type BlobConfig struct {
	// Backend is "s3" (R2 and any S3-compatible endpoint) or "gcs".
	Backend       string `yaml:"backend"`
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	Endpoint      string `yaml:"endpoint"`
	AccessKeyID   string `yaml:"-"`
	SecretKey     string `yaml:"-"`
	PublicBaseURL string `yaml:"public_base_url"`
	// GCPCredentialsJSON holds a service-account key for the gcs backend.
	GCPCredentialsJSON string `yaml:"-"`
}

// ExtractionConfig configures the vision extractor.
type ExtractionConfig struct {
	APIKey          string        `yaml:"-"`
	PrimaryModel    string        `yaml:"primary_model"`
	FallbackModel   string        `yaml:"fallback_model"`
	RequestsPerMin  int           `yaml:"requests_per_min"`
	PrimaryTimeout  time.Duration `yaml:"primary_timeout"`
	FallbackTimeout time.Duration `yaml:"fallback_timeout"`
	// USDToINR converts per-token USD rates into the ledger currency.
	USDToINR float64 `yaml:"usd_to_inr"`
}

// WorkerConfig sizes the process-wide pools.
type WorkerConfig struct {
	Upload    int `yaml:"upload"`
	Inventory int `yaml:"inventory"`
	Process   int `yaml:"process"`
	Stock     int `yaml:"stock"`
}

// Load reads configuration from environment variables, applying defaults.
func Load() *Config {
	cfg := &Config{
		Port:             envOr("PORT", "8090"),
		LogLevel:         envOr("LOG_LEVEL", "INFO"),
		DatabaseURL:      firstEnv("DATABASE_URL", "SUPABASE_DB_URL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		JWTExpireMinutes: envInt("JWT_EXPIRE_MINUTES", 1440),
		UsersConfig:      os.Getenv("USERS_CONFIG_JSON"),
		TenantConfigDir:  envOr("TENANT_CONFIG_DIR", "configs"),
		RedisURL:         os.Getenv("REDIS_URL"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Blob: BlobConfig{
			Backend:            envOr("BLOB_BACKEND", "s3"),
			Bucket:             os.Getenv("BLOB_BUCKET"),
			Region:             envOr("BLOB_REGION", "auto"),
			Endpoint:           r2Endpoint(),
			AccessKeyID:        os.Getenv("CLOUDFLARE_R2_ACCESS_KEY_ID"),
			SecretKey:          os.Getenv("CLOUDFLARE_R2_SECRET_ACCESS_KEY"),
			PublicBaseURL:      os.Getenv("CLOUDFLARE_R2_PUBLIC_BASE_URL"),
			GCPCredentialsJSON: os.Getenv("GCP_SERVICE_ACCOUNT_JSON"),
		},
		Extraction: ExtractionConfig{
			APIKey:          os.Getenv("GOOGLE_API_KEY"),
			PrimaryModel:    envOr("EXTRACTION_PRIMARY_MODEL", "gemini-2.0-flash"),
			FallbackModel:   envOr("EXTRACTION_FALLBACK_MODEL", "gemini-2.5-pro"),
			RequestsPerMin:  envInt("EXTRACTION_RPM", 30),
			PrimaryTimeout:  envDuration("EXTRACTION_PRIMARY_TIMEOUT", 120*time.Second),
			FallbackTimeout: envDuration("EXTRACTION_FALLBACK_TIMEOUT", 180*time.Second),
			USDToINR:        envFloat("USD_TO_INR", 86.0),
		},
		Workers: WorkerConfig{
			Upload:    envInt("UPLOAD_MAX_WORKERS", 50),
			Inventory: envInt("INVENTORY_MAX_WORKERS", 50),
			Process:   envInt("PROCESS_WORKERS", 25),
			Stock:     envInt("STOCK_WORKERS", 2),
		},
	}

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	return cfg
}

// Validate reports configuration that cannot work at all. Missing optional
// integrations (redis, telemetry) are fine; a serving process without a
// database or JWT secret is not.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL (or SUPABASE_DB_URL) is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}
	if c.JWTExpireMinutes <= 0 {
		return fmt.Errorf("config: JWT_EXPIRE_MINUTES must be positive")
	}
	switch c.Blob.Backend {
	case "s3", "gcs":
	default:
		return fmt.Errorf("config: unknown blob backend %q", c.Blob.Backend)
	}
	return nil
}

// r2Endpoint derives the S3 endpoint from the R2 account id unless an
// explicit endpoint is configured.
func r2Endpoint() string {
	if ep := os.Getenv("BLOB_ENDPOINT"); ep != "" {
		return ep
	}
	if account := os.Getenv("CLOUDFLARE_R2_ACCOUNT_ID"); account != "" {
		return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", account)
	}
	return ""
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
