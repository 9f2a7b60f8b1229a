// Package config loads service configuration from the environment.
//
// A .env file in the working directory is read first when present; real
// environment variables take precedence over it.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	minLinkTTL = time.Minute
	maxLinkTTL = 7 * 24 * time.Hour // longest presign S3 accepts
)

type Config struct {
	Addr          string   `envconfig:"SFD_ADDR" default:":8080"`
	Env           string   `envconfig:"SFD_ENV" default:"development"`
	LogLevel      string   `envconfig:"SFD_LOG_LEVEL" default:"info"`
	LogFormat     string   `envconfig:"SFD_LOG_FORMAT" default:"text"`
	PublicBaseURL string   `envconfig:"SFD_PUBLIC_BASE_URL" default:"http://localhost:3000"`
	CORSOrigins   []string `envconfig:"SFD_CORS_ORIGINS" default:"*"`
	RedisURL      string   `envconfig:"REDIS_URL"`

	Drop      DropConfig
	Storage   StorageConfig
	Metadata  MetadataConfig
	Sweep     SweepConfig
	RateLimit RateLimitConfig
}

type DropConfig struct {
	DefaultTTLSeconds int           `envconfig:"SFD_DEFAULT_TTL" default:"3600"`
	LinkTTLSeconds    int           `envconfig:"SFD_LINK_TTL" default:"3600"`
	GroupTTL          time.Duration `envconfig:"SFD_GROUP_TTL" default:"168h"`
	MaxFiles          int           `envconfig:"SFD_MAX_FILES" default:"10"`
	MaxUploadBytes    int64         `envconfig:"SFD_MAX_UPLOAD_BYTES" default:"104857600"`
	CodeLength        int           `envconfig:"SFD_CODE_LENGTH" default:"6"`
	CodeAttempts      int           `envconfig:"SFD_CODE_ATTEMPTS" default:"5"`
	BackendTimeout    time.Duration `envconfig:"SFD_BACKEND_TIMEOUT" default:"10s"`
	UploadTimeout     time.Duration `envconfig:"SFD_UPLOAD_TIMEOUT" default:"5m"`
}

// TTL is the retention of uploaded batches.
func (d DropConfig) TTL() time.Duration {
	return time.Duration(d.DefaultTTLSeconds) * time.Second
}

// LinkTTL is the validity of signed references, clamped to [1m, 7d].
func (d DropConfig) LinkTTL() time.Duration {
	ttl := time.Duration(d.LinkTTLSeconds) * time.Second
	if ttl < minLinkTTL {
		return minLinkTTL
	}
	if ttl > maxLinkTTL {
		return maxLinkTTL
	}
	return ttl
}

type StorageConfig struct {
	Backend         string        `envconfig:"SFD_STORAGE_BACKEND" default:"minio"`
	Bucket          string        `envconfig:"SFD_BUCKET"`
	Endpoint        string        `envconfig:"SFD_S3_ENDPOINT"`
	AccessKey       string        `envconfig:"SFD_S3_ACCESS_KEY"`
	SecretKey       string        `envconfig:"SFD_S3_SECRET_KEY"`
	Region          string        `envconfig:"SFD_S3_REGION" default:"us-east-1"`
	BreakerFailures uint32        `envconfig:"SFD_BREAKER_FAILURES" default:"5"`
	BreakerTimeout  time.Duration `envconfig:"SFD_BREAKER_TIMEOUT" default:"30s"`
}

type MetadataConfig struct {
	Backend        string        `envconfig:"SFD_METADATA_BACKEND" default:"postgres"`
	DatabaseURL    string        `envconfig:"DATABASE_URL"`
	MongoURI       string        `envconfig:"MONGODB_URI"`
	MongoDatabase  string        `envconfig:"MONGODB_DATABASE" default:"filedrop"`
	GroupCacheSize int           `envconfig:"SFD_GROUP_CACHE_SIZE" default:"1024"`
	GroupCacheTTL  time.Duration `envconfig:"SFD_GROUP_CACHE_TTL" default:"10m"`
}

type SweepConfig struct {
	Enabled      bool   `envconfig:"SFD_CLEANUP_ENABLED" default:"true"`
	Schedule     string `envconfig:"SFD_CLEANUP_SCHEDULE" default:"*/15 * * * *"`
	Batch        int    `envconfig:"SFD_SWEEP_BATCH" default:"500"`
	GroupEnabled bool   `envconfig:"SFD_GROUP_SWEEP_ENABLED" default:"false"`
}

type RateLimitConfig struct {
	Requests int           `envconfig:"SFD_RATE_LIMIT" default:"60"`
	Window   time.Duration `envconfig:"SFD_RATE_WINDOW" default:"1m"`
	// TrustedProxies lists the IPs or CIDRs whose X-Forwarded-For and
	// X-Real-IP headers are believed. Empty means none.
	TrustedProxies []string `envconfig:"SFD_TRUSTED_PROXIES"`
}

// Load reads .env (if any) and the environment, then validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Production reports whether the service runs with production defaults.
func (c *Config) Production() bool {
	return c.Env == "production"
}
