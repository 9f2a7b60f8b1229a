package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidationError is one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validator collects every problem instead of stopping at the first.
type Validator struct {
	errors []ValidationError
}

func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

func (v *Validator) HasErrors() bool { return len(v.errors) > 0 }

func (v *Validator) Errors() []ValidationError { return v.errors }

// Err joins all collected errors, or returns nil.
func (v *Validator) Err() error {
	if !v.HasErrors() {
		return nil
	}
	errs := make([]error, 0, len(v.errors))
	for _, e := range v.errors {
		errs = append(errs, e)
	}
	return errors.Join(errs...)
}

func (v *Validator) Required(key, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(key, "required environment variable not set")
	}
}

func (v *Validator) URL(key, value string) {
	if value == "" {
		return
	}
	parsed, err := url.Parse(value)
	if err != nil {
		v.AddError(key, fmt.Sprintf("invalid URL format: %v", err))
		return
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		v.AddError(key, "URL must use http or https scheme")
	}
}

// Addr accepts ":port" or "host:port".
func (v *Validator) Addr(key, value string) {
	i := strings.LastIndex(value, ":")
	if i < 0 {
		v.AddError(key, "must be host:port or :port")
		return
	}
	port, err := strconv.Atoi(value[i+1:])
	if err != nil {
		v.AddError(key, "port must be a number")
		return
	}
	if port < 1 || port > 65535 {
		v.AddError(key, "port must be between 1 and 65535")
	}
}

func (v *Validator) Enum(key, value string, allowed ...string) {
	for _, opt := range allowed {
		if value == opt {
			return
		}
	}
	v.AddError(key, fmt.Sprintf("must be one of: %s (got: %s)", strings.Join(allowed, ", "), value))
}

func (v *Validator) Positive(key string, n int64) {
	if n <= 0 {
		v.AddError(key, "must be a positive integer")
	}
}

func (v *Validator) Between(key string, n, lo, hi int64) {
	if n < lo || n > hi {
		v.AddError(key, fmt.Sprintf("must be between %d and %d (got %d)", lo, hi, n))
	}
}

func (v *Validator) CronSpec(key, spec string) {
	if _, err := cron.ParseStandard(spec); err != nil {
		v.AddError(key, fmt.Sprintf("invalid cron schedule: %v", err))
	}
}

// IPOrCIDR checks that every entry is an IP address or a CIDR prefix.
func (v *Validator) IPOrCIDR(key string, entries []string) {
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if _, err := netip.ParsePrefix(e); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(e); err != nil {
			v.AddError(key, fmt.Sprintf("%q is not an IP address or CIDR", e))
		}
	}
}

// Validate checks cross-field requirements that envconfig tags cannot express.
func (c *Config) Validate() error {
	v := &Validator{}

	v.Addr("SFD_ADDR", c.Addr)
	v.Enum("SFD_ENV", c.Env, "development", "staging", "production")
	v.Enum("SFD_LOG_LEVEL", c.LogLevel, "debug", "info", "warn", "error")
	v.Enum("SFD_LOG_FORMAT", c.LogFormat, "text", "json")
	v.URL("SFD_PUBLIC_BASE_URL", c.PublicBaseURL)
	if c.RedisURL != "" {
		if u, err := url.Parse(c.RedisURL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			v.AddError("REDIS_URL", "must be a redis:// or rediss:// URL")
		}
	}

	d := c.Drop
	v.Positive("SFD_DEFAULT_TTL", int64(d.DefaultTTLSeconds))
	v.Positive("SFD_LINK_TTL", int64(d.LinkTTLSeconds))
	v.Positive("SFD_GROUP_TTL", int64(d.GroupTTL))
	v.Between("SFD_MAX_FILES", int64(d.MaxFiles), 1, 100)
	v.Positive("SFD_MAX_UPLOAD_BYTES", d.MaxUploadBytes)
	v.Between("SFD_CODE_LENGTH", int64(d.CodeLength), 4, 32)
	v.Between("SFD_CODE_ATTEMPTS", int64(d.CodeAttempts), 1, 50)
	v.Positive("SFD_BACKEND_TIMEOUT", int64(d.BackendTimeout))
	v.Positive("SFD_UPLOAD_TIMEOUT", int64(d.UploadTimeout))

	s := c.Storage
	v.Enum("SFD_STORAGE_BACKEND", s.Backend, "minio", "s3")
	v.Required("SFD_BUCKET", s.Bucket)
	switch s.Backend {
	case "minio":
		v.Required("SFD_S3_ENDPOINT", s.Endpoint)
		v.Required("SFD_S3_ACCESS_KEY", s.AccessKey)
		v.Required("SFD_S3_SECRET_KEY", s.SecretKey)
		if strings.Contains(s.Endpoint, "://") {
			v.URL("SFD_S3_ENDPOINT", s.Endpoint)
		}
	case "s3":
		v.Required("SFD_S3_REGION", s.Region)
		v.URL("SFD_S3_ENDPOINT", s.Endpoint)
	}

	m := c.Metadata
	v.Enum("SFD_METADATA_BACKEND", m.Backend, "postgres", "mongo", "memory")
	switch m.Backend {
	case "postgres":
		v.Required("DATABASE_URL", m.DatabaseURL)
		if m.DatabaseURL != "" && !strings.HasPrefix(m.DatabaseURL, "postgres://") && !strings.HasPrefix(m.DatabaseURL, "postgresql://") {
			v.AddError("DATABASE_URL", "must be a valid PostgreSQL connection string")
		}
	case "mongo":
		v.Required("MONGODB_URI", m.MongoURI)
		v.Required("MONGODB_DATABASE", m.MongoDatabase)
	case "memory":
		if c.Production() {
			v.AddError("SFD_METADATA_BACKEND", "memory backend is not allowed in production")
		}
	}

	if c.Sweep.Enabled || c.Sweep.GroupEnabled {
		v.CronSpec("SFD_CLEANUP_SCHEDULE", c.Sweep.Schedule)
	}
	v.Positive("SFD_SWEEP_BATCH", int64(c.Sweep.Batch))
	v.Positive("SFD_RATE_LIMIT", int64(c.RateLimit.Requests))
	v.Positive("SFD_RATE_WINDOW", int64(c.RateLimit.Window))
	v.IPOrCIDR("SFD_TRUSTED_PROXIES", c.RateLimit.TrustedProxies)

	return v.Err()
}
