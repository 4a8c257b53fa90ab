// Package config provides configuration loading and validation for the
// fleetcore sidecar. It uses koanf to merge environment variables with
// optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the fleetcore core and sidecar.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// State persistence
	StateDir  string `koanf:"state_dir"`  // file-backed store directory
	RedisAddr string `koanf:"redis_addr"` // if set, Redis replaces the file store

	// Request layer defaults
	CacheTTL       time.Duration `koanf:"cache_ttl"`
	RetryCount     int           `koanf:"retry_count"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// Audit ledger
	AuditRetentionDays int    `koanf:"audit_retention_days"`
	AuditMaxEntries    int    `koanf:"audit_max_entries"`
	AuditEncryptionKey string `koanf:"audit_encryption_key"`
	AuditSyncURL       string `koanf:"audit_sync_url"`

	// Tracing
	TracingEnabled      bool    `koanf:"tracing_enabled"`
	TracingEndpoint     string  `koanf:"tracing_endpoint"`
	TracingExporterType string  `koanf:"tracing_exporter_type"`
	TracingSamplingRate float64 `koanf:"tracing_sampling_rate"`
	TracingInsecure     bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrInvalidRetryCount    = errors.New("retry_count must not be negative")
	ErrInvalidRetention     = errors.New("audit_retention_days must be positive")
	ErrInvalidMaxEntries    = errors.New("audit_max_entries must be positive")
	ErrInvalidSamplingRate  = errors.New("tracing_sampling_rate must be between 0 and 1")
	ErrShortEncryptionKey   = errors.New("audit_encryption_key must be at least 16 characters")
	ErrInvalidCacheTTL      = errors.New("cache_ttl must be positive")
	ErrInvalidRetryDelay    = errors.New("retry_base_delay must be positive")
	ErrInvalidRequestWindow = errors.New("request_timeout must be positive")
)

// Default values for non-secret configuration.
const (
	DefaultPort               = 8085
	DefaultEnv                = "development"
	DefaultCacheTTL           = 5 * time.Minute
	DefaultRetryCount         = 3
	DefaultRetryBaseDelay     = 1 * time.Second
	DefaultRequestTimeout     = 30 * time.Second
	DefaultAuditRetentionDays = 90
	DefaultAuditMaxEntries    = 10000
	DefaultSamplingRate       = 0.1
)

// Load reads configuration from environment variables and an optional config
// file. Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefault("FLEETCORE_PORT", k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	retryCount, retryErr := getEnvIntOrDefault("FLEETCORE_RETRY_COUNT", k.Int("retry_count"), DefaultRetryCount)
	if retryErr != nil {
		loadErrs = append(loadErrs, retryErr)
	}

	retentionDays, retErr := getEnvIntOrDefault("FLEETCORE_AUDIT_RETENTION_DAYS", k.Int("audit_retention_days"), DefaultAuditRetentionDays)
	if retErr != nil {
		loadErrs = append(loadErrs, retErr)
	}

	maxEntries, maxErr := getEnvIntOrDefault("FLEETCORE_AUDIT_MAX_ENTRIES", k.Int("audit_max_entries"), DefaultAuditMaxEntries)
	if maxErr != nil {
		loadErrs = append(loadErrs, maxErr)
	}

	cacheTTL, ttlErr := getEnvDurationOrDefault("FLEETCORE_CACHE_TTL", k.Duration("cache_ttl"), DefaultCacheTTL)
	if ttlErr != nil {
		loadErrs = append(loadErrs, ttlErr)
	}

	baseDelay, delayErr := getEnvDurationOrDefault("FLEETCORE_RETRY_BASE_DELAY", k.Duration("retry_base_delay"), DefaultRetryBaseDelay)
	if delayErr != nil {
		loadErrs = append(loadErrs, delayErr)
	}

	reqTimeout, timeoutErr := getEnvDurationOrDefault("FLEETCORE_REQUEST_TIMEOUT", k.Duration("request_timeout"), DefaultRequestTimeout)
	if timeoutErr != nil {
		loadErrs = append(loadErrs, timeoutErr)
	}

	samplingRate, sampleErr := getEnvFloatOrDefault("FLEETCORE_TRACING_SAMPLING_RATE", k.Float64("tracing_sampling_rate"), DefaultSamplingRate)
	if sampleErr != nil {
		loadErrs = append(loadErrs, sampleErr)
	}

	cfg := &Config{
		Port:                port,
		Env:                 getEnvOrDefault("FLEETCORE_ENV", k.String("env"), DefaultEnv),
		StateDir:            getEnvOrKoanf("FLEETCORE_STATE_DIR", k, "state_dir"),
		RedisAddr:           getEnvOrKoanf("FLEETCORE_REDIS_ADDR", k, "redis_addr"),
		CacheTTL:            cacheTTL,
		RetryCount:          retryCount,
		RetryBaseDelay:      baseDelay,
		RequestTimeout:      reqTimeout,
		AuditRetentionDays:  retentionDays,
		AuditMaxEntries:     maxEntries,
		AuditEncryptionKey:  getEnvOrKoanf("FLEETCORE_AUDIT_ENCRYPTION_KEY", k, "audit_encryption_key"),
		AuditSyncURL:        getEnvOrKoanf("FLEETCORE_AUDIT_SYNC_URL", k, "audit_sync_url"),
		TracingEnabled:      getEnvBoolOrDefault("FLEETCORE_TRACING_ENABLED", k, "tracing_enabled"),
		TracingEndpoint:     getEnvOrKoanf("FLEETCORE_TRACING_ENDPOINT", k, "tracing_endpoint"),
		TracingExporterType: getEnvOrKoanf("FLEETCORE_TRACING_EXPORTER", k, "tracing_exporter_type"),
		TracingSamplingRate: samplingRate,
		TracingInsecure:     getEnvBoolOrDefault("FLEETCORE_TRACING_INSECURE", k, "tracing_insecure"),
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvBoolOrDefault returns the environment variable as bool if set,
// otherwise the koanf value, defaulting to false.
func getEnvBoolOrDefault(envKey string, k *koanf.Koanf, koanfKey string) bool {
	if val := os.Getenv(envKey); val != "" {
		switch val {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return k.Bool(koanfKey)
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault returns the environment variable as a duration if
// set, otherwise the koanf value, or default. Returns an error if the
// environment variable is set but cannot be parsed.
func getEnvDurationOrDefault(envKey string, koanfVal time.Duration, defaultVal time.Duration) (time.Duration, error) {
	if val := os.Getenv(envKey); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", envKey, err)
		}
		return d, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all configuration values are in range.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.RetryCount < 0 {
		errs = append(errs, ErrInvalidRetryCount)
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, ErrInvalidCacheTTL)
	}
	if c.RetryBaseDelay <= 0 {
		errs = append(errs, ErrInvalidRetryDelay)
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, ErrInvalidRequestWindow)
	}
	if c.AuditRetentionDays <= 0 {
		errs = append(errs, ErrInvalidRetention)
	}
	if c.AuditMaxEntries <= 0 {
		errs = append(errs, ErrInvalidMaxEntries)
	}
	if c.TracingSamplingRate < 0 || c.TracingSamplingRate > 1 {
		errs = append(errs, ErrInvalidSamplingRate)
	}
	// The encryption key is optional (a development fallback exists), but a
	// supplied key must carry enough entropy to be worth using.
	if c.AuditEncryptionKey != "" && len(c.AuditEncryptionKey) < 16 {
		errs = append(errs, ErrShortEncryptionKey)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                 fmt.Sprintf("%d", c.Port),
		"env":                  c.Env,
		"state_dir":            c.StateDir,
		"redis_addr":           c.RedisAddr,
		"cache_ttl":            c.CacheTTL.String(),
		"retry_count":          fmt.Sprintf("%d", c.RetryCount),
		"retry_base_delay":     c.RetryBaseDelay.String(),
		"request_timeout":      c.RequestTimeout.String(),
		"audit_retention_days": fmt.Sprintf("%d", c.AuditRetentionDays),
		"audit_max_entries":    fmt.Sprintf("%d", c.AuditMaxEntries),
		"audit_encryption_key": maskSecret(c.AuditEncryptionKey),
		"audit_sync_url":       c.AuditSyncURL,
		"tracing_enabled":      fmt.Sprintf("%t", c.TracingEnabled),
		"tracing_endpoint":     c.TracingEndpoint,
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}
