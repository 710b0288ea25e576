package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	// Provider API access for capture, refund and donation calls.
	PSPBaseURL         string
	PSPAPIKey          string
	PSPMerchantAccount string
	PSPTimeout         time.Duration

	// Inbound webhook protection.
	WebhookHMACKey   string
	WebhookBasicUser string
	WebhookBasicPass string
	WebhookReplayTTL time.Duration

	// Operator surface protection.
	AdminBasicUser string
	AdminBasicPass string

	// Processing cadence.
	ProcessDelay      time.Duration
	SkippedGrace      time.Duration
	SkippedBackoff    time.Duration
	RetryDelay        time.Duration
	CaptureRetryDelay time.Duration
	MaxErrors         int
	BatchSize         int

	// Worker loop cadence and cross-process exclusion.
	DispatchInterval time.Duration
	ScheduleInterval time.Duration
	WorkerLockTTL    time.Duration

	// ManualCaptureMethods lists payment methods that require an explicit
	// capture call after authorisation.
	ManualCaptureMethods []string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		PSPBaseURL:         k.String("PSP_BASE_URL"),
		PSPAPIKey:          k.String("PSP_API_KEY"),
		PSPMerchantAccount: k.String("PSP_MERCHANT_ACCOUNT"),
		PSPTimeout:         parseDuration(k.String("PSP_TIMEOUT"), "10s"),

		WebhookHMACKey:   strings.TrimSpace(k.String("WEBHOOK_HMAC_KEY")),
		WebhookBasicUser: k.String("WEBHOOK_BASIC_USER"),
		WebhookBasicPass: k.String("WEBHOOK_BASIC_PASS"),
		WebhookReplayTTL: parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "10m"),

		AdminBasicUser: k.String("ADMIN_BASIC_USER"),
		AdminBasicPass: k.String("ADMIN_BASIC_PASS"),

		ProcessDelay:      parseDuration(k.String("NOTIFICATION_PROCESS_DELAY"), "5s"),
		SkippedGrace:      parseDuration(k.String("NOTIFICATION_SKIPPED_GRACE"), "24h"),
		SkippedBackoff:    parseDuration(k.String("NOTIFICATION_SKIPPED_BACKOFF"), "1h"),
		RetryDelay:        parseDuration(k.String("NOTIFICATION_RETRY_DELAY"), "1m"),
		CaptureRetryDelay: parseDuration(k.String("NOTIFICATION_CAPTURE_RETRY_DELAY"), "30m"),
		MaxErrors:         parsePositiveInt(k.String("NOTIFICATION_MAX_ERRORS"), 3),
		BatchSize:         parsePositiveInt(k.String("NOTIFICATION_BATCH_SIZE"), 100),

		DispatchInterval: parseDuration(k.String("WORKER_DISPATCH_INTERVAL"), "10s"),
		ScheduleInterval: parseDuration(k.String("WORKER_SCHEDULE_INTERVAL"), "5s"),
		WorkerLockTTL:    parseDuration(k.String("WORKER_LOCK_TTL"), "1m"),

		ManualCaptureMethods: splitAndTrim(k.String("PSP_MANUAL_CAPTURE_METHODS")),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// ManualCaptureSet converts the configured method list into a lookup set.
func (c *Config) ManualCaptureSet() map[string]bool {
	if len(c.ManualCaptureMethods) == 0 {
		return nil
	}
	set := make(map[string]bool, len(c.ManualCaptureMethods))
	for _, m := range c.ManualCaptureMethods {
		set[strings.ToLower(m)] = true
	}
	return set
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parsePositiveInt(value string, fallback int) int {
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(value), "%d", &n); err != nil || n <= 0 {
		return fallback
	}
	return n
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
