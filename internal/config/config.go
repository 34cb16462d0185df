package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const devJWTSecret = "lingochat-development-secret-change-me"

// Config holds the application configuration
type Config struct {
	Port        string
	Environment string
	LogLevel    string

	JWTSecret    string
	JWTExpiresIn time.Duration

	DatabaseURL string
	RedisAddr   string
	CORSOrigins []string

	GoogleTranslateAPIKey string
	LibreTranslateURL     string
	LibreTranslateAPIKey  string
	TranslationCacheSize  int
	InlineTranslateWait   time.Duration
	RefineTranslateWait   time.Duration
	RefineWorkers         int
	RefineQueue           int

	OTPCleanupInterval time.Duration
	HTTPRateLimit      int
}

// IsDevelopment reports whether OTP codes may be revealed and dev fallbacks enabled.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Port:        envOr("PORT", "5001"),
		Environment: envOr("NODE_ENV", "production"),
		LogLevel:    envOr("LOG_LEVEL", "info"),

		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisAddr:   strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		CORSOrigins: splitList(envOr("CORS_ORIGINS", "http://localhost:8080,http://localhost:8081")),

		GoogleTranslateAPIKey: os.Getenv("GOOGLE_TRANSLATE_API_KEY"),
		LibreTranslateURL:     os.Getenv("LIBRETRANSLATE_URL"),
		LibreTranslateAPIKey:  os.Getenv("LIBRETRANSLATE_API_KEY"),
		TranslationCacheSize:  envInt("TRANSLATION_CACHE_SIZE", 10000),
		InlineTranslateWait:   envMillis("TRANSLATION_INLINE_TIMEOUT_MS", 300),
		RefineTranslateWait:   envMillis("TRANSLATION_REFINE_TIMEOUT_MS", 10000),
		RefineWorkers:         envInt("REFINE_WORKERS", 4),
		RefineQueue:           envInt("REFINE_QUEUE", 256),

		HTTPRateLimit: envInt("HTTP_RATE_LIMIT", 100),
	}

	// Placeholder keys from sample .env files count as unset.
	if cfg.GoogleTranslateAPIKey == "your-google-translate-api-key" {
		cfg.GoogleTranslateAPIKey = ""
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("JWT_SECRET environment variable is required")
		}
		slog.Warn("config: JWT_SECRET not set, using development secret")
		cfg.JWTSecret = devJWTSecret
	}

	expires, err := ParseLifetime(envOr("JWT_EXPIRES_IN", "7d"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_EXPIRES_IN: %w", err)
	}
	cfg.JWTExpiresIn = expires

	cleanup, err := time.ParseDuration(envOr("OTP_CLEANUP_INTERVAL", "1m"))
	if err != nil || cleanup <= 0 {
		return nil, fmt.Errorf("invalid OTP_CLEANUP_INTERVAL %q", os.Getenv("OTP_CLEANUP_INTERVAL"))
	}
	cfg.OTPCleanupInterval = cleanup

	if cfg.DatabaseURL == "" && !cfg.IsDevelopment() {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if cfg.RefineWorkers <= 0 {
		slog.Warn("config: invalid refine workers, defaulting", "workers", cfg.RefineWorkers)
		cfg.RefineWorkers = 4
	}
	if cfg.RefineQueue <= 0 {
		slog.Warn("config: invalid refine queue, defaulting", "queue", cfg.RefineQueue)
		cfg.RefineQueue = 256
	}
	if cfg.TranslationCacheSize <= 0 {
		cfg.TranslationCacheSize = 10000
	}

	return cfg, nil
}

// ParseLifetime accepts Go durations plus a day suffix ("7d").
func ParseLifetime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("bad day count in %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("lifetime must be positive, got %q", s)
	}
	return d, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
		slog.Warn("config: invalid int, using default", "key", key, "value", v, "default", fallback)
	}
	return fallback
}

func envMillis(key string, defaultMillis int) time.Duration {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
		slog.Warn("config: invalid duration, using default", "key", key, "value", v, "default_ms", defaultMillis)
	}
	return time.Duration(defaultMillis) * time.Millisecond
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
