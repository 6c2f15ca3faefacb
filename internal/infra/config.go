package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string

	// Base URL of the external inference cluster; per-type paths are
	// appended at admission time.
	InferBaseURL string

	StreamName    string
	StreamGroup   string
	NotifyChannel string
	QueueBlock    time.Duration

	DispatchConcurrency int
	DispatchWatchdog    time.Duration
	SweepInterval       time.Duration
	SweepAge            time.Duration

	LongPollTimeout    time.Duration
	LongPollMaxTimeout time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	RateLimitPerMin int
	AllowedOrigins  []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		InferBaseURL: getEnv("INFER_BASE_URL", "http://zdxai.iepose.cn"),

		StreamName:    getEnv("INFER_STREAM", "aigc:inference:stream"),
		StreamGroup:   getEnv("INFER_STREAM_GROUP", "aigc:inference:stream:rg"),
		NotifyChannel: getEnv("INFER_NOTIFY_CHANNEL", "aigc:inference:state:notify"),
		QueueBlock:    time.Second * time.Duration(getEnvInt("QUEUE_BLOCK_SECONDS", 5)),

		DispatchConcurrency: getEnvInt("DISPATCH_CONCURRENCY", 4),
		DispatchWatchdog:    time.Minute * time.Duration(getEnvInt("DISPATCH_WATCHDOG_MINUTES", 30)),
		SweepInterval:       time.Second * time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 60)),
		SweepAge:            time.Second * time.Duration(getEnvInt("SWEEP_AGE_SECONDS", 120)),

		LongPollTimeout:    time.Second * time.Duration(getEnvInt("LONG_POLL_TIMEOUT_SECONDS", 30)),
		LongPollMaxTimeout: time.Second * time.Duration(getEnvInt("LONG_POLL_MAX_TIMEOUT_SECONDS", 120)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 150)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),

		RateLimitPerMin: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		AllowedOrigins:  splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.DispatchConcurrency < 1 {
		return nil, fmt.Errorf("DISPATCH_CONCURRENCY must be at least 1")
	}

	// The write timeout bounds long-poll handlers; keep headroom over the
	// largest timeout a client may request.
	if cfg.HTTPWriteTimeout <= cfg.LongPollMaxTimeout {
		cfg.HTTPWriteTimeout = cfg.LongPollMaxTimeout + 30*time.Second
	}

	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
