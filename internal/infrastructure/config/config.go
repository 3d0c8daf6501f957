package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr            string
	LogLevel        string
	CORSAllowOrigin string
	// Path to the bbolt data file. Empty selects the in-memory store.
	DataFile string

	// Correlation / session limits
	MaxInflight        int
	SessionMaxDuration time.Duration
	SessionMaxRequests int

	// Persistence batching
	BatchSize     int
	FlushInterval time.Duration

	// Replay deadlines: ordinary pipeline replays vs user-initiated diff
	// replays, which get a longer budget.
	ReplayTimeout     time.Duration
	DiffReplayTimeout time.Duration
	InsecureTLS       bool

	// Default page size for request listings
	PageSize int
	// When disabled, sensitive header values are masked in API responses.
	ExposeSensitiveHeaders bool
}

func FromEnv() Config {
	cfg := Config{
		Addr:            getEnv("ADDR", ":9095"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		CORSAllowOrigin: getEnv("CORS_ALLOW_ORIGIN", "*"),
		DataFile:        getEnv("DATA_FILE", ""),
	}
	cfg.MaxInflight = getEnvInt("MAX_INFLIGHT", 100)
	cfg.SessionMaxDuration = time.Duration(getEnvInt("SESSION_MAX_DURATION_MS", int(30*time.Minute/time.Millisecond))) * time.Millisecond
	cfg.SessionMaxRequests = getEnvInt("SESSION_MAX_REQUESTS", 1000)
	cfg.BatchSize = getEnvInt("BATCH_SIZE", 20)
	cfg.FlushInterval = time.Duration(getEnvInt("FLUSH_INTERVAL_MS", 5000)) * time.Millisecond
	cfg.ReplayTimeout = time.Duration(getEnvInt("REPLAY_TIMEOUT_MS", 5000)) * time.Millisecond
	cfg.DiffReplayTimeout = time.Duration(getEnvInt("DIFF_REPLAY_TIMEOUT_MS", 10000)) * time.Millisecond
	if os.Getenv("INSECURE_TLS") == "1" || os.Getenv("INSECURE_TLS") == "true" {
		cfg.InsecureTLS = true
	}
	cfg.PageSize = getEnvInt("PAGE_SIZE", 50)
	// default: expose sensitive headers unless explicitly disabled
	if os.Getenv("EXPOSE_SENSITIVE_HEADERS") == "0" || os.Getenv("EXPOSE_SENSITIVE_HEADERS") == "false" {
		cfg.ExposeSensitiveHeaders = false
	} else {
		cfg.ExposeSensitiveHeaders = true
	}
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
