package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the engine's configuration.
type Config struct {
	APIBaseURL   string
	TelemetryURL string
	// RedisURL and DatabaseURL select the durable attempt-state backend;
	// both empty means the file store at StatePath.
	RedisURL    string
	DatabaseURL string
	StatePath   string

	LogLevel  string
	LogFormat string

	TickInterval   time.Duration
	ViolationLimit int
	SubmitTimeout  time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // .env is optional

	return &Config{
		APIBaseURL:     getEnv("EXAM_API_BASE_URL", "http://localhost:4000/api"),
		TelemetryURL:   getEnv("EXAM_TELEMETRY_URL", "ws://localhost:4001/ws"),
		RedisURL:       getEnv("EXAM_REDIS_URL", ""),
		DatabaseURL:    getEnv("EXAM_DATABASE_URL", ""),
		StatePath:      getEnv("EXAM_STATE_PATH", "./attempt_state.json"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "pretty"),
		TickInterval:   time.Duration(getEnvInt("EXAM_TICK_INTERVAL_MS", 250)) * time.Millisecond,
		ViolationLimit: getEnvInt("EXAM_VIOLATION_LIMIT", 5),
		SubmitTimeout:  time.Duration(getEnvInt("EXAM_SUBMIT_TIMEOUT_SEC", 15)) * time.Second,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
