package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// ErrNotConfigured reports an optional backend left without connection
// settings.
var ErrNotConfigured = errors.New("not configured")

type Settings struct {
	Port     string
	LogLevel string

	InterviewAPIURL     string
	InterviewAPITimeout time.Duration
	InterviewAPIPool    int

	MaxClipBytes  int
	SnapshotTTL   time.Duration
	AttachTimeout time.Duration

	BeaconStream  string
	BeaconWorkers int

	MongoURI    string
	MongoDB     string
	PostgresURI string
	RedisAddr   string
}

func LoadSettings() Settings {
	return Settings{
		Port:     envStr("PORT", "8080"),
		LogLevel: envStr("LOG_LEVEL", "info"),

		InterviewAPIURL:     envStr("INTERVIEW_API_URL", "http://localhost:8000"),
		InterviewAPITimeout: envDuration("INTERVIEW_API_TIMEOUT", 60*time.Second),
		InterviewAPIPool:    envInt("INTERVIEW_API_POOL", 10),

		MaxClipBytes: envInt("MAX_CLIP_BYTES", 10<<20),
		SnapshotTTL:  envDuration("SNAPSHOT_TTL", 24*time.Hour),

		AttachTimeout: envDuration("SESSION_ATTACH_TIMEOUT", 2*time.Minute),

		BeaconStream:  envStr("BEACON_STREAM", "history:outbox"),
		BeaconWorkers: envInt("BEACON_WORKERS", 2),

		MongoURI:    os.Getenv("MONGO_URI"),
		MongoDB:     envStr("MONGO_DB", "yoovoice"),
		PostgresURI: os.Getenv("POSTGRES_URI"),
		RedisAddr:   firstEnv("REDIS_ADDR", "REDIS_URI", "REDIS_URL"),
	}
}

func envStr(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

// envDuration accepts Go durations ("90s") or plain seconds ("90").
func envDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
