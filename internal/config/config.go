package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings. Values come from the environment with
// development defaults; a .env file is honored when present.
type Config struct {
	MongoURI  string
	MongoDB   string
	RedisAddr string
	Port      string
	JWTSecret string

	RoundLimit      int
	CountdownSec    int
	InterRoundDelay time.Duration
	StateTTL        time.Duration
	LockExpiry      time.Duration
	LockRetries     int
}

func Load() *Config {
	// Missing .env is fine; env vars still apply.
	_ = godotenv.Load()

	return &Config{
		MongoURI:  getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:   getEnv("MONGO_DB", "quizbattle"),
		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		Port:      getEnv("PORT", "8080"),
		JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-production"),

		RoundLimit:      getEnvInt("ROUND_LIMIT", 10),
		CountdownSec:    getEnvInt("COUNTDOWN_SEC", 30),
		InterRoundDelay: time.Duration(getEnvInt("INTER_ROUND_DELAY_SEC", 5)) * time.Second,
		StateTTL:        time.Duration(getEnvInt("STATE_TTL_MIN", 60)) * time.Minute,
		LockExpiry:      time.Duration(getEnvInt("LOCK_EXPIRY_SEC", 8)) * time.Second,
		LockRetries:     getEnvInt("LOCK_RETRIES", 16),
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}
