package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"

	LockLocal = "local"
	LockRedis = "redis"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Store
	StoreBackend   string
	DatabaseDriver string
	DatabaseURL    string
	MongoURL       string
	MongoDatabase  string

	// Redis (분산 락, 이벤트)
	RedisURL    string
	LockBackend string

	// Matchmaking
	ScoreWindow         int
	ExpandedScoreWindow int
	QueueTimeout        time.Duration
	ReaperInterval      time.Duration

	// 클라이언트 IP 당 분당 대기열 변경 요청 수 (0 이면 제한 없음)
	QueueRateLimit int
}

func Load() (*Config, error) {
	// .env 파일 로드 (있는 경우)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		Env:                 getEnv("ENV", "development"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		StoreBackend:        getEnv("STORE_BACKEND", StoreMemory),
		DatabaseDriver:      getEnv("DATABASE_DRIVER", "postgres"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		MongoURL:            getEnv("MONGO_URL", ""),
		MongoDatabase:       getEnv("MONGO_DATABASE", "game_server"),
		RedisURL:            getEnv("REDIS_URL", ""),
		LockBackend:         getEnv("LOCK_BACKEND", LockLocal),
		ScoreWindow:         getEnvInt("SCORE_WINDOW", 100),
		ExpandedScoreWindow: getEnvInt("EXPANDED_SCORE_WINDOW", 200),
		QueueTimeout:        parseDuration(getEnv("QUEUE_TIMEOUT", "5m"), 5*time.Minute),
		ReaperInterval:      parseDuration(getEnv("REAPER_INTERVAL", "0s"), 0),
		QueueRateLimit:      getEnvInt("QUEUE_RATE_LIMIT", 0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 설정 조합 검증
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for store backend %q", c.StoreBackend)
		}
	case StoreMongo:
		if c.MongoURL == "" {
			return fmt.Errorf("MONGO_URL is required for store backend %q", c.StoreBackend)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.LockBackend {
	case LockLocal:
	case LockRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for lock backend %q", c.LockBackend)
		}
	default:
		return fmt.Errorf("unknown LOCK_BACKEND %q", c.LockBackend)
	}

	if c.ScoreWindow <= 0 || c.ExpandedScoreWindow < c.ScoreWindow {
		return fmt.Errorf("invalid score windows: %d / %d", c.ScoreWindow, c.ExpandedScoreWindow)
	}
	if c.QueueTimeout <= 0 {
		return fmt.Errorf("QUEUE_TIMEOUT must be positive")
	}
	if c.QueueRateLimit < 0 {
		return fmt.Errorf("QUEUE_RATE_LIMIT must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
