package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("LOCK_BACKEND", "")
	t.Setenv("QUEUE_TIMEOUT", "")
	t.Setenv("SCORE_WINDOW", "")
	t.Setenv("EXPANDED_SCORE_WINDOW", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Equal(t, LockLocal, cfg.LockBackend)
	assert.Equal(t, 100, cfg.ScoreWindow)
	assert.Equal(t, 200, cfg.ExpandedScoreWindow)
	assert.Equal(t, 5*time.Minute, cfg.QueueTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", StorePostgres)
	t.Setenv("DATABASE_URL", "postgres://localhost/matchmaking")
	t.Setenv("DATABASE_DRIVER", "pgx")
	t.Setenv("QUEUE_TIMEOUT", "90s")
	t.Setenv("REAPER_INTERVAL", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "pgx", cfg.DatabaseDriver)
	assert.Equal(t, 90*time.Second, cfg.QueueTimeout)
	assert.Equal(t, 30*time.Second, cfg.ReaperInterval)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			StoreBackend:        StoreMemory,
			LockBackend:         LockLocal,
			ScoreWindow:         100,
			ExpandedScoreWindow: 200,
			QueueTimeout:        5 * time.Minute,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"기본값은 유효", func(c *Config) {}, false},
		{"postgres 는 DATABASE_URL 필요", func(c *Config) { c.StoreBackend = StorePostgres }, true},
		{"mongo 는 MONGO_URL 필요", func(c *Config) { c.StoreBackend = StoreMongo }, true},
		{"알 수 없는 저장소", func(c *Config) { c.StoreBackend = "sqlite" }, true},
		{"redis 락은 REDIS_URL 필요", func(c *Config) { c.LockBackend = LockRedis }, true},
		{"redis 락 + URL", func(c *Config) {
			c.LockBackend = LockRedis
			c.RedisURL = "redis://localhost:6379"
		}, false},
		{"확장 범위가 기본 범위보다 작음", func(c *Config) { c.ExpandedScoreWindow = 50 }, true},
		{"기본 범위 0", func(c *Config) { c.ScoreWindow = 0 }, true},
		{"타임아웃 0", func(c *Config) { c.QueueTimeout = 0 }, true},
		{"음수 요청 제한", func(c *Config) { c.QueueRateLimit = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
