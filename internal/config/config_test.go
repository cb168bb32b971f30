package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("WHITE_ENGINE", "Stockfish")
	t.Setenv("BLACK_ENGINE", "Crafty")
	t.Setenv("ENGINES_FILE", "")
	t.Setenv("TIME_CONTROL", "")
	t.Setenv("GAMES", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "engines.yaml", cfg.EnginesFile)
	assert.Equal(t, "40/60", cfg.TimeControl)
	assert.Equal(t, 1, cfg.Games)
	assert.Equal(t, 7*24*time.Hour, cfg.RecordTTL)
	assert.Zero(t, cfg.TimeoutScale)
	assert.Zero(t, cfg.MaxPlies)
	assert.Equal(t, 8, cfg.BookDepth)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("WHITE_ENGINE", " Stockfish ")
	t.Setenv("BLACK_ENGINE", "Crafty")
	t.Setenv("ENGINES_FILE", "/etc/engines.yaml")
	t.Setenv("TIME_CONTROL", "300+2")
	t.Setenv("GAMES", "4")
	t.Setenv("RECORD_TTL", "1h")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("MONITOR_ADDR", ":9090")
	t.Setenv("ENGINE_TIMEOUT_SCALE", "2.5")
	t.Setenv("MAX_PLIES", "300")
	t.Setenv("RESULT_WEBHOOK_TOKEN", "secret")
	t.Setenv("OPENING_BOOK", "/books/perfect.bin")
	t.Setenv("BOOK_DEPTH", "12")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "Stockfish", cfg.WhiteEngine)
	assert.Equal(t, "/etc/engines.yaml", cfg.EnginesFile)
	assert.Equal(t, "300+2", cfg.TimeControl)
	assert.Equal(t, 4, cfg.Games)
	assert.Equal(t, time.Hour, cfg.RecordTTL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, ":9090", cfg.MonitorAddr)
	assert.Equal(t, 2.5, cfg.TimeoutScale)
	assert.Equal(t, 300, cfg.MaxPlies)
	assert.Equal(t, "secret", cfg.ResultWebhookToken)
	assert.Equal(t, "/books/perfect.bin", cfg.OpeningBook)
	assert.Equal(t, 12, cfg.BookDepth)
}

func TestLoad_IgnoresBadNumbers(t *testing.T) {
	t.Setenv("WHITE_ENGINE", "a")
	t.Setenv("BLACK_ENGINE", "b")
	t.Setenv("GAMES", "-3")
	t.Setenv("RECORD_TTL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Games)
	assert.Equal(t, 7*24*time.Hour, cfg.RecordTTL)
}

func TestLoad_RequiresEngines(t *testing.T) {
	t.Setenv("WHITE_ENGINE", "")
	t.Setenv("BLACK_ENGINE", "Crafty")
	_, err := Load()
	assert.EqualError(t, err, "WHITE_ENGINE is required")

	t.Setenv("WHITE_ENGINE", "Stockfish")
	t.Setenv("BLACK_ENGINE", "")
	_, err = Load()
	assert.EqualError(t, err, "BLACK_ENGINE is required")
}
