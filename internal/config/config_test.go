package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "./data/arena.db", cfg.DBPath)
	require.Equal(t, "http://localhost:8000", cfg.Backend.URL)
	require.Equal(t, 20*time.Second, cfg.Backend.ConnectTimeout)
	require.Equal(t, 15*time.Second, cfg.Backend.ContinueTimeout)
	require.Equal(t, 30*time.Millisecond, cfg.Backend.TypingInterval)
	require.Equal(t, 5, cfg.Backend.MaxRounds)
	require.Zero(t, cfg.Backend.Rounds)
	require.True(t, cfg.Archive.Enabled)
	require.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)
	require.InDelta(t, 2.0, cfg.HTTP.RateLimitRPS, 0)
	require.Equal(t, 5, cfg.HTTP.RateLimitBurst)
	require.Equal(t, 10*time.Second, cfg.HTTP.KeepaliveInterval)

	level, err := cfg.Level()
	require.NoError(t, err)
	require.Equal(t, slog.LevelInfo, level)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("BACKEND_URL", "https://debate.internal:8443")
	t.Setenv("CONNECT_TIMEOUT", "5s")
	t.Setenv("MAX_ROUNDS", "3")
	t.Setenv("DEBATE_ROUNDS", "3")
	t.Setenv("ARCHIVE_ENABLED", "false")
	t.Setenv("ALLOWED_ORIGINS", "https://arena.example, http://localhost:5173")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Port)
	require.Equal(t, "https://debate.internal:8443", cfg.Backend.URL)
	require.Equal(t, 5*time.Second, cfg.Backend.ConnectTimeout)
	require.Equal(t, 3, cfg.Backend.MaxRounds)
	require.Equal(t, 3, cfg.Backend.Rounds)
	require.False(t, cfg.Archive.Enabled)
	require.Equal(t, []string{"https://arena.example", "http://localhost:5173"}, cfg.HTTP.AllowedOrigins)

	level, err := cfg.Level()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"bad duration", "CONNECT_TIMEOUT", "soon"},
		{"relative backend url", "BACKEND_URL", "localhost:8000"},
		{"zero rounds", "MAX_ROUNDS", "0"},
		{"negative debate rounds", "DEBATE_ROUNDS", "-1"},
		{"zero rate", "RATE_LIMIT_RPS", "0"},
		{"unknown level", "LOG_LEVEL", "chatty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestValidateAllowsEmptyDBPathWithoutArchive(t *testing.T) {
	t.Setenv("ARCHIVE_ENABLED", "false")
	t.Setenv("DB_PATH", "")

	_, err := Load()
	require.NoError(t, err)
}
