package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg := LoadConfig()
	assert.Equal(t, "https://api.thingspeak.com/channels", cfg.FeedBaseURL)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 1, cfg.HistoryDays)
	assert.Equal(t, 15, cfg.HistoryRenderCap)
	assert.Equal(t, 1000, cfg.LoggerBufferLimit)
	assert.Equal(t, 5*time.Minute, cfg.LoggerInterval)
	assert.Equal(t, "sqlite", cfg.StoreBackend)
	assert.False(t, cfg.KafkaEnabled)
	assert.Empty(t, cfg.Channels)
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CHANNELS", " 101, ,202,")
	t.Setenv("POLL_INTERVAL", "10s")
	t.Setenv("HISTORY_RENDER_CAP", "50")
	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("KAFKA_ENABLED", "TRUE")

	cfg := LoadConfig()
	assert.Equal(t, []string{"101", "202"}, cfg.Channels)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 50, cfg.HistoryRenderCap)
	assert.Equal(t, "redis", cfg.StoreBackend)
	assert.True(t, cfg.KafkaEnabled)
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("POLL_INTERVAL", "soon")
	t.Setenv("LOGGER_BUFFER_LIMIT", "many")

	cfg := LoadConfig()
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 1000, cfg.LoggerBufferLimit)
}

// chdir is a Go 1.21-compatible equivalent of testing.T.Chdir (Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
