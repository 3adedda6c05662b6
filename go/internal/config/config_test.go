package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, []int{30, 60, 120}, cfg.Race.AllowedDurations)
	assert.Equal(t, 5, cfg.Race.MaxPlayers)
	assert.Equal(t, 3, cfg.Race.CountdownTicks)
	assert.Equal(t, 200*time.Millisecond, cfg.Race.ProgressInterval)
	assert.Len(t, cfg.Race.Palette, 8)
	assert.True(t, cfg.Race.DurationAllowed(60))
	assert.False(t, cfg.Race.DurationAllowed(45))
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
race:
  max_players: 8
  progress_interval: 500ms
nats:
  presence_ttl: 1m
gateway:
  port: "9000"
watchdog:
  words_limit: 5m
`), 0o600))
	t.Setenv("NATS_URL", "nats://example:4222")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Race.MaxPlayers)
	assert.Equal(t, 500*time.Millisecond, cfg.Race.ProgressInterval)
	assert.Equal(t, time.Minute, cfg.NATS.PresenceTTL)
	assert.Equal(t, "9000", cfg.Gateway.Port)
	assert.Equal(t, "nats://example:4222", cfg.NATS.URL)
	assert.Equal(t, 5*time.Minute, cfg.Watchdog.WordsLimit)
	assert.Equal(t, 15*time.Second, cfg.Watchdog.Grace)
	assert.Equal(t, 60, cfg.Race.DefaultDuration, "unset keys keep defaults")
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("race:\n  default_duration: 45\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("watchdog:\n  words_limit: 0s\n"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("race: [\n"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}
