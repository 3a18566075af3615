package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marib00/flashcard-app/internal/domain"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := Flags("test")
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newFlags(t))
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.Listen)
	assert.Equal(t, "flashcards.db", cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 600, cfg.RevealDelayMs)
	assert.Equal(t, "auto", cfg.Priorities.Preset)
	assert.Equal(t, "highest", cfg.Priorities.Again)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: "127.0.0.1:9999"
log_level: debug
priorities:
  preset: custom
  easy: "off"
`), 0o644))

	cfg, err := Load(newFlags(t, "--config", path))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9999", cfg.Listen)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "custom", cfg.Priorities.Preset)
	assert.Equal(t, "off", cfg.Priorities.Easy)
	// Untouched keys keep their defaults.
	assert.Equal(t, "flashcards.db", cfg.DBPath)
	assert.Equal(t, "highest", cfg.Priorities.Again)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \"127.0.0.1:9999\"\n"), 0o644))

	t.Setenv("FLASHCARDS_LISTEN", "127.0.0.1:7777")

	cfg, err := Load(newFlags(t, "--config", path))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7777", cfg.Listen)
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	t.Setenv("FLASHCARDS_LISTEN", "127.0.0.1:7777")

	cfg, err := Load(newFlags(t, "--listen", "127.0.0.1:6666"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6666", cfg.Listen)
}

func TestLoadInvalid(t *testing.T) {
	t.Run("bad log level", func(t *testing.T) {
		_, err := Load(newFlags(t, "--log_level", "chatty"))
		assert.Error(t, err)
	})

	t.Run("bad priority level", func(t *testing.T) {
		t.Setenv("FLASHCARDS_PRIORITIES__AGAIN", "urgent")
		_, err := Load(newFlags(t))
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(newFlags(t, "--config", "/does/not/exist.yaml"))
		assert.Error(t, err)
	})
}

func TestPrioritiesToDomain(t *testing.T) {
	cfg := Default()
	cfg.Priorities.Preset = "custom"
	cfg.Priorities.Easy = "off"

	pc, err := cfg.Priorities.ToDomain()
	require.NoError(t, err)

	assert.Equal(t, domain.PresetCustom, pc.Preset)
	assert.Equal(t, domain.PriorityOff, pc.Level(domain.ClassEasy))
	assert.Equal(t, domain.PriorityHighest, pc.Level(domain.ClassAgain))

	t.Run("rejects unknown level", func(t *testing.T) {
		bad := Default().Priorities
		bad.Good = "sometimes"
		_, err := bad.ToDomain()
		assert.Error(t, err)
	})
}
