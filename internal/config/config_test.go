package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/remotesync/internal/changes"
	"github.com/openmined/remotesync/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	cfg := Default()
	cfg.SourceDir = t.TempDir()
	cfg.TargetType = "scp"
	cfg.Target = "alice@example.com:/srv"
	cfg.JournalPath = filepath.Join(t.TempDir(), "journal.db")
	return cfg
}

func TestConfig_Validate_NormalizesAndDefaults(t *testing.T) {
	cfg := validConfig(t)
	cfg.TargetType = " SCP "
	cfg.SourceDir = cfg.SourceDir + "/./"

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "scp", cfg.TargetType)
	assert.True(t, filepath.IsAbs(cfg.SourceDir))
	assert.Equal(t, filepath.Clean(cfg.SourceDir), cfg.SourceDir)
	assert.True(t, filepath.IsAbs(cfg.JournalPath))
}

func TestConfig_Validate_ErrorsOnInvalidInputs(t *testing.T) {
	t.Run("missing source", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.SourceDir = filepath.Join(t.TempDir(), "missing")
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not exist")
	})

	t.Run("unknown type", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.TargetType = "rsync"
		assert.ErrorIs(t, cfg.Validate(), remote.ErrUnknownTargetType)
	})

	t.Run("empty target", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Target = " "
		assert.ErrorContains(t, cfg.Validate(), "target is required")
	})

	t.Run("bad watcher", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Watcher = "inotify"
		assert.ErrorContains(t, cfg.Validate(), "watcher")
	})

	t.Run("durations", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.WatchdogTimeout = 0
		cfg.RetryBackoff = -time.Second
		err := cfg.Validate()
		assert.ErrorContains(t, err, "watchdog timeout")
		assert.ErrorContains(t, err, "retry backoff")
	})

	t.Run("ports", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.SSHPort = 70000
		assert.ErrorContains(t, cfg.Validate(), "ssh port")
	})
}

func TestConfig_Options(t *testing.T) {
	cfg := validConfig(t)
	cfg.SSHPort = 2222
	cfg.S3Endpoint = "http://localhost:9000"
	cfg.Watcher = "native"

	opts := cfg.RemoteOptions()
	assert.Equal(t, 2222, opts.SSH.Port)
	assert.Equal(t, "http://localhost:9000", opts.S3.Endpoint)
	assert.Equal(t, DefaultChunkSize, opts.ChunkSize)

	assert.Equal(t, changes.KindNative, cfg.WatcherOptions().Mode)
}
