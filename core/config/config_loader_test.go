package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-client/internal/constants"
	"relay-client/internal/platform"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), constants.ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.jsonc"))
	require.NoError(t, err)

	assert.Equal(t, platform.ExpandPath(DefaultDataDir), cfg.DataDir)
	assert.Equal(t, TunnelModeProcess, cfg.Tunnel.Mode)
	assert.Equal(t, platform.GetEnginePath(cfg.DataDir), cfg.Tunnel.EnginePath)
	assert.Equal(t, constants.DefaultControlListen, cfg.Control.Listen)
	assert.Equal(t, DefaultWaitTimeout, cfg.WaitTimeoutDuration())
	assert.Equal(t, DefaultPollInterval, cfg.PollIntervalDuration())
	assert.Nil(t, cfg.Network.ForceExpensive)
}

func TestLoad_JSONCWithCommentsAndTrailingCommas(t *testing.T) {
	dataDir := t.TempDir()
	path := writeConfig(t, `{
  // local test network
  "data_dir": "`+filepath.ToSlash(dataDir)+`",
  "env_name": "test",
  "tunnel": {
    "mode": "dry-run", // no engine binary
  },
  "network": {
    "poll_interval": "250ms",
    "force_expensive": true,
  },
  "wait_timeout": "2s",
}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.ToSlash(dataDir), filepath.ToSlash(cfg.DataDir))
	assert.Equal(t, "test", cfg.EnvName)
	assert.Equal(t, constants.DefaultHostName, cfg.HostName)
	assert.Equal(t, TunnelModeDryRun, cfg.Tunnel.Mode)
	assert.Equal(t, 250*time.Millisecond, cfg.PollIntervalDuration())
	assert.Equal(t, 2*time.Second, cfg.WaitTimeoutDuration())
	require.NotNil(t, cfg.Network.ForceExpensive)
	assert.True(t, *cfg.Network.ForceExpensive)
}

func TestLoad_RejectsUnknownTunnelMode(t *testing.T) {
	path := writeConfig(t, `{"tunnel": {"mode": "kernel"}}`)

	_, err := Load(path)

	assert.True(t, errors.Is(err, ErrUnknownTunnelMode))
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := writeConfig(t, `{"env_name": }`)

	_, err := Load(path)

	assert.Error(t, err)
}

func TestParseDuration_FallsBack(t *testing.T) {
	cfg := Default()
	cfg.WaitTimeout = "soon"
	cfg.Network.PollInterval = "-1s"

	assert.Equal(t, DefaultWaitTimeout, cfg.WaitTimeoutDuration())
	assert.Equal(t, DefaultPollInterval, cfg.PollIntervalDuration())
}

func TestRemoveTrailingCommas(t *testing.T) {
	got := removeTrailingCommas([]byte(`{"a": [1, 2, ], "b": 1,}`))
	assert.Equal(t, `{"a": [1, 2 ], "b": 1}`, string(got))
}
