package platform

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDirectories(t *testing.T) {
	dataDir := t.TempDir()

	require.NoError(t, EnsureDirectories(dataDir))

	for _, dir := range []string{GetLogsDir(dataDir), GetBinDir(dataDir), GetStateDir(dataDir)} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir(), dir)
	}
	assert.Equal(t, filepath.Join(dataDir, "bin", GetExecutableName()), GetEnginePath(dataDir))
}

func TestExpandPath(t *testing.T) {
	expanded := ExpandPath("~/relay/data")
	assert.False(t, strings.HasPrefix(expanded, "~/"))
	assert.True(t, strings.HasSuffix(expanded, filepath.Join("relay", "data")))

	assert.Equal(t, "/absolute/path", ExpandPath("/absolute/path"))
	assert.Equal(t, "relative/path", ExpandPath("relative/path"))
}

func TestDeviceSpec_NotEmpty(t *testing.T) {
	assert.NotEmpty(t, DeviceSpec())
}

func TestIdleInhibitor_ReleaseWithoutHoldIsNoop(t *testing.T) {
	var inhibitor IdleInhibitor
	inhibitor.SetIdleTimerDisabled(false)
	inhibitor.SetIdleTimerDisabled(false)
	assert.Nil(t, inhibitor.cmd)
}
