package platform

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"relay-client/internal/constants"
	"relay-client/internal/debuglog"
)

// GetConfigPath returns the path to config.jsonc inside the data directory.
func GetConfigPath(dataDir string) string {
	return filepath.Join(dataDir, constants.ConfigFileName)
}

// GetBinDir returns the path to bin directory
func GetBinDir(dataDir string) string {
	return filepath.Join(dataDir, constants.BinDirName)
}

// GetLogsDir returns the path to logs directory
func GetLogsDir(dataDir string) string {
	return filepath.Join(dataDir, constants.LogsDirName)
}

// GetStateDir returns the path holding the preference database and tunnel configuration.
func GetStateDir(dataDir string) string {
	return filepath.Join(dataDir, constants.StateDirName)
}

// GetEnginePath returns the default location of the tunnel engine binary.
func GetEnginePath(dataDir string) string {
	return filepath.Join(GetBinDir(dataDir), GetExecutableName())
}

// EnsureDirectories creates necessary directories if they don't exist
func EnsureDirectories(dataDir string) error {
	dirs := []string{
		GetLogsDir(dataDir),
		GetBinDir(dataDir),
		GetStateDir(dataDir),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// ExpandPath expands a leading ~/ to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(homeDir, path[2:])
}

// DeviceSpec describes this host the way the identity API expects:
// "<os version> <model> <host name>".
func DeviceSpec() string {
	hostName, err := os.Hostname()
	if err != nil {
		hostName = "unknown"
	}
	return strings.TrimSpace(systemVersion() + " " + deviceModel() + " " + hostName)
}

// IdleInhibitor keeps the host from idling or sleeping while the tunnel is providing.
// It holds at most one helper process; disabling kills it.
type IdleInhibitor struct {
	mu  sync.Mutex
	cmd *exec.Cmd
}

// SetIdleTimerDisabled turns idle/sleep suppression on (true) or off (false). Repeated calls
// with the same value are no-ops.
func (i *IdleInhibitor) SetIdleTimerDisabled(disabled bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if disabled == (i.cmd != nil) {
		return
	}

	if !disabled {
		if i.cmd.Process != nil {
			_ = i.cmd.Process.Kill()
			_ = i.cmd.Wait()
		}
		i.cmd = nil
		debuglog.DebugLog("SetIdleTimerDisabled: idle suppression released")
		return
	}

	cmd := inhibitCommand()
	if cmd == nil {
		debuglog.DebugLog("SetIdleTimerDisabled: idle suppression not supported on this platform")
		return
	}
	PrepareCommand(cmd)
	if err := cmd.Start(); err != nil {
		debuglog.WarnLog("SetIdleTimerDisabled: failed to start %s: %v", cmd.Path, err)
		return
	}
	i.cmd = cmd
	debuglog.DebugLog("SetIdleTimerDisabled: idle suppression held by PID=%d", cmd.Process.Pid)
}
