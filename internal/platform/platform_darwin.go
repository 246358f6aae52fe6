//go:build darwin
// +build darwin

package platform

import (
	"os"
	"os/exec"
	"strconv"
	"strings"

	"relay-client/internal/constants"
)

// GetExecutableName returns the platform-specific engine executable name
func GetExecutableName() string {
	return constants.EngineExecName
}

// KillProcessByPID kills a process by PID
func KillProcessByPID(pid int) error {
	return exec.Command("kill", "-9", strconv.Itoa(pid)).Run()
}

// SendCtrlBreak is not applicable on macOS; callers send os.Interrupt instead.
func SendCtrlBreak(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(os.Interrupt)
}

// PrepareCommand prepares a command with platform-specific attributes
func PrepareCommand(cmd *exec.Cmd) {
	// No special attributes needed for macOS
}

// GetProcessNameForCheck returns the process name to check for running instances
func GetProcessNameForCheck() string {
	return constants.EngineProcessNameUnix
}

func inhibitCommand() *exec.Cmd {
	return exec.Command("/usr/bin/caffeinate", "-i", "-s")
}

func systemVersion() string {
	out, err := exec.Command("sw_vers", "-productVersion").Output()
	if err != nil {
		return "macOS"
	}
	return "macOS " + strings.TrimSpace(string(out))
}

func deviceModel() string {
	return "Mac"
}
