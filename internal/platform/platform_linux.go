//go:build linux
// +build linux

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

// SendCtrlBreak is not applicable on Linux; callers send os.Interrupt instead.
func SendCtrlBreak(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(os.Interrupt)
}

// PrepareCommand prepares a command with platform-specific attributes
func PrepareCommand(cmd *exec.Cmd) {
	// No special attributes needed for Linux
	// Capabilities should be set on the engine binary itself
}

// GetProcessNameForCheck returns the process name to check for running instances
func GetProcessNameForCheck() string {
	return constants.EngineProcessNameUnix
}

func inhibitCommand() *exec.Cmd {
	path, err := exec.LookPath("systemd-inhibit")
	if err != nil {
		return nil
	}
	return exec.Command(path,
		"--what=idle:sleep",
		"--who="+constants.AppName,
		"--why=providing network",
		"--mode=block",
		"sleep", "infinity")
}

func systemVersion() string {
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return "Linux"
	}
	for _, line := range strings.Split(string(data), "\n") {
		if value, ok := strings.CutPrefix(line, "PRETTY_NAME="); ok {
			return strings.Trim(value, `"`)
		}
	}
	return "Linux"
}

func deviceModel() string {
	data, err := os.ReadFile("/sys/class/dmi/id/product_name")
	if err != nil {
		return "PC"
	}
	if model := strings.TrimSpace(string(data)); model != "" {
		return model
	}
	return "PC"
}
