//go:build windows
// +build windows

package platform

import (
	"os/exec"
	"strconv"
	"syscall"

	"relay-client/internal/constants"
)

// GetExecutableName returns the platform-specific engine executable name
func GetExecutableName() string {
	return constants.EngineProcessNameWindows
}

// KillProcessByPID kills a process and its children by PID
func KillProcessByPID(pid int) error {
	return exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T", "/F").Run()
}

// SendCtrlBreak sends CTRL_BREAK_EVENT to a process by PID.
func SendCtrlBreak(pid int) error {
	dll := syscall.NewLazyDLL("kernel32.dll")
	proc := dll.NewProc("GenerateConsoleCtrlEvent")
	if r, _, e := proc.Call(uintptr(syscall.CTRL_BREAK_EVENT), uintptr(pid)); r == 0 {
		return e
	}
	return nil
}

// PrepareCommand prepares a command with platform-specific attributes
func PrepareCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: 0x08000000 | syscall.CREATE_NEW_PROCESS_GROUP, // CREATE_NO_WINDOW
	}
}

// GetProcessNameForCheck returns the process name to check for running instances
func GetProcessNameForCheck() string {
	return constants.EngineProcessNameWindows
}

// inhibitCommand is nil on Windows; SetThreadExecutionState is bound to a thread and
// the engine keeps the system awake itself.
func inhibitCommand() *exec.Cmd {
	return nil
}

func systemVersion() string {
	return "Windows"
}

func deviceModel() string {
	return "PC"
}
