package process

import (
	"strings"

	"github.com/mitchellh/go-ps"
)

// ProcessInfo is a small struct representing a running process.
type ProcessInfo struct {
	PID  int
	Name string
}

// GetProcesses returns a list of running processes in a platform-agnostic format.
// It wraps github.com/mitchellh/go-ps internally and normalizes the result.
func GetProcesses() ([]ProcessInfo, error) {
	procs, err := ps.Processes()
	if err != nil {
		return nil, err
	}
	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		out = append(out, ProcessInfo{PID: p.Pid(), Name: p.Executable()})
	}
	return out, nil
}

// FindProcess looks up a process by PID and returns it with a boolean indicating whether it was found.
func FindProcess(pid int) (ProcessInfo, bool, error) {
	p, err := ps.FindProcess(pid)
	if err != nil {
		return ProcessInfo{}, false, err
	}
	if p == nil {
		return ProcessInfo{}, false, nil
	}
	return ProcessInfo{PID: p.Pid(), Name: p.Executable()}, true, nil
}

// FindByName returns every process whose executable matches name (case-insensitive),
// skipping the PID in exclude (pass -1 to keep all).
func FindByName(name string, exclude int) ([]ProcessInfo, error) {
	procs, err := GetProcesses()
	if err != nil {
		return nil, err
	}
	var found []ProcessInfo
	for _, p := range procs {
		if p.PID == exclude {
			continue
		}
		if strings.EqualFold(p.Name, name) {
			found = append(found, p)
		}
	}
	return found, nil
}
