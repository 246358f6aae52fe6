package tunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"relay-client/core/errs"
	"relay-client/core/observe"
	"relay-client/internal/constants"
	"relay-client/internal/debuglog"
	"relay-client/internal/platform"
	"relay-client/internal/process"
)

const (
	// restartAttempts is the maximum number of consecutive crash restart attempts
	restartAttempts = 3

	// stabilityThreshold is how long the engine must run before the crash counter resets
	stabilityThreshold = 180 * time.Second

	// gracefulShutdownTimeout bounds the wait after the interrupt before forcing a kill
	gracefulShutdownTimeout = 2 * time.Second

	restartDelay = 2 * time.Second
)

// ProcessOptions configures a ProcessController.
type ProcessOptions struct {
	EnginePath string
	// StateDir holds tunnel.json and is the engine's working directory.
	StateDir string
	// Output receives the engine's stdout and stderr.
	Output io.Writer
	// BeforeStart runs before every launch, e.g. to rotate the engine log.
	BeforeStart func()
}

// ProcessController runs the tunnel engine as a child process and restarts it after crashes.
type ProcessController struct {
	opts       ProcessOptions
	configPath string

	// mu guards every field below, including the command being monitored.
	mu             sync.Mutex
	cmd            *exec.Cmd
	exited         chan struct{}
	cfg            *Config
	dirty          bool
	stoppedByUser  bool
	crashAttempts  int
	lifetime       context.Context
	cancelLifetime context.CancelFunc
	running        *observe.Value[bool]
}

func NewProcessController(opts ProcessOptions) *ProcessController {
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessController{
		opts:           opts,
		configPath:     filepath.Join(opts.StateDir, constants.TunnelConfigFileName),
		lifetime:       ctx,
		cancelLifetime: cancel,
		running:        observe.NewValue(false),
	}
}

func (pc *ProcessController) Running() bool {
	return pc.running.Get()
}

func (pc *ProcessController) SubscribeRunning(fn func(bool)) observe.Subscription {
	return pc.running.Subscribe(fn)
}

// Configure writes the engine config. An unchanged config is a no-op. A changed config
// takes effect at the next Start, which restarts a running engine.
func (pc *ProcessController) Configure(_ context.Context, cfg Config) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.cfg != nil && pc.cfg.Equal(cfg) {
		return nil
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errs.Engine("tunnel.Configure", err)
	}
	if err := writeFileAtomic(pc.configPath, data, 0o600); err != nil {
		return errs.Persistence("tunnel.Configure", fmt.Errorf("write %s: %w", pc.configPath, err))
	}
	c := cfg
	pc.cfg = &c
	pc.dirty = pc.cmd != nil
	debuglog.DebugLog("configureTunnel: wrote %s (instance %s)", pc.configPath, cfg.InstanceID)
	return nil
}

// Start launches the engine unless it is already running with the current config.
func (pc *ProcessController) Start(ctx context.Context) error {
	pc.mu.Lock()
	if pc.cmd != nil && !pc.dirty {
		pc.mu.Unlock()
		return nil
	}
	restart := pc.cmd != nil
	pc.mu.Unlock()

	if restart {
		debuglog.InfoLog("startTunnel: configuration changed, restarting engine")
		if err := pc.Stop(ctx); err != nil {
			return err
		}
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.cmd != nil {
		return nil
	}
	return pc.startLocked()
}

func (pc *ProcessController) startLocked() error {
	if pc.cfg == nil {
		return errs.InvalidState("tunnel.Start", ErrNotConfigured)
	}
	if _, err := os.Stat(pc.opts.EnginePath); err != nil {
		return errs.Engine("tunnel.Start", fmt.Errorf("%w: %s", ErrEngineMissing, pc.opts.EnginePath))
	}
	pc.killStrays()

	if pc.opts.BeforeStart != nil {
		pc.opts.BeforeStart()
	}

	debuglog.InfoLog("startTunnel: Starting engine...")
	cmd := exec.Command(pc.opts.EnginePath, "tunnel", "-c", filepath.Base(pc.configPath))
	platform.PrepareCommand(cmd)
	cmd.Dir = filepath.Dir(pc.configPath)
	cmd.Stdout = pc.opts.Output
	cmd.Stderr = pc.opts.Output
	if err := cmd.Start(); err != nil {
		debuglog.ErrorLog("startTunnel: Failed to start engine: %v", err)
		return errs.Engine("tunnel.Start", err)
	}

	exited := make(chan struct{})
	pc.cmd = cmd
	pc.exited = exited
	pc.dirty = false
	pc.stoppedByUser = false
	pc.running.Set(true)
	debuglog.DebugLog("startTunnel: engine started. PID=%d", cmd.Process.Pid)

	go pc.monitor(cmd, exited)
	return nil
}

// killStrays terminates engine processes this controller does not own.
func (pc *ProcessController) killStrays() {
	own := -1
	if pc.cmd != nil && pc.cmd.Process != nil {
		own = pc.cmd.Process.Pid
	}
	strays, err := process.FindByName(platform.GetProcessNameForCheck(), own)
	if err != nil {
		debuglog.WarnLog("startTunnel: error listing processes: %v", err)
		return
	}
	for _, p := range strays {
		debuglog.WarnLog("startTunnel: killing stray engine process PID=%d", p.PID)
		if err := platform.KillProcessByPID(p.PID); err != nil {
			debuglog.WarnLog("startTunnel: failed to kill PID=%d: %v", p.PID, err)
		}
	}
}

// monitor waits for the engine to exit and restarts it after a crash.
func (pc *ProcessController) monitor(cmd *exec.Cmd, exited chan struct{}) {
	monitoredPID := cmd.Process.Pid
	err := cmd.Wait()
	close(exited)

	pc.mu.Lock()
	defer pc.mu.Unlock()

	// 1. Is this still my process?
	if pc.cmd != cmd {
		debuglog.DebugLog("monitorTunnel: engine PID %d is no longer tracked. Exiting.", monitoredPID)
		return
	}
	pc.cmd = nil
	pc.exited = nil

	// 2. Stopped on request?
	if pc.stoppedByUser {
		debuglog.InfoLog("monitorTunnel: engine exited as requested.")
		pc.crashAttempts = 0
		pc.stoppedByUser = false
		pc.running.Set(false)
		return
	}

	// 3. Clean exit?
	if err == nil {
		debuglog.InfoLog("monitorTunnel: engine exited gracefully (exit code 0).")
		pc.crashAttempts = 0
		pc.running.Set(false)
		return
	}

	// 4. Crash. Running stays true while a restart is pending, so subscribers only see
	// the exit once restarts are given up.
	pc.crashAttempts++
	if pc.crashAttempts > restartAttempts {
		debuglog.ErrorLog("monitorTunnel: engine failed to restart after %d attempts. Check %s for details.", restartAttempts, constants.EngineLogFileName)
		pc.crashAttempts = 0
		pc.running.Set(false)
		return
	}
	debuglog.WarnLog("monitorTunnel: engine crashed: %v, attempting auto-restart (attempt %d/%d)", err, pc.crashAttempts, restartAttempts)

	pc.mu.Unlock()
	select {
	case <-pc.lifetime.Done():
		pc.mu.Lock()
		pc.running.Set(false)
		return
	case <-time.After(restartDelay):
	}
	pc.mu.Lock()

	// A Start or Stop may have run while unlocked.
	if pc.cmd != nil {
		return
	}
	if pc.stoppedByUser {
		pc.running.Set(false)
		return
	}
	if err := pc.startLocked(); err != nil {
		debuglog.WarnLog("monitorTunnel: restart attempt %d failed: %v", pc.crashAttempts, err)
		pc.running.Set(false)
		return
	}
	debuglog.InfoLog("monitorTunnel: engine restarted successfully.")

	attempt := pc.crashAttempts
	go func() {
		select {
		case <-pc.lifetime.Done():
			return
		case <-time.After(stabilityThreshold):
			pc.mu.Lock()
			defer pc.mu.Unlock()
			if pc.cmd != nil && pc.crashAttempts == attempt {
				debuglog.DebugLog("monitorTunnel: engine stable for %v. Resetting crash counter from %d to 0.", stabilityThreshold, pc.crashAttempts)
				pc.crashAttempts = 0
			}
		}
	}()
}

// Stop interrupts the engine and waits for it to exit, killing it if it ignores the signal.
func (pc *ProcessController) Stop(ctx context.Context) error {
	pc.mu.Lock()
	pc.crashAttempts = 0
	if pc.cmd == nil || pc.cmd.Process == nil {
		// Cancels a pending crash restart; the next start clears it.
		pc.stoppedByUser = true
		pc.running.Set(false)
		pc.mu.Unlock()
		return nil
	}
	// Set before signalling so the monitor sees it even if the engine exits at once.
	pc.stoppedByUser = true
	proc := pc.cmd.Process
	exited := pc.exited
	pc.mu.Unlock()

	debuglog.InfoLog("stopTunnel: Attempting graceful shutdown...")
	var err error
	if runtime.GOOS == "windows" {
		err = platform.SendCtrlBreak(proc.Pid)
	} else {
		err = proc.Signal(os.Interrupt)
	}
	if err != nil {
		debuglog.WarnLog("stopTunnel: Graceful signal failed: %v. Forcing kill.", err)
		if killErr := proc.Kill(); killErr != nil {
			debuglog.ErrorLog("stopTunnel: Failed to kill engine process: %v", killErr)
		}
	}

	timer := time.NewTimer(gracefulShutdownTimeout)
	defer timer.Stop()
	select {
	case <-exited:
		return nil
	case <-timer.C:
		debuglog.DebugLog("stopTunnel: engine %d still running after %v. Forcing kill.", proc.Pid, gracefulShutdownTimeout)
		if _, found, _ := process.FindProcess(proc.Pid); found {
			_ = platform.KillProcessByPID(proc.Pid)
		}
	case <-ctx.Done():
		return errs.Timeout("tunnel.Stop", ctx.Err())
	}

	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		return errs.Timeout("tunnel.Stop", ctx.Err())
	}
}

// Close stops the engine and cancels pending restarts.
func (pc *ProcessController) Close(ctx context.Context) error {
	pc.cancelLifetime()
	return pc.Stop(ctx)
}
