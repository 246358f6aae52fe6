package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"relay-client/api"
	"relay-client/core/config"
	"relay-client/core/device"
	"relay-client/core/engine"
	"relay-client/core/identity"
	"relay-client/core/netpath"
	"relay-client/core/prefs"
	"relay-client/core/services"
	"relay-client/core/tunnel"
	"relay-client/internal/control"
	"relay-client/internal/debuglog"
	"relay-client/internal/platform"
	"relay-client/internal/process"
)

const (
	apiTimeout              = 30 * time.Second
	gracefulShutdownTimeout = 2 * time.Second
	engineStopTimeout       = 10 * time.Second
)

// AppController owns every long-lived component of a running client. The embedded
// Coordinator provides the device and preference operations; Logout and DeleteAccount
// extend it with the full re-initialization sequence.
type AppController struct {
	*device.Coordinator

	Config   config.Config
	Files    *services.FileService
	Store    prefs.Store
	Identity *identity.Manager
	Tunnel   tunnel.Controller
	Path     *netpath.InterfaceMonitor
	Idle     *platform.IdleInhibitor
	Control  *control.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

var _ control.Backend = (*AppController)(nil)

// NewAppController opens the data directory, log files and preference store and builds
// the component graph. Nothing runs until Start.
func NewAppController(ctx context.Context, cfg config.Config) (*AppController, error) {
	files, err := services.NewFileService(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if err := files.OpenLogFiles(); err != nil {
		return nil, fmt.Errorf("NewAppController: %w", err)
	}
	if level, ok := debuglog.ParseLevel(cfg.LogLevel); ok {
		debuglog.SetGlobalLevel(level)
	}
	debuglog.InfoLog("NewAppController: data dir %s, tunnel mode %s", files.DataDir, cfg.Tunnel.Mode)

	store, err := prefs.OpenSQLite(ctx, cfg.PrefsDSN())
	if err != nil {
		files.CloseLogFiles()
		return nil, fmt.Errorf("NewAppController: %w", err)
	}

	ac := &AppController{
		Config: cfg,
		Files:  files,
		Store:  store,
		Idle:   &platform.IdleInhibitor{},
	}

	ac.Identity = identity.NewManager(store, ac.newAPIClient)
	if cfg.APIURL != "" {
		apiURL := cfg.APIURL
		ac.Identity.UpdateNetworkSpace(cfg.HostName, cfg.EnvName, func(v *engine.NetworkSpaceValues) {
			v.APIURL = apiURL
		})
	}

	switch cfg.Tunnel.Mode {
	case config.TunnelModeDryRun:
		ac.Tunnel = tunnel.NewDryRunController()
	default:
		ac.Tunnel = tunnel.NewProcessController(tunnel.ProcessOptions{
			EnginePath: cfg.Tunnel.EnginePath,
			StateDir:   files.StateDir,
			Output:     files.EngineOutput(),
			BeforeStart: func() {
				if err := files.RotateEngineLog(); err != nil {
					debuglog.WarnLog("BeforeStart: %v", err)
				}
			},
		})
	}

	ac.Path = netpath.NewInterfaceMonitor(netpath.InterfaceMonitorOptions{
		Interval:       cfg.PollIntervalDuration(),
		STUNServer:     cfg.Network.STUNServer,
		ForceExpensive: cfg.Network.ForceExpensive,
	})

	ac.Coordinator = device.NewCoordinator(device.Options{
		Store:       store,
		Identity:    ac.Identity,
		Factory:     engine.LocalFactory,
		Tunnel:      ac.Tunnel,
		Path:        ac.Path,
		Idle:        ac.Idle,
		StoragePath: files.StateDir,
		HostName:    cfg.HostName,
		EnvName:     cfg.EnvName,
		Description: cfg.DeviceDescription,
		DeviceSpec:  platform.DeviceSpec(),
		SOCKSAddr:   cfg.Tunnel.SOCKSAddr,
		WaitTimeout: cfg.WaitTimeoutDuration(),
	})
	ac.Control = control.NewServer(ac)
	return ac, nil
}

func (ac *AppController) newAPIClient(ns *engine.NetworkSpace) identity.API {
	c := api.NewClient(ns.Values.APIURL, apiTimeout)
	if ac.Files.APILogFile != nil {
		c.SetLogWriter(ac.Files.APILogFile)
	}
	return c
}

// Start runs the path monitor and the control API and initializes the network space.
// An initialization failure is logged; the client stays reachable over the control API.
func (ac *AppController) Start(ctx context.Context) error {
	CheckIfAlreadyRunning()

	runCtx, cancel := context.WithCancel(context.Background())
	ac.cancel = cancel

	if err := ac.Path.Refresh(ctx); err != nil {
		debuglog.WarnLog("Start: initial path classification failed: %v", err)
	}
	ac.wg.Add(1)
	go func() {
		defer ac.wg.Done()
		ac.Path.Run(runCtx)
	}()

	if err := ac.Control.Start(ac.Config.Control.Listen); err != nil {
		return err
	}

	if err := ac.InitializeNetworkSpace(ctx); err != nil {
		debuglog.ErrorLog("Start: network space initialization failed: %v", err)
	}
	return nil
}

// Claims returns the parsed session credential, or an error for guests.
func (ac *AppController) Claims(ctx context.Context) (*identity.Claims, error) {
	session, err := ac.Session(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, device.ErrNoSession
	}
	claims, ok, err := session.ParsedJwt(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("no session credential")
	}
	return &claims, nil
}

// Logout signs out remotely, waits for the device to be cleared and re-initializes the
// network space as a guest.
func (ac *AppController) Logout(ctx context.Context) error {
	if err := ac.Coordinator.Logout(ctx); err != nil {
		return err
	}
	if err := ac.WaitUntilUninitialized(ctx, 0); err != nil {
		return err
	}
	if err := ac.InitializeNetworkSpace(ctx); err != nil {
		return err
	}
	return ac.WaitUntilReady(ctx, 0)
}

// DeleteAccount deletes the network and then logs out.
func (ac *AppController) DeleteAccount(ctx context.Context) error {
	if err := ac.Coordinator.DeleteAccount(ctx); err != nil {
		return err
	}
	debuglog.InfoLog("DeleteAccount: network deleted, logging out")
	return ac.Logout(ctx)
}

// GracefulExit stops the control API, the tunnel and the monitors and closes the store
// and log files. It is safe to call more than once.
func (ac *AppController) GracefulExit() {
	ac.once.Do(func() {
		debuglog.ShutdownWithLog("control API", gracefulShutdownTimeout, ac.Control.Shutdown)
		debuglog.ShutdownWithLog("coordinator", engineStopTimeout, ac.Coordinator.Close)
		if pc, ok := ac.Tunnel.(*tunnel.ProcessController); ok {
			debuglog.ShutdownWithLog("engine", engineStopTimeout, pc.Close)
		}
		if ac.cancel != nil {
			ac.cancel()
		}
		ac.wg.Wait()
		ac.Idle.SetIdleTimerDisabled(false)
		debuglog.CloseWithLog("preference store", ac.Store)
		debuglog.InfoLog("GracefulExit: shutdown complete")
		ac.Files.CloseLogFiles()
	})
}

// CheckIfAlreadyRunning warns when another instance of this executable is running.
func CheckIfAlreadyRunning() bool {
	execPath, err := os.Executable()
	if err != nil {
		debuglog.WarnLog("CheckIfAlreadyRunning: cannot detect executable path: %v", err)
		return false
	}
	execName := strings.ToLower(filepath.Base(execPath))
	others, err := process.FindByName(execName, os.Getpid())
	if err != nil {
		debuglog.WarnLog("CheckIfAlreadyRunning: error listing processes: %v", err)
		return false
	}
	if len(others) > 0 {
		debuglog.WarnLog("CheckIfAlreadyRunning: %s is already running (pid %d)", execName, others[0].PID)
		return true
	}
	return false
}
