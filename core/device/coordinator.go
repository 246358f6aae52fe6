// Package device owns the device handle lifecycle and the tunnel decision.
//
// A Coordinator is the single owner of the current engine.Device. All of its state, and
// the Reconciler's, is touched only from one actor goroutine. Engine and path callbacks
// post closures to the actor tagged with the handle generation; closures from a replaced
// handle are dropped. Network round trips and storage writes run on the caller's
// goroutine and only their state effects are posted.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"relay-client/core/engine"
	"relay-client/core/errs"
	"relay-client/core/identity"
	"relay-client/core/netpath"
	"relay-client/core/observe"
	"relay-client/core/prefs"
	"relay-client/core/tunnel"
	"relay-client/internal/constants"
	"relay-client/internal/debuglog"
)

var (
	ErrClosed    = errors.New("coordinator closed")
	ErrNoSession = errors.New("network space not initialized")
)

const (
	DefaultWaitTimeout  = 30 * time.Second
	defaultApplyTimeout = 30 * time.Second
)

// Options wires a Coordinator to its collaborators.
type Options struct {
	Store    prefs.Store
	Identity *identity.Manager
	Factory  engine.Factory
	Tunnel   tunnel.Controller
	Path     netpath.Monitor
	Idle     IdleSuppressor

	StoragePath string
	HostName    string
	EnvName     string
	// Description and DeviceSpec identify this installation to the identity API.
	Description string
	DeviceSpec  string
	SOCKSAddr   string

	WaitTimeout  time.Duration
	ApplyTimeout time.Duration
}

// Coordinator sequences authentication and device (re)initialization.
type Coordinator struct {
	opts Options

	box     *mailbox
	applier *applier

	status        *observe.Value[Status]
	tunnelRunning *observe.Value[bool]
	tunnelSub     observe.Subscription

	// opMu serializes initialize, login, logout and close sequences.
	opMu sync.Mutex
	// prefMu serializes preference write-throughs.
	prefMu sync.Mutex

	// Actor-owned.
	session    *identity.Session
	device     engine.Device
	generation uint64
	deviceSubs observe.Registry
	reconciler *Reconciler
}

func NewCoordinator(opts Options) *Coordinator {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}
	if opts.ApplyTimeout <= 0 {
		opts.ApplyTimeout = defaultApplyTimeout
	}
	if opts.Description == "" {
		opts.Description = constants.DefaultDeviceDescription
	}

	c := &Coordinator{
		opts:          opts,
		box:           newMailbox(),
		status:        observe.NewValue(Status{State: StateUninitialized}),
		tunnelRunning: observe.NewValue(false),
	}
	c.applier = newApplier(opts.Tunnel, opts.ApplyTimeout, c.onApplied)
	c.reconciler = newReconciler(opts.Path, opts.Idle, c.applier, c.postGen)
	if n, ok := opts.Tunnel.(tunnel.Notifier); ok {
		c.tunnelSub = n.SubscribeRunning(c.onTunnelRunning)
	}
	go c.box.run()
	return c
}

// postGen runs fn on the actor unless the handle generation moved on.
func (c *Coordinator) postGen(gen uint64, fn func()) {
	c.box.post(func() {
		if gen != c.generation {
			debuglog.TraceLog("coordinator: dropping event from stale handle generation %d", gen)
			return
		}
		fn()
	})
}

// call runs fn on the actor and waits for it.
func (c *Coordinator) call(ctx context.Context, op string, fn func()) error {
	done := make(chan struct{})
	if !c.box.post(func() {
		defer close(done)
		fn()
	}) {
		return errs.InvalidState(op, ErrClosed)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errs.Timeout(op, ctx.Err())
	}
}

func (c *Coordinator) onApplied(d decision, err error) {
	c.tunnelRunning.Set(c.opts.Tunnel.Running())
	if err != nil || !d.run {
		return
	}
	c.postGen(d.gen, func() {
		if c.device != nil {
			c.device.Sync()
		}
	})
}

// onTunnelRunning mirrors the engine state. An exit while the applier last asked for a
// running tunnel is handed to the reconciler.
func (c *Coordinator) onTunnelRunning(running bool) {
	c.tunnelRunning.Set(running)
	if running || !c.applier.wantsRun() {
		return
	}
	c.box.post(func() {
		if c.opts.Tunnel.Running() {
			return
		}
		c.reconciler.RetryStopped()
	})
}

// Status returns the current lifecycle state.
func (c *Coordinator) Status() Status {
	return c.status.Get()
}

// SubscribeStatus observes lifecycle changes.
func (c *Coordinator) SubscribeStatus(fn func(Status)) observe.Subscription {
	return c.status.Subscribe(fn)
}

// TunnelRunning reports the last known tunnel state.
func (c *Coordinator) TunnelRunning() bool {
	return c.tunnelRunning.Get()
}

// SubscribeTunnelRunning observes tunnel state changes.
func (c *Coordinator) SubscribeTunnelRunning(fn func(bool)) observe.Subscription {
	return c.tunnelRunning.Subscribe(fn)
}

// WaitUntilReady resolves once the coordinator is Ready, with or without a device.
// A non-positive timeout uses the configured default.
func (c *Coordinator) WaitUntilReady(ctx context.Context, timeout time.Duration) error {
	return c.waitFor(ctx, "WaitUntilReady", timeout, func(s Status) bool { return s.State == StateReady })
}

// WaitUntilUninitialized resolves once the coordinator is Uninitialized.
func (c *Coordinator) WaitUntilUninitialized(ctx context.Context, timeout time.Duration) error {
	return c.waitFor(ctx, "WaitUntilUninitialized", timeout, func(s Status) bool { return s.State == StateUninitialized })
}

func (c *Coordinator) waitFor(ctx context.Context, op string, timeout time.Duration, pred func(Status) bool) error {
	if timeout <= 0 {
		timeout = c.opts.WaitTimeout
	}
	if _, err := c.status.WaitFor(ctx, timeout, pred); err != nil {
		return errs.Timeout(op, err)
	}
	return nil
}

func (c *Coordinator) setStatus(ctx context.Context, op string, s Status) error {
	return c.call(ctx, op, func() { c.status.Set(s) })
}

func (c *Coordinator) currentSession(ctx context.Context) (*identity.Session, error) {
	var s *identity.Session
	if err := c.call(ctx, "currentSession", func() { s = c.session }); err != nil {
		return nil, err
	}
	return s, nil
}

// InitializeNetworkSpace resolves the identity session and, when a cached client
// credential can be exchanged, constructs and installs a device. A missing credential or
// a failed exchange ends in Ready without a device (guest).
func (c *Coordinator) InitializeNetworkSpace(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.initializeNetworkSpace(ctx)
}

func (c *Coordinator) initializeNetworkSpace(ctx context.Context) error {
	const op = "InitializeNetworkSpace"
	if err := c.setStatus(ctx, op, Status{State: StateInitializing}); err != nil {
		return err
	}

	session, err := c.opts.Identity.Initialize(ctx, c.opts.StoragePath, c.opts.HostName, c.opts.EnvName)
	if err != nil {
		_ = c.setStatus(ctx, op, Status{State: StateUninitialized})
		return err
	}
	if err := c.call(ctx, op, func() { c.session = session }); err != nil {
		return err
	}

	guest := Status{State: StateReady}

	clientJwt, ok, err := session.CachedClientJwt(ctx)
	if err != nil {
		debuglog.WarnLog("%s: reading client credential failed: %v", op, err)
		_ = c.setStatus(ctx, op, guest)
		return err
	}
	if !ok {
		debuglog.InfoLog("%s: no client credential, continuing as guest", op)
		return c.setStatus(ctx, op, guest)
	}

	if _, err := session.ExchangeForSessionCredential(ctx, clientJwt); err != nil {
		debuglog.WarnLog("%s: credential exchange failed, continuing as guest: %v", op, err)
		return c.setStatus(ctx, op, guest)
	}

	p, err := c.initDevice(ctx, session, clientJwt)
	if err != nil {
		debuglog.ErrorLog("%s: %v", op, err)
		_ = c.setStatus(ctx, op, Status{State: StateUninitialized})
		return err
	}
	return c.installOrDiscard(ctx, op, p)
}

// prepared is a constructed handle that is not installed yet.
type prepared struct {
	dev     engine.Device
	cfg     tunnel.Config
	keysSub observe.Subscription
}

// discard closes a handle that will never be installed.
func (p prepared) discard() {
	if p.keysSub != nil {
		p.keysSub.Close()
	}
	p.dev.Close()
}

// initDevice constructs a handle and pushes the persisted preferences onto it. The handle
// is not installed.
func (c *Coordinator) initDevice(ctx context.Context, session *identity.Session, clientJwt string) (prepared, error) {
	const op = "initDevice"
	p, err := prefs.Load(ctx, c.opts.Store)
	if errors.Is(err, engine.ErrUnknownEnum) {
		debuglog.WarnLog("%s: ignoring unparseable preference: %v", op, err)
	} else if err != nil {
		return prepared{}, err
	}

	instanceID, err := prefs.InstanceID(ctx, c.opts.Store)
	if err != nil {
		return prepared{}, err
	}

	ns := session.NetworkSpace()
	dev, err := c.opts.Factory(ns, clientJwt, instanceID)
	if err != nil {
		return prepared{}, errs.Engine(op, err)
	}
	out := prepared{dev: dev}

	keys, ok, err := prefs.ProvideSecretKeys(ctx, c.opts.Store)
	if err != nil {
		out.discard()
		return prepared{}, err
	}
	if ok {
		dev.LoadProvideSecretKeys(keys)
	} else {
		out.keysSub = c.provisionSecretKeys(dev)
	}

	dev.SetRouteLocal(p.RouteLocal)
	dev.SetProvideMode(engine.EffectiveProvideMode(p.ProvideControlMode, p.ProvideMode))
	dev.SetCanShowRatingDialog(p.CanShowRatingDialog)
	dev.SetProvideControlMode(p.ProvideControlMode)
	dev.SetProvideNetworkMode(p.ProvideNetworkMode)
	dev.SetCanRefer(p.CanRefer)
	dev.SetVpnInterfaceWhileOffline(p.VpnInterfaceWhileOffline)
	// Setting an equivalent location would reset the connection.
	if !dev.ConnectLocation().Equal(p.ConnectLocation) {
		dev.SetConnectLocation(p.ConnectLocation)
	}
	if p.DefaultLocation != nil {
		dev.SetDefaultLocation(p.DefaultLocation)
	}

	byJwt, _, err := session.ByJwt(ctx)
	if err != nil {
		out.discard()
		return prepared{}, err
	}
	nsJSON, err := ns.ToJSON()
	if err != nil {
		out.discard()
		return prepared{}, errs.Engine(op, err)
	}
	out.cfg = tunnel.Config{
		ByJwt:        byJwt,
		NetworkSpace: nsJSON,
		InstanceID:   instanceID,
		Description:  tunnel.Description(constants.AppDescription, ns.HostName, ns.EnvName),
		SOCKSAddr:    c.opts.SOCKSAddr,
	}
	debuglog.InfoLog("%s: device constructed for instance %s", op, instanceID)
	return out, nil
}

// provisionSecretKeys asks dev for key material and persists the first delivery with
// insert-if-absent semantics. The listener fires at most once; the returned subscription
// belongs to the handle's registry.
func (c *Coordinator) provisionSecretKeys(dev engine.Device) observe.Subscription {
	var (
		mu    sync.Mutex
		fired bool
		sub   observe.Subscription
	)
	s := dev.AddProvideSecretKeysListener(func(keys engine.ProvideSecretKeys) {
		mu.Lock()
		if fired {
			mu.Unlock()
			return
		}
		fired = true
		own := sub
		mu.Unlock()
		if own != nil {
			own.Close()
		}

		written, err := prefs.SaveProvideSecretKeysOnce(context.Background(), c.opts.Store, keys)
		switch {
		case err != nil:
			debuglog.ErrorLog("provisionSecretKeys: persist failed: %v", err)
		case written:
			debuglog.InfoLog("provisionSecretKeys: persisted %d provide keys", len(keys))
		default:
			debuglog.WarnLog("provisionSecretKeys: keys already persisted, keeping existing material")
		}
	})

	mu.Lock()
	sub = s
	already := fired
	mu.Unlock()
	if already {
		s.Close()
	}
	dev.InitProvideSecretKeys()
	return s
}

// install replaces the current handle with p.dev and marks the coordinator Ready.
// Installing the handle already installed is a no-op. Runs on the actor.
func (c *Coordinator) install(p prepared) {
	if p.dev == c.device {
		return
	}
	c.teardown()
	c.generation++
	c.device = p.dev
	c.deviceSubs.Add(p.keysSub)
	c.reconciler.Attach(p.dev, c.generation, p.cfg)
	c.status.Set(Status{State: StateReady, HasDevice: true})
}

// installOrDiscard installs p on the actor. If the actor is closed p is discarded; if ctx
// expires first the install still happens when the actor reaches it.
func (c *Coordinator) installOrDiscard(ctx context.Context, op string, p prepared) error {
	err := c.call(ctx, op, func() { c.install(p) })
	if errors.Is(err, errs.ErrInvalidState) {
		p.discard()
	}
	return err
}

// teardown cancels every subscription of the current handle, stops the tunnel and closes
// the handle. Runs on the actor.
func (c *Coordinator) teardown() {
	if c.device == nil {
		return
	}
	c.generation++
	c.reconciler.Detach()
	c.deviceSubs.CloseAll()
	old := c.device
	c.device = nil
	old.Close()
	debuglog.InfoLog("coordinator: device %s closed", old.InstanceID())
}

// ClearDevice tears down the current handle and publishes Uninitialized before returning.
func (c *Coordinator) ClearDevice(ctx context.Context) error {
	return c.call(ctx, "ClearDevice", func() {
		c.teardown()
		c.status.Set(Status{State: StateUninitialized})
	})
}

// Login authenticates a session credential and installs a device for it.
func (c *Coordinator) Login(ctx context.Context, byJwt string) error {
	return c.AuthenticateNetworkClient(ctx, byJwt)
}

// AuthenticateNetworkClient registers this installation with byJwt, commits both
// credentials together and only then replaces the device. Any failure restores the
// previous credentials and leaves the previous device in place.
func (c *Coordinator) AuthenticateNetworkClient(ctx context.Context, byJwt string) error {
	const op = "AuthenticateNetworkClient"
	if byJwt == "" {
		return errs.InvalidState(op, errors.New("empty credential"))
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()

	session, err := c.currentSession(ctx)
	if err != nil {
		return err
	}
	if session == nil {
		session, err = c.opts.Identity.Initialize(ctx, c.opts.StoragePath, c.opts.HostName, c.opts.EnvName)
		if err != nil {
			return err
		}
		if err := c.call(ctx, op, func() { c.session = session }); err != nil {
			return err
		}
	}

	prev, err := session.Credentials(ctx)
	if err != nil {
		return err
	}
	rollback := func() {
		if err := session.RestoreCredentials(context.WithoutCancel(ctx), prev); err != nil {
			debuglog.WarnLog("%s: restoring previous credentials failed: %v", op, err)
		}
	}

	session.StageByJwt(byJwt)
	clientJwt, err := session.AuthenticateNetworkClient(ctx, c.opts.Description, c.opts.DeviceSpec)
	if err != nil {
		rollback()
		return err
	}
	if err := session.CommitCredentials(ctx, identity.Credentials{ByJwt: byJwt, ClientJwt: clientJwt}); err != nil {
		rollback()
		return err
	}

	p, err := c.initDevice(ctx, session, clientJwt)
	if err != nil {
		rollback()
		return err
	}
	if err := c.installOrDiscard(ctx, op, p); err != nil {
		// A timed out install is still queued on the actor and will use the new credentials.
		if errors.Is(err, errs.ErrInvalidState) {
			rollback()
		}
		return err
	}
	debuglog.InfoLog("%s: authenticated, device installed", op)
	return nil
}

// Logout invalidates the session remotely and, once confirmed, clears the device. If the
// remote logout fails the device and state are left unchanged.
func (c *Coordinator) Logout(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	session, err := c.currentSession(ctx)
	if err != nil {
		return err
	}
	if session != nil {
		if err := session.Logout(ctx); err != nil {
			return err
		}
	}
	return c.ClearDevice(ctx)
}

// DeleteAccount deletes the network remotely. Concurrent calls are rejected.
func (c *Coordinator) DeleteAccount(ctx context.Context) error {
	session, err := c.currentSession(ctx)
	if err != nil {
		return err
	}
	if session == nil {
		return errs.InvalidState("DeleteAccount", ErrNoSession)
	}
	return session.DeleteAccount(ctx)
}

// Session returns the current identity session, or nil before initialization.
func (c *Coordinator) Session(ctx context.Context) (*identity.Session, error) {
	return c.currentSession(ctx)
}

// Snapshot is a consistent view of the coordinator for status reporting.
type Snapshot struct {
	Status        Status
	TunnelRunning bool
	InstanceID    string
	Signals       *Signals
	ShouldRun     bool
}

// Snapshot reads the state and the current signals on the actor.
func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.call(ctx, "Snapshot", func() {
		snap.Status = c.status.Get()
		snap.TunnelRunning = c.tunnelRunning.Get()
		if c.device != nil {
			snap.InstanceID = c.device.InstanceID().String()
		}
		if s, ok := c.reconciler.Signals(); ok {
			snap.Signals = &s
			snap.ShouldRun = s.ShouldRun()
		}
	})
	return snap, err
}

// Close tears down the device, waits for the final tunnel stop and stops the actor.
func (c *Coordinator) Close(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.call(ctx, "Close", func() {
		c.teardown()
		c.status.Set(Status{State: StateUninitialized})
	}); err != nil && !errors.Is(err, errs.ErrInvalidState) {
		return err
	}
	c.box.close()
	if c.tunnelSub != nil {
		c.tunnelSub.Close()
	}
	if err := c.applier.close(ctx); err != nil {
		return errs.Timeout("Close", fmt.Errorf("waiting for tunnel stop: %w", err))
	}
	select {
	case <-c.box.done:
		return nil
	case <-ctx.Done():
		return errs.Timeout("Close", ctx.Err())
	}
}
